package http

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"auditchain/internal/domain"
	"auditchain/internal/usecase"

	"github.com/gin-gonic/gin"
)

const (
	principalContextKey = "principal"

	headerSubject  = "X-Principal-Subject"
	headerRoles    = "X-Principal-Roles"
	headerScopes   = "X-Principal-Scopes"
	headerAdminKey = "X-Admin-Key"

	adminRole    = "audit_admin"
	adminSubject = "admin-key"
	serviceRole  = "service"
)

func (s *Server) auth(permission string, allowAdminKey bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := s.requireAuth(c, permission, c.Param("scope_id"), allowAdminKey)
		if !ok {
			c.Abort()
			return
		}
		c.Set(principalContextKey, principal)
		c.Next()
	}
}

func (s *Server) requireAuth(c *gin.Context, permission string, scopeID string, allowAdminKey bool) (domain.Principal, bool) {
	if s.cfg.AuthMode == "none" {
		principal := principalFromHeaders(c)
		if principal.Subject == "" {
			principal.Subject = "anonymous"
		}
		return principal, true
	}
	if s.initErr != nil || s.authorizer == nil {
		writeErrorCode(c, http.StatusInternalServerError, "AUTH_CONFIG_ERROR", "auth configuration error")
		return domain.Principal{}, false
	}

	var principal domain.Principal
	if allowAdminKey && s.adminAPIKey != "" {
		if key := strings.TrimSpace(c.GetHeader(headerAdminKey)); key != "" {
			if subtle.ConstantTimeCompare([]byte(key), []byte(s.adminAPIKey)) != 1 {
				writeErrorCode(c, http.StatusUnauthorized, "UNAUTHORIZED", "invalid admin key")
				return domain.Principal{}, false
			}
			principal = domain.Principal{
				Subject: adminSubject,
				Roles:   []string{adminRole},
				Scopes:  []string{"*"},
			}
		}
	}
	if principal.Subject == "" {
		principal = principalFromHeaders(c)
	}
	if principal.Subject == "" {
		writeErrorCode(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing principal")
		return domain.Principal{}, false
	}
	if err := s.authorizer.Require(c.Request.Context(), principal, scopeID, permission); err != nil {
		writeAuthzError(c, err)
		return domain.Principal{}, false
	}
	return principal, true
}

// principalFromHeaders reads the identity asserted by the fronting proxy.
func principalFromHeaders(c *gin.Context) domain.Principal {
	principal := domain.Principal{
		Subject: strings.TrimSpace(c.GetHeader(headerSubject)),
	}
	if roles := strings.TrimSpace(c.GetHeader(headerRoles)); roles != "" {
		principal.Roles = splitCSV(roles)
	}
	if scopes := strings.TrimSpace(c.GetHeader(headerScopes)); scopes != "" {
		principal.Scopes = splitCSV(scopes)
	}
	return principal
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}
	return out
}

func getPrincipal(c *gin.Context) (domain.Principal, bool) {
	raw, ok := c.Get(principalContextKey)
	if !ok {
		return domain.Principal{}, false
	}
	principal, ok := raw.(domain.Principal)
	return principal, ok
}

func writeAuthzError(c *gin.Context, err error) {
	if authz, ok := usecase.IsAuthzError(err); ok {
		writeErrorCode(c, http.StatusForbidden, authz.Code, "forbidden")
		return
	}
	if errors.Is(err, domain.ErrUnauthorized) {
		writeErrorCode(c, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
		return
	}
	writeError(c, err)
}

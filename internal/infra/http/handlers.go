package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"auditchain/internal/domain"

	"github.com/gin-gonic/gin"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

type errorResponse struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

type createScopeRequest struct {
	ID       string `json:"id"`
	ParentID string `json:"parent_id"`
	Kind     string `json:"kind"`
	Name     string `json:"name"`
}

type scopeResponse struct {
	Scope   *domain.Scope `json:"scope,omitempty"`
	Lineage []string      `json:"lineage"`
}

type appendEventRequest struct {
	ActorID     string          `json:"actor_id"`
	ActorRole   string          `json:"actor_role"`
	Action      string          `json:"action"`
	TargetType  string          `json:"target_type"`
	TargetID    string          `json:"target_id"`
	BeforeState json.RawMessage `json:"before_state"`
	AfterState  json.RawMessage `json:"after_state"`
}

type listEventsResponse struct {
	ScopeID string              `json:"scope_id"`
	Events  []domain.AuditEvent `json:"events"`
}

func (s *Server) handleCreateScope(c *gin.Context) {
	if s.scopes == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	var req createScopeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	principal, _ := getPrincipal(c)
	scope, err := s.scopes.Create(c.Request.Context(), principal, domain.Scope{
		ID:       req.ID,
		ParentID: req.ParentID,
		Kind:     domain.ScopeKind(strings.ToLower(strings.TrimSpace(req.Kind))),
		Name:     req.Name,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, scope)
}

func (s *Server) handleGetScope(c *gin.Context) {
	if s.scopes == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	ctx := c.Request.Context()
	scopeID := c.Param("scope_id")
	scope, err := s.scopes.Get(ctx, scopeID)
	if err != nil {
		writeError(c, err)
		return
	}
	lineage, err := s.scopes.Lineage(ctx, scopeID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, scopeResponse{Scope: scope, Lineage: lineage})
}

func (s *Server) handleAppendEvent(c *gin.Context) {
	if s.chain == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	scopeID := c.Param("scope_id")
	if !s.enforceRateLimit(c, routeEventsAppend, scopeID) {
		return
	}
	var req appendEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	principal, _ := getPrincipal(c)
	if !s.mayActFor(principal, req.ActorID) {
		writeErrorCode(c, http.StatusForbidden, "ACTOR_MISMATCH", "actor_id must match the authenticated principal")
		return
	}
	if strings.TrimSpace(req.ActorID) == "" {
		req.ActorID = principal.Subject
		if req.ActorRole == "" {
			req.ActorRole = principal.PrimaryRole()
		}
	}
	in := domain.AppendInput{
		ScopeID:    scopeID,
		ActorID:    req.ActorID,
		ActorRole:  req.ActorRole,
		Action:     req.Action,
		TargetType: req.TargetType,
		TargetID:   req.TargetID,
	}
	if len(req.BeforeState) > 0 {
		in.BeforeState = req.BeforeState
	}
	if len(req.AfterState) > 0 {
		in.AfterState = req.AfterState
	}
	event, err := s.chain.Append(c.Request.Context(), in)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, event)
}

// mayActFor reports whether principal may record events on behalf of actorID.
// Only services and admins relay actions of other identities.
func (s *Server) mayActFor(principal domain.Principal, actorID string) bool {
	actorID = strings.TrimSpace(actorID)
	if s.cfg.AuthMode == "none" || actorID == "" || actorID == principal.Subject {
		return true
	}
	return principal.HasRole(serviceRole, adminRole)
}

func (s *Server) handleListEvents(c *gin.Context) {
	if s.chain == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	limit, err := parseLimit(c.Query("limit"))
	if err != nil {
		writeError(c, err)
		return
	}
	scopeID := c.Param("scope_id")
	out := listEventsResponse{ScopeID: scopeID, Events: make([]domain.AuditEvent, 0)}
	for event, err := range s.chain.Read(c.Request.Context(), scopeID, limit) {
		if err != nil {
			writeError(c, err)
			return
		}
		out.Events = append(out.Events, event)
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleVerify(c *gin.Context) {
	if s.chain == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	result, err := s.chain.Verify(c.Request.Context(), c.Param("scope_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func parseLimit(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return defaultListLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, domain.InvalidField("limit", "must be a positive integer")
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return limit, nil
}

func writeError(c *gin.Context, err error) {
	status, code, message := http.StatusInternalServerError, "INTERNAL", "internal error"
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		status, code, message = http.StatusBadRequest, "INVALID_INPUT", err.Error()
	case errors.Is(err, domain.ErrNotFound):
		status, code, message = http.StatusNotFound, "NOT_FOUND", err.Error()
	case errors.Is(err, domain.ErrAlreadyExists):
		status, code, message = http.StatusConflict, "ALREADY_EXISTS", err.Error()
	case errors.Is(err, domain.ErrStoreUnavailable), errors.Is(err, domain.ErrChainConflict):
		status, code, message = http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "audit store unavailable"
	case errors.Is(err, domain.ErrIntegrityViolation):
		status, code, message = http.StatusConflict, "INTEGRITY_VIOLATION", err.Error()
	case errors.Is(err, domain.ErrUnauthorized):
		status, code, message = http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized"
	case errors.Is(err, domain.ErrForbidden):
		status, code, message = http.StatusForbidden, "FORBIDDEN", "forbidden"
	}
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	writeErrorCode(c, status, code, message)
}

func writeErrorCode(c *gin.Context, status int, code, message string) {
	c.JSON(status, errorResponse{
		Code:    code,
		Message: message,
	})
}

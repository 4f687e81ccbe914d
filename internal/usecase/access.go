package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"auditchain/internal/domain"
)

type AuthzError struct {
	Code string
}

func (e *AuthzError) Error() string {
	if e == nil || e.Code == "" {
		return "forbidden"
	}
	return "forbidden: " + e.Code
}

func (e *AuthzError) Unwrap() error {
	return domain.ErrForbidden
}

func IsAuthzError(err error) (*AuthzError, bool) {
	var authzErr *AuthzError
	if errors.As(err, &authzErr) {
		return authzErr, true
	}
	return nil, false
}

// AccessControl asks the policy engine whether a principal holds a
// permission on a scope, given the scope's lineage.
type AccessControl struct {
	Policy  PolicyEvaluator
	Lineage LineageResolver
}

func NewAccessControl(policy PolicyEvaluator, lineage LineageResolver) *AccessControl {
	return &AccessControl{Policy: policy, Lineage: lineage}
}

func (a *AccessControl) Require(ctx context.Context, principal domain.Principal, scopeID string, permission string) error {
	if a == nil || a.Policy == nil {
		return errors.New("access policy required")
	}
	if strings.TrimSpace(principal.Subject) == "" {
		return domain.ErrUnauthorized
	}
	scopeID = strings.TrimSpace(scopeID)
	lineage := []string{}
	if scopeID != "" {
		lineage = []string{scopeID}
		if a.Lineage != nil {
			resolved, err := a.Lineage.Lineage(ctx, scopeID)
			if err != nil {
				return fmt.Errorf("resolve scope lineage: %w", err)
			}
			lineage = resolved
		}
	}
	decision, err := a.Policy.Evaluate(ctx, domain.AccessInput{
		Principal: domain.AccessPrincipal{
			Subject: principal.Subject,
			Roles:   nonNil(principal.Roles),
			Scopes:  nonNil(principal.Scopes),
		},
		Permission: permission,
		Scope:      domain.AccessScope{ID: scopeID, Lineage: lineage},
	})
	if err != nil {
		return fmt.Errorf("evaluate access policy: %w", err)
	}
	if decision.Allow {
		return nil
	}
	code := "FORBIDDEN"
	if len(decision.Deny) > 0 {
		code = decision.Deny[0]
	}
	return &AuthzError{Code: code}
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

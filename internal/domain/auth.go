package domain

import "context"

const (
	PermissionAppend = "audit:append"
	PermissionRead   = "audit:read"
	PermissionVerify = "audit:verify"
	PermissionAdmin  = "admin:scopes"
)

type Principal struct {
	Subject string
	Roles   []string
	Scopes  []string
}

// PrimaryRole is the role recorded as actor_role when a producer does not supply one.
func (p Principal) PrimaryRole() string {
	if len(p.Roles) == 0 {
		return ""
	}
	return p.Roles[0]
}

// HasRole reports whether the principal holds any of roles.
func (p Principal) HasRole(roles ...string) bool {
	for _, have := range p.Roles {
		for _, want := range roles {
			if have == want {
				return true
			}
		}
	}
	return false
}

type Authorizer interface {
	Require(ctx context.Context, principal Principal, scopeID string, permission string) error
}

package domain

import "time"

type ScopeKind string

const (
	ScopeCongress   ScopeKind = "congress"
	ScopeFederation ScopeKind = "federation"
	ScopeUnion      ScopeKind = "union"
	ScopeLocal      ScopeKind = "local"
	ScopeEntity     ScopeKind = "entity"
)

func (k ScopeKind) Valid() bool {
	switch k {
	case ScopeCongress, ScopeFederation, ScopeUnion, ScopeLocal, ScopeEntity:
		return true
	default:
		return false
	}
}

type Scope struct {
	ID        string    `json:"id"`
	ParentID  string    `json:"parent_id,omitempty"`
	Kind      ScopeKind `json:"kind"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

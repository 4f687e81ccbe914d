package domain

import (
	"encoding/json"
	"strings"
	"time"
)

const (
	// GenesisHash is the previous_hash of the first event in every scope chain.
	GenesisHash       = "0000000000000000000000000000000000000000000000000000000000000000"
	AuditChainVersion = "audit_chain_v1"
)

type AuditEvent struct {
	ID           string          `json:"id"`
	ScopeID      string          `json:"scope_id"`
	Seq          int64           `json:"seq"`
	ActorID      string          `json:"actor_id"`
	ActorRole    string          `json:"actor_role,omitempty"`
	Action       string          `json:"action"`
	TargetType   string          `json:"target_type"`
	TargetID     string          `json:"target_id,omitempty"`
	BeforeState  json.RawMessage `json:"before_state,omitempty"`
	AfterState   json.RawMessage `json:"after_state,omitempty"`
	Hash         string          `json:"hash"`
	PreviousHash string          `json:"previous_hash"`
	CreatedAt    time.Time       `json:"created_at"`
}

// AppendInput is what an event producer hands to the chain. States may be any
// JSON-serializable value, raw JSON bytes, or nil.
type AppendInput struct {
	ScopeID     string
	ActorID     string
	ActorRole   string
	Action      string
	TargetType  string
	TargetID    string
	BeforeState any
	AfterState  any
}

func (in AppendInput) Normalize() AppendInput {
	in.ScopeID = strings.TrimSpace(in.ScopeID)
	in.ActorID = strings.TrimSpace(in.ActorID)
	in.ActorRole = strings.TrimSpace(in.ActorRole)
	in.Action = strings.TrimSpace(in.Action)
	in.TargetType = strings.TrimSpace(in.TargetType)
	in.TargetID = strings.TrimSpace(in.TargetID)
	return in
}

type ChainBreak string

const (
	ChainBreakHashMismatch         ChainBreak = "hash_mismatch"
	ChainBreakPreviousHashMismatch ChainBreak = "previous_hash_mismatch"
	ChainBreakGenesisMismatch      ChainBreak = "genesis_mismatch"
)

type VerifyResult struct {
	ScopeID         string     `json:"scope_id"`
	Valid           bool       `json:"valid"`
	EventsChecked   int64      `json:"events_checked"`
	BrokenAtEventID string     `json:"broken_at_event_id,omitempty"`
	BrokenAtSeq     int64      `json:"broken_at_seq,omitempty"`
	Reason          ChainBreak `json:"reason,omitempty"`
	TailHash        string     `json:"tail_hash,omitempty"`
}

// Err returns ErrIntegrityViolation for a broken chain and nil otherwise.
func (r VerifyResult) Err() error {
	if r.Valid {
		return nil
	}
	return &IntegrityError{ScopeID: r.ScopeID, EventID: r.BrokenAtEventID, Seq: r.BrokenAtSeq, Reason: r.Reason}
}

package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"auditchain/internal/domain"
)

// AuditEventPayload is the document an event's hash is computed over. Every
// key is always present so the field set never depends on which values are set.
func AuditEventPayload(event domain.AuditEvent) map[string]any {
	return map[string]any{
		"v":             domain.AuditChainVersion,
		"id":            event.ID,
		"scope_id":      event.ScopeID,
		"seq":           event.Seq,
		"actor_id":      event.ActorID,
		"actor_role":    event.ActorRole,
		"action":        event.Action,
		"target_type":   event.TargetType,
		"target_id":     event.TargetID,
		"before_state":  stateValue(event.BeforeState),
		"after_state":   stateValue(event.AfterState),
		"previous_hash": event.PreviousHash,
		"created_at":    FormatAuditTime(event.CreatedAt),
	}
}

// CanonicalAuditEvent returns the JCS bytes of AuditEventPayload.
func CanonicalAuditEvent(event domain.AuditEvent) ([]byte, error) {
	if event.ScopeID == "" || event.PreviousHash == "" {
		return nil, errors.New("audit event missing scope_id or previous_hash")
	}
	return CanonicalizeAny(AuditEventPayload(event))
}

func ComputeAuditEventHash(event domain.AuditEvent) (string, error) {
	canonical, err := CanonicalAuditEvent(event)
	if err != nil {
		return "", err
	}
	return SHA256Hex(canonical), nil
}

// CanonicalState canonicalizes an optional state snapshot. Absent values and
// JSON null both come back as nil.
func CanonicalState(state any) (json.RawMessage, error) {
	switch v := state.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		if len(v) == 0 {
			return nil, nil
		}
	case []byte:
		if len(v) == 0 {
			return nil, nil
		}
	}
	canonical, err := CanonicalizeAny(state)
	if err != nil {
		return nil, err
	}
	if string(canonical) == "null" {
		return nil, nil
	}
	return json.RawMessage(canonical), nil
}

// AuditTime is the stored and hashed form of a timestamp. Postgres keeps
// microseconds, so anything finer would not survive a round trip.
func AuditTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

func FormatAuditTime(t time.Time) string {
	return AuditTime(t).Format(time.RFC3339Nano)
}

func SHA256Hex(input []byte) string {
	sum := sha256.Sum256(input)
	return hex.EncodeToString(sum[:])
}

func stateValue(state json.RawMessage) any {
	if len(state) == 0 {
		return nil
	}
	return state
}

package usecase

import (
	"context"
	"errors"
	"log/slog"

	"auditchain/internal/domain"
)

const (
	ActionScopeCreated      = "scope.create"
	ActionScopeChildCreated = "scope.child.create"
	TargetTypeScope         = "scope"
)

// Recorder is the entry point for services that produce audit events as a
// side effect of their own writes. Record never fails the caller's operation;
// a failed append is logged and counted so the gap is visible.
type Recorder struct {
	Chain  EventAppender
	Logger *slog.Logger
}

func NewRecorder(chain EventAppender, logger *slog.Logger) *Recorder {
	return &Recorder{Chain: chain, Logger: logger}
}

// Record appends in and reports whether the event made it onto the chain.
func (r *Recorder) Record(ctx context.Context, in domain.AppendInput) (domain.AuditEvent, bool) {
	event, err := r.RecordStrict(ctx, in)
	if err != nil {
		r.logger().ErrorContext(ctx, "audit event dropped",
			"scope_id", in.ScopeID,
			"action", in.Action,
			"target_type", in.TargetType,
			"target_id", in.TargetID,
			"error", err,
		)
		return domain.AuditEvent{}, false
	}
	return event, true
}

// RecordStrict is Record for producers that must abort when the audit write fails.
func (r *Recorder) RecordStrict(ctx context.Context, in domain.AppendInput) (domain.AuditEvent, error) {
	if r == nil || r.Chain == nil {
		return domain.AuditEvent{}, errors.New("audit chain required")
	}
	return r.Chain.Append(ctx, in)
}

func (r *Recorder) RecordScopeCreated(ctx context.Context, actor domain.Principal, scope domain.Scope) bool {
	_, ok := r.Record(ctx, domain.AppendInput{
		ScopeID:    scope.ID,
		ActorID:    actor.Subject,
		ActorRole:  actor.PrimaryRole(),
		Action:     ActionScopeCreated,
		TargetType: TargetTypeScope,
		TargetID:   scope.ID,
		AfterState: scope,
	})
	if !ok || scope.ParentID == "" {
		return ok
	}
	_, ok = r.Record(ctx, domain.AppendInput{
		ScopeID:    scope.ParentID,
		ActorID:    actor.Subject,
		ActorRole:  actor.PrimaryRole(),
		Action:     ActionScopeChildCreated,
		TargetType: TargetTypeScope,
		TargetID:   scope.ID,
		AfterState: map[string]any{"id": scope.ID, "kind": string(scope.Kind), "name": scope.Name},
	})
	return ok
}

func (r *Recorder) logger() *slog.Logger {
	if r != nil && r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

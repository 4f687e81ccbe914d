package usecase

import (
	"context"
	"time"

	"auditchain/internal/domain"
)

type Clock func() time.Time

type AuditEventRepository interface {
	// Append makes one attempt to link event onto its scope's tail and fails
	// with domain.ErrChainConflict when another writer got there first.
	Append(ctx context.Context, event domain.AuditEvent) (domain.AuditEvent, error)
	ListAfter(ctx context.Context, scopeID string, afterSeq int64, limit int) ([]domain.AuditEvent, error)
	ListBefore(ctx context.Context, scopeID string, beforeSeq int64, limit int) ([]domain.AuditEvent, error)
}

type ScopeRepository interface {
	Create(ctx context.Context, scope domain.Scope) error
	GetByID(ctx context.Context, scopeID string) (*domain.Scope, error)
}

type EventAppender interface {
	Append(ctx context.Context, in domain.AppendInput) (domain.AuditEvent, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, event domain.AuditEvent)
}

type AuditMetrics interface {
	Append(result string)
	ChainConflict()
	Verify(result string)
}

type LineageCache interface {
	Get(ctx context.Context, key string) ([]string, bool, error)
	Put(ctx context.Context, key string, value []string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type LineageResolver interface {
	Lineage(ctx context.Context, scopeID string) ([]string, error)
}

type PolicyEvaluator interface {
	Evaluate(ctx context.Context, input domain.AccessInput) (domain.AccessDecision, error)
}

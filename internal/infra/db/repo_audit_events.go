package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"auditchain/internal/domain"
	cryptoinfra "auditchain/internal/infra/crypto"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type AuditEventRepository struct {
	db  *gorm.DB
	now func() time.Time

	// beforeInsert runs between the tail read and the insert. Tests use it to
	// land a competing append inside that window.
	beforeInsert func(ctx context.Context, scopeID string)
}

func NewAuditEventRepository(db *gorm.DB) *AuditEventRepository {
	return NewAuditEventRepositoryWithClock(db, nil)
}

func NewAuditEventRepositoryWithClock(db *gorm.DB, now func() time.Time) *AuditEventRepository {
	if now == nil {
		now = time.Now
	}
	return &AuditEventRepository{db: db, now: now}
}

// Append links event onto the current tail of its scope in a single attempt.
// Losing a race against another writer of the same scope yields
// domain.ErrChainConflict; the caller decides whether to retry.
func (r *AuditEventRepository) Append(ctx context.Context, event domain.AuditEvent) (domain.AuditEvent, error) {
	if r == nil || r.db == nil {
		return domain.AuditEvent{}, errDBUnavailable
	}
	if event.ScopeID == "" {
		return domain.AuditEvent{}, domain.InvalidField("scope_id", "is required")
	}

	var (
		out domain.AuditEvent
		err error
	)
	if r.db.Dialector.Name() == DriverPostgres {
		err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			// Per-scope serialization point; appends to other scopes take other keys.
			if err := tx.Exec("SELECT pg_advisory_xact_lock(hashtextextended(?, 0))", event.ScopeID).Error; err != nil {
				return err
			}
			out, err = r.link(ctx, tx, event)
			return err
		})
	} else {
		out, err = r.link(ctx, r.db.WithContext(ctx), event)
	}
	if err != nil {
		if isUniqueViolation(err) {
			return domain.AuditEvent{}, fmt.Errorf("%w: scope %s tail moved", domain.ErrChainConflict, event.ScopeID)
		}
		if errors.Is(err, domain.ErrInvalidInput) {
			return domain.AuditEvent{}, err
		}
		return domain.AuditEvent{}, storeError("append audit event", err)
	}
	return out, nil
}

func (r *AuditEventRepository) link(ctx context.Context, tx *gorm.DB, event domain.AuditEvent) (domain.AuditEvent, error) {
	tail, err := r.tail(tx, event.ScopeID)
	if err != nil {
		return domain.AuditEvent{}, err
	}
	if r.beforeInsert != nil {
		r.beforeInsert(ctx, event.ScopeID)
	}

	createdAt := cryptoinfra.AuditTime(r.now())
	event.Seq = 1
	event.PreviousHash = domain.GenesisHash
	if tail != nil {
		event.Seq = tail.Seq + 1
		event.PreviousHash = tail.Hash
		if createdAt.Before(tail.CreatedAt) {
			createdAt = tail.CreatedAt
		}
	}
	event.CreatedAt = createdAt
	event.ID = uuid.NewString()

	hash, err := cryptoinfra.ComputeAuditEventHash(event)
	if err != nil {
		return domain.AuditEvent{}, err
	}
	event.Hash = hash

	model := auditEventModelFromDomain(event)
	if err := tx.Create(&model).Error; err != nil {
		return domain.AuditEvent{}, err
	}
	return event, nil
}

func (r *AuditEventRepository) tail(tx *gorm.DB, scopeID string) (*domain.AuditEvent, error) {
	var model AuditEventModel
	err := tx.Where("scope_id = ?", scopeID).Order("seq DESC").Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	event := auditEventFromModel(model)
	return &event, nil
}

// ListAfter returns up to limit events with seq > afterSeq, oldest first.
func (r *AuditEventRepository) ListAfter(ctx context.Context, scopeID string, afterSeq int64, limit int) ([]domain.AuditEvent, error) {
	if r == nil || r.db == nil {
		return nil, errDBUnavailable
	}
	var models []AuditEventModel
	q := r.db.WithContext(ctx).
		Where("scope_id = ? AND seq > ?", scopeID, afterSeq).
		Order("seq ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&models).Error; err != nil {
		return nil, storeError("list audit events", err)
	}
	return auditEventsFromModels(models), nil
}

// ListBefore returns up to limit events with seq < beforeSeq, newest first.
// beforeSeq <= 0 starts at the tail.
func (r *AuditEventRepository) ListBefore(ctx context.Context, scopeID string, beforeSeq int64, limit int) ([]domain.AuditEvent, error) {
	if r == nil || r.db == nil {
		return nil, errDBUnavailable
	}
	var models []AuditEventModel
	q := r.db.WithContext(ctx).Where("scope_id = ?", scopeID)
	if beforeSeq > 0 {
		q = q.Where("seq < ?", beforeSeq)
	}
	q = q.Order("seq DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&models).Error; err != nil {
		return nil, storeError("list audit events", err)
	}
	return auditEventsFromModels(models), nil
}

func auditEventModelFromDomain(event domain.AuditEvent) AuditEventModel {
	return AuditEventModel{
		ID:           event.ID,
		ScopeID:      event.ScopeID,
		Seq:          event.Seq,
		ActorID:      event.ActorID,
		ActorRole:    event.ActorRole,
		Action:       event.Action,
		TargetType:   event.TargetType,
		TargetID:     stringPtrIfNotEmpty(event.TargetID),
		BeforeState:  stateToColumn(event.BeforeState),
		AfterState:   stateToColumn(event.AfterState),
		PreviousHash: event.PreviousHash,
		Hash:         event.Hash,
		CreatedAt:    event.CreatedAt.UTC(),
	}
}

func auditEventFromModel(model AuditEventModel) domain.AuditEvent {
	return domain.AuditEvent{
		ID:           model.ID,
		ScopeID:      model.ScopeID,
		Seq:          model.Seq,
		ActorID:      model.ActorID,
		ActorRole:    model.ActorRole,
		Action:       model.Action,
		TargetType:   model.TargetType,
		TargetID:     stringValue(model.TargetID),
		BeforeState:  stateFromColumn(model.BeforeState),
		AfterState:   stateFromColumn(model.AfterState),
		PreviousHash: model.PreviousHash,
		Hash:         model.Hash,
		CreatedAt:    cryptoinfra.AuditTime(model.CreatedAt),
	}
}

func auditEventsFromModels(models []AuditEventModel) []domain.AuditEvent {
	out := make([]domain.AuditEvent, 0, len(models))
	for _, model := range models {
		out = append(out, auditEventFromModel(model))
	}
	return out
}

package db

import (
	"context"
	"errors"

	"auditchain/internal/domain"

	"gorm.io/gorm"
)

type ScopeRepository struct {
	db *gorm.DB
}

func NewScopeRepository(db *gorm.DB) *ScopeRepository {
	return &ScopeRepository{db: db}
}

func (r *ScopeRepository) Create(ctx context.Context, scope domain.Scope) error {
	if r == nil || r.db == nil {
		return errDBUnavailable
	}
	model := ScopeModel{
		ID:        scope.ID,
		ParentID:  stringPtrIfNotEmpty(scope.ParentID),
		Kind:      string(scope.Kind),
		Name:      scope.Name,
		CreatedAt: scope.CreatedAt.UTC(),
	}
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return storeError("create scope", err)
	}
	return nil
}

func (r *ScopeRepository) GetByID(ctx context.Context, scopeID string) (*domain.Scope, error) {
	if r == nil || r.db == nil {
		return nil, errDBUnavailable
	}
	var model ScopeModel
	err := r.db.WithContext(ctx).Where("id = ?", scopeID).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, storeError("get scope", err)
	}
	return &domain.Scope{
		ID:        model.ID,
		ParentID:  stringValue(model.ParentID),
		Kind:      domain.ScopeKind(model.Kind),
		Name:      model.Name,
		CreatedAt: model.CreatedAt.UTC(),
	}, nil
}

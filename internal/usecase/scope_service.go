package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"auditchain/internal/domain"
)

const maxLineageDepth = 16

type ScopeService struct {
	Repo     ScopeRepository
	Recorder *Recorder
	Cache    LineageCache
	CacheTTL time.Duration
	Clock    Clock
}

func NewScopeService(repo ScopeRepository, recorder *Recorder, cache LineageCache, ttl time.Duration, clock Clock) *ScopeService {
	return &ScopeService{
		Repo:     repo,
		Recorder: recorder,
		Cache:    cache,
		CacheTTL: ttl,
		Clock:    clock,
	}
}

func (s *ScopeService) Create(ctx context.Context, actor domain.Principal, scope domain.Scope) (domain.Scope, error) {
	if s == nil || s.Repo == nil {
		return domain.Scope{}, errors.New("scope repository required")
	}
	scope.ID = strings.TrimSpace(scope.ID)
	scope.ParentID = strings.TrimSpace(scope.ParentID)
	scope.Name = strings.TrimSpace(scope.Name)
	if scope.ID == "" {
		scope.ID = uuid.NewString()
	}
	if !scope.Kind.Valid() {
		return domain.Scope{}, domain.InvalidField("kind", "must be one of congress, federation, union, local, entity")
	}
	if scope.Name == "" {
		return domain.Scope{}, domain.InvalidField("name", "is required")
	}
	if scope.ParentID == scope.ID {
		return domain.Scope{}, domain.InvalidField("parent_id", "must differ from id")
	}
	if scope.ParentID != "" {
		if _, err := s.Repo.GetByID(ctx, scope.ParentID); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return domain.Scope{}, domain.InvalidField("parent_id", "does not exist")
			}
			return domain.Scope{}, err
		}
	}
	scope.CreatedAt = s.now().UTC().Truncate(time.Microsecond)
	if err := s.Repo.Create(ctx, scope); err != nil {
		return domain.Scope{}, err
	}
	if s.Cache != nil {
		_ = s.Cache.Delete(ctx, scope.ID)
	}
	if s.Recorder != nil {
		s.Recorder.RecordScopeCreated(ctx, actor, scope)
	}
	return scope, nil
}

func (s *ScopeService) Get(ctx context.Context, scopeID string) (*domain.Scope, error) {
	if s == nil || s.Repo == nil {
		return nil, errors.New("scope repository required")
	}
	scopeID = strings.TrimSpace(scopeID)
	if scopeID == "" {
		return nil, domain.InvalidField("scope_id", "is required")
	}
	return s.Repo.GetByID(ctx, scopeID)
}

// Lineage returns scopeID followed by its ancestors, nearest first. Unknown
// scopes resolve to themselves so chains can exist without a registry entry.
func (s *ScopeService) Lineage(ctx context.Context, scopeID string) ([]string, error) {
	if s == nil || s.Repo == nil {
		return nil, errors.New("scope repository required")
	}
	scopeID = strings.TrimSpace(scopeID)
	if scopeID == "" {
		return nil, domain.InvalidField("scope_id", "is required")
	}
	if s.Cache != nil {
		if cached, ok, err := s.Cache.Get(ctx, scopeID); err == nil && ok {
			return cached, nil
		}
	}

	lineage := []string{scopeID}
	seen := map[string]bool{scopeID: true}
	current := scopeID
	for len(lineage) < maxLineageDepth {
		scope, err := s.Repo.GetByID(ctx, current)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				break
			}
			return nil, err
		}
		if scope.ParentID == "" || seen[scope.ParentID] {
			break
		}
		seen[scope.ParentID] = true
		lineage = append(lineage, scope.ParentID)
		current = scope.ParentID
	}

	if s.Cache != nil && s.CacheTTL > 0 {
		_ = s.Cache.Put(ctx, scopeID, lineage, s.CacheTTL)
	}
	return lineage, nil
}

func (s *ScopeService) now() time.Time {
	if s != nil && s.Clock != nil {
		return s.Clock()
	}
	return time.Now().UTC()
}

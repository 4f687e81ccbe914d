//go:build integration

package db

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"auditchain/internal/config"
	"auditchain/internal/domain"
	"auditchain/internal/infra/db/testdb"
	"auditchain/internal/usecase"
)

func newPostgresStore(t *testing.T) *Store {
	t.Helper()
	cfg := config.Defaults()
	cfg.DatabaseDriver = DriverPostgres
	cfg.PostgresDSN = testdb.NewDSN(t)
	store, err := NewStore(cfg)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

func TestPostgresAuditChain_ConcurrentAppends(t *testing.T) {
	store := newPostgresStore(t)
	chain := usecase.NewAuditChain(NewAuditEventRepository(store.DB))
	ctx := context.Background()

	const writers, perWriter = 8, 25
	var wg sync.WaitGroup
	errs := make(chan error, writers*perWriter)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				scope := "org-1"
				if i%2 == 1 {
					scope = "org-2"
				}
				_, err := chain.Append(ctx, domain.AppendInput{
					ScopeID:    scope,
					ActorID:    fmt.Sprintf("writer-%d", w),
					Action:     "dues.paid",
					TargetType: "member",
					AfterState: map[string]any{"writer": w, "i": i},
				})
				if err != nil {
					errs <- err
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("append: %v", err)
	}

	var total int64
	for _, scope := range []string{"org-1", "org-2"} {
		result, err := chain.Verify(ctx, scope)
		if err != nil {
			t.Fatalf("verify %s: %v", scope, err)
		}
		if !result.Valid {
			t.Fatalf("%s: chain broken under concurrency: %+v", scope, result)
		}
		total += result.EventsChecked
	}
	if total != writers*perWriter {
		t.Fatalf("expected %d events, got %d", writers*perWriter, total)
	}
}

func TestPostgresAuditChain_JSONBStatesStillVerify(t *testing.T) {
	store := newPostgresStore(t)
	chain := usecase.NewAuditChain(NewAuditEventRepository(store.DB))
	ctx := context.Background()

	_, err := chain.Append(ctx, domain.AppendInput{
		ScopeID:     "org-1",
		ActorID:     "user-7",
		Action:      "member.update",
		TargetType:  "member",
		BeforeState: map[string]any{"zeta": 1, "alpha": []any{1.5, "x"}, "n": 1e21},
		AfterState:  map[string]any{"nested": map[string]any{"b": true, "a": nil}},
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	result, err := chain.Verify(ctx, "org-1")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !result.Valid {
		t.Fatalf("expected jsonb round trip to verify, got %+v", result)
	}
}

func TestPostgresAuditEventRepository_CreatedAtMicroseconds(t *testing.T) {
	store := newPostgresStore(t)
	at := time.Date(2026, 2, 1, 10, 0, 0, 123456789, time.UTC)
	repo := NewAuditEventRepositoryWithClock(store.DB, func() time.Time { return at })
	ctx := context.Background()

	appended, err := repo.Append(ctx, newEvent("org-1", "x"))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	stored, err := repo.ListAfter(ctx, "org-1", 0, 1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !stored[0].CreatedAt.Equal(appended.CreatedAt) {
		t.Fatalf("created_at changed on round trip: %v vs %v", stored[0].CreatedAt, appended.CreatedAt)
	}
}

package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"auditchain/internal/domain"
	cryptoinfra "auditchain/internal/infra/crypto"
)

type chainRepoStub struct {
	mu        sync.Mutex
	events    map[string][]domain.AuditEvent
	conflicts int
	appendErr error
	clock     Clock
	attempts  int
}

func newChainRepoStub() *chainRepoStub {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	var n int
	return &chainRepoStub{
		events: map[string][]domain.AuditEvent{},
		clock: func() time.Time {
			n++
			return base.Add(time.Duration(n) * time.Second)
		},
	}
}

func (r *chainRepoStub) Append(ctx context.Context, event domain.AuditEvent) (domain.AuditEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts++
	if r.appendErr != nil {
		return domain.AuditEvent{}, r.appendErr
	}
	if r.conflicts > 0 {
		r.conflicts--
		return domain.AuditEvent{}, fmt.Errorf("%w: scope %s", domain.ErrChainConflict, event.ScopeID)
	}
	chain := r.events[event.ScopeID]
	event.Seq = int64(len(chain)) + 1
	event.PreviousHash = domain.GenesisHash
	if len(chain) > 0 {
		event.PreviousHash = chain[len(chain)-1].Hash
	}
	event.ID = fmt.Sprintf("%s-%d", event.ScopeID, event.Seq)
	event.CreatedAt = cryptoinfra.AuditTime(r.clock())
	hash, err := cryptoinfra.ComputeAuditEventHash(event)
	if err != nil {
		return domain.AuditEvent{}, err
	}
	event.Hash = hash
	r.events[event.ScopeID] = append(chain, event)
	return event, nil
}

func (r *chainRepoStub) ListAfter(ctx context.Context, scopeID string, afterSeq int64, limit int) ([]domain.AuditEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.AuditEvent, 0)
	for _, event := range r.events[scopeID] {
		if event.Seq > afterSeq && len(out) < limit {
			out = append(out, event)
		}
	}
	return out, nil
}

func (r *chainRepoStub) ListBefore(ctx context.Context, scopeID string, beforeSeq int64, limit int) ([]domain.AuditEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	chain := append([]domain.AuditEvent(nil), r.events[scopeID]...)
	sort.Slice(chain, func(i, j int) bool { return chain[i].Seq > chain[j].Seq })
	out := make([]domain.AuditEvent, 0)
	for _, event := range chain {
		if (beforeSeq <= 0 || event.Seq < beforeSeq) && len(out) < limit {
			out = append(out, event)
		}
	}
	return out, nil
}

type metricsStub struct {
	appends   map[string]int
	conflicts int
	verifies  map[string]int
}

func newMetricsStub() *metricsStub {
	return &metricsStub{appends: map[string]int{}, verifies: map[string]int{}}
}

func (m *metricsStub) Append(result string) { m.appends[result]++ }
func (m *metricsStub) ChainConflict()       { m.conflicts++ }
func (m *metricsStub) Verify(result string) { m.verifies[result]++ }

type publisherStub struct {
	events []domain.AuditEvent
}

func (p *publisherStub) Publish(ctx context.Context, event domain.AuditEvent) {
	p.events = append(p.events, event)
}

func newTestChain(repo *chainRepoStub) *AuditChain {
	chain := NewAuditChain(repo)
	chain.Backoff = func(int) time.Duration { return 0 }
	return chain
}

func input(scopeID, action string) domain.AppendInput {
	return domain.AppendInput{
		ScopeID:    scopeID,
		ActorID:    "user-7",
		ActorRole:  "officer",
		Action:     action,
		TargetType: "member",
		TargetID:   "m-1",
	}
}

func TestAuditChainAppend_LinksEvents(t *testing.T) {
	repo := newChainRepoStub()
	chain := newTestChain(repo)
	ctx := context.Background()

	first, err := chain.Append(ctx, input("org-1", "member.create"))
	if err != nil {
		t.Fatalf("append first: %v", err)
	}
	second, err := chain.Append(ctx, input("org-1", "member.update"))
	if err != nil {
		t.Fatalf("append second: %v", err)
	}
	if first.PreviousHash != domain.GenesisHash {
		t.Fatalf("expected genesis previous hash, got %s", first.PreviousHash)
	}
	if second.PreviousHash != first.Hash {
		t.Fatalf("expected second to link to first, got %s", second.PreviousHash)
	}
	if len(first.Hash) != 64 {
		t.Fatalf("expected sha256 hex hash, got %q", first.Hash)
	}
}

func TestAuditChainAppend_ValidatesInput(t *testing.T) {
	repo := newChainRepoStub()
	chain := newTestChain(repo)
	metrics := newMetricsStub()
	chain.Metrics = metrics

	cases := map[string]domain.AppendInput{
		"scope_id":    {ActorID: "a", Action: "x", TargetType: "t"},
		"actor_id":    {ScopeID: "s", Action: "x", TargetType: "t"},
		"action":      {ScopeID: "s", ActorID: "a", Action: "   ", TargetType: "t"},
		"target_type": {ScopeID: "s", ActorID: "a", Action: "x"},
	}
	for field, in := range cases {
		_, err := chain.Append(context.Background(), in)
		if !errors.Is(err, domain.ErrInvalidInput) {
			t.Fatalf("%s: expected ErrInvalidInput, got %v", field, err)
		}
	}
	bad := input("s", "x")
	bad.AfterState = json.RawMessage(`{"a":`)
	if _, err := chain.Append(context.Background(), bad); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected malformed state to be rejected, got %v", err)
	}
	if repo.attempts != 0 {
		t.Fatalf("expected no store writes for invalid input, got %d", repo.attempts)
	}
	if metrics.appends["invalid"] != 5 {
		t.Fatalf("expected 5 invalid appends counted, got %d", metrics.appends["invalid"])
	}
}

func TestAuditChainAppend_NormalizesNullStates(t *testing.T) {
	repo := newChainRepoStub()
	chain := newTestChain(repo)

	in := input("s", "x")
	in.BeforeState = json.RawMessage(`null`)
	in.AfterState = map[string]any{"b": 2, "a": 1}
	event, err := chain.Append(context.Background(), in)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if event.BeforeState != nil {
		t.Fatalf("expected null before_state to be absent, got %s", event.BeforeState)
	}
	if string(event.AfterState) != `{"a":1,"b":2}` {
		t.Fatalf("expected canonical after_state, got %s", event.AfterState)
	}
}

func TestAuditChainAppend_RetriesConflicts(t *testing.T) {
	repo := newChainRepoStub()
	repo.conflicts = 2
	chain := newTestChain(repo)
	metrics := newMetricsStub()
	publisher := &publisherStub{}
	chain.Metrics = metrics
	chain.Publisher = publisher

	event, err := chain.Append(context.Background(), input("org-1", "dues.paid"))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if event.Seq != 1 {
		t.Fatalf("expected seq 1, got %d", event.Seq)
	}
	if repo.attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", repo.attempts)
	}
	if metrics.conflicts != 2 || metrics.appends["success"] != 1 {
		t.Fatalf("unexpected metrics: conflicts=%d appends=%v", metrics.conflicts, metrics.appends)
	}
	if len(publisher.events) != 1 || publisher.events[0].ID != event.ID {
		t.Fatalf("expected appended event to be published once, got %d", len(publisher.events))
	}
}

func TestAuditChainAppend_GivesUpAfterRetries(t *testing.T) {
	repo := newChainRepoStub()
	repo.conflicts = 100
	chain := newTestChain(repo)
	chain.MaxRetries = 3
	publisher := &publisherStub{}
	chain.Publisher = publisher

	_, err := chain.Append(context.Background(), input("org-1", "dues.paid"))
	if !errors.Is(err, domain.ErrStoreUnavailable) || !errors.Is(err, domain.ErrChainConflict) {
		t.Fatalf("expected store unavailable wrapping chain conflict, got %v", err)
	}
	if repo.attempts != 4 {
		t.Fatalf("expected 4 attempts, got %d", repo.attempts)
	}
	if len(publisher.events) != 0 {
		t.Fatal("failed append must not be published")
	}
}

func TestAuditChainAppend_StoreErrorNotRetried(t *testing.T) {
	repo := newChainRepoStub()
	repo.appendErr = fmt.Errorf("%w: connection refused", domain.ErrStoreUnavailable)
	chain := newTestChain(repo)

	_, err := chain.Append(context.Background(), input("org-1", "x"))
	if !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if repo.attempts != 1 {
		t.Fatalf("expected a single attempt, got %d", repo.attempts)
	}
}

func TestAuditChainVerify_Valid(t *testing.T) {
	repo := newChainRepoStub()
	chain := newTestChain(repo)
	chain.PageSize = 2
	for i := 0; i < 5; i++ {
		if _, err := chain.Append(context.Background(), input("org-1", fmt.Sprintf("a.%d", i))); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	result, err := chain.Verify(context.Background(), "org-1")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !result.Valid || result.EventsChecked != 5 {
		t.Fatalf("expected valid chain of 5, got %+v", result)
	}
	if result.TailHash != repo.events["org-1"][4].Hash {
		t.Fatalf("expected tail hash of last event, got %s", result.TailHash)
	}
	if result.Err() != nil {
		t.Fatalf("expected nil Err for valid chain, got %v", result.Err())
	}
}

func TestAuditChainVerify_EmptyScopeIsValid(t *testing.T) {
	chain := newTestChain(newChainRepoStub())
	result, err := chain.Verify(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !result.Valid || result.EventsChecked != 0 || result.TailHash != "" {
		t.Fatalf("expected empty valid result, got %+v", result)
	}
}

func TestAuditChainVerify_DetectsBreaks(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(events []domain.AuditEvent)
		seq    int64
		reason domain.ChainBreak
	}{
		{
			name:   "field tampered",
			mutate: func(events []domain.AuditEvent) { events[1].Action = "member.delete" },
			seq:    2,
			reason: domain.ChainBreakHashMismatch,
		},
		{
			name:   "state tampered",
			mutate: func(events []domain.AuditEvent) { events[2].AfterState = json.RawMessage(`{"x":1}`) },
			seq:    3,
			reason: domain.ChainBreakHashMismatch,
		},
		{
			name: "relinked with valid hash",
			mutate: func(events []domain.AuditEvent) {
				events[2].PreviousHash = events[0].Hash
				events[2].Hash, _ = cryptoinfra.ComputeAuditEventHash(events[2])
			},
			seq:    3,
			reason: domain.ChainBreakPreviousHashMismatch,
		},
		{
			name: "first event not rooted at genesis",
			mutate: func(events []domain.AuditEvent) {
				events[0].PreviousHash = events[3].Hash
				events[0].Hash, _ = cryptoinfra.ComputeAuditEventHash(events[0])
			},
			seq:    1,
			reason: domain.ChainBreakGenesisMismatch,
		},
		{
			name:   "corrupt stored state",
			mutate: func(events []domain.AuditEvent) { events[3].BeforeState = json.RawMessage(`{bad`) },
			seq:    4,
			reason: domain.ChainBreakHashMismatch,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := newChainRepoStub()
			chain := newTestChain(repo)
			metrics := newMetricsStub()
			chain.Metrics = metrics
			for i := 0; i < 4; i++ {
				if _, err := chain.Append(context.Background(), input("org-1", fmt.Sprintf("a.%d", i))); err != nil {
					t.Fatalf("append: %v", err)
				}
			}
			tc.mutate(repo.events["org-1"])

			result, err := chain.Verify(context.Background(), "org-1")
			if err != nil {
				t.Fatalf("verify: %v", err)
			}
			if result.Valid {
				t.Fatal("expected broken chain")
			}
			if result.BrokenAtSeq != tc.seq || result.Reason != tc.reason {
				t.Fatalf("expected break at %d (%s), got %d (%s)", tc.seq, tc.reason, result.BrokenAtSeq, result.Reason)
			}
			if result.BrokenAtEventID != repo.events["org-1"][tc.seq-1].ID {
				t.Fatalf("unexpected broken event id %s", result.BrokenAtEventID)
			}
			if !errors.Is(result.Err(), domain.ErrIntegrityViolation) {
				t.Fatalf("expected integrity violation error, got %v", result.Err())
			}
			if metrics.verifies["broken"] != 1 {
				t.Fatalf("expected broken verify counted, got %v", metrics.verifies)
			}
		})
	}
}

func TestAuditChainVerify_ScopesAreIndependent(t *testing.T) {
	repo := newChainRepoStub()
	chain := newTestChain(repo)
	ctx := context.Background()
	for _, scope := range []string{"org-1", "org-2", "org-1", "org-2"} {
		if _, err := chain.Append(ctx, input(scope, "x")); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	repo.events["org-2"][0].Action = "tampered"

	one, err := chain.Verify(ctx, "org-1")
	if err != nil || !one.Valid {
		t.Fatalf("expected org-1 valid, got %+v err=%v", one, err)
	}
	two, err := chain.Verify(ctx, "org-2")
	if err != nil || two.Valid {
		t.Fatalf("expected org-2 broken, got %+v err=%v", two, err)
	}
	if repo.events["org-1"][0].PreviousHash != domain.GenesisHash || repo.events["org-2"][0].PreviousHash != domain.GenesisHash {
		t.Fatal("each scope must start from genesis")
	}
}

func TestAuditChainRead_NewestFirstWithLimit(t *testing.T) {
	repo := newChainRepoStub()
	chain := newTestChain(repo)
	chain.PageSize = 3
	ctx := context.Background()
	for i := 0; i < 7; i++ {
		if _, err := chain.Append(ctx, input("org-1", fmt.Sprintf("a.%d", i))); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	var seqs []int64
	for event, err := range chain.Read(ctx, "org-1", 5) {
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		seqs = append(seqs, event.Seq)
	}
	want := []int64{7, 6, 5, 4, 3}
	if fmt.Sprint(seqs) != fmt.Sprint(want) {
		t.Fatalf("expected %v, got %v", want, seqs)
	}

	var all int
	for _, err := range chain.Read(ctx, "org-1", 0) {
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		all++
	}
	if all != 7 {
		t.Fatalf("expected unlimited read to return 7, got %d", all)
	}
}

func TestAuditChainRead_RestartsFromTail(t *testing.T) {
	repo := newChainRepoStub()
	chain := newTestChain(repo)
	ctx := context.Background()
	if _, err := chain.Append(ctx, input("org-1", "first")); err != nil {
		t.Fatalf("append: %v", err)
	}
	seq := chain.Read(ctx, "org-1", 10)
	for range seq {
		break
	}
	if _, err := chain.Append(ctx, input("org-1", "second")); err != nil {
		t.Fatalf("append: %v", err)
	}
	var actions []string
	for event, err := range seq {
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		actions = append(actions, event.Action)
	}
	if len(actions) != 2 || actions[0] != "second" {
		t.Fatalf("expected fresh read to see the new tail, got %v", actions)
	}
}

func TestAuditChainRead_RejectsEmptyScope(t *testing.T) {
	chain := newTestChain(newChainRepoStub())
	for _, err := range chain.Read(context.Background(), " ", 10) {
		if !errors.Is(err, domain.ErrInvalidInput) {
			t.Fatalf("expected ErrInvalidInput, got %v", err)
		}
		return
	}
	t.Fatal("expected an error to be yielded")
}

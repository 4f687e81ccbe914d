package usecase

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"math/rand/v2"
	"time"

	"auditchain/internal/domain"
	cryptoinfra "auditchain/internal/infra/crypto"
)

const (
	defaultAppendRetries = 5
	defaultPageSize      = 500
)

// AuditChain is the append-only, per-scope hash chain. It holds no tail state
// of its own: every append re-reads the tail from the repository.
type AuditChain struct {
	Repo       AuditEventRepository
	Publisher  EventPublisher
	Metrics    AuditMetrics
	Logger     *slog.Logger
	MaxRetries int
	PageSize   int
	Backoff    func(attempt int) time.Duration
}

func NewAuditChain(repo AuditEventRepository) *AuditChain {
	return &AuditChain{
		Repo:       repo,
		MaxRetries: defaultAppendRetries,
		PageSize:   defaultPageSize,
	}
}

func (c *AuditChain) Append(ctx context.Context, in domain.AppendInput) (domain.AuditEvent, error) {
	if c == nil || c.Repo == nil {
		return domain.AuditEvent{}, errors.New("audit repository required")
	}
	event, err := newEventFromInput(in)
	if err != nil {
		c.countAppend("invalid")
		return domain.AuditEvent{}, err
	}

	attempts := c.MaxRetries + 1
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if err := sleepContext(ctx, c.backoff(attempt)); err != nil {
				c.countAppend("failure")
				return domain.AuditEvent{}, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
			}
		}
		out, err := c.Repo.Append(ctx, event)
		if err == nil {
			c.countAppend("success")
			if c.Publisher != nil {
				c.Publisher.Publish(ctx, out)
			}
			return out, nil
		}
		if !errors.Is(err, domain.ErrChainConflict) {
			c.countAppend("failure")
			return domain.AuditEvent{}, err
		}
		if c.Metrics != nil {
			c.Metrics.ChainConflict()
		}
		c.logger().Debug("audit chain conflict, retrying", "scope_id", event.ScopeID, "attempt", attempt+1)
		lastErr = err
	}
	c.countAppend("failure")
	return domain.AuditEvent{}, fmt.Errorf("%w: scope %s gave up after %d attempts: %w", domain.ErrStoreUnavailable, event.ScopeID, attempts, lastErr)
}

// Verify recomputes every hash in the scope's chain, oldest first, and
// reports the first event that does not check out. It never repairs anything.
func (c *AuditChain) Verify(ctx context.Context, scopeID string) (domain.VerifyResult, error) {
	if c == nil || c.Repo == nil {
		return domain.VerifyResult{}, errors.New("audit repository required")
	}
	in := domain.AppendInput{ScopeID: scopeID}.Normalize()
	if in.ScopeID == "" {
		return domain.VerifyResult{}, domain.InvalidField("scope_id", "is required")
	}

	result := domain.VerifyResult{ScopeID: in.ScopeID, Valid: true}
	prevHash := domain.GenesisHash
	var afterSeq int64
	pageSize := c.pageSize()
	for {
		page, err := c.Repo.ListAfter(ctx, in.ScopeID, afterSeq, pageSize)
		if err != nil {
			return domain.VerifyResult{}, err
		}
		for _, event := range page {
			if reason := checkEvent(event, prevHash, result.EventsChecked == 0); reason != "" {
				result.Valid = false
				result.BrokenAtEventID = event.ID
				result.BrokenAtSeq = event.Seq
				result.Reason = reason
				if c.Metrics != nil {
					c.Metrics.Verify("broken")
				}
				c.logger().Error("audit chain integrity violation",
					"scope_id", in.ScopeID,
					"event_id", event.ID,
					"seq", event.Seq,
					"reason", string(reason),
				)
				return result, nil
			}
			result.EventsChecked++
			prevHash = event.Hash
			afterSeq = event.Seq
		}
		if len(page) < pageSize {
			break
		}
	}
	if result.EventsChecked > 0 {
		result.TailHash = prevHash
	}
	if c.Metrics != nil {
		c.Metrics.Verify("success")
	}
	return result, nil
}

// Read yields the scope's events newest first, at most limit of them when
// limit > 0. Each range over the sequence starts again from the current tail.
func (c *AuditChain) Read(ctx context.Context, scopeID string, limit int) iter.Seq2[domain.AuditEvent, error] {
	return func(yield func(domain.AuditEvent, error) bool) {
		if c == nil || c.Repo == nil {
			yield(domain.AuditEvent{}, errors.New("audit repository required"))
			return
		}
		in := domain.AppendInput{ScopeID: scopeID}.Normalize()
		if in.ScopeID == "" {
			yield(domain.AuditEvent{}, domain.InvalidField("scope_id", "is required"))
			return
		}
		remaining := limit
		var beforeSeq int64
		for {
			size := c.pageSize()
			if limit > 0 && remaining < size {
				size = remaining
			}
			page, err := c.Repo.ListBefore(ctx, in.ScopeID, beforeSeq, size)
			if err != nil {
				yield(domain.AuditEvent{}, err)
				return
			}
			for _, event := range page {
				if !yield(event, nil) {
					return
				}
				beforeSeq = event.Seq
			}
			if limit > 0 {
				remaining -= len(page)
				if remaining <= 0 {
					return
				}
			}
			if len(page) < size || beforeSeq <= 1 {
				return
			}
		}
	}
}

func checkEvent(event domain.AuditEvent, prevHash string, first bool) domain.ChainBreak {
	expected, err := cryptoinfra.ComputeAuditEventHash(event)
	if err != nil || expected != event.Hash {
		return domain.ChainBreakHashMismatch
	}
	if first && event.PreviousHash != domain.GenesisHash {
		return domain.ChainBreakGenesisMismatch
	}
	if event.PreviousHash != prevHash {
		return domain.ChainBreakPreviousHashMismatch
	}
	return ""
}

func newEventFromInput(in domain.AppendInput) (domain.AuditEvent, error) {
	in = in.Normalize()
	switch {
	case in.ScopeID == "":
		return domain.AuditEvent{}, domain.InvalidField("scope_id", "is required")
	case in.ActorID == "":
		return domain.AuditEvent{}, domain.InvalidField("actor_id", "is required")
	case in.Action == "":
		return domain.AuditEvent{}, domain.InvalidField("action", "is required")
	case in.TargetType == "":
		return domain.AuditEvent{}, domain.InvalidField("target_type", "is required")
	}
	before, err := cryptoinfra.CanonicalState(in.BeforeState)
	if err != nil {
		return domain.AuditEvent{}, domain.InvalidField("before_state", err.Error())
	}
	after, err := cryptoinfra.CanonicalState(in.AfterState)
	if err != nil {
		return domain.AuditEvent{}, domain.InvalidField("after_state", err.Error())
	}
	return domain.AuditEvent{
		ScopeID:     in.ScopeID,
		ActorID:     in.ActorID,
		ActorRole:   in.ActorRole,
		Action:      in.Action,
		TargetType:  in.TargetType,
		TargetID:    in.TargetID,
		BeforeState: before,
		AfterState:  after,
	}, nil
}

func (c *AuditChain) countAppend(result string) {
	if c.Metrics != nil {
		c.Metrics.Append(result)
	}
}

func (c *AuditChain) pageSize() int {
	if c.PageSize <= 0 {
		return defaultPageSize
	}
	return c.PageSize
}

func (c *AuditChain) backoff(attempt int) time.Duration {
	if c.Backoff != nil {
		return c.Backoff(attempt)
	}
	base := time.Duration(attempt) * 5 * time.Millisecond
	return base + rand.N(5*time.Millisecond)
}

func (c *AuditChain) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

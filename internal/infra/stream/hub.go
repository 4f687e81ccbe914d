package stream

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/gobwas/glob"

	"auditchain/internal/domain"
)

type DropCounter interface {
	StreamDrop()
}

// Subscription receives the events appended to one scope. Events are
// delivered on C until the subscription is closed.
type Subscription struct {
	C <-chan domain.AuditEvent

	scopeID string
	filter  glob.Glob
	ch      chan domain.AuditEvent
	once    sync.Once
}

func (s *Subscription) ScopeID() string {
	return s.scopeID
}

func (s *Subscription) matches(event domain.AuditEvent) bool {
	return s.filter == nil || s.filter.Match(event.Action)
}

// Hub fans appended events out to live subscribers. Publishing never blocks:
// a subscriber whose buffer is full misses the event.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[*Subscription]struct{}
	buffer int
	drops  DropCounter
}

func NewHub(buffer int, drops DropCounter) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{
		subs:   make(map[string]map[*Subscription]struct{}),
		buffer: buffer,
		drops:  drops,
	}
}

// Subscribe registers interest in scopeID. actionPattern is a glob over the
// action tag, with "." as separator; empty matches everything.
func (h *Hub) Subscribe(scopeID, actionPattern string) (*Subscription, error) {
	scopeID = strings.TrimSpace(scopeID)
	if scopeID == "" {
		return nil, domain.InvalidField("scope_id", "is required")
	}
	var filter glob.Glob
	if pattern := strings.TrimSpace(actionPattern); pattern != "" && pattern != "*" {
		compiled, err := glob.Compile(pattern, '.')
		if err != nil {
			return nil, domain.InvalidField("action", fmt.Sprintf("invalid glob %q: %v", pattern, err))
		}
		filter = compiled
	}
	ch := make(chan domain.AuditEvent, h.buffer)
	sub := &Subscription{C: ch, scopeID: scopeID, filter: filter, ch: ch}

	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[scopeID]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[scopeID] = set
	}
	set[sub] = struct{}{}
	return sub, nil
}

func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	if set, ok := h.subs[sub.scopeID]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(h.subs, sub.scopeID)
		}
	}
	h.mu.Unlock()
	sub.once.Do(func() { close(sub.ch) })
}

func (h *Hub) Publish(_ context.Context, event domain.AuditEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs[event.ScopeID] {
		if !sub.matches(event) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			if h.drops != nil {
				h.drops.StreamDrop()
			}
		}
	}
}

func (h *Hub) Subscribers(scopeID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[scopeID])
}

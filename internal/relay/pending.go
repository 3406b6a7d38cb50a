package relay

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// ShapeHints carries per-type formatting hints through the relay opaquely.
type ShapeHints struct {
	Format    string // "json", "html", "binary", "raw"
	ActiveTab string // tab index for get-sheet post-processing
}

// Outcome is the resolution of a waiter: a peer payload or a relay-level
// error, never both.
type Outcome struct {
	Payload map[string]any
	Err     error
}

// Waiter is the in-memory record of a suspended response awaiting a peer
// reply. Locally-issued requests park an HTTP handler on Result; forwarded-in
// requests carry a deliver func that publishes the result back to the origin
// replica.
type Waiter struct {
	RequestID      string
	Type           string
	OriginReplica  string
	TargetClientID string
	CreatedAt      time.Time
	Deadline       time.Time
	Hints          ShapeHints

	Result  chan Outcome
	deliver func(Outcome)
}

// Deliver resolves the waiter. Safe to call at most once per waiter; the
// pending table's atomic Take guarantees that.
func (w *Waiter) Deliver(out Outcome) {
	if w.deliver != nil {
		w.deliver(out)
		return
	}
	select {
	case w.Result <- out:
	default:
	}
}

// PendingTable maps correlation IDs to waiters. All mutations are O(1)
// under a single lock; Take is the only removal path, which makes
// resolution exactly-once.
type PendingTable struct {
	mu      sync.Mutex
	waiters map[string]*Waiter
}

func NewPendingTable() *PendingTable {
	return &PendingTable{waiters: make(map[string]*Waiter)}
}

// Register inserts a waiter. A duplicate requestId is a programming error
// and is rejected to preserve correlation uniqueness.
func (p *PendingTable) Register(w *Waiter) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.waiters[w.RequestID]; exists {
		return fmt.Errorf("duplicate requestId %s", w.RequestID)
	}
	p.waiters[w.RequestID] = w
	return nil
}

// Take atomically removes and returns the waiter for a requestId.
// Returns nil if already taken (or never registered) — late results
// and duplicate deliveries fall out here.
func (p *PendingTable) Take(requestID string) *Waiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	w := p.waiters[requestID]
	delete(p.waiters, requestID)
	return w
}

// Expire removes and returns every waiter past its deadline.
func (p *PendingTable) Expire(now time.Time) []*Waiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	var expired []*Waiter
	for id, w := range p.waiters {
		if now.After(w.Deadline) {
			expired = append(expired, w)
			delete(p.waiters, id)
		}
	}
	return expired
}

// Drain removes and returns all waiters. Used on shutdown.
func (p *PendingTable) Drain() []*Waiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Waiter, 0, len(p.waiters))
	for id, w := range p.waiters {
		out = append(out, w)
		delete(p.waiters, id)
	}
	return out
}

func (p *PendingTable) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.waiters)
}

// lastRequestNano backs correlation ID generation. IDs are
// "{type}_{monotonic}" with nanosecond resolution; the CAS loop keeps the
// counter strictly increasing even when the clock doesn't.
var lastRequestNano atomic.Int64

// NewRequestID allocates a correlation ID unique within this replica.
func NewRequestID(requestType string) string {
	for {
		now := time.Now().UnixNano()
		last := lastRequestNano.Load()
		if now <= last {
			now = last + 1
		}
		if lastRequestNano.CompareAndSwap(last, now) {
			return fmt.Sprintf("%s_%d", requestType, now)
		}
	}
}

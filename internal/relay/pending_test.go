package relay

import (
	"strings"
	"sync"
	"testing"
	"time"
)

func TestPendingRegisterAndTake(t *testing.T) {
	p := NewPendingTable()
	w := &Waiter{RequestID: "roll_1", Result: make(chan Outcome, 1)}

	if err := p.Register(w); err != nil {
		t.Fatalf("register: %v", err)
	}
	if p.Len() != 1 {
		t.Errorf("len = %d, want 1", p.Len())
	}

	got := p.Take("roll_1")
	if got != w {
		t.Fatal("take returned wrong waiter")
	}
	// Second take must miss: resolution is exactly-once.
	if p.Take("roll_1") != nil {
		t.Error("second take should return nil")
	}
	if p.Len() != 0 {
		t.Errorf("len after take = %d, want 0", p.Len())
	}
}

func TestPendingDuplicateRegister(t *testing.T) {
	p := NewPendingTable()
	w := &Waiter{RequestID: "roll_1", Result: make(chan Outcome, 1)}
	if err := p.Register(w); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := p.Register(&Waiter{RequestID: "roll_1"}); err == nil {
		t.Error("expected error for duplicate requestId")
	}
}

func TestPendingExpire(t *testing.T) {
	p := NewPendingTable()
	now := time.Now()
	expired := &Waiter{RequestID: "a", Deadline: now.Add(-time.Second), Result: make(chan Outcome, 1)}
	live := &Waiter{RequestID: "b", Deadline: now.Add(time.Minute), Result: make(chan Outcome, 1)}
	p.Register(expired)
	p.Register(live)

	out := p.Expire(now)
	if len(out) != 1 || out[0] != expired {
		t.Fatalf("expire returned %d waiters", len(out))
	}
	if p.Take("a") != nil {
		t.Error("expired waiter still in table")
	}
	if p.Take("b") == nil {
		t.Error("live waiter evicted")
	}
}

func TestPendingDrain(t *testing.T) {
	p := NewPendingTable()
	p.Register(&Waiter{RequestID: "a", Result: make(chan Outcome, 1)})
	p.Register(&Waiter{RequestID: "b", Result: make(chan Outcome, 1)})

	if got := len(p.Drain()); got != 2 {
		t.Errorf("drain returned %d, want 2", got)
	}
	if p.Len() != 0 {
		t.Errorf("len after drain = %d, want 0", p.Len())
	}
}

func TestWaiterDeliverNonBlocking(t *testing.T) {
	w := &Waiter{RequestID: "a", Result: make(chan Outcome, 1)}
	w.Deliver(Outcome{Payload: map[string]any{"n": 1}})
	// A second delivery must not block even with the buffer full.
	w.Deliver(Outcome{Payload: map[string]any{"n": 2}})

	out := <-w.Result
	if out.Payload["n"] != 1 {
		t.Errorf("payload n = %v, want first delivery", out.Payload["n"])
	}
}

func TestNewRequestIDUnique(t *testing.T) {
	const n = 1000
	var mu sync.Mutex
	seen := make(map[string]bool, n)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < n/10; j++ {
				id := NewRequestID("roll")
				mu.Lock()
				if seen[id] {
					t.Errorf("duplicate id %s", id)
				}
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	for id := range seen {
		if !strings.HasPrefix(id, "roll_") {
			t.Fatalf("id %q missing type prefix", id)
		}
	}
}

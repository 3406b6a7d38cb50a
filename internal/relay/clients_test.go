package relay

import (
	"testing"
)

func TestRegistryAddGetRemove(t *testing.T) {
	r := NewClientRegistry()
	s := &PeerSession{ClientID: "c1", APIKey: "k1"}
	r.Add(s)

	if r.Get("c1") != s {
		t.Fatal("get after add failed")
	}
	if r.Count() != 1 {
		t.Errorf("count = %d, want 1", r.Count())
	}
	if !r.Remove(s) {
		t.Error("remove should report true for current entry")
	}
	if r.Get("c1") != nil {
		t.Error("session still present after remove")
	}
	if got := len(r.ListForKey("k1")); got != 0 {
		t.Errorf("key index has %d entries after remove", got)
	}
}

func TestRegistryEvict(t *testing.T) {
	r := NewClientRegistry()
	old := &PeerSession{ClientID: "c1", APIKey: "k1"}
	r.Add(old)

	got := r.Evict("c1")
	if got != old {
		t.Fatal("evict should return the displaced session")
	}
	if r.Get("c1") != nil {
		t.Error("evicted session still in table")
	}
	if r.Evict("c1") != nil {
		t.Error("evicting an absent id should return nil")
	}
}

// An evicted session's deferred cleanup must not remove its replacement.
func TestRegistryRemoveOnlyCurrent(t *testing.T) {
	r := NewClientRegistry()
	old := &PeerSession{ClientID: "c1", APIKey: "k1"}
	r.Add(old)
	r.Evict("c1")

	replacement := &PeerSession{ClientID: "c1", APIKey: "k1"}
	r.Add(replacement)

	if r.Remove(old) {
		t.Error("stale session removed the replacement's entry")
	}
	if r.Get("c1") != replacement {
		t.Error("replacement lost")
	}
}

func TestRegistryListForKey(t *testing.T) {
	r := NewClientRegistry()
	r.Add(&PeerSession{ClientID: "c1", APIKey: "k1"})
	r.Add(&PeerSession{ClientID: "c2", APIKey: "k1"})
	r.Add(&PeerSession{ClientID: "c3", APIKey: "k2"})

	if got := len(r.ListForKey("k1")); got != 2 {
		t.Errorf("k1 sessions = %d, want 2", got)
	}
	if got := len(r.ListForKey("k2")); got != 1 {
		t.Errorf("k2 sessions = %d, want 1", got)
	}
	if got := len(r.ListForKey("nope")); got != 0 {
		t.Errorf("unknown key sessions = %d, want 0", got)
	}
}

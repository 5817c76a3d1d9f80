package call

import (
	"testing"

	"github.com/sipsorcery/sipspeech/internal/bridge"
)

type nopMedia struct{}

func (nopMedia) SendFrame(uint8, []byte) error { return nil }
func (nopMedia) Close() error                  { return nil }

func newSession(id string) *bridge.Session {
	return bridge.NewSession(bridge.Config{CallID: id, PayloadType: 9, EventPayloadType: 101}, nopMedia{}, nil, nil, nil, nil)
}

func TestRegistry_AddGetRemove(t *testing.T) {
	r := NewRegistry(nil)
	s := newSession("c1")
	if err := r.Add(s); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := r.Add(newSession("c1")); err == nil {
		t.Fatalf("duplicate id must be rejected")
	}
	got, ok := r.Get("c1")
	if !ok || got != s {
		t.Fatalf("get returned wrong session")
	}
	if _, ok := r.Get("missing"); ok {
		t.Fatalf("unexpected hit for unknown id")
	}

	removed, ok := r.Remove("c1")
	if !ok || removed != s {
		t.Fatalf("remove returned wrong session")
	}
	if removed.Closed() {
		t.Fatalf("remove must not close the session")
	}
	if r.Len() != 0 {
		t.Fatalf("registry not empty after remove")
	}
	removed.Close("test")
}

func TestRegistry_CloseAll(t *testing.T) {
	r := NewRegistry(nil)
	a, b := newSession("a"), newSession("b")
	r.Add(a)
	r.Add(b)

	r.CloseAll("shutdown")
	if r.Len() != 0 {
		t.Fatalf("registry should be empty after close all")
	}
	if !a.Closed() || !b.Closed() {
		t.Fatalf("sessions should be closed")
	}
}

func TestRegistry_Snapshot(t *testing.T) {
	r := NewRegistry(nil)
	r.Add(newSession("a"))
	r.Add(newSession("b"))
	defer r.CloseAll("test")

	snap := r.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(snap))
	}
	seen := map[string]bool{}
	for _, info := range snap {
		seen[info.CallID] = true
		if info.Closed {
			t.Fatalf("open session reported closed: %+v", info)
		}
	}
	if !seen["a"] || !seen["b"] {
		t.Fatalf("snapshot missing entries: %+v", snap)
	}
}

package park

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"relaydesk/internal/models"
)

func parked(n int) []models.Message {
	base := time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC)
	msgs := make([]models.Message, n)
	for i := range msgs {
		msgs[i] = models.Message{
			ID:          fmt.Sprintf("m%d", i),
			MessageType: models.MessageTypeText,
			Content:     fmt.Sprintf("content %d", i),
			Timestamp:   base.Add(time.Duration(i) * time.Second),
		}
	}
	return msgs
}

func checkIDs(t *testing.T, got []models.Message, want ...string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected %d records, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i].ID != want[i] {
			t.Errorf("record %d: expected %s, got %s", i, want[i], got[i].ID)
		}
	}
}

func testParker(t *testing.T, p Parker) {
	t.Run("DrainEmpty", func(t *testing.T) {
		got, err := p.Drain("nobody")
		if err != nil {
			t.Fatalf("Drain failed: %v", err)
		}
		if len(got) != 0 {
			t.Errorf("expected nothing, got %d records", len(got))
		}
	})

	t.Run("KeepsMostRecent", func(t *testing.T) {
		msgs := parked(5)
		if err := p.Park("i1/c1", msgs[:2]); err != nil {
			t.Fatalf("Park failed: %v", err)
		}
		if err := p.Park("i1/c1", msgs[2:]); err != nil {
			t.Fatalf("Park failed: %v", err)
		}
		if err := p.Park("i1/c2", msgs[:1]); err != nil {
			t.Fatalf("Park failed: %v", err)
		}

		got, err := p.Drain("i1/c1")
		if err != nil {
			t.Fatalf("Drain failed: %v", err)
		}
		checkIDs(t, got, "m2", "m3", "m4")

		got, err = p.Drain("i1/c1")
		if err != nil {
			t.Fatalf("Drain failed: %v", err)
		}
		checkIDs(t, got)

		got, err = p.Drain("i1/c2")
		if err != nil {
			t.Fatalf("Drain failed: %v", err)
		}
		checkIDs(t, got, "m0")
		if !got[0].Timestamp.Equal(msgs[0].Timestamp) {
			t.Errorf("timestamp changed: %v != %v", got[0].Timestamp, msgs[0].Timestamp)
		}
		if got[0].Content != msgs[0].Content {
			t.Errorf("content changed: %q", got[0].Content)
		}
	})
}

func TestRing(t *testing.T) {
	testParker(t, NewRing(3))
}

func TestRing_Wraparound(t *testing.T) {
	r := newRing(3)
	for _, m := range parked(7) {
		r.add(m)
	}
	checkIDs(t, r.all(), "m4", "m5", "m6")
}

func TestRing_EvictsLeastRecentlyParkedScope(t *testing.T) {
	p := NewRing(3)
	p.maxScopes = 2
	msgs := parked(3)

	if err := p.Park("i1/c1", msgs[:1]); err != nil {
		t.Fatalf("Park failed: %v", err)
	}
	if err := p.Park("i1/c2", msgs[1:2]); err != nil {
		t.Fatalf("Park failed: %v", err)
	}
	// c1 becomes the most recent, so c2 goes when c3 arrives.
	if err := p.Park("i1/c1", msgs[2:]); err != nil {
		t.Fatalf("Park failed: %v", err)
	}
	if err := p.Park("i1/c3", msgs[:1]); err != nil {
		t.Fatalf("Park failed: %v", err)
	}

	if n := len(p.scopes); n != 2 {
		t.Fatalf("expected 2 scopes, got %d", n)
	}
	got, _ := p.Drain("i1/c2")
	checkIDs(t, got)
	got, _ = p.Drain("i1/c1")
	checkIDs(t, got, "m0", "m2")
	got, _ = p.Drain("i1/c3")
	checkIDs(t, got, "m0")
}

func TestBoltStore_KeepsSubMillisecondTimestamps(t *testing.T) {
	store, err := NewBoltStore(filepath.Join(t.TempDir(), "park.db"), 3)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer func() { _ = store.Close() }()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	msgs := []models.Message{
		{ID: "a", Timestamp: base.Add(400 * time.Microsecond)},
		{ID: "b", Timestamp: base.Add(700 * time.Microsecond)},
	}
	if err := store.Park("i1/c1", msgs); err != nil {
		t.Fatalf("Park failed: %v", err)
	}
	got, err := store.Drain("i1/c1")
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	checkIDs(t, got, "a", "b")
	for i := range msgs {
		if !got[i].Timestamp.Equal(msgs[i].Timestamp) {
			t.Errorf("record %d: timestamp %v, want %v", i, got[i].Timestamp, msgs[i].Timestamp)
		}
	}
}

func TestBoltStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "park.db")
	store, err := NewBoltStore(path, 3)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	testParker(t, store)

	if err := store.Park("", parked(1)); err == nil {
		t.Error("expected error for empty scope")
	}

	// Parked records survive reopening the file.
	if err := store.Park("i2/c1", parked(2)); err != nil {
		t.Fatalf("Park failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	store, err = NewBoltStore(path, 3)
	if err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	defer func() { _ = store.Close() }()

	scopes, err := store.Scopes()
	if err != nil {
		t.Fatalf("Scopes failed: %v", err)
	}
	if len(scopes) != 1 || scopes[0] != "i2/c1" {
		t.Errorf("unexpected scopes: %v", scopes)
	}
	got, err := store.Drain("i2/c1")
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	checkIDs(t, got, "m0", "m1")
}

func TestScope(t *testing.T) {
	if got := Scope("i1", "c1"); got != "i1/c1" {
		t.Errorf("unexpected scope %q", got)
	}
}

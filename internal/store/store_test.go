package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"civitas.ai/internal/sim"
)

var t0 = time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedAgent(t *testing.T, s *Store, id string, balance int64) sim.Agent {
	t.Helper()
	a := sim.Agent{
		ID:        id,
		Name:      "Agent " + id,
		Alignment: sim.AlignModerate,
		Balance:   balance,
		Active:    true,
		Provider:  "haiku",
		Model:     "claude-3-5-haiku",
		CreatedAt: t0,
	}
	if err := s.InsertAgent(context.Background(), a); err != nil {
		t.Fatalf("insert agent %s: %v", id, err)
	}
	return a
}

func seedBill(t *testing.T, s *Store, id, sponsorID string, status sim.BillStatus) sim.Bill {
	t.Helper()
	b := sim.Bill{
		ID:           id,
		Title:        "An Act " + id,
		Summary:      "summary",
		FullText:     "full text",
		SponsorID:    sponsorID,
		Status:       status,
		Type:         sim.BillOriginal,
		IntroducedAt: t0,
		LastActionAt: t0,
	}
	if err := s.InsertBill(context.Background(), b); err != nil {
		t.Fatalf("insert bill %s: %v", id, err)
	}
	return b
}

func TestReseed(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	a := seedAgent(t, s, "a1", 100)
	seedBill(t, s, "b1", a.ID, sim.BillProposed)
	if _, err := s.BeginTick(ctx, t0); err != nil {
		t.Fatalf("begin tick: %v", err)
	}

	if err := s.Reseed(); err != nil {
		t.Fatalf("reseed: %v", err)
	}
	if _, err := s.GetAgent(ctx, "a1"); err != ErrNotFound {
		t.Fatalf("agent survived reseed: %v", err)
	}
	if _, err := s.GetBill(ctx, "b1"); err != ErrNotFound {
		t.Fatalf("bill survived reseed: %v", err)
	}
	if _, err := s.LatestTick(ctx); err != ErrNotFound {
		t.Fatalf("tick survived reseed: %v", err)
	}
	// A fresh populace can be inserted after reseed.
	seedAgent(t, s, "a1", 100)
}

package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"civitas.ai/internal/sim"
)

func TestTickLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if _, err := s.LatestTick(ctx); err != ErrNotFound {
		t.Fatalf("empty ledger: got %v, want ErrNotFound", err)
	}

	seq, err := s.BeginTick(ctx, t0)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if seq != 1 {
		t.Fatalf("first seq = %d, want 1", seq)
	}
	if err := s.CompleteTick(ctx, seq, t0.Add(time.Second)); err != nil {
		t.Fatalf("complete: %v", err)
	}

	seq2, _ := s.BeginTick(ctx, t0.Add(time.Minute))
	if seq2 != 2 {
		t.Fatalf("second seq = %d, want 2", seq2)
	}
	if err := s.FailTick(ctx, seq2); err != nil {
		t.Fatalf("fail: %v", err)
	}

	latest, err := s.LatestTick(ctx)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest.Seq != 2 || !latest.Failed || latest.CompletedAt != nil {
		t.Fatalf("latest = %+v", latest)
	}
}

func TestDecisionsByTick_Paging(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for i := 0; i < 7; i++ {
		d := sim.Decision{
			ID:       fmt.Sprintf("d%02d", i),
			Tick:     3,
			AgentID:  "a1",
			Provider: "haiku",
			Phase:    "bill_vote",
			Action:   "yea",
			OK:       true,
			At:       t0,
		}
		if err := s.InsertDecision(ctx, d); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}
	// A decision on another tick stays out of the page.
	if err := s.InsertDecision(ctx, sim.Decision{ID: "other", Tick: 4, AgentID: "a1", Provider: "haiku", At: t0}); err != nil {
		t.Fatalf("insert other: %v", err)
	}

	page, err := s.DecisionsByTick(ctx, 3, 0, 5)
	if err != nil {
		t.Fatalf("page 1: %v", err)
	}
	if len(page) != 5 || page[0].ID != "d00" {
		t.Fatalf("page 1: %d rows, first %q", len(page), page[0].ID)
	}
	page, err = s.DecisionsByTick(ctx, 3, 5, 5)
	if err != nil {
		t.Fatalf("page 2: %v", err)
	}
	if len(page) != 2 || page[0].ID != "d05" {
		t.Fatalf("page 2: %d rows", len(page))
	}
	// Out-of-range arguments fall back to defaults rather than erroring.
	if _, err := s.DecisionsByTick(ctx, 3, -1, 0); err != nil {
		t.Fatalf("defaulted page: %v", err)
	}
}

func TestDecisionTotals(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	rows := []sim.Decision{
		{ID: "d1", Tick: 1, AgentID: "a1", Provider: "haiku", OK: true, At: t0},
		{ID: "d2", Tick: 1, AgentID: "a2", Provider: "haiku", OK: false, Error: "E_PROVIDER_TIMEOUT", At: t0},
		{ID: "d3", Tick: 1, AgentID: "a3", Provider: "ollama", OK: true, At: t0},
	}
	for _, d := range rows {
		if err := s.InsertDecision(ctx, d); err != nil {
			t.Fatalf("insert %s: %v", d.ID, err)
		}
	}

	stats, err := s.DecisionTotals(ctx)
	if err != nil {
		t.Fatalf("totals: %v", err)
	}
	if stats.Total != 3 || stats.Errors != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	if stats.ByProvider["haiku"] != 2 || stats.ByProvider["ollama"] != 1 {
		t.Fatalf("by provider = %v", stats.ByProvider)
	}
}

func TestBillsProposedInTick(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	rows := []sim.Decision{
		{ID: "d1", Tick: 2, AgentID: "a1", Provider: "haiku", Phase: "bill_propose", OK: true, At: t0},
		{ID: "d2", Tick: 2, AgentID: "a1", Provider: "haiku", Phase: "bill_propose", OK: true, At: t0},
		{ID: "d3", Tick: 2, AgentID: "a2", Provider: "haiku", Phase: "bill_propose", OK: false, At: t0},
		{ID: "d4", Tick: 2, AgentID: "a3", Provider: "haiku", Phase: "bill_vote", OK: true, At: t0},
	}
	for _, d := range rows {
		if err := s.InsertDecision(ctx, d); err != nil {
			t.Fatalf("insert %s: %v", d.ID, err)
		}
	}

	counts, err := s.BillsProposedInTick(ctx, 2)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts["a1"] != 2 {
		t.Fatalf("a1 = %d, want 2", counts["a1"])
	}
	if _, ok := counts["a2"]; ok {
		t.Fatalf("failed proposals must not count")
	}
	if _, ok := counts["a3"]; ok {
		t.Fatalf("votes are not proposals")
	}
}

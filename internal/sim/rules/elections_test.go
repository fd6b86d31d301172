package rules

import (
	"testing"
	"time"

	"civitas.ai/internal/sim"
)

func TestNextElectionPhase(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	el := sim.Election{
		Status:           sim.ElectionScheduled,
		ScheduledFor:     base,
		RegistrationEnds: base.Add(24 * time.Hour),
		VotingStarts:     base.Add(72 * time.Hour),
		VotingEnds:       base.Add(96 * time.Hour),
	}

	if got := NextElectionPhase(el, base.Add(-time.Second)); got != sim.ElectionScheduled {
		t.Fatalf("before schedule: got %q", got)
	}
	// Boundary instants advance; transitions are not-Before comparisons.
	if got := NextElectionPhase(el, base); got != sim.ElectionRegistration {
		t.Fatalf("at schedule instant: got %q", got)
	}
	el.Status = sim.ElectionRegistration
	if got := NextElectionPhase(el, base.Add(24*time.Hour)); got != sim.ElectionCampaigning {
		t.Fatalf("registration close: got %q", got)
	}
	el.Status = sim.ElectionCampaigning
	if got := NextElectionPhase(el, base.Add(48*time.Hour)); got != sim.ElectionCampaigning {
		t.Fatalf("mid-campaign: got %q", got)
	}
	if got := NextElectionPhase(el, base.Add(72*time.Hour)); got != sim.ElectionVoting {
		t.Fatalf("voting open: got %q", got)
	}
	el.Status = sim.ElectionVoting
	if got := NextElectionPhase(el, base.Add(96*time.Hour)); got != sim.ElectionCounting {
		t.Fatalf("voting close: got %q", got)
	}
	// Counting never advances by clock; certification is explicit.
	el.Status = sim.ElectionCounting
	if got := NextElectionPhase(el, base.Add(1000*time.Hour)); got != sim.ElectionCounting {
		t.Fatalf("counting must not auto-advance: got %q", got)
	}
}

func TestCertifyWinner(t *testing.T) {
	reg := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	a := sim.Campaign{ID: "c-a", AgentID: "alice", RegisteredAt: reg}
	b := sim.Campaign{ID: "c-b", AgentID: "bob", RegisteredAt: reg.Add(time.Minute)}

	win, ok := CertifyWinner([]CandidateTally{{a, 3}, {b, 5}})
	if !ok || win.AgentID != "bob" {
		t.Fatalf("highest count wins: got %v %v", win.AgentID, ok)
	}

	// Input order must not matter.
	win2, _ := CertifyWinner([]CandidateTally{{b, 5}, {a, 3}})
	if win2.ID != win.ID {
		t.Fatalf("order-dependent result: %q vs %q", win2.ID, win.ID)
	}

	if _, ok := CertifyWinner(nil); ok {
		t.Fatalf("no candidates yields no winner")
	}
}

func TestCertifyWinner_TieBreak(t *testing.T) {
	reg := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	early := sim.Campaign{ID: "c-z", AgentID: "zoe", RegisteredAt: reg}
	late := sim.Campaign{ID: "c-a", AgentID: "abe", RegisteredAt: reg.Add(time.Hour)}

	win, ok := CertifyWinner([]CandidateTally{{late, 4}, {early, 4}})
	if !ok || win.AgentID != "zoe" {
		t.Fatalf("tie breaks to earliest registration, got %q", win.AgentID)
	}

	// Same registration instant falls back to campaign ID.
	late.RegisteredAt = reg
	win, _ = CertifyWinner([]CandidateTally{{early, 4}, {late, 4}})
	if win.ID != "c-a" {
		t.Fatalf("second tie-break is campaign ID, got %q", win.ID)
	}
}

func TestCanRegister(t *testing.T) {
	agent := sim.Agent{Active: true, Reputation: 10, Balance: 250}
	if !CanRegister(agent, 10, 250) {
		t.Fatalf("exact thresholds should qualify")
	}
	if CanRegister(agent, 11, 250) {
		t.Fatalf("reputation below minimum")
	}
	if CanRegister(agent, 10, 251) {
		t.Fatalf("fee not fully payable")
	}
	agent.Active = false
	if CanRegister(agent, 0, 0) {
		t.Fatalf("inactive agents cannot run")
	}
}

func TestCanVote(t *testing.T) {
	if !CanVote(sim.Agent{Active: true, Reputation: 0}, 0) {
		t.Fatalf("active agent at minimum reputation votes")
	}
	if CanVote(sim.Agent{Active: true, Reputation: -1}, 0) {
		t.Fatalf("below minimum reputation cannot vote")
	}
	if CanVote(sim.Agent{Active: false, Reputation: 50}, 0) {
		t.Fatalf("inactive agents cannot vote")
	}
}

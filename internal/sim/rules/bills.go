// Package rules holds the pure transition functions behind every
// probabilistic or threshold-gated state change. Callers supply rolls in
// [0,1) from their own seeded source, so every branch is testable
// without flaky randomness.
package rules

import (
	"civitas.ai/internal/config"
	"civitas.ai/internal/sim"
)

type CommitteeOutcome struct {
	Tabled bool
	Amend  bool
}

// ResolveCommittee decides a bill's fate in committee. The chair's
// alignment relative to the sponsor picks the table rate; amendment is
// an independent trial evaluated only if the bill survives.
func ResolveCommittee(cfg config.Runtime, chair, sponsor sim.Alignment, tableRoll, amendRoll float64) CommitteeOutcome {
	rate := cfg.CommitteeTableRateNeutral
	if Opposes(chair, sponsor) {
		rate = cfg.CommitteeTableRateOpposing
	}
	if tableRoll < rate {
		return CommitteeOutcome{Tabled: true}
	}
	return CommitteeOutcome{Amend: amendRoll < cfg.CommitteeAmendRate}
}

// Opposes reports whether two alignments sit far enough apart on the
// spectrum to count as opposing (distance of two or more tiers).
func Opposes(a, b sim.Alignment) bool {
	return sim.AlignmentDistance(a, b) >= 2
}

type FloorOutcome struct {
	QuorumMet bool
	Passed    bool
	YeaFrac   float64
}

// ResolveFloor evaluates a floor vote. Quorum compares cast votes
// (including abstains) against the eligible population; passage compares
// the yea fraction of yea+nay against the passage threshold. Abstains
// never count toward the yea fraction.
func ResolveFloor(cfg config.Runtime, tally sim.Tally, eligible int) FloorOutcome {
	out := FloorOutcome{}
	if eligible <= 0 {
		return out
	}
	if float64(tally.Total) < cfg.QuorumPercentage*float64(eligible) {
		return out
	}
	out.QuorumMet = true
	decided := tally.Yea + tally.Nay
	if decided > 0 {
		out.YeaFrac = float64(tally.Yea) / float64(decided)
	}
	out.Passed = decided > 0 && out.YeaFrac >= cfg.BillPassagePercentage
	return out
}

// VetoChance is the president's veto probability for a bill whose
// sponsor sits `distance` tiers away, clamped to vetoMaxRate.
func VetoChance(cfg config.Runtime, distance int) float64 {
	p := cfg.VetoBaseRate + cfg.VetoRatePerTier*float64(distance)
	if p > cfg.VetoMaxRate {
		p = cfg.VetoMaxRate
	}
	if p < 0 {
		p = 0
	}
	return p
}

// ResolveVeto rolls the veto decision. True means the bill is vetoed.
func ResolveVeto(cfg config.Runtime, president, sponsor sim.Alignment, roll float64) bool {
	return roll < VetoChance(cfg, sim.AlignmentDistance(president, sponsor))
}

// ResolveOverride evaluates a veto-override vote against the
// supermajority threshold. Abstains are excluded from the fraction.
func ResolveOverride(cfg config.Runtime, tally sim.Tally) bool {
	decided := tally.Yea + tally.Nay
	if decided == 0 {
		return false
	}
	return float64(tally.Yea)/float64(decided) >= cfg.VetoOverrideThreshold
}

// WhipPosition is a party's recommended vote on a bill, computed once at
// floor entry: the sponsor's own party always recommends yea; other
// parties recommend yea when within one tier of the sponsor, nay
// otherwise.
func WhipPosition(party sim.Party, sponsorPartyID string, sponsor sim.Alignment) sim.VoteChoice {
	if party.ID == sponsorPartyID {
		return sim.VoteYea
	}
	if sim.AlignmentDistance(party.Alignment, sponsor) <= 1 {
		return sim.VoteYea
	}
	return sim.VoteNay
}

// ApplyWhip overrides an agent's vote with the party line when the
// follow roll succeeds. Agents without a whip position keep their vote.
func ApplyWhip(cfg config.Runtime, choice, whip sim.VoteChoice, roll float64) sim.VoteChoice {
	if whip == "" || !whip.Valid() {
		return choice
	}
	if roll < cfg.PartyWhipFollowRate {
		return whip
	}
	return choice
}

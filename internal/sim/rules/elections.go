package rules

import (
	"sort"
	"time"

	"civitas.ai/internal/sim"
)

// NextElectionPhase returns the phase an election should occupy at
// `now`. All transitions except counting→certified are pure timestamp
// comparisons; certification is handled by CertifyWinner once no ballots
// remain pending.
func NextElectionPhase(e sim.Election, now time.Time) sim.ElectionStatus {
	switch e.Status {
	case sim.ElectionScheduled:
		if !now.Before(e.ScheduledFor) {
			return sim.ElectionRegistration
		}
	case sim.ElectionRegistration:
		if !now.Before(e.RegistrationEnds) {
			return sim.ElectionCampaigning
		}
	case sim.ElectionCampaigning:
		if !now.Before(e.VotingStarts) {
			return sim.ElectionVoting
		}
	case sim.ElectionVoting:
		if !now.Before(e.VotingEnds) {
			return sim.ElectionCounting
		}
	}
	return e.Status
}

// CandidateTally pairs a campaign with its ballot count.
type CandidateTally struct {
	Campaign sim.Campaign
	Votes    int
}

// CertifyWinner picks the candidate with the highest vote count. Ties
// break to the earliest campaign registration, then campaign ID, so the
// result is stable regardless of input order.
func CertifyWinner(candidates []CandidateTally) (sim.Campaign, bool) {
	if len(candidates) == 0 {
		return sim.Campaign{}, false
	}
	sorted := make([]CandidateTally, len(candidates))
	copy(sorted, candidates)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Votes != b.Votes {
			return a.Votes > b.Votes
		}
		if !a.Campaign.RegisteredAt.Equal(b.Campaign.RegisteredAt) {
			return a.Campaign.RegisteredAt.Before(b.Campaign.RegisteredAt)
		}
		return a.Campaign.ID < b.Campaign.ID
	})
	return sorted[0].Campaign, true
}

// CanRegister checks candidacy eligibility. The filing fee must be fully
// payable; there is no partial charge.
func CanRegister(agent sim.Agent, minReputation int, filingFee int64) bool {
	return agent.Active && agent.Reputation >= minReputation && agent.Balance >= filingFee
}

// CanVote checks ballot eligibility.
func CanVote(agent sim.Agent, minReputation int) bool {
	return agent.Active && agent.Reputation >= minReputation
}

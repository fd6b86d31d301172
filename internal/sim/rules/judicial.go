package rules

import "civitas.ai/internal/sim"

type CaseOutcome struct {
	Resolved bool
	Upheld   bool
}

// ResolveCase decides a constitutional challenge. A case resolves when
// either side reaches a strict majority of the seated justices, or when
// all seated justices have voted and one side holds a simple majority.
// An even split never resolves; deliberation extends another tick.
func ResolveCase(votes []sim.JudicialVote, seated int) CaseOutcome {
	if seated <= 0 {
		return CaseOutcome{}
	}
	var con, uncon int
	for _, v := range votes {
		switch v.Choice {
		case sim.VoteConstitutional:
			con++
		case sim.VoteUnconstitutional:
			uncon++
		}
	}
	majority := seated/2 + 1
	if con >= majority {
		return CaseOutcome{Resolved: true, Upheld: true}
	}
	if uncon >= majority {
		return CaseOutcome{Resolved: true, Upheld: false}
	}
	if con+uncon >= seated && con != uncon {
		return CaseOutcome{Resolved: true, Upheld: con > uncon}
	}
	return CaseOutcome{}
}

// ShouldChallenge runs the per-law per-tick Bernoulli trial for opening
// a constitutional review.
func ShouldChallenge(rate float64, hasOpenCase bool, roll float64) bool {
	if hasOpenCase {
		return false
	}
	return roll < rate
}

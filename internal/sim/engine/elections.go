package engine

import (
	"context"
	"fmt"

	"civitas.ai/internal/protocol"
	"civitas.ai/internal/sim"
	"civitas.ai/internal/sim/rules"
)

// stepElections advances each open election through its timestamp-gated
// phases and certifies the winner once counting starts. Phase changes
// are guarded updates, so a tick that loses a race simply no-ops.
func (e *Engine) stepElections(ctx context.Context, tc *tickContext) error {
	for _, el := range sortedElections(tc.elections) {
		next := rules.NextElectionPhase(el, tc.now)
		if next == el.Status {
			continue
		}
		if err := e.store.AdvanceElection(ctx, el.ID, el.Status, next); err != nil {
			return fmt.Errorf("election %s: %w", el.ID, err)
		}
		el.Status = next
		tc.elections[el.ID] = el

		switch next {
		case sim.ElectionVoting:
			var names []string
			for _, c := range sortedCampaigns(tc.campaigns) {
				if c.ElectionID == el.ID {
					names = append(names, tc.agentName(c.AgentID))
				}
			}
			e.publish(tc.seq, protocol.ElectionVotingStarted{
				ElectionID: el.ID,
				Position:   el.Position,
				Candidates: names,
			})
		case sim.ElectionCounting:
			if err := e.certify(ctx, tc, el); err != nil {
				return fmt.Errorf("certify %s: %w", el.ID, err)
			}
		}
	}
	return nil
}

func (e *Engine) certify(ctx context.Context, tc *tickContext, el sim.Election) error {
	counts, err := e.store.ElectionVoteCounts(ctx, el.ID)
	if err != nil {
		return err
	}
	campaigns, err := e.store.ActiveCampaigns(ctx, el.ID)
	if err != nil {
		return err
	}
	tallies := make([]rules.CandidateTally, 0, len(campaigns))
	for _, c := range campaigns {
		tallies = append(tallies, rules.CandidateTally{Campaign: c, Votes: counts[c.AgentID]})
	}
	winner, ok := rules.CertifyWinner(tallies)
	if !ok {
		// Nobody ran. The election certifies empty and the seat stays
		// with its current holder.
		if err := e.store.CertifyElection(ctx, el.ID, "", tc.now); err != nil {
			return err
		}
		delete(tc.elections, el.ID)
		e.publish(tc.seq, protocol.ElectionCompleted{
			ElectionID: el.ID,
			Position:   el.Position,
		})
		return nil
	}
	if err := e.store.CertifyElection(ctx, el.ID, winner.AgentID, tc.now); err != nil {
		return err
	}
	if err := e.store.SetPosition(ctx, sim.Position{Type: el.Position, SeatNo: el.Seat, AgentID: winner.AgentID}); err != nil {
		return err
	}
	delete(tc.elections, el.ID)
	e.publish(tc.seq, protocol.ElectionCompleted{
		ElectionID: el.ID,
		Position:   el.Position,
		Winner:     tc.agentName(winner.AgentID),
		Votes:      counts[winner.AgentID],
	})
	return nil
}

package engine

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"civitas.ai/internal/decide"
	"civitas.ai/internal/protocol"
	"civitas.ai/internal/sim"
	"civitas.ai/internal/sim/dispatch"
	"civitas.ai/internal/sim/rules"
	"civitas.ai/internal/store"
)

// applyOutcomes records one AgentDecision per dispatched unit and then
// applies the successful actions sequentially, so every vote write is
// durable before the state machines evaluate this tick. Invariant
// violations (duplicate vote, insufficient balance) drop the action,
// never the tick.
func (e *Engine) applyOutcomes(ctx context.Context, tc *tickContext, outcomes []dispatch.Outcome) error {
	for _, out := range outcomes {
		d := sim.Decision{
			ID:        uuid.NewString(),
			Tick:      tc.seq,
			AgentID:   out.Unit.AgentID,
			Provider:  out.Unit.Provider,
			Phase:     out.Unit.Phase,
			Action:    out.Result.Action,
			Reasoning: out.Result.Reasoning,
			OK:        out.Err == nil,
			LatencyMs: out.LatencyMs,
			At:        out.At,
		}
		if out.Err != nil {
			d.Error = out.Err.Error()
		}
		if err := e.store.InsertDecision(ctx, d); err != nil {
			return err
		}
		if e.decLog != nil {
			if err := e.decLog.WriteDecision(d); err != nil {
				e.log.Printf("decision archive: %v", err)
			}
		}
		if out.Err != nil {
			// Transient failure: the agent sits this unit out and is
			// eligible again next tick.
			continue
		}
		if err := e.applyAction(ctx, tc, out); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) applyAction(ctx context.Context, tc *tickContext, out dispatch.Outcome) error {
	switch out.Unit.Phase {
	case decide.PhaseBillVote:
		return e.applyBillVote(ctx, tc, out, false)
	case decide.PhaseOverrideVote:
		return e.applyBillVote(ctx, tc, out, true)
	case decide.PhaseBillPropose:
		return e.applyProposal(ctx, tc, out)
	case decide.PhaseCampaignRegister:
		return e.applyRegistration(ctx, tc, out)
	case decide.PhaseCampaignSpeech:
		return e.applySpeech(ctx, tc, out)
	case decide.PhaseElectionBallot:
		return e.applyBallot(ctx, tc, out)
	case decide.PhaseJusticeVote:
		return e.applyJusticeVote(ctx, tc, out)
	}
	return nil
}

func parseVoteChoice(action string) sim.VoteChoice {
	switch sim.VoteChoice(strings.ToLower(strings.TrimSpace(action))) {
	case sim.VoteYea:
		return sim.VoteYea
	case sim.VoteNay:
		return sim.VoteNay
	default:
		return sim.VoteAbstain
	}
}

func (e *Engine) applyBillVote(ctx context.Context, tc *tickContext, out dispatch.Outcome, override bool) error {
	bill, err := e.store.GetBill(ctx, out.Unit.Ref)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}
	choice := parseVoteChoice(out.Result.Action)

	// Party-line influence applies to floor votes only.
	if !override {
		if agent, ok := tc.agents[out.Unit.AgentID]; ok && agent.PartyID != "" {
			whip := bill.WhipPositions[agent.PartyID]
			choice = rules.ApplyWhip(tc.cfg, choice, whip, e.rng.Float64())
		}
	}

	err = e.store.CastBillVote(ctx, sim.BillVote{
		BillID:    bill.ID,
		AgentID:   out.Unit.AgentID,
		Choice:    choice,
		Reasoning: out.Result.Reasoning,
		CastAt:    out.At,
	}, override)
	if errors.Is(err, store.ErrDuplicateVote) {
		return nil
	}
	if err != nil {
		return err
	}
	e.publish(tc.seq, protocol.AgentVote{
		BillID:    bill.ID,
		Title:     bill.Title,
		Agent:     out.Unit.AgentName,
		Choice:    string(choice),
		Reasoning: out.Result.Reasoning,
	})
	return nil
}

func (e *Engine) applyProposal(ctx context.Context, tc *tickContext, out dispatch.Outcome) error {
	action := strings.TrimSpace(out.Result.Action)
	billType := sim.BillOriginal
	amendsLaw := ""
	switch {
	case action == "propose":
	case strings.HasPrefix(action, "amend:"):
		amendsLaw = strings.TrimSpace(strings.TrimPrefix(action, "amend:"))
		if _, err := e.store.GetLaw(ctx, amendsLaw); err != nil {
			// Unknown law: drop the action, keep the decision record.
			return nil
		}
		billType = sim.BillAmendment
	default:
		return nil
	}
	title := strings.TrimSpace(out.Result.Title)
	if title == "" {
		return nil
	}

	chair := e.pickCommitteeChair(ctx, tc)
	bill := sim.Bill{
		ID:           uuid.NewString(),
		Title:        title,
		Summary:      firstLine(out.Result.Body),
		FullText:     out.Result.Body,
		SponsorID:    out.Unit.AgentID,
		Committee:    chair,
		Status:       sim.BillProposed,
		Type:         billType,
		AmendsLawID:  amendsLaw,
		IntroducedAt: tc.now,
		LastActionAt: tc.now,
	}
	if err := e.store.InsertBill(ctx, bill); err != nil {
		return err
	}
	e.publish(tc.seq, protocol.BillProposed{
		BillID:    bill.ID,
		Title:     bill.Title,
		Sponsor:   out.Unit.AgentName,
		Committee: tc.agentName(chair),
		BillType:  string(billType),
	})
	return nil
}

// pickCommitteeChair assigns a committee at creation by drawing a chair
// from the seated congress. The chair's alignment drives the table-rate
// choice when the committee resolves.
func (e *Engine) pickCommitteeChair(ctx context.Context, tc *tickContext) string {
	members, err := e.store.PositionHolders(ctx, sim.PositionCongress)
	if err != nil || len(members) == 0 {
		return ""
	}
	return members[e.rng.Intn(len(members))].ID
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 240 {
		s = s[:240]
	}
	return s
}

func (e *Engine) applyRegistration(ctx context.Context, tc *tickContext, out dispatch.Outcome) error {
	if strings.TrimSpace(out.Result.Action) != "run" {
		return nil
	}
	el, ok := tc.elections[out.Unit.Ref]
	if !ok || el.Status != sim.ElectionRegistration {
		return nil
	}
	// Charge the filing fee first; no fee, no candidacy, no partial charge.
	err := e.store.ChargeAgent(ctx, out.Unit.AgentID, sim.TxnFilingFee, tc.cfg.CampaignFilingFee,
		"filing fee: "+el.Position, tc.seq)
	if errors.Is(err, store.ErrInsufficientFunds) {
		return nil
	}
	if err != nil {
		return err
	}
	c := sim.Campaign{
		ID:           uuid.NewString(),
		ElectionID:   el.ID,
		AgentID:      out.Unit.AgentID,
		Platform:     out.Result.Body,
		Status:       sim.CampaignActive,
		RegisteredAt: out.At,
	}
	err = e.store.InsertCampaign(ctx, c)
	if errors.Is(err, store.ErrDuplicateCampaign) {
		// Constraint beat us to it; refund so the fee is charged exactly once.
		return e.store.AdjustAgent(ctx, out.Unit.AgentID, sim.TxnFilingFee, tc.cfg.CampaignFilingFee, 0,
			"filing fee refund: duplicate candidacy", tc.seq)
	}
	if err != nil {
		return err
	}
	tc.campaigns[c.ID] = c
	return nil
}

func (e *Engine) applySpeech(ctx context.Context, tc *tickContext, out dispatch.Outcome) error {
	c, ok := tc.campaigns[out.Unit.Ref]
	if !ok {
		return nil
	}
	contributions := int64(25 + e.rng.Intn(150))
	endorsement := ""
	if e.rng.Float64() < 0.25 {
		if backers := sortedAgents(tc.agents); len(backers) > 0 {
			endorsement = backers[e.rng.Intn(len(backers))].Name
		}
	}
	if err := e.store.BoostCampaign(ctx, c.ID, contributions, endorsement); err != nil {
		return err
	}
	e.publish(tc.seq, protocol.CampaignSpeech{
		ElectionID:    c.ElectionID,
		Agent:         out.Unit.AgentName,
		Excerpt:       firstLine(out.Result.Body),
		Contributions: contributions,
	})
	return nil
}

func (e *Engine) applyBallot(ctx context.Context, tc *tickContext, out dispatch.Outcome) error {
	el, ok := tc.elections[out.Unit.Ref]
	if !ok {
		return nil
	}
	candidate := strings.TrimSpace(out.Result.Action)
	if candidate == "abstain" {
		candidate = ""
	}
	if candidate != "" && !e.isCandidate(tc, el.ID, candidate) {
		candidate = ""
	}
	err := e.store.CastElectionVote(ctx, sim.ElectionVote{
		ElectionID:  el.ID,
		VoterID:     out.Unit.AgentID,
		CandidateID: candidate,
		CastAt:      out.At,
	})
	if errors.Is(err, store.ErrDuplicateVote) {
		return nil
	}
	return err
}

func (e *Engine) isCandidate(tc *tickContext, electionID, agentID string) bool {
	for _, c := range tc.campaigns {
		if c.ElectionID == electionID && c.AgentID == agentID {
			return true
		}
	}
	return false
}

func (e *Engine) applyJusticeVote(ctx context.Context, tc *tickContext, out dispatch.Outcome) error {
	choice := sim.JudicialChoice(strings.ToLower(strings.TrimSpace(out.Result.Action)))
	if choice != sim.VoteConstitutional && choice != sim.VoteUnconstitutional {
		return nil
	}
	err := e.store.CastJudicialVote(ctx, sim.JudicialVote{
		CaseID:    out.Unit.Ref,
		JusticeID: out.Unit.AgentID,
		Choice:    choice,
		Reasoning: out.Result.Reasoning,
		CastAt:    out.At,
	})
	if errors.Is(err, store.ErrDuplicateVote) {
		return nil
	}
	return err
}

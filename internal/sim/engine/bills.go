package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"civitas.ai/internal/decide"
	"civitas.ai/internal/protocol"
	"civitas.ai/internal/sim"
	"civitas.ai/internal/sim/dispatch"
	"civitas.ai/internal/sim/rules"
	"civitas.ai/internal/store"
)

// stepBills walks every open bill through at most one transition per
// tick. A bill assigned a committee at creation is referred right away;
// one introduced without a committee waits out the advancement delay.
func (e *Engine) stepBills(ctx context.Context, tc *tickContext) error {
	bills, err := e.store.OpenBills(ctx)
	if err != nil {
		return err
	}
	delay := time.Duration(tc.cfg.BillAdvancementDelayMs) * time.Millisecond
	for _, bill := range bills {
		if bill.Status == sim.BillProposed && bill.Committee == "" && tc.now.Sub(bill.LastActionAt) < delay {
			continue
		}
		var stepErr error
		switch bill.Status {
		case sim.BillProposed:
			stepErr = e.billToCommittee(ctx, tc, bill)
		case sim.BillCommittee:
			stepErr = e.billCommittee(ctx, tc, bill)
		case sim.BillFloor:
			stepErr = e.billFloor(ctx, tc, bill)
		case sim.BillPassed:
			stepErr = e.billPresident(ctx, tc, bill)
		case sim.BillPresidentialVeto:
			stepErr = e.billOverride(ctx, tc, bill)
		}
		if stepErr != nil {
			return fmt.Errorf("bill %s: %w", bill.ID, stepErr)
		}
	}
	return nil
}

func (e *Engine) billToCommittee(ctx context.Context, tc *tickContext, bill sim.Bill) error {
	if err := e.store.AdvanceBill(ctx, bill.ID, sim.BillProposed, sim.BillCommittee, tc.now); err != nil {
		return err
	}
	e.publish(tc.seq, protocol.BillAdvanced{
		BillID: bill.ID,
		Title:  bill.Title,
		From:   string(sim.BillProposed),
		To:     string(sim.BillCommittee),
		Note:   "referred to committee of " + tc.agentName(bill.Committee),
	})
	return nil
}

func (e *Engine) billCommittee(ctx context.Context, tc *tickContext, bill sim.Bill) error {
	sponsor := tc.agents[bill.SponsorID]
	chair, haveChair := tc.agents[bill.Committee]
	chairAlign := sponsor.Alignment
	if haveChair {
		chairAlign = chair.Alignment
	}

	out := rules.ResolveCommittee(tc.cfg, chairAlign, sponsor.Alignment, e.rng.Float64(), e.rng.Float64())
	if out.Tabled {
		if err := e.store.AdvanceBill(ctx, bill.ID, sim.BillCommittee, sim.BillTabled, tc.now); err != nil {
			return err
		}
		e.publish(tc.seq, protocol.BillResolved{
			BillID: bill.ID,
			Title:  bill.Title,
			Result: string(sim.BillTabled),
		})
		return nil
	}

	if out.Amend && haveChair {
		if err := e.committeeAmend(ctx, tc, bill, chair); err != nil {
			return err
		}
	}

	// Party whip positions are fixed at floor entry and stay with the
	// bill for the rest of its life.
	whip := make(map[string]sim.VoteChoice, len(tc.parties))
	for _, p := range tc.parties {
		whip[p.ID] = rules.WhipPosition(p, sponsor.PartyID, sponsor.Alignment)
	}
	if err := e.store.SetBillWhip(ctx, bill.ID, whip); err != nil {
		return err
	}
	if err := e.store.AdvanceBill(ctx, bill.ID, sim.BillCommittee, sim.BillFloor, tc.now); err != nil {
		return err
	}
	e.publish(tc.seq, protocol.BillAdvanced{
		BillID: bill.ID,
		Title:  bill.Title,
		From:   string(sim.BillCommittee),
		To:     string(sim.BillFloor),
	})
	return nil
}

// committeeAmend asks the chair to draft a rider. The call is recorded
// like any other decision; a failed or empty draft leaves the bill text
// untouched and the bill still advances.
func (e *Engine) committeeAmend(ctx context.Context, tc *tickContext, bill sim.Bill, chair sim.Agent) error {
	timeout := time.Duration(tc.cfg.DecisionTimeoutMs) * time.Millisecond
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := e.now()
	res, callErr := e.decider.Decide(callCtx, decide.Request{
		AgentID:   chair.ID,
		AgentName: chair.Name,
		Provider:  resolveProvider(tc.cfg, chair),
		Model:     chair.Model,
		Phase:     decide.PhaseCommitteeAmend,
		Prompt:    amendPrompt(chair, bill, tc.cfg.MaxPromptLengthChars),
	})
	d := sim.Decision{
		ID:        uuid.NewString(),
		Tick:      tc.seq,
		AgentID:   chair.ID,
		Provider:  resolveProvider(tc.cfg, chair),
		Phase:     decide.PhaseCommitteeAmend,
		Action:    res.Action,
		Reasoning: res.Reasoning,
		OK:        callErr == nil,
		LatencyMs: e.now().Sub(start).Milliseconds(),
		At:        e.now(),
	}
	if callErr != nil {
		d.Error = callErr.Error()
	}
	if err := e.store.InsertDecision(ctx, d); err != nil {
		return err
	}
	if e.decLog != nil {
		if err := e.decLog.WriteDecision(d); err != nil {
			e.log.Printf("decision archive: %v", err)
		}
	}
	tc.sideDecisions++
	if callErr != nil {
		tc.sideErrors++
	}
	rider := dispatch.TruncateOutput(strings.TrimSpace(res.Body), tc.cfg.MaxOutputLengthTokens)
	if callErr != nil || rider == "" {
		return nil
	}
	return e.store.AmendBillText(ctx, bill.ID, rider, tc.now)
}

func amendPrompt(chair sim.Agent, bill sim.Bill, maxChars int) string {
	p := fmt.Sprintf("You are %s, committee chair (%s). Draft a short amendment rider for the bill %q.\n\n%s",
		chair.Name, chair.Alignment, bill.Title, bill.FullText)
	return truncated(p, maxChars)
}

func (e *Engine) billFloor(ctx context.Context, tc *tickContext, bill sim.Bill) error {
	tally, err := e.store.BillTally(ctx, bill.ID, false)
	if err != nil {
		return err
	}
	out := rules.ResolveFloor(tc.cfg, tally, tc.cfg.CongressSeats)
	if !out.QuorumMet {
		// Short of quorum: the bill stays on the floor and collects
		// votes again next tick.
		return nil
	}
	if !out.Passed {
		// Passage missed: the bill stays on the floor. Only committee
		// can table a bill; the floor never kills one.
		return nil
	}
	if err := e.store.AdvanceBill(ctx, bill.ID, sim.BillFloor, sim.BillPassed, tc.now); err != nil {
		return err
	}
	e.publish(tc.seq, protocol.BillPassed{
		BillID:  bill.ID,
		Title:   bill.Title,
		Yea:     tally.Yea,
		Nay:     tally.Nay,
		Abstain: tally.Abstain,
	})
	return nil
}

func (e *Engine) billPresident(ctx context.Context, tc *tickContext, bill sim.Bill) error {
	president, err := e.store.President(ctx)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	// Vacant presidency signs everything.
	if err == nil && rules.ResolveVeto(tc.cfg, president.Alignment, tc.agents[bill.SponsorID].Alignment, e.rng.Float64()) {
		if err := e.store.AdvanceBill(ctx, bill.ID, sim.BillPassed, sim.BillPresidentialVeto, tc.now); err != nil {
			return err
		}
		e.publish(tc.seq, protocol.BillAdvanced{
			BillID: bill.ID,
			Title:  bill.Title,
			From:   string(sim.BillPassed),
			To:     string(sim.BillPresidentialVeto),
			Note:   "vetoed by " + president.Name,
		})
		return nil
	}
	return e.enact(ctx, tc, bill)
}

func (e *Engine) billOverride(ctx context.Context, tc *tickContext, bill sim.Bill) error {
	tally, err := e.store.BillTally(ctx, bill.ID, true)
	if err != nil {
		return err
	}
	quorum := float64(tally.Total) >= tc.cfg.QuorumPercentage*float64(tc.cfg.CongressSeats)
	if !quorum {
		return nil
	}
	if rules.ResolveOverride(tc.cfg, tally) {
		return e.enact(ctx, tc, bill)
	}
	if err := e.store.AdvanceBill(ctx, bill.ID, sim.BillPresidentialVeto, sim.BillVetoed, tc.now); err != nil {
		return err
	}
	e.publish(tc.seq, protocol.BillResolved{
		BillID: bill.ID,
		Title:  bill.Title,
		Result: string(sim.BillVetoed),
	})
	return nil
}

func (e *Engine) enact(ctx context.Context, tc *tickContext, bill sim.Bill) error {
	law, err := e.store.EnactLaw(ctx, bill, uuid.NewString(), tc.now)
	if err != nil {
		return err
	}
	// Legislative wins carry reputational weight for the sponsor.
	if err := e.store.AdjustAgent(ctx, bill.SponsorID, sim.TxnApproval, 0, 2,
		"sponsored bill enacted: "+bill.Title, tc.seq); err != nil {
		return err
	}
	e.publish(tc.seq, protocol.BillResolved{
		BillID: bill.ID,
		Title:  bill.Title,
		Result: string(sim.BillLaw),
		LawID:  law.ID,
	})
	return nil
}

func truncated(s string, maxChars int) string {
	if maxChars > 0 && len(s) > maxChars {
		return s[:maxChars]
	}
	return s
}

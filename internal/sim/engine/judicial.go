package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"civitas.ai/internal/protocol"
	"civitas.ai/internal/sim"
	"civitas.ai/internal/sim/rules"
	"civitas.ai/internal/store"
)

// stepJudicial opens new constitutional challenges against active laws
// and moves existing cases toward a ruling. A tied bench never rules;
// deliberation extends until a justice breaks the tie.
func (e *Engine) stepJudicial(ctx context.Context, tc *tickContext) error {
	if err := e.openChallenges(ctx, tc); err != nil {
		return err
	}

	cases, err := e.store.OpenCases(ctx)
	if err != nil {
		return err
	}
	justices, err := e.store.PositionHolders(ctx, sim.PositionJustice)
	if err != nil {
		return err
	}
	for _, c := range cases {
		switch c.Status {
		case sim.CasePending:
			if err := e.store.MarkCaseDeliberating(ctx, c.ID); err != nil {
				return fmt.Errorf("case %s: %w", c.ID, err)
			}
		case sim.CaseDeliberating:
			if err := e.resolveCase(ctx, tc, c, len(justices)); err != nil {
				return fmt.Errorf("case %s: %w", c.ID, err)
			}
		}
	}
	return nil
}

func (e *Engine) openChallenges(ctx context.Context, tc *tickContext) error {
	laws, err := e.store.ActiveLaws(ctx)
	if err != nil {
		return err
	}
	for _, law := range laws {
		open, err := e.store.HasOpenCase(ctx, law.ID)
		if err != nil {
			return err
		}
		if !rules.ShouldChallenge(tc.cfg.JudicialChallengeRatePerLaw, open, e.rng.Float64()) {
			continue
		}
		c := sim.JudicialCase{
			ID:       uuid.NewString(),
			LawID:    law.ID,
			Status:   sim.CasePending,
			OpenedAt: tc.now,
		}
		err = e.store.OpenCase(ctx, c)
		if errors.Is(err, store.ErrCaseOpen) {
			continue
		}
		if err != nil {
			return err
		}
		e.publish(tc.seq, protocol.JudicialCaseOpened{
			CaseID:   c.ID,
			LawID:    law.ID,
			LawTitle: law.Title,
		})
	}
	return nil
}

func (e *Engine) resolveCase(ctx context.Context, tc *tickContext, c sim.JudicialCase, seated int) error {
	votes, err := e.store.CaseVotes(ctx, c.ID)
	if err != nil {
		return err
	}
	out := rules.ResolveCase(votes, seated)
	if !out.Resolved {
		return nil
	}
	law, err := e.store.GetLaw(ctx, c.LawID)
	if err != nil {
		return err
	}
	result := string(sim.CaseStruckDown)
	ruling := fmt.Sprintf("The court finds %q unconstitutional and strikes it down.", law.Title)
	if out.Upheld {
		result = string(sim.CaseUpheld)
		ruling = fmt.Sprintf("The court upholds %q as constitutional.", law.Title)
	}
	if err := e.store.RuleCase(ctx, c.ID, out.Upheld, ruling, tc.now); err != nil {
		return err
	}
	e.publish(tc.seq, protocol.JudicialRuling{
		CaseID:   c.ID,
		LawID:    law.ID,
		LawTitle: law.Title,
		Result:   result,
	})
	return nil
}

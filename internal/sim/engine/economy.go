package engine

import (
	"context"

	"civitas.ai/internal/sim"
	"civitas.ai/internal/sim/rules"
)

// stepEconomy collects the tick's taxes into the treasury and pays
// officeholder salaries out of it. Salaries are capped by what the
// treasury holds; the treasury never goes negative. The write-back is
// the tick's net delta, so a concurrent admin patch to the balance
// survives the settle.
func (e *Engine) stepEconomy(ctx context.Context, tc *tickContext) error {
	treasury := tc.eco.TreasuryBalance
	var delta int64

	for _, a := range sortedAgents(tc.agents) {
		tax := rules.TaxAmount(a.Balance, tc.eco.TaxRate)
		if tax <= 0 {
			continue
		}
		if err := e.store.AdjustAgent(ctx, a.ID, sim.TxnTax, -tax, 0, "tick tax", tc.seq); err != nil {
			return err
		}
		treasury += tax
		delta += tax
	}

	officials, err := e.officeholders(ctx)
	if err != nil {
		return err
	}
	for _, a := range officials {
		pay := rules.SalaryPayable(treasury, tc.eco.SalaryPerTick)
		if pay <= 0 {
			break
		}
		if err := e.store.AdjustAgent(ctx, a.ID, sim.TxnSalary, pay, 0, "officeholder salary", tc.seq); err != nil {
			return err
		}
		treasury -= pay
		delta -= pay
	}

	e.cfg.AdjustTreasury(delta)
	return nil
}

// officeholders returns every salaried official, deduplicated, in a
// stable order: president, then justices, then congress.
func (e *Engine) officeholders(ctx context.Context) ([]sim.Agent, error) {
	var all []sim.Agent
	seen := map[string]bool{}
	for _, posType := range []string{sim.PositionPresident, sim.PositionJustice, sim.PositionCongress} {
		holders, err := e.store.PositionHolders(ctx, posType)
		if err != nil {
			return nil, err
		}
		for _, a := range holders {
			if seen[a.ID] {
				continue
			}
			seen[a.ID] = true
			all = append(all, a)
		}
	}
	return all, nil
}

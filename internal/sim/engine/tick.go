package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"civitas.ai/internal/config"
	"civitas.ai/internal/decide"
	"civitas.ai/internal/protocol"
	"civitas.ai/internal/sim"
	"civitas.ai/internal/sim/dispatch"
	"civitas.ai/internal/sim/rules"
)

// tickContext carries the per-tick snapshots: configuration is frozen at
// tick start, entity lookups are loaded once and shared by every phase.
type tickContext struct {
	seq uint64
	cfg config.Runtime
	eco config.Economy
	now time.Time

	agents    map[string]sim.Agent
	parties   map[string]sim.Party
	campaigns map[string]sim.Campaign
	elections map[string]sim.Election

	// Decisions made outside the dispatcher (committee amend drafts),
	// folded into the tick's published counts.
	sideDecisions int
	sideErrors    int
}

func (tc *tickContext) agentName(id string) string {
	if a, ok := tc.agents[id]; ok {
		return a.Name
	}
	return id
}

// runTick executes one full scheduler pass in the fixed order: dispatch,
// bills, elections, judicial, economy. A failure anywhere marks the tick
// failed and skips the dependent phases; the next tick starts fresh from
// last-committed state.
func (e *Engine) runTick(ctx context.Context) (uint64, error) {
	started := e.now()
	seq, err := e.store.BeginTick(ctx, started)
	if err != nil {
		return 0, fmt.Errorf("begin tick: %w", err)
	}
	e.curTick.Store(seq)

	tc := &tickContext{
		seq: seq,
		cfg: e.cfg.Runtime(),
		eco: e.cfg.Economy(),
		now: started,
	}

	err = e.pass(ctx, tc)
	if err != nil {
		_ = e.store.FailTick(ctx, seq)
		return seq, err
	}

	completed := e.now()
	if err := e.store.CompleteTick(ctx, seq, completed); err != nil {
		return seq, fmt.Errorf("complete tick: %w", err)
	}
	stepMs := completed.Sub(started).Milliseconds()
	e.lastStepMs.Store(stepMs)

	decisions, errs := e.tickDecisionCounts()
	decisions += tc.sideDecisions
	errs += tc.sideErrors
	e.publish(seq, protocol.TickComplete{
		Tick:       seq,
		DurationMs: stepMs,
		Decisions:  decisions,
		Errors:     errs,
	})
	return seq, nil
}

func (e *Engine) tickDecisionCounts() (int, int) {
	c := e.dispatcher.Counts()
	return c.Completed + c.Failed, c.Failed
}

func (e *Engine) pass(ctx context.Context, tc *tickContext) error {
	if err := e.loadTickState(ctx, tc); err != nil {
		return fmt.Errorf("load state: %w", err)
	}

	units, err := e.buildUnits(ctx, tc)
	if err != nil {
		return fmt.Errorf("build units: %w", err)
	}
	outcomes := e.dispatcher.Run(ctx, tc.cfg, units)
	if err := e.applyOutcomes(ctx, tc, outcomes); err != nil {
		return fmt.Errorf("apply decisions: %w", err)
	}

	if err := e.stepBills(ctx, tc); err != nil {
		return fmt.Errorf("bills: %w", err)
	}
	if err := e.stepElections(ctx, tc); err != nil {
		return fmt.Errorf("elections: %w", err)
	}
	if err := e.stepJudicial(ctx, tc); err != nil {
		return fmt.Errorf("judicial: %w", err)
	}
	if err := e.stepEconomy(ctx, tc); err != nil {
		return fmt.Errorf("economy: %w", err)
	}
	return nil
}

func (e *Engine) loadTickState(ctx context.Context, tc *tickContext) error {
	agents, err := e.store.ActiveAgents(ctx)
	if err != nil {
		return err
	}
	tc.agents = make(map[string]sim.Agent, len(agents))
	for _, a := range agents {
		tc.agents[a.ID] = a
	}

	parties, err := e.store.Parties(ctx)
	if err != nil {
		return err
	}
	tc.parties = make(map[string]sim.Party, len(parties))
	for _, p := range parties {
		tc.parties[p.ID] = p
	}

	elections, err := e.store.OpenElections(ctx)
	if err != nil {
		return err
	}
	tc.elections = make(map[string]sim.Election, len(elections))
	tc.campaigns = map[string]sim.Campaign{}
	for _, el := range elections {
		tc.elections[el.ID] = el
		camps, err := e.store.ActiveCampaigns(ctx, el.ID)
		if err != nil {
			return err
		}
		for _, c := range camps {
			tc.campaigns[c.ID] = c
		}
	}
	return nil
}

// resolveProvider is the single per-tick effective-provider step: the
// admin override, when set, wins over per-agent defaults.
func resolveProvider(cfg config.Runtime, a sim.Agent) string {
	if cfg.ProviderOverride != "" {
		return cfg.ProviderOverride
	}
	if a.Provider == "" {
		return decide.ProviderOllama
	}
	return a.Provider
}

func (e *Engine) unitFor(tc *tickContext, a sim.Agent, phase, prompt, ref string) dispatch.Unit {
	return dispatch.Unit{
		AgentID:   a.ID,
		AgentName: a.Name,
		Provider:  resolveProvider(tc.cfg, a),
		Model:     a.Model,
		Phase:     phase,
		Prompt:    prompt,
		Ref:       ref,
	}
}

// buildUnits enumerates every eligible action for this tick: floor and
// override votes, proposals, candidacy registrations, campaign
// speeches, election ballots and justice votes.
func (e *Engine) buildUnits(ctx context.Context, tc *tickContext) ([]dispatch.Unit, error) {
	var units []dispatch.Unit

	voters := make([]sim.Agent, 0, len(tc.agents))
	for _, a := range tc.agents {
		if rules.CanVote(a, tc.cfg.MinReputationToVote) {
			voters = append(voters, a)
		}
	}
	sortAgents(voters)

	bills, err := e.store.OpenBills(ctx)
	if err != nil {
		return nil, err
	}
	for _, b := range bills {
		switch b.Status {
		case sim.BillFloor:
			voted, err := e.store.BillVoters(ctx, b.ID, false)
			if err != nil {
				return nil, err
			}
			for _, a := range voters {
				if voted[a.ID] {
					continue
				}
				units = append(units, e.unitFor(tc, a, decide.PhaseBillVote, billVotePrompt(a, b), b.ID))
			}
		case sim.BillPresidentialVeto:
			voted, err := e.store.BillVoters(ctx, b.ID, true)
			if err != nil {
				return nil, err
			}
			for _, a := range voters {
				if voted[a.ID] {
					continue
				}
				units = append(units, e.unitFor(tc, a, decide.PhaseOverrideVote, overridePrompt(a, b), b.ID))
			}
		}
	}

	// Proposals: every active agent may introduce; the dispatcher caps
	// at maxBillsPerAgentPerTick.
	for _, a := range sortedAgents(tc.agents) {
		units = append(units, e.unitFor(tc, a, decide.PhaseBillPropose, proposePrompt(a), ""))
	}

	for _, el := range sortedElections(tc.elections) {
		switch el.Status {
		case sim.ElectionRegistration:
			registered := map[string]bool{}
			for _, c := range tc.campaigns {
				if c.ElectionID == el.ID {
					registered[c.AgentID] = true
				}
			}
			for _, a := range sortedAgents(tc.agents) {
				if registered[a.ID] {
					continue
				}
				if !rules.CanRegister(a, tc.cfg.MinReputationToRun, tc.cfg.CampaignFilingFee) {
					continue
				}
				units = append(units, e.unitFor(tc, a, decide.PhaseCampaignRegister, registerPrompt(a, el), el.ID))
			}
		case sim.ElectionCampaigning:
			for _, c := range sortedCampaigns(tc.campaigns) {
				if c.ElectionID != el.ID {
					continue
				}
				if e.rng.Float64() >= tc.cfg.CampaignSpeechChance {
					continue
				}
				a, ok := tc.agents[c.AgentID]
				if !ok {
					continue
				}
				units = append(units, e.unitFor(tc, a, decide.PhaseCampaignSpeech, speechPrompt(a, el, c), c.ID))
			}
		case sim.ElectionVoting:
			voted, err := e.store.ElectionVoters(ctx, el.ID)
			if err != nil {
				return nil, err
			}
			prompt := ballotPromptCandidates(tc, el)
			for _, a := range voters {
				if voted[a.ID] {
					continue
				}
				units = append(units, e.unitFor(tc, a, decide.PhaseElectionBallot, ballotPrompt(a, el, prompt), el.ID))
			}
		}
	}

	cases, err := e.store.OpenCases(ctx)
	if err != nil {
		return nil, err
	}
	justices, err := e.store.PositionHolders(ctx, sim.PositionJustice)
	if err != nil {
		return nil, err
	}
	for _, c := range cases {
		if c.Status != sim.CaseDeliberating {
			continue
		}
		votes, err := e.store.CaseVotes(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		voted := map[string]bool{}
		for _, v := range votes {
			voted[v.JusticeID] = true
		}
		for _, j := range justices {
			if voted[j.ID] {
				continue
			}
			units = append(units, e.unitFor(tc, j, decide.PhaseJusticeVote, justicePrompt(j, c), c.ID))
		}
	}

	return units, nil
}

func billVotePrompt(a sim.Agent, b sim.Bill) string {
	return fmt.Sprintf("You are %s (%s). %s\nA bill is on the floor: %q.\nSummary: %s\nVote yea, nay or abstain and give one sentence of reasoning.",
		a.Name, a.Alignment, a.Persona, b.Title, b.Summary)
}

func overridePrompt(a sim.Agent, b sim.Bill) string {
	return fmt.Sprintf("You are %s (%s). The president vetoed %q. Vote yea to override the veto, nay to sustain it, or abstain.",
		a.Name, a.Alignment, b.Title)
}

func proposePrompt(a sim.Agent) string {
	return fmt.Sprintf("You are %s (%s). %s\nYou may introduce one bill this session. Answer with action 'propose' plus a title and text, 'amend:<law_id>' to amend a law, or 'pass'.",
		a.Name, a.Alignment, a.Persona)
}

func registerPrompt(a sim.Agent, el sim.Election) string {
	return fmt.Sprintf("You are %s (%s). Registration is open for the %s election. Answer 'run' with a platform to file a candidacy, or 'pass'.",
		a.Name, a.Alignment, el.Position)
}

func speechPrompt(a sim.Agent, el sim.Election, c sim.Campaign) string {
	return fmt.Sprintf("You are %s, campaigning for %s. Platform: %s\nGive a short stump speech.",
		a.Name, el.Position, c.Platform)
}

func ballotPromptCandidates(tc *tickContext, el sim.Election) string {
	var names []string
	for _, c := range sortedCampaigns(tc.campaigns) {
		if c.ElectionID != el.ID {
			continue
		}
		names = append(names, fmt.Sprintf("%s (%s)", tc.agentName(c.AgentID), c.AgentID))
	}
	return strings.Join(names, ", ")
}

func ballotPrompt(a sim.Agent, el sim.Election, candidates string) string {
	return fmt.Sprintf("You are %s (%s). Cast your ballot for %s. Candidates: %s. Answer with the candidate id or 'abstain'.",
		a.Name, a.Alignment, el.Position, candidates)
}

func justicePrompt(j sim.Agent, c sim.JudicialCase) string {
	return fmt.Sprintf("You are Justice %s. Law %s is under constitutional review. Vote 'constitutional' or 'unconstitutional' with one sentence of reasoning.",
		j.Name, c.LawID)
}

package engine

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"civitas.ai/internal/config"
	"civitas.ai/internal/decide"
	"civitas.ai/internal/sim"
	"civitas.ai/internal/store"
)

var t0 = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type testEnv struct {
	e      *Engine
	st     *store.Store
	client *decide.Scripted
	clock  *fakeClock
	frames *frameRecorder
}

// frameRecorder captures broadcast frames for assertion.
type frameRecorder struct {
	mu     sync.Mutex
	frames [][]byte
}

func (r *frameRecorder) Broadcast(frame []byte) {
	r.mu.Lock()
	f := make([]byte, len(frame))
	copy(f, frame)
	r.frames = append(r.frames, f)
	r.mu.Unlock()
}

func (r *frameRecorder) snapshot() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]byte(nil), r.frames...)
}

// deterministicRuntime zeroes every probabilistic knob so a scenario
// only exercises the branches it scripts explicitly.
func deterministicRuntime() config.Runtime {
	rt := config.Defaults()
	rt.TickIntervalMs = 3600000
	rt.BillAdvancementDelayMs = 0
	rt.CommitteeTableRateOpposing = 0
	rt.CommitteeTableRateNeutral = 0
	rt.CommitteeAmendRate = 0
	rt.VetoBaseRate = 0
	rt.VetoRatePerTier = 0
	rt.VetoMaxRate = 0
	rt.PartyWhipFollowRate = 0
	rt.CampaignSpeechChance = 0
	rt.JudicialChallengeRatePerLaw = 0
	rt.MinReputationToRun = 0
	rt.CampaignFilingFee = 100
	rt.CongressSeats = 5
	rt.DispatchWorkers = 4
	rt.DecisionTimeoutMs = 2000
	return rt
}

func newTestEnv(t *testing.T, rt config.Runtime) *testEnv {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "sim.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	eco := config.Economy{TreasuryBalance: 0, TaxRate: 0, SalaryPerTick: 0}
	cfg, err := config.NewStore(rt, eco, "")
	if err != nil {
		t.Fatalf("config store: %v", err)
	}
	client := decide.NewScripted()
	clock := &fakeClock{t: t0}
	frames := &frameRecorder{}
	e := New(st, cfg, client, Options{
		Logger:      log.New(io.Discard, "", 0),
		Broadcaster: frames,
		Seed:        42,
		Now:         clock.Now,
		StartPaused: true,
	})
	return &testEnv{e: e, st: st, client: client, clock: clock, frames: frames}
}

func (env *testEnv) tick(t *testing.T) uint64 {
	t.Helper()
	seq, err := env.e.runTick(context.Background())
	if err != nil {
		t.Fatalf("tick %d: %v", seq, err)
	}
	return seq
}

func (env *testEnv) seedCongress(t *testing.T, ids ...string) {
	t.Helper()
	ctx := context.Background()
	for i, id := range ids {
		a := sim.Agent{
			ID: id, Name: "Rep " + id, Alignment: sim.AlignModerate,
			Active: true, Provider: "haiku", Model: "claude-3-5-haiku", CreatedAt: t0,
		}
		if err := env.st.InsertAgent(ctx, a); err != nil {
			t.Fatalf("insert %s: %v", id, err)
		}
		if err := env.st.SetPosition(ctx, sim.Position{Type: sim.PositionCongress, SeatNo: i, AgentID: id}); err != nil {
			t.Fatalf("seat %s: %v", id, err)
		}
	}
}

func (env *testEnv) onlyBill(t *testing.T) sim.Bill {
	t.Helper()
	bills, err := env.st.OpenBills(context.Background())
	if err != nil {
		t.Fatalf("open bills: %v", err)
	}
	if len(bills) != 1 {
		t.Fatalf("open bills = %d, want 1", len(bills))
	}
	return bills[0]
}

func TestBillBecomesLaw(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, deterministicRuntime())
	env.seedCongress(t, "a1", "a2", "a3", "a4", "a5")
	env.client.
		AnswerFor("a1", decide.PhaseBillPropose, decide.Result{
			Action: "propose", Title: "Clean Water Act",
			Body: "Section 1. Water shall be clean.",
		}).
		Answer(decide.PhaseBillVote, decide.Result{Action: "yea", Reasoning: "sound policy"})

	env.tick(t) // proposal lands, then proposed -> committee
	bill := env.onlyBill(t)
	if bill.Status != sim.BillCommittee {
		t.Fatalf("after tick 1: %q", bill.Status)
	}
	if bill.SponsorID != "a1" || bill.Title != "Clean Water Act" {
		t.Fatalf("bill = %+v", bill)
	}
	env.client.AnswerFor("a1", decide.PhaseBillPropose, decide.Result{Action: "pass"})

	env.tick(t) // committee -> floor
	if got := env.onlyBill(t); got.Status != sim.BillFloor {
		t.Fatalf("after tick 2: %q", got.Status)
	}

	env.tick(t) // floor votes cast, tally resolves -> passed
	if got := env.onlyBill(t); got.Status != sim.BillPassed {
		t.Fatalf("after tick 3: %q", got.Status)
	}
	tally, _ := env.st.BillTally(ctx, bill.ID, false)
	if tally.Yea != 5 || tally.Total != 5 {
		t.Fatalf("floor tally = %+v", tally)
	}

	env.tick(t) // vacant presidency signs -> law
	got, err := env.st.GetBill(ctx, bill.ID)
	if err != nil {
		t.Fatalf("get bill: %v", err)
	}
	if got.Status != sim.BillLaw {
		t.Fatalf("after tick 4: %q", got.Status)
	}
	laws, err := env.st.ActiveLaws(ctx)
	if err != nil || len(laws) != 1 {
		t.Fatalf("active laws: %v %v", laws, err)
	}
	if laws[0].BillID != bill.ID {
		t.Fatalf("law from bill %s", laws[0].BillID)
	}
	sponsor, _ := env.st.GetAgent(ctx, "a1")
	if sponsor.Reputation != 2 {
		t.Fatalf("sponsor reputation = %d, want 2", sponsor.Reputation)
	}
}

func TestBillTabledInCommittee(t *testing.T) {
	rt := deterministicRuntime()
	rt.CommitteeTableRateNeutral = 1.0
	env := newTestEnv(t, rt)
	env.seedCongress(t, "a1", "a2", "a3")
	env.client.AnswerFor("a1", decide.PhaseBillPropose, decide.Result{
		Action: "propose", Title: "Doomed Act", Body: "text",
	})

	env.tick(t)
	bill := env.onlyBill(t)
	env.client.AnswerFor("a1", decide.PhaseBillPropose, decide.Result{Action: "pass"})

	env.tick(t)
	got, err := env.st.GetBill(context.Background(), bill.ID)
	if err != nil {
		t.Fatalf("get bill: %v", err)
	}
	if got.Status != sim.BillTabled {
		t.Fatalf("status = %q, want tabled", got.Status)
	}
}

func TestBillFailingPassageStaysOnFloor(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, deterministicRuntime())
	env.seedCongress(t, "a1", "a2", "a3", "a4", "a5")
	env.client.
		AnswerFor("a1", decide.PhaseBillPropose, decide.Result{
			Action: "propose", Title: "Unpopular Act", Body: "text",
		}).
		Answer(decide.PhaseBillVote, decide.Result{Action: "nay"})

	env.tick(t) // -> committee
	bill := env.onlyBill(t)
	env.client.AnswerFor("a1", decide.PhaseBillPropose, decide.Result{Action: "pass"})
	env.tick(t) // -> floor
	env.tick(t) // all nay: quorum met, passage missed

	got, err := env.st.GetBill(ctx, bill.ID)
	if err != nil {
		t.Fatalf("get bill: %v", err)
	}
	if got.Status != sim.BillFloor {
		t.Fatalf("after failed vote: %q, want floor", got.Status)
	}

	env.tick(t) // same tally next tick; the floor never kills a bill
	got, _ = env.st.GetBill(ctx, bill.ID)
	if got.Status != sim.BillFloor {
		t.Fatalf("after tick 4: %q, want floor", got.Status)
	}
	bills, err := env.st.OpenBills(ctx)
	if err != nil || len(bills) != 1 {
		t.Fatalf("open bills: %v %v", bills, err)
	}
	for _, f := range env.frames.snapshot() {
		var fr struct {
			Event string `json:"event"`
		}
		if err := json.Unmarshal(f, &fr); err != nil {
			t.Fatalf("frame: %v", err)
		}
		if fr.Event == "bill:resolved" {
			t.Fatalf("terminal event published: %s", f)
		}
	}
}

func TestBillWithCommitteeIgnoresAdvancementDelay(t *testing.T) {
	rt := deterministicRuntime()
	// The fake clock never moves, so only the committee-at-creation
	// path can carry the bill forward.
	rt.BillAdvancementDelayMs = 3600000
	env := newTestEnv(t, rt)
	env.seedCongress(t, "a1", "a2", "a3", "a4", "a5")
	env.client.
		AnswerFor("a1", decide.PhaseBillPropose, decide.Result{
			Action: "propose", Title: "Fast Track Act", Body: "text",
		}).
		Answer(decide.PhaseBillVote, decide.Result{Action: "yea"})

	env.tick(t) // proposed -> committee in the creation tick
	bill := env.onlyBill(t)
	if bill.Status != sim.BillCommittee {
		t.Fatalf("after tick 1: %q", bill.Status)
	}
	env.client.AnswerFor("a1", decide.PhaseBillPropose, decide.Result{Action: "pass"})

	env.tick(t) // -> floor
	env.tick(t) // -> passed
	env.tick(t) // -> law
	got, err := env.st.GetBill(context.Background(), bill.ID)
	if err != nil {
		t.Fatalf("get bill: %v", err)
	}
	if got.Status != sim.BillLaw {
		t.Fatalf("after tick 4: %q, want law", got.Status)
	}
}

func TestCommitteeAmendBoundedAndCounted(t *testing.T) {
	rt := deterministicRuntime()
	rt.CommitteeAmendRate = 1.0
	rt.MaxOutputLengthTokens = 2
	env := newTestEnv(t, rt)
	env.seedCongress(t, "a1", "a2", "a3")
	env.client.
		AnswerFor("a1", decide.PhaseBillPropose, decide.Result{
			Action: "propose", Title: "Rider Act", Body: "base text",
		}).
		Answer(decide.PhaseCommitteeAmend, decide.Result{Action: "amend", Body: "raise the levy cap"})

	env.tick(t) // -> committee
	bill := env.onlyBill(t)
	env.client.AnswerFor("a1", decide.PhaseBillPropose, decide.Result{Action: "pass"})
	env.tick(t) // chair drafts the rider, committee -> floor

	got, err := env.st.GetBill(context.Background(), bill.ID)
	if err != nil {
		t.Fatalf("get bill: %v", err)
	}
	if !strings.Contains(got.FullText, "raise the") {
		t.Fatalf("rider missing: %q", got.FullText)
	}
	if strings.Contains(got.FullText, "levy") {
		t.Fatalf("rider not bounded: %q", got.FullText)
	}

	// The amend call counts like any other decision: 3 proposal units
	// plus the chair's draft.
	for _, f := range env.frames.snapshot() {
		var fr struct {
			Event string `json:"event"`
			Tick  uint64 `json:"tick"`
			Data  struct {
				Decisions int `json:"decisions"`
				Errors    int `json:"errors"`
			} `json:"data"`
		}
		if err := json.Unmarshal(f, &fr); err != nil {
			t.Fatalf("frame: %v", err)
		}
		if fr.Event != "tick:complete" || fr.Tick != 2 {
			continue
		}
		if fr.Data.Decisions != 4 || fr.Data.Errors != 0 {
			t.Fatalf("tick 2 counts = %+v", fr.Data)
		}
		return
	}
	t.Fatalf("no tick:complete frame for tick 2")
}

func vetoRuntime() config.Runtime {
	rt := deterministicRuntime()
	rt.VetoBaseRate = 1.0
	rt.VetoMaxRate = 1.0
	return rt
}

func setupVetoedBill(t *testing.T, env *testEnv) sim.Bill {
	t.Helper()
	ctx := context.Background()
	env.seedCongress(t, "a1", "a2", "a3", "a4", "a5")
	pres := sim.Agent{
		ID: "pres", Name: "President Vale", Alignment: sim.AlignTechnocrat,
		Active: true, Provider: "ollama", Model: "llama3.1", CreatedAt: t0,
	}
	if err := env.st.InsertAgent(ctx, pres); err != nil {
		t.Fatalf("insert president: %v", err)
	}
	if err := env.st.SetPosition(ctx, sim.Position{Type: sim.PositionPresident, AgentID: pres.ID}); err != nil {
		t.Fatalf("seat president: %v", err)
	}
	env.client.
		AnswerFor("a1", decide.PhaseBillPropose, decide.Result{
			Action: "propose", Title: "Budget Act", Body: "appropriations",
		}).
		Answer(decide.PhaseBillVote, decide.Result{Action: "yea"})

	env.tick(t) // -> committee
	bill := env.onlyBill(t)
	env.client.AnswerFor("a1", decide.PhaseBillPropose, decide.Result{Action: "pass"})
	env.tick(t) // -> floor
	env.tick(t) // -> passed
	env.tick(t) // president vetoes
	got, err := env.st.GetBill(ctx, bill.ID)
	if err != nil {
		t.Fatalf("get bill: %v", err)
	}
	if got.Status != sim.BillPresidentialVeto {
		t.Fatalf("after veto tick: %q", got.Status)
	}
	return got
}

func TestVetoOverridden(t *testing.T) {
	env := newTestEnv(t, vetoRuntime())
	bill := setupVetoedBill(t, env)
	env.client.Answer(decide.PhaseOverrideVote, decide.Result{Action: "yea"})

	env.tick(t) // override votes cast, supermajority enacts
	got, _ := env.st.GetBill(context.Background(), bill.ID)
	if got.Status != sim.BillLaw {
		t.Fatalf("status = %q, want law", got.Status)
	}
	laws, _ := env.st.ActiveLaws(context.Background())
	if len(laws) != 1 {
		t.Fatalf("active laws = %d", len(laws))
	}
}

func TestVetoSustained(t *testing.T) {
	env := newTestEnv(t, vetoRuntime())
	bill := setupVetoedBill(t, env)
	env.client.Answer(decide.PhaseOverrideVote, decide.Result{Action: "nay"})

	env.tick(t)
	got, _ := env.st.GetBill(context.Background(), bill.ID)
	if got.Status != sim.BillVetoed {
		t.Fatalf("status = %q, want vetoed", got.Status)
	}
	laws, _ := env.st.ActiveLaws(context.Background())
	if len(laws) != 0 {
		t.Fatalf("vetoed bill produced a law")
	}
}

func TestJudicialReviewStrikesLaw(t *testing.T) {
	ctx := context.Background()
	rt := deterministicRuntime()
	rt.JudicialChallengeRatePerLaw = 1.0
	env := newTestEnv(t, rt)

	for i, id := range []string{"j1", "j2", "j3"} {
		a := sim.Agent{ID: id, Name: "Justice " + id, Alignment: sim.AlignModerate, Active: true, Provider: "haiku", CreatedAt: t0}
		if err := env.st.InsertAgent(ctx, a); err != nil {
			t.Fatalf("insert %s: %v", id, err)
		}
		if err := env.st.SetPosition(ctx, sim.Position{Type: sim.PositionJustice, SeatNo: i, AgentID: id}); err != nil {
			t.Fatalf("seat %s: %v", id, err)
		}
	}
	sponsor := sim.Agent{ID: "sp", Name: "Sponsor", Alignment: sim.AlignModerate, Active: true, CreatedAt: t0}
	if err := env.st.InsertAgent(ctx, sponsor); err != nil {
		t.Fatalf("insert sponsor: %v", err)
	}
	b := sim.Bill{ID: "b1", Title: "Contested Act", FullText: "text", SponsorID: sponsor.ID,
		Status: sim.BillPassed, Type: sim.BillOriginal, IntroducedAt: t0, LastActionAt: t0}
	if err := env.st.InsertBill(ctx, b); err != nil {
		t.Fatalf("insert bill: %v", err)
	}
	law, err := env.st.EnactLaw(ctx, b, "law-1", t0)
	if err != nil {
		t.Fatalf("enact: %v", err)
	}
	env.client.Answer(decide.PhaseJusticeVote, decide.Result{Action: "unconstitutional", Reasoning: "exceeds enumerated powers"})

	env.tick(t) // challenge opens
	cases, err := env.st.OpenCases(ctx)
	if err != nil || len(cases) != 1 {
		t.Fatalf("open cases: %v %v", cases, err)
	}
	if cases[0].Status != sim.CasePending || cases[0].LawID != law.ID {
		t.Fatalf("case = %+v", cases[0])
	}

	env.tick(t) // pending -> deliberating
	cases, _ = env.st.OpenCases(ctx)
	if cases[0].Status != sim.CaseDeliberating {
		t.Fatalf("case status = %q", cases[0].Status)
	}

	env.tick(t) // justices vote, bench rules
	got, err := env.st.GetCase(ctx, cases[0].ID)
	if err != nil {
		t.Fatalf("get case: %v", err)
	}
	if got.Status != sim.CaseStruckDown {
		t.Fatalf("case status = %q, want struck_down", got.Status)
	}
	lawAfter, _ := env.st.GetLaw(ctx, law.ID)
	if lawAfter.Active {
		t.Fatalf("struck law still active")
	}
	// No re-challenge against an inactive law.
	env.tick(t)
	cases, _ = env.st.OpenCases(ctx)
	if len(cases) != 0 {
		t.Fatalf("open cases after ruling = %d", len(cases))
	}
}

func TestElectionLifecycle(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, deterministicRuntime())

	for _, a := range []sim.Agent{
		{ID: "cand1", Name: "Ada Quill", Alignment: sim.AlignProgressive, Balance: 500, Active: true, Provider: "haiku", CreatedAt: t0},
		{ID: "cand2", Name: "Bram Holt", Alignment: sim.AlignConservative, Balance: 500, Active: true, Provider: "ollama", CreatedAt: t0},
		{ID: "v1", Name: "Voter One", Alignment: sim.AlignModerate, Active: true, CreatedAt: t0},
		{ID: "v2", Name: "Voter Two", Alignment: sim.AlignModerate, Active: true, CreatedAt: t0},
		{ID: "v3", Name: "Voter Three", Alignment: sim.AlignModerate, Active: true, CreatedAt: t0},
	} {
		if err := env.st.InsertAgent(ctx, a); err != nil {
			t.Fatalf("insert %s: %v", a.ID, err)
		}
	}
	el := sim.Election{
		ID: "e1", Position: sim.PositionPresident, Status: sim.ElectionScheduled,
		ScheduledFor:     t0.Add(1 * time.Hour),
		RegistrationEnds: t0.Add(2 * time.Hour),
		VotingStarts:     t0.Add(3 * time.Hour),
		VotingEnds:       t0.Add(4 * time.Hour),
	}
	if err := env.st.InsertElection(ctx, el); err != nil {
		t.Fatalf("insert election: %v", err)
	}
	env.client.
		AnswerFor("cand1", decide.PhaseCampaignRegister, decide.Result{Action: "run", Body: "jobs and transit"}).
		AnswerFor("cand2", decide.PhaseCampaignRegister, decide.Result{Action: "run", Body: "lower taxes"}).
		Answer(decide.PhaseElectionBallot, decide.Result{Action: "cand1"})

	env.tick(t) // before schedule: nothing moves
	got, _ := env.st.GetElection(ctx, el.ID)
	if got.Status != sim.ElectionScheduled {
		t.Fatalf("premature phase: %q", got.Status)
	}

	env.clock.Advance(time.Hour)
	env.tick(t) // scheduled -> registration
	env.tick(t) // candidacies filed
	campaigns, err := env.st.ActiveCampaigns(ctx, el.ID)
	if err != nil || len(campaigns) != 2 {
		t.Fatalf("campaigns: %v %v", campaigns, err)
	}
	c1, _ := env.st.GetAgent(ctx, "cand1")
	if c1.Balance != 400 {
		t.Fatalf("filing fee not charged: balance %d", c1.Balance)
	}
	// Low-balance agents never became candidates.
	for _, c := range campaigns {
		if c.AgentID != "cand1" && c.AgentID != "cand2" {
			t.Fatalf("unexpected candidate %s", c.AgentID)
		}
	}

	env.clock.Advance(time.Hour)
	env.tick(t) // registration -> campaigning
	env.clock.Advance(time.Hour)
	env.tick(t) // campaigning -> voting
	env.tick(t) // ballots cast
	voters, _ := env.st.ElectionVoters(ctx, el.ID)
	if len(voters) != 5 {
		t.Fatalf("ballots = %d, want 5", len(voters))
	}

	env.clock.Advance(time.Hour)
	env.tick(t) // voting -> counting -> certified
	got, _ = env.st.GetElection(ctx, el.ID)
	if got.Status != sim.ElectionCertified || got.WinnerID != "cand1" {
		t.Fatalf("election = %+v", got)
	}
	pres, err := env.st.President(ctx)
	if err != nil || pres.ID != "cand1" {
		t.Fatalf("president = %v %v", pres, err)
	}
}

func TestSchedulerControls(t *testing.T) {
	env := newTestEnv(t, deterministicRuntime())
	env.seedCongress(t, "a1", "a2")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = env.e.Run(ctx)
		close(done)
	}()

	// Manual ticks work while the scheduler is paused.
	seq, err := env.e.TickNow(ctx)
	if err != nil || seq != 1 {
		t.Fatalf("tick now: %d %v", seq, err)
	}
	seq, err = env.e.TickNow(ctx)
	if err != nil || seq != 2 {
		t.Fatalf("second tick: %d %v", seq, err)
	}
	if env.e.CurrentTick() != 2 {
		t.Fatalf("current tick = %d", env.e.CurrentTick())
	}

	st, err := env.e.Status(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !st.Simulation.IsPaused {
		t.Fatalf("status should report paused")
	}
	if st.Decisions.Total == 0 {
		t.Fatalf("ticks recorded no decisions")
	}

	// Reseed is refused while running.
	env.e.Resume()
	if err := env.e.Reseed(ctx); err != ErrNotPaused {
		t.Fatalf("reseed unpaused: got %v, want ErrNotPaused", err)
	}
	env.e.Pause()
	if err := env.e.Reseed(ctx); err != nil {
		t.Fatalf("reseed paused: %v", err)
	}
	if env.e.CurrentTick() != 0 {
		t.Fatalf("current tick after reseed = %d", env.e.CurrentTick())
	}
	if _, err := env.st.GetAgent(context.Background(), "a1"); err != store.ErrNotFound {
		t.Fatalf("agent survived reseed: %v", err)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("scheduler did not stop")
	}
}

func TestTickNow_ConcurrentRequestsCoalesce(t *testing.T) {
	env := newTestEnv(t, deterministicRuntime())

	const n = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	seqs := map[uint64]int{}
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seq, err := env.e.TickNow(context.Background())
			if err != nil {
				t.Errorf("tick now: %v", err)
				return
			}
			mu.Lock()
			seqs[seq]++
			mu.Unlock()
		}()
	}

	// Let every request queue before the scheduler serves any of them.
	deadline := time.Now().Add(2 * time.Second)
	for len(env.e.tickReq) < n {
		if time.Now().After(deadline) {
			t.Fatalf("queued requests = %d, want %d", len(env.e.tickReq), n)
		}
		time.Sleep(time.Millisecond)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = env.e.Run(ctx)
		close(done)
	}()
	wg.Wait()

	// All requests coalesce into a single tick's evaluation.
	if len(seqs) != 1 || seqs[1] != n {
		t.Fatalf("seqs = %v, want all %d requests on tick 1", seqs, n)
	}
	last, err := env.st.LatestTick(context.Background())
	if err != nil {
		t.Fatalf("latest tick: %v", err)
	}
	if last.Seq != 1 || last.CompletedAt == nil {
		t.Fatalf("tick record = %+v", last)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("scheduler did not stop")
	}
}

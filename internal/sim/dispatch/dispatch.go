// Package dispatch fans one tick's eligible actions out across a
// bounded worker pool, applies the guard rails, and fans back in. Every
// unit yields exactly one outcome before the barrier releases.
package dispatch

import (
	"context"
	"strings"
	"sync"
	"time"

	"civitas.ai/internal/config"
	"civitas.ai/internal/decide"
)

// Unit is one independent AI invocation for one agent. Ref carries the
// entity the action targets (bill, election, case).
type Unit struct {
	AgentID   string
	AgentName string
	Provider  string
	Model     string
	Phase     string
	Prompt    string
	Ref       string
}

// Outcome pairs a unit with its result. Err is set on failure; exactly
// one of the two is meaningful.
type Outcome struct {
	Unit      Unit
	Result    decide.Result
	Err       error
	LatencyMs int64
	At        time.Time
}

// Counts is the queue-state projection the admin status view renders.
// A snapshot always sums to the number of enqueued units.
type Counts struct {
	Waiting   int
	Active    int
	Completed int
	Failed    int
}

type Dispatcher struct {
	client decide.Client

	mu     sync.Mutex
	counts Counts
}

func New(client decide.Client) *Dispatcher {
	return &Dispatcher{client: client}
}

// Counts returns an atomically consistent snapshot of the current
// tick's queue state.
func (d *Dispatcher) Counts() Counts {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.counts
}

func (d *Dispatcher) setWaiting(n int) {
	d.mu.Lock()
	d.counts = Counts{Waiting: n}
	d.mu.Unlock()
}

func (d *Dispatcher) markActive() {
	d.mu.Lock()
	d.counts.Waiting--
	d.counts.Active++
	d.mu.Unlock()
}

func (d *Dispatcher) markDone(failed bool) {
	d.mu.Lock()
	d.counts.Active--
	if failed {
		d.counts.Failed++
	} else {
		d.counts.Completed++
	}
	d.mu.Unlock()
}

// Run executes all units with bounded concurrency and blocks until
// every unit has completed or timed out. Outcomes preserve input order.
func (d *Dispatcher) Run(ctx context.Context, cfg config.Runtime, units []Unit) []Outcome {
	units = CapUnits(cfg, units)
	d.setWaiting(len(units))

	workers := cfg.DispatchWorkers
	if workers <= 0 {
		workers = 1
	}
	timeout := time.Duration(cfg.DecisionTimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 20 * time.Second
	}

	outcomes := make([]Outcome, len(units))
	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				outcomes[i] = d.execute(ctx, cfg, timeout, units[i])
			}
		}()
	}
	for i := range units {
		select {
		case jobs <- i:
		case <-ctx.Done():
			// Remaining units fail fast with the context error.
			outcomes[i] = Outcome{Unit: units[i], Err: ctx.Err(), At: time.Now()}
			d.markActive()
			d.markDone(true)
		}
	}
	close(jobs)
	wg.Wait()
	return outcomes
}

func (d *Dispatcher) execute(ctx context.Context, cfg config.Runtime, timeout time.Duration, u Unit) Outcome {
	d.markActive()

	u.Prompt = TruncatePrompt(u.Prompt, cfg.MaxPromptLengthChars)

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	res, err := d.client.Decide(callCtx, decide.Request{
		AgentID:   u.AgentID,
		AgentName: u.AgentName,
		Provider:  u.Provider,
		Model:     u.Model,
		Phase:     u.Phase,
		Prompt:    u.Prompt,
	})
	latency := time.Since(start).Milliseconds()

	out := Outcome{Unit: u, LatencyMs: latency, At: time.Now()}
	if err != nil {
		out.Err = err
		d.markDone(true)
		return out
	}
	res.Action = TruncateOutput(res.Action, cfg.MaxOutputLengthTokens)
	res.Reasoning = TruncateOutput(res.Reasoning, cfg.MaxOutputLengthTokens)
	res.Body = TruncateOutput(res.Body, cfg.MaxOutputLengthTokens)
	out.Result = res
	d.markDone(false)
	return out
}

// CapUnits enforces the per-agent per-tick action caps before anything
// is enqueued. Order is preserved; excess units are dropped, not failed.
func CapUnits(cfg config.Runtime, units []Unit) []Unit {
	caps := map[string]int{
		decide.PhaseBillPropose:    cfg.MaxBillsPerAgentPerTick,
		decide.PhaseCampaignSpeech: cfg.MaxCampaignSpeechesPerTick,
	}
	seen := map[string]int{}
	out := units[:0:0]
	for _, u := range units {
		limit, capped := caps[u.Phase]
		if !capped || limit <= 0 {
			if capped && limit <= 0 {
				continue
			}
			out = append(out, u)
			continue
		}
		key := u.AgentID + "\x00" + u.Phase
		if seen[key] >= limit {
			continue
		}
		seen[key]++
		out = append(out, u)
	}
	return out
}

// TruncatePrompt bounds prompt length in characters.
func TruncatePrompt(s string, maxChars int) string {
	if maxChars <= 0 || len(s) <= maxChars {
		return s
	}
	return s[:maxChars]
}

// TruncateOutput bounds model output, approximating tokens as
// whitespace-separated words.
func TruncateOutput(s string, maxTokens int) string {
	if maxTokens <= 0 {
		return s
	}
	fields := strings.Fields(s)
	if len(fields) <= maxTokens {
		return s
	}
	return strings.Join(fields[:maxTokens], " ")
}

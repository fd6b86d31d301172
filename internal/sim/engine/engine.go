// Package engine drives the simulation: a single scheduler goroutine
// owns pause state and tick execution, so at most one tick ever runs at
// a time and control operations serialize at tick boundaries.
package engine

import (
	"context"
	"errors"
	"log"
	"math/rand"
	"sync/atomic"
	"time"

	"civitas.ai/internal/config"
	"civitas.ai/internal/decide"
	"civitas.ai/internal/protocol"
	"civitas.ai/internal/sim"
	"civitas.ai/internal/sim/dispatch"
	"civitas.ai/internal/store"
)

var (
	ErrNotPaused = errors.New("scheduler must be paused")
	ErrStopped   = errors.New("scheduler stopped")
)

// Broadcaster fans encoded event frames out to subscribers.
// Delivery is fire-and-forget, at most once.
type Broadcaster interface {
	Broadcast(frame []byte)
}

// DecisionSink receives every AgentDecision in addition to the store
// (the zstd archive log).
type DecisionSink interface {
	WriteDecision(d sim.Decision) error
}

type Engine struct {
	store      *store.Store
	cfg        *config.Store
	dispatcher *dispatch.Dispatcher
	decider    decide.Client
	log        *log.Logger
	rng        *rand.Rand
	broadcast  Broadcaster
	decLog     DecisionSink
	now        func() time.Time

	paused     atomic.Bool
	curTick    atomic.Uint64
	lastStepMs atomic.Int64

	tickReq   chan tickRequest
	reseedReq chan chan error
	stop      chan struct{}
}

type tickRequest struct {
	resp chan tickResult
}

type tickResult struct {
	seq uint64
	err error
}

type Options struct {
	Logger       *log.Logger
	Broadcaster  Broadcaster
	DecisionSink DecisionSink
	Seed         int64
	Now          func() time.Time
	StartPaused  bool
}

func New(st *store.Store, cfg *config.Store, client decide.Client, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[engine] ", log.LstdFlags|log.Lmicroseconds)
	}
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	nowFn := opts.Now
	if nowFn == nil {
		nowFn = time.Now
	}
	e := &Engine{
		store:      st,
		cfg:        cfg,
		dispatcher: dispatch.New(client),
		decider:    client,
		log:        logger,
		rng:        rand.New(rand.NewSource(seed)),
		broadcast:  opts.Broadcaster,
		decLog:     opts.DecisionSink,
		now:        nowFn,
		tickReq:    make(chan tickRequest, 64),
		reseedReq:  make(chan chan error),
		stop:       make(chan struct{}),
	}
	e.paused.Store(opts.StartPaused)
	return e
}

// Run is the scheduler loop. Ticks fire on the configured interval
// unless paused; manual triggers and reseeds are handled between ticks
// only, which is what guarantees mutual exclusion.
func (e *Engine) Run(ctx context.Context) error {
	timer := time.NewTimer(e.interval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.stop:
			return nil
		case resp := <-e.reseedReq:
			resp <- e.doReseed(ctx)
		case req := <-e.tickReq:
			// Coalesce queued manual triggers into one tick.
			reqs := []tickRequest{req}
		drain:
			for {
				select {
				case more := <-e.tickReq:
					reqs = append(reqs, more)
				default:
					break drain
				}
			}
			seq, err := e.runTick(ctx)
			for _, r := range reqs {
				r.resp <- tickResult{seq: seq, err: err}
			}
			resetTimer(timer, e.interval())
		case <-timer.C:
			if !e.paused.Load() {
				if _, err := e.runTick(ctx); err != nil && ctx.Err() == nil {
					e.log.Printf("tick failed: %v", err)
				}
			}
			timer.Reset(e.interval())
		}
	}
}

func (e *Engine) Stop() { close(e.stop) }

func (e *Engine) interval() time.Duration {
	ms := e.cfg.Runtime().TickIntervalMs
	if ms <= 0 {
		ms = 1000
	}
	return time.Duration(ms) * time.Millisecond
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

// Pause takes effect at the next tick boundary; an in-flight tick always
// completes.
func (e *Engine) Pause()  { e.paused.Store(true) }
func (e *Engine) Resume() { e.paused.Store(false) }

func (e *Engine) IsPaused() bool { return e.paused.Load() }

// TickNow requests a manual tick and blocks until it completes.
// Concurrent requests coalesce into a single tick.
func (e *Engine) TickNow(ctx context.Context) (uint64, error) {
	req := tickRequest{resp: make(chan tickResult, 1)}
	select {
	case e.tickReq <- req:
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-e.stop:
		return 0, ErrStopped
	}
	select {
	case res := <-req.resp:
		return res.seq, res.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Reseed truncates all simulation state. The scheduler must be paused;
// the request is served between ticks so truncation never races a tick.
func (e *Engine) Reseed(ctx context.Context) error {
	resp := make(chan error, 1)
	select {
	case e.reseedReq <- resp:
	case <-ctx.Done():
		return ctx.Err()
	case <-e.stop:
		return ErrStopped
	}
	select {
	case err := <-resp:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) doReseed(ctx context.Context) error {
	if !e.paused.Load() {
		return ErrNotPaused
	}
	if err := e.store.Reseed(); err != nil {
		return err
	}
	e.curTick.Store(0)
	e.log.Printf("reseeded: all simulation state truncated")
	_ = ctx
	return nil
}

func (e *Engine) CurrentTick() uint64 { return e.curTick.Load() }

func (e *Engine) LastStepMs() int64 { return e.lastStepMs.Load() }

// Status projects scheduler and dispatcher state for the admin surface.
// The dispatcher snapshot is atomically consistent; decision totals come
// from the append-only log.
func (e *Engine) Status(ctx context.Context) (protocol.StatusResponse, error) {
	counts := e.dispatcher.Counts()
	totals, err := e.store.DecisionTotals(ctx)
	if err != nil {
		return protocol.StatusResponse{}, err
	}
	return protocol.StatusResponse{
		Simulation: protocol.SimulationStatus{
			IsPaused:  e.paused.Load(),
			Waiting:   counts.Waiting,
			Active:    counts.Active,
			Completed: counts.Completed,
			Failed:    counts.Failed,
		},
		Decisions: protocol.DecisionStats{
			Total:       totals.Total,
			Errors:      totals.Errors,
			HaikuCount:  totals.ByProvider[decide.ProviderHaiku],
			OllamaCount: totals.ByProvider[decide.ProviderOllama],
		},
	}, nil
}

func (e *Engine) publish(tick uint64, ev protocol.Event) {
	if e.broadcast == nil {
		return
	}
	frame, err := protocol.Encode(tick, ev)
	if err != nil {
		e.log.Printf("encode event %s: %v", ev.EventName(), err)
		return
	}
	e.broadcast.Broadcast(frame)
}

package decide

import (
	"context"
	"errors"
	"sync"
)

// Scripted is a deterministic Client for tests and offline runs: it
// answers by phase (optionally by agent), with configurable latency and
// failures.
type Scripted struct {
	mu      sync.Mutex
	byPhase map[string]Result
	byAgent map[string]map[string]Result
	fail    map[string]bool
	delay   map[string]func(ctx context.Context) error
	calls   []Request
}

var ErrScriptedFailure = errors.New("scripted decision failure")

func NewScripted() *Scripted {
	return &Scripted{
		byPhase: map[string]Result{},
		byAgent: map[string]map[string]Result{},
		fail:    map[string]bool{},
		delay:   map[string]func(ctx context.Context) error{},
	}
}

func (s *Scripted) Answer(phase string, res Result) *Scripted {
	s.mu.Lock()
	s.byPhase[phase] = res
	s.mu.Unlock()
	return s
}

func (s *Scripted) AnswerFor(agentID, phase string, res Result) *Scripted {
	s.mu.Lock()
	if s.byAgent[agentID] == nil {
		s.byAgent[agentID] = map[string]Result{}
	}
	s.byAgent[agentID][phase] = res
	s.mu.Unlock()
	return s
}

// FailFor makes every call for the agent error out.
func (s *Scripted) FailFor(agentID string) *Scripted {
	s.mu.Lock()
	s.fail[agentID] = true
	s.mu.Unlock()
	return s
}

// BlockFor installs a hook that runs before answering; returning the
// context error simulates a timed-out upstream call.
func (s *Scripted) BlockFor(agentID string, fn func(ctx context.Context) error) *Scripted {
	s.mu.Lock()
	s.delay[agentID] = fn
	s.mu.Unlock()
	return s
}

func (s *Scripted) Calls() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.calls))
	copy(out, s.calls)
	return out
}

func (s *Scripted) Decide(ctx context.Context, req Request) (Result, error) {
	s.mu.Lock()
	s.calls = append(s.calls, req)
	blocked := s.delay[req.AgentID]
	failed := s.fail[req.AgentID]
	res, ok := Result{}, false
	if m := s.byAgent[req.AgentID]; m != nil {
		res, ok = m[req.Phase]
	}
	if !ok {
		res, ok = s.byPhase[req.Phase]
	}
	s.mu.Unlock()

	if blocked != nil {
		if err := blocked(ctx); err != nil {
			return Result{}, err
		}
	}
	if failed {
		return Result{}, ErrScriptedFailure
	}
	if !ok {
		return Result{Action: "pass"}, nil
	}
	return res, nil
}

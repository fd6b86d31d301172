package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Store owns the live configuration. Readers take value snapshots;
// writers go through Patch* which validate against the embedded schema
// and apply partial-update semantics (unspecified fields unchanged).
type Store struct {
	mu      sync.RWMutex
	runtime Runtime
	economy Economy

	patchSchema *jsonschema.Schema
}

func NewStore(rt Runtime, eco Economy, patchSchemaPath string) (*Store, error) {
	s := &Store{runtime: rt, economy: eco}
	if patchSchemaPath != "" {
		sch, err := jsonschema.Compile(patchSchemaPath)
		if err != nil {
			return nil, fmt.Errorf("config patch schema: %w", err)
		}
		s.patchSchema = sch
	}
	return s, nil
}

func (s *Store) Runtime() Runtime {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.runtime
}

func (s *Store) Economy() Economy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.economy
}

// PatchRuntime applies a partial JSON update. The patch is rejected as a
// whole on schema violation; nothing is applied.
func (s *Store) PatchRuntime(raw []byte) (Runtime, error) {
	if err := s.validate(raw); err != nil {
		return Runtime{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.runtime
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&next); err != nil {
		return Runtime{}, fmt.Errorf("config patch: %w", err)
	}
	if err := validateRuntime(next); err != nil {
		return Runtime{}, err
	}
	s.runtime = next
	return next, nil
}

func (s *Store) PatchEconomy(raw []byte) (Economy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.economy
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&next); err != nil {
		return Economy{}, fmt.Errorf("economy patch: %w", err)
	}
	if next.TaxRate < 0 || next.TaxRate > 1 {
		return Economy{}, fmt.Errorf("economy patch: taxRate out of range [0,1]")
	}
	s.economy = next
	return next, nil
}

// AdjustTreasury applies a settled tick's net treasury change. The
// delta lands on the live balance, so an admin patch that arrives while
// a tick is in flight is not clobbered by the tick's snapshot.
func (s *Store) AdjustTreasury(delta int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.economy.TreasuryBalance += delta
	return s.economy.TreasuryBalance
}

func (s *Store) validate(raw []byte) error {
	if s.patchSchema == nil {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("config patch: %w", err)
	}
	if err := s.patchSchema.Validate(v); err != nil {
		return fmt.Errorf("config patch: %w", err)
	}
	return nil
}

func validateRuntime(rt Runtime) error {
	rates := map[string]float64{
		"committeeTableRateOpposing":  rt.CommitteeTableRateOpposing,
		"committeeTableRateNeutral":   rt.CommitteeTableRateNeutral,
		"committeeAmendRate":          rt.CommitteeAmendRate,
		"quorumPercentage":            rt.QuorumPercentage,
		"billPassagePercentage":       rt.BillPassagePercentage,
		"vetoBaseRate":                rt.VetoBaseRate,
		"vetoRatePerTier":             rt.VetoRatePerTier,
		"vetoMaxRate":                 rt.VetoMaxRate,
		"vetoOverrideThreshold":       rt.VetoOverrideThreshold,
		"partyWhipFollowRate":         rt.PartyWhipFollowRate,
		"campaignSpeechChance":        rt.CampaignSpeechChance,
		"judicialChallengeRatePerLaw": rt.JudicialChallengeRatePerLaw,
	}
	for name, v := range rates {
		if v < 0 || v > 1 {
			return fmt.Errorf("config patch: %s out of range [0,1]", name)
		}
	}
	if rt.TickIntervalMs <= 0 {
		return fmt.Errorf("config patch: tickIntervalMs must be positive")
	}
	if rt.DispatchWorkers <= 0 {
		return fmt.Errorf("config patch: dispatchWorkers must be positive")
	}
	if rt.CongressSeats <= 0 {
		return fmt.Errorf("config patch: congressSeats must be positive")
	}
	return nil
}

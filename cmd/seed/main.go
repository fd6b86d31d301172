package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"civitas.ai/internal/sim"
	"civitas.ai/internal/store"
)

// Populace is the seeding manifest. Agent and party names double as
// stable seed IDs, so re-running the tool against a reseeded database
// reproduces the same society.
type Populace struct {
	Parties []struct {
		Name      string `yaml:"name"`
		Alignment string `yaml:"alignment"`
		Platform  string `yaml:"platform"`
	} `yaml:"parties"`
	Agents []struct {
		Name       string `yaml:"name"`
		Alignment  string `yaml:"alignment"`
		Party      string `yaml:"party"`
		Provider   string `yaml:"provider"`
		Model      string `yaml:"model"`
		Persona    string `yaml:"persona"`
		Balance    int64  `yaml:"balance"`
		Reputation int    `yaml:"reputation"`
	} `yaml:"agents"`
	Positions []struct {
		Type string `yaml:"type"`
		Seat int    `yaml:"seat"`
		Name string `yaml:"name"`
	} `yaml:"positions"`
	Elections []struct {
		Position     string `yaml:"position"`
		Seat         int    `yaml:"seat"`
		In           string `yaml:"in"`
		Registration string `yaml:"registration"`
		Campaign     string `yaml:"campaign"`
		Voting       string `yaml:"voting"`
	} `yaml:"elections"`
}

func main() {
	var (
		dataDir      = flag.String("data", "./data", "runtime data directory")
		populacePath = flag.String("populace", "./configs/populace.yaml", "populace manifest path")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[seed] ", log.LstdFlags|log.Lmicroseconds)

	raw, err := os.ReadFile(*populacePath)
	if err != nil {
		logger.Fatalf("read populace: %v", err)
	}
	var pop Populace
	if err := yaml.Unmarshal(raw, &pop); err != nil {
		logger.Fatalf("parse populace: %v", err)
	}

	st, err := store.Open(filepath.Join(*dataDir, "civitas.db"))
	if err != nil {
		logger.Fatalf("open store: %v", err)
	}
	defer st.Close()

	ctx := context.Background()
	now := time.Now().UTC()

	partyIDs := map[string]string{}
	for _, p := range pop.Parties {
		id := uuid.NewString()
		if err := st.InsertParty(ctx, sim.Party{
			ID:        id,
			Name:      p.Name,
			Alignment: sim.Alignment(p.Alignment),
			Platform:  p.Platform,
		}); err != nil {
			logger.Fatalf("party %q: %v", p.Name, err)
		}
		partyIDs[p.Name] = id
	}

	agentIDs := map[string]string{}
	for _, a := range pop.Agents {
		if !sim.Alignment(a.Alignment).Valid() {
			logger.Fatalf("agent %q: unknown alignment %q", a.Name, a.Alignment)
		}
		id := uuid.NewString()
		ag := sim.Agent{
			ID:         id,
			Name:       a.Name,
			Alignment:  sim.Alignment(a.Alignment),
			PartyID:    partyIDs[a.Party],
			Reputation: a.Reputation,
			Balance:    a.Balance,
			Active:     true,
			Provider:   a.Provider,
			Model:      a.Model,
			Persona:    a.Persona,
			CreatedAt:  now,
		}
		if err := st.InsertAgent(ctx, ag); err != nil {
			logger.Fatalf("agent %q: %v", a.Name, err)
		}
		agentIDs[a.Name] = id
	}

	for _, p := range pop.Positions {
		id, ok := agentIDs[p.Name]
		if !ok {
			logger.Fatalf("position %s/%d: unknown agent %q", p.Type, p.Seat, p.Name)
		}
		if err := st.SetPosition(ctx, sim.Position{Type: p.Type, SeatNo: p.Seat, AgentID: id}); err != nil {
			logger.Fatalf("position %s/%d: %v", p.Type, p.Seat, err)
		}
	}

	for _, e := range pop.Elections {
		in := mustDuration(logger, e.Position, "in", e.In)
		reg := mustDuration(logger, e.Position, "registration", e.Registration)
		camp := mustDuration(logger, e.Position, "campaign", e.Campaign)
		voting := mustDuration(logger, e.Position, "voting", e.Voting)
		start := now.Add(in)
		el := sim.Election{
			ID:               uuid.NewString(),
			Position:         e.Position,
			Seat:             e.Seat,
			Status:           sim.ElectionScheduled,
			ScheduledFor:     start,
			RegistrationEnds: start.Add(reg),
			VotingStarts:     start.Add(reg + camp),
			VotingEnds:       start.Add(reg + camp + voting),
		}
		if err := st.InsertElection(ctx, el); err != nil {
			logger.Fatalf("election %s: %v", e.Position, err)
		}
	}

	fmt.Printf("seeded %d parties, %d agents, %d positions, %d elections\n",
		len(pop.Parties), len(pop.Agents), len(pop.Positions), len(pop.Elections))
}

func mustDuration(logger *log.Logger, election, field, v string) time.Duration {
	d, err := time.ParseDuration(v)
	if err != nil {
		logger.Fatalf("election %s: bad %s duration %q: %v", election, field, v, err)
	}
	return d
}

package engine

import (
	"sort"

	"civitas.ai/internal/sim"
)

// Map iteration order is randomized; tick evaluation must be stable so
// seeded runs replay identically.

func sortAgents(agents []sim.Agent) {
	sort.Slice(agents, func(i, j int) bool { return agents[i].ID < agents[j].ID })
}

func sortedAgents(m map[string]sim.Agent) []sim.Agent {
	out := make([]sim.Agent, 0, len(m))
	for _, a := range m {
		out = append(out, a)
	}
	sortAgents(out)
	return out
}

func sortedCampaigns(m map[string]sim.Campaign) []sim.Campaign {
	out := make([]sim.Campaign, 0, len(m))
	for _, c := range m {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func sortedElections(m map[string]sim.Election) []sim.Election {
	out := make([]sim.Election, 0, len(m))
	for _, e := range m {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Package decide is the boundary to the external AI-decision
// capability. The engine treats it as unreliable and latent: every call
// runs under a timeout and a failure is recorded, never retried within
// the tick.
package decide

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Known provider labels (status surface counts by these).
const (
	ProviderHaiku  = "haiku"
	ProviderOllama = "ollama"
)

// Phase labels used when building prompts and recording decisions.
const (
	PhaseBillVote         = "bill_vote"
	PhaseBillPropose      = "bill_propose"
	PhaseCommitteeAmend   = "committee_amend"
	PhaseOverrideVote     = "override_vote"
	PhaseCampaignRegister = "campaign_register"
	PhaseCampaignSpeech   = "campaign_speech"
	PhaseElectionBallot   = "election_ballot"
	PhaseJusticeVote      = "justice_vote"
)

type Request struct {
	AgentID   string `json:"agent_id"`
	AgentName string `json:"agent_name"`
	Provider  string `json:"provider"`
	Model     string `json:"model"`
	Phase     string `json:"phase"`
	Prompt    string `json:"prompt"`
}

// Result carries the parsed action plus optional free-text fields some
// phases use (bill titles, speech excerpts, amendment riders).
type Result struct {
	Action    string `json:"action"`
	Reasoning string `json:"reasoning"`
	Title     string `json:"title,omitempty"`
	Body      string `json:"body,omitempty"`
}

type Client interface {
	Decide(ctx context.Context, req Request) (Result, error)
}

// HTTPClient posts the request to a decision endpoint as JSON. It is a
// thin transport, not a provider SDK.
type HTTPClient struct {
	Endpoint string
	HC       *http.Client
}

func NewHTTPClient(endpoint string) *HTTPClient {
	return &HTTPClient{
		Endpoint: endpoint,
		HC:       &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *HTTPClient) Decide(ctx context.Context, req Request) (Result, error) {
	var res Result
	body, err := json.Marshal(req)
	if err != nil {
		return res, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(body))
	if err != nil {
		return res, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := c.HC.Do(httpReq)
	if err != nil {
		return res, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return res, fmt.Errorf("decision endpoint: status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return res, fmt.Errorf("decision endpoint: %w", err)
	}
	return res, nil
}

package decide

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPClient_Decide(t *testing.T) {
	var got Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("request: %s %s", r.Method, r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		_ = json.NewEncoder(w).Encode(Result{Action: "yea", Reasoning: "agreed"})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL)
	res, err := c.Decide(context.Background(), Request{
		AgentID: "a1", AgentName: "Ada", Provider: ProviderHaiku,
		Model: "claude-3-5-haiku", Phase: PhaseBillVote, Prompt: "vote",
	})
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if res.Action != "yea" || res.Reasoning != "agreed" {
		t.Fatalf("result = %+v", res)
	}
	if got.AgentID != "a1" || got.Phase != PhaseBillVote || got.Provider != ProviderHaiku {
		t.Fatalf("request seen by server = %+v", got)
	}
}

func TestHTTPClient_NonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL)
	if _, err := c.Decide(context.Background(), Request{Phase: PhaseBillVote}); err == nil {
		t.Fatalf("non-200 must error")
	}
}

func TestScripted_AgentAnswerWinsOverPhase(t *testing.T) {
	s := NewScripted().
		Answer(PhaseBillVote, Result{Action: "nay"}).
		AnswerFor("a1", PhaseBillVote, Result{Action: "yea"})

	res, err := s.Decide(context.Background(), Request{AgentID: "a1", Phase: PhaseBillVote})
	if err != nil || res.Action != "yea" {
		t.Fatalf("agent answer: %+v %v", res, err)
	}
	res, _ = s.Decide(context.Background(), Request{AgentID: "a2", Phase: PhaseBillVote})
	if res.Action != "nay" {
		t.Fatalf("phase answer: %+v", res)
	}
	// Unscripted phases fall back to a pass.
	res, _ = s.Decide(context.Background(), Request{AgentID: "a2", Phase: PhaseBillPropose})
	if res.Action != "pass" {
		t.Fatalf("default answer: %+v", res)
	}
	if calls := s.Calls(); len(calls) != 3 {
		t.Fatalf("calls = %d", len(calls))
	}
}

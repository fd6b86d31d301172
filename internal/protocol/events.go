// Package protocol defines the wire contract observers depend on: one
// struct per event name, fully typed, carrying enough human-readable
// fields to render a toast without a follow-up query. Payload shapes are
// load-bearing; additive changes only.
package protocol

import "encoding/json"

// Event names.
const (
	EvBillProposed           = "bill:proposed"
	EvBillAdvanced           = "bill:advanced"
	EvBillPassed             = "bill:passed"
	EvBillResolved           = "bill:resolved"
	EvAgentVote              = "agent:vote"
	EvElectionVotingStarted  = "election:voting_started"
	EvElectionCompleted      = "election:completed"
	EvCampaignSpeech         = "campaign:speech"
	EvJudicialCaseOpened     = "judicial:case_opened"
	EvJudicialRuling         = "judicial:ruling"
	EvTickComplete           = "tick:complete"
)

// Event is one closed variant of the broadcast feed.
type Event interface {
	EventName() string
}

type BillProposed struct {
	BillID    string `json:"bill_id"`
	Title     string `json:"title"`
	Sponsor   string `json:"sponsor"`
	Committee string `json:"committee"`
	BillType  string `json:"bill_type"`
}

func (BillProposed) EventName() string { return EvBillProposed }

type BillAdvanced struct {
	BillID string `json:"bill_id"`
	Title  string `json:"title"`
	From   string `json:"from"`
	To     string `json:"to"`
	Note   string `json:"note,omitempty"`
}

func (BillAdvanced) EventName() string { return EvBillAdvanced }

type BillPassed struct {
	BillID  string `json:"bill_id"`
	Title   string `json:"title"`
	Yea     int    `json:"yea"`
	Nay     int    `json:"nay"`
	Abstain int    `json:"abstain"`
}

func (BillPassed) EventName() string { return EvBillPassed }

// BillResolved terminates a bill's feed: result is law, vetoed or tabled.
type BillResolved struct {
	BillID string `json:"bill_id"`
	Title  string `json:"title"`
	Result string `json:"result"`
	LawID  string `json:"law_id,omitempty"`
}

func (BillResolved) EventName() string { return EvBillResolved }

type AgentVote struct {
	BillID    string `json:"bill_id"`
	Title     string `json:"title"`
	Agent     string `json:"agent"`
	Choice    string `json:"choice"`
	Reasoning string `json:"reasoning,omitempty"`
}

func (AgentVote) EventName() string { return EvAgentVote }

type ElectionVotingStarted struct {
	ElectionID string   `json:"election_id"`
	Position   string   `json:"position"`
	Candidates []string `json:"candidates"`
}

func (ElectionVotingStarted) EventName() string { return EvElectionVotingStarted }

type ElectionCompleted struct {
	ElectionID string `json:"election_id"`
	Position   string `json:"position"`
	Winner     string `json:"winner"`
	Votes      int    `json:"votes"`
}

func (ElectionCompleted) EventName() string { return EvElectionCompleted }

type CampaignSpeech struct {
	ElectionID    string `json:"election_id"`
	Agent         string `json:"agent"`
	Excerpt       string `json:"excerpt"`
	Contributions int64  `json:"contributions"`
}

func (CampaignSpeech) EventName() string { return EvCampaignSpeech }

type JudicialCaseOpened struct {
	CaseID   string `json:"case_id"`
	LawID    string `json:"law_id"`
	LawTitle string `json:"law_title"`
}

func (JudicialCaseOpened) EventName() string { return EvJudicialCaseOpened }

type JudicialRuling struct {
	CaseID   string `json:"case_id"`
	LawID    string `json:"law_id"`
	LawTitle string `json:"law_title"`
	Result   string `json:"result"`
}

func (JudicialRuling) EventName() string { return EvJudicialRuling }

type TickComplete struct {
	Tick       uint64 `json:"tick"`
	DurationMs int64  `json:"duration_ms"`
	Decisions  int    `json:"decisions"`
	Errors     int    `json:"errors"`
}

func (TickComplete) EventName() string { return EvTickComplete }

// Envelope is the broadcast frame.
type Envelope struct {
	Event string `json:"event"`
	Tick  uint64 `json:"tick"`
	Data  Event  `json:"data"`
}

func Encode(tick uint64, ev Event) ([]byte, error) {
	return json.Marshal(Envelope{Event: ev.EventName(), Tick: tick, Data: ev})
}

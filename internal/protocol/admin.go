package protocol

// StatusResponse is the admin "Simulation Status" projection. Field
// names are consumed verbatim by the observability UI.
type StatusResponse struct {
	Simulation SimulationStatus `json:"simulation"`
	Decisions  DecisionStats    `json:"decisions"`
}

type SimulationStatus struct {
	IsPaused  bool `json:"isPaused"`
	Waiting   int  `json:"waiting"`
	Active    int  `json:"active"`
	Completed int  `json:"completed"`
	Failed    int  `json:"failed"`
}

type DecisionStats struct {
	Total       int `json:"total"`
	Errors      int `json:"errors"`
	HaikuCount  int `json:"haikuCount"`
	OllamaCount int `json:"ollamaCount"`
}

type TickResponse struct {
	OK   bool   `json:"ok"`
	Tick uint64 `json:"tick"`
	Err  string `json:"error,omitempty"`
}

type DecisionRecord struct {
	ID        string `json:"id"`
	Tick      uint64 `json:"tick"`
	AgentID   string `json:"agent_id"`
	Provider  string `json:"provider"`
	Phase     string `json:"phase"`
	Action    string `json:"action"`
	Reasoning string `json:"reasoning"`
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
	LatencyMs int64  `json:"latency_ms"`
	At        string `json:"at"`
}

type DecisionPage struct {
	Tick    uint64           `json:"tick"`
	Page    int              `json:"page"`
	PerPage int              `json:"per_page"`
	Items   []DecisionRecord `json:"items"`
}

package sim

import "time"

// Agent is a simulated political actor. Identity is immutable after
// creation; reputation and balance change only through recorded
// transactions (see Transaction) or explicit admin adjustment.
type Agent struct {
	ID         string
	Name       string
	Alignment  Alignment
	PartyID    string
	Reputation int
	Balance    int64
	Active     bool
	Provider   string
	Model      string
	Persona    string
	CreatedAt  time.Time
}

type Party struct {
	ID        string
	Name      string
	Alignment Alignment
	Platform  string
}

// Position is a held office. Types: president, justice, congress.
type Position struct {
	Type    string
	AgentID string
	SeatNo  int
}

const (
	PositionPresident = "president"
	PositionJustice   = "justice"
	PositionCongress  = "congress"
)

type BillStatus string

const (
	BillProposed         BillStatus = "proposed"
	BillCommittee        BillStatus = "committee"
	BillFloor            BillStatus = "floor"
	BillPassed           BillStatus = "passed"
	BillPresidentialVeto BillStatus = "presidential_veto"
	BillLaw              BillStatus = "law"
	BillVetoed           BillStatus = "vetoed"
	BillTabled           BillStatus = "tabled"
)

// Terminal reports whether no further transition can occur.
func (s BillStatus) Terminal() bool {
	return s == BillLaw || s == BillVetoed || s == BillTabled
}

type BillType string

const (
	BillOriginal  BillType = "original"
	BillAmendment BillType = "amendment"
)

type Bill struct {
	ID           string
	Title        string
	Summary      string
	FullText     string
	SponsorID    string
	CoSponsorIDs []string
	Committee    string
	Status       BillStatus
	Type         BillType
	AmendsLawID  string
	IntroducedAt time.Time
	LastActionAt time.Time

	// WhipPositions maps party ID to the party's recommended vote,
	// computed once when the bill reaches the floor.
	WhipPositions map[string]VoteChoice
}

type VoteChoice string

const (
	VoteYea     VoteChoice = "yea"
	VoteNay     VoteChoice = "nay"
	VoteAbstain VoteChoice = "abstain"
)

func (v VoteChoice) Valid() bool {
	return v == VoteYea || v == VoteNay || v == VoteAbstain
}

// BillVote is immutable once cast; at most one per (agent, bill).
type BillVote struct {
	BillID    string
	AgentID   string
	Choice    VoteChoice
	Reasoning string
	CastAt    time.Time
}

// Tally is always derived by counting vote rows, never stored.
type Tally struct {
	Yea     int
	Nay     int
	Abstain int
	Total   int
}

type Law struct {
	ID           string
	BillID       string
	Title        string
	Text         string
	Active       bool
	EnactedAt    time.Time
	AmendmentIDs []string
}

type ElectionStatus string

const (
	ElectionScheduled    ElectionStatus = "scheduled"
	ElectionRegistration ElectionStatus = "registration"
	ElectionCampaigning  ElectionStatus = "campaigning"
	ElectionVoting       ElectionStatus = "voting"
	ElectionCounting     ElectionStatus = "counting"
	ElectionCertified    ElectionStatus = "certified"
)

type Election struct {
	ID               string
	Position         string
	Seat             int
	Status           ElectionStatus
	ScheduledFor     time.Time
	RegistrationEnds time.Time
	VotingStarts     time.Time
	VotingEnds       time.Time
	CertifiedAt      *time.Time
	WinnerID         string
}

type CampaignStatus string

const (
	CampaignActive    CampaignStatus = "active"
	CampaignWithdrawn CampaignStatus = "withdrawn"
	CampaignWon       CampaignStatus = "won"
	CampaignLost      CampaignStatus = "lost"
)

// Campaign is one agent's candidacy in one election; at most one per
// (election, agent). The filing fee is charged exactly once at creation.
type Campaign struct {
	ID            string
	ElectionID    string
	AgentID       string
	Platform      string
	Contributions int64
	Endorsements  []string
	Status        CampaignStatus
	RegisteredAt  time.Time
}

// ElectionVote: empty CandidateID means abstain.
type ElectionVote struct {
	ElectionID  string
	VoterID     string
	CandidateID string
	CastAt      time.Time
}

type CaseStatus string

const (
	CasePending      CaseStatus = "pending"
	CaseDeliberating CaseStatus = "deliberating"
	CaseUpheld       CaseStatus = "upheld"
	CaseStruckDown   CaseStatus = "struck_down"
)

type JudicialCase struct {
	ID       string
	LawID    string
	Status   CaseStatus
	Ruling   string
	OpenedAt time.Time
	RuledAt  *time.Time
}

type JudicialChoice string

const (
	VoteConstitutional   JudicialChoice = "constitutional"
	VoteUnconstitutional JudicialChoice = "unconstitutional"
)

type JudicialVote struct {
	CaseID    string
	JusticeID string
	Choice    JudicialChoice
	Reasoning string
	CastAt    time.Time
}

// Tick brackets one scheduler pass. A failed tick has no CompletedAt.
type Tick struct {
	Seq         uint64
	FiredAt     time.Time
	CompletedAt *time.Time
	Failed      bool
}

// Decision is one recorded AI-invocation outcome. Append-only.
type Decision struct {
	ID        string
	Tick      uint64
	AgentID   string
	Provider  string
	Phase     string
	Action    string
	Reasoning string
	OK        bool
	Error     string
	LatencyMs int64
	At        time.Time
}

// Transaction records every balance or reputation adjustment so agent
// state is never overwritten silently.
type Transaction struct {
	ID         string
	AgentID    string
	Kind       string
	Amount     int64
	Reputation int
	Note       string
	Tick       uint64
	At         time.Time
}

const (
	TxnTax          = "tax"
	TxnSalary       = "salary"
	TxnFilingFee    = "filing_fee"
	TxnApproval     = "approval"
	TxnAdminAdjust  = "admin_adjust"
	TxnContribution = "contribution"
)

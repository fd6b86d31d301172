package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Runtime holds every probability knob, threshold and guard rail the
// simulation reads. A tick takes one snapshot at start; admin patches
// apply only to later ticks.
type Runtime struct {
	TickIntervalMs         int `yaml:"tick_interval_ms" json:"tickIntervalMs"`
	BillAdvancementDelayMs int `yaml:"bill_advancement_delay_ms" json:"billAdvancementDelayMs"`

	CommitteeTableRateOpposing float64 `yaml:"committee_table_rate_opposing" json:"committeeTableRateOpposing"`
	CommitteeTableRateNeutral  float64 `yaml:"committee_table_rate_neutral" json:"committeeTableRateNeutral"`
	CommitteeAmendRate         float64 `yaml:"committee_amend_rate" json:"committeeAmendRate"`

	QuorumPercentage      float64 `yaml:"quorum_percentage" json:"quorumPercentage"`
	BillPassagePercentage float64 `yaml:"bill_passage_percentage" json:"billPassagePercentage"`

	VetoBaseRate          float64 `yaml:"veto_base_rate" json:"vetoBaseRate"`
	VetoRatePerTier       float64 `yaml:"veto_rate_per_tier" json:"vetoRatePerTier"`
	VetoMaxRate           float64 `yaml:"veto_max_rate" json:"vetoMaxRate"`
	VetoOverrideThreshold float64 `yaml:"veto_override_threshold" json:"vetoOverrideThreshold"`

	PartyWhipFollowRate float64 `yaml:"party_whip_follow_rate" json:"partyWhipFollowRate"`

	MinReputationToRun  int   `yaml:"min_reputation_to_run" json:"minReputationToRun"`
	MinReputationToVote int   `yaml:"min_reputation_to_vote" json:"minReputationToVote"`
	CampaignFilingFee   int64 `yaml:"campaign_filing_fee" json:"campaignFilingFee"`

	CampaignSpeechChance        float64 `yaml:"campaign_speech_chance" json:"campaignSpeechChance"`
	JudicialChallengeRatePerLaw float64 `yaml:"judicial_challenge_rate_per_law" json:"judicialChallengeRatePerLaw"`

	MaxBillsPerAgentPerTick    int `yaml:"max_bills_per_agent_per_tick" json:"maxBillsPerAgentPerTick"`
	MaxCampaignSpeechesPerTick int `yaml:"max_campaign_speeches_per_tick" json:"maxCampaignSpeechesPerTick"`
	MaxPromptLengthChars       int `yaml:"max_prompt_length_chars" json:"maxPromptLengthChars"`
	MaxOutputLengthTokens      int `yaml:"max_output_length_tokens" json:"maxOutputLengthTokens"`

	CongressSeats int `yaml:"congress_seats" json:"congressSeats"`

	DispatchWorkers   int `yaml:"dispatch_workers" json:"dispatchWorkers"`
	DecisionTimeoutMs int `yaml:"decision_timeout_ms" json:"decisionTimeoutMs"`

	// ProviderOverride forces every agent onto one provider for the tick
	// it is snapshotted into. Empty means per-agent defaults.
	ProviderOverride string `yaml:"provider_override" json:"providerOverride"`
}

type Economy struct {
	TreasuryBalance int64   `yaml:"treasury_balance" json:"treasuryBalance"`
	TaxRate         float64 `yaml:"tax_rate" json:"taxRate"`
	SalaryPerTick   int64   `yaml:"salary_per_tick" json:"salaryPerTick"`
}

func Defaults() Runtime {
	return Runtime{
		TickIntervalMs:         30000,
		BillAdvancementDelayMs: 60000,

		CommitteeTableRateOpposing: 0.35,
		CommitteeTableRateNeutral:  0.10,
		CommitteeAmendRate:         0.25,

		QuorumPercentage:      0.50,
		BillPassagePercentage: 0.60,

		VetoBaseRate:          0.05,
		VetoRatePerTier:       0.15,
		VetoMaxRate:           0.80,
		VetoOverrideThreshold: 0.67,

		PartyWhipFollowRate: 0.70,

		MinReputationToRun:  10,
		MinReputationToVote: 0,
		CampaignFilingFee:   250,

		CampaignSpeechChance:        0.30,
		JudicialChallengeRatePerLaw: 0.02,

		MaxBillsPerAgentPerTick:    1,
		MaxCampaignSpeechesPerTick: 1,
		MaxPromptLengthChars:       8000,
		MaxOutputLengthTokens:      400,

		CongressSeats: 20,

		DispatchWorkers:   8,
		DecisionTimeoutMs: 20000,
	}
}

func EconomyDefaults() Economy {
	return Economy{
		TreasuryBalance: 100000,
		TaxRate:         0.02,
		SalaryPerTick:   25,
	}
}

type fileRoot struct {
	Runtime Runtime `yaml:"runtime"`
	Economy Economy `yaml:"economy"`
}

// Load reads runtime.yaml. A missing file yields defaults; a malformed
// file is an error.
func Load(path string) (Runtime, Economy, error) {
	rt, eco := Defaults(), EconomyDefaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return rt, eco, nil
		}
		return rt, eco, err
	}
	root := fileRoot{Runtime: rt, Economy: eco}
	if err := yaml.Unmarshal(raw, &root); err != nil {
		return rt, eco, fmt.Errorf("runtime.yaml: %w", err)
	}
	return root.Runtime, root.Economy, nil
}

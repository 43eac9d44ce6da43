package model

// Tier identifies which level of the rule hierarchy a rule belongs to
type Tier string

const (
	TierL1 Tier = "L1" // Leaf rule: presence/value of a single document fact
	TierL2 Tier = "L2" // Composite rule: judgment over one or more L1 facts
)

// RuleDescriptor describes a stored rule. Immutable once loaded.
type RuleDescriptor struct {
	ID          string `json:"id"`
	Tier        Tier   `json:"tier"`
	Description string `json:"description"`

	// SourceDocument names the scanned document an L1 fact is read from (e.g. "Claim form")
	SourceDocument string `json:"source_document,omitempty"`

	// CheckRuleID is the parent document check of an L1 rule (e.g. "CH01")
	CheckRuleID string `json:"check_rule_id,omitempty"`

	// Query is the SQL that extracts an L1 fact from the claims database.
	// The single "?" placeholder is bound to the claim id.
	Query string `json:"-"`

	// L1Value is the raw reference string of an L2 rule, e.g.
	// "Claim form : L1_01_06, Aadhar card : L1_05_01"
	L1Value string `json:"l1_value,omitempty"`
}

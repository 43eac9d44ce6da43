package model

// CheckRule is a document-submission check of the procedure tier, e.g.
// CH01 "Is the Claim form submitted?"
type CheckRule struct {
	ID          string `json:"id"`
	Description string `json:"description"`
}

// Procedure is a medical procedure and the documents its claims require
type Procedure struct {
	Name string `json:"name"`

	// CheckRules lists the check rule ids shown for the procedure, e.g. "CH01, CH02, CH05"
	CheckRules string `json:"check_rules"`

	// Expression combines check rules: [a, b] needs all, (a, b) needs any.
	// Example: "[CH01, (CH02, CH03)]"
	Expression string `json:"expression,omitempty"`
}

// L1Value is an L1 fact listed under its parent check rule
type L1Value struct {
	RuleID         string `json:"rule_id"`
	Description    string `json:"description"`
	Value          string `json:"value"`
	SourceDocument string `json:"source_document,omitempty"`
}

// CheckStatus is the submission status of one check rule for a claim
type CheckStatus struct {
	CheckRuleID string    `json:"check_rule_id"`
	Description string    `json:"description"`
	Defined     bool      `json:"defined"`
	Submitted   bool      `json:"submitted"`
	L1Values    []L1Value `json:"l1_values"`
}

// ProcedureResult is the outcome of the check-rule tier for one claim
type ProcedureResult struct {
	Procedure  string        `json:"procedure"`
	ClaimID    string        `json:"claim_id"`
	Expression string        `json:"expression"`
	Passed     bool          `json:"passed"`
	Missing    []string      `json:"missing"` // Descriptions of documents not submitted
	Checks     []CheckStatus `json:"checks"`
}

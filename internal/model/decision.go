package model

import "strings"

// Verdict is the outcome of one rule evaluation.
// There are exactly three values; anything else is coerced to VerdictCannotDetermine.
type Verdict string

const (
	VerdictPass            Verdict = "PASS"
	VerdictFail            Verdict = "FAIL"
	VerdictCannotDetermine Verdict = "CANNOT_DETERMINE"
)

// ParseVerdict normalizes case, whitespace and separators.
// ok is false when the token is not one of the three verdicts.
func ParseVerdict(token string) (Verdict, bool) {
	t := strings.ToUpper(strings.TrimSpace(token))
	t = strings.Trim(t, ".!\"'")
	t = strings.NewReplacer("-", " ", "_", " ").Replace(t)
	t = strings.Join(strings.Fields(t), " ")

	switch t {
	case "PASS":
		return VerdictPass, true
	case "FAIL":
		return VerdictFail, true
	case "CANNOT DETERMINE":
		return VerdictCannotDetermine, true
	default:
		return VerdictCannotDetermine, false
	}
}

// IsDecisive reports whether the verdict is PASS or FAIL
func (v Verdict) IsDecisive() bool {
	return v == VerdictPass || v == VerdictFail
}

// ComparisonRecord is one oracle comparison between an expected and an actual value
type ComparisonRecord struct {
	L1RuleID        string `json:"l1_rule_id"`
	Expected        string `json:"expected"`
	Actual          string `json:"actual"`
	Match           bool   `json:"match"`
	Note            string `json:"note,omitempty"`
	SourceReference string `json:"source_reference,omitempty"` // Attached by the reducer
}

// DecisionRecord is the terminal output of one evaluation. Immutable once returned.
type DecisionRecord struct {
	Verdict       Verdict            `json:"verdict"`
	Reasoning     string             `json:"reasoning"`
	Comparisons   []ComparisonRecord `json:"comparisons"`
	PrimarySource string             `json:"primary_source,omitempty"`
}

// CannotDetermine builds the safe-failure decision with the given reason
func CannotDetermine(reason string) DecisionRecord {
	return DecisionRecord{
		Verdict:     VerdictCannotDetermine,
		Reasoning:   reason,
		Comparisons: []ComparisonRecord{},
	}
}

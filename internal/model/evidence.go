package model

import "strings"

// EvidenceFact is one extracted value for a (rule, claim) pair.
// Created by upstream extraction, read-only to the engine.
type EvidenceFact struct {
	RuleID          string `json:"rule_id"`
	ClaimID         string `json:"claim_id"`
	Value           string `json:"value"`
	SourceReference string `json:"source_reference,omitempty"` // Empty when the store has no source document
}

// Display renders the value for prompts and traces
func (f EvidenceFact) Display() string {
	if strings.TrimSpace(f.Value) == "" {
		return "(no value recorded)"
	}
	return f.Value
}

// RuleReference is an L1 rule referenced by an L2 rule, resolved for one evaluation.
// Transient: never persisted.
type RuleReference struct {
	ID          string       `json:"id"`
	Tier        Tier         `json:"tier"`
	Label       string       `json:"label,omitempty"` // Document label written next to the id
	Description string       `json:"description,omitempty"`
	Resolved    EvidenceFact `json:"resolved_value"`
}

// Source returns the provenance to attach to comparisons for this reference
func (r RuleReference) Source() string {
	if r.Resolved.SourceReference != "" {
		return r.Resolved.SourceReference
	}
	return r.Label
}

// Package refparse extracts L1 rule references from the L1-value string of an L2 rule.
//
// Grammar:
//
//	reference  = [ label ":" ] identifier
//	identifier = tier "_" segment "_" segment
//	tier       = "L1"            ; case-insensitive
//	segment    = 1*3 DIGIT
//
// Identifiers are canonicalised to upper-case tier and segments padded to at
// least two digits, so "l1_1_6" and "L1_01_06" are the same reference.
// Tokens that look like a tier-prefixed id but do not satisfy the grammar are
// reported as warnings and otherwise ignored.
package refparse

import (
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/ppiankov/rulecheck/internal/model"
)

const (
	maxSegmentDigits = 3
	segmentCount     = 2
)

// candidatePattern finds anything that starts like a tier-prefixed identifier.
// The grammar check happens in parseIdentifier, not here.
var candidatePattern = regexp.MustCompile(`(?i)\bL\d[_\-][0-9A-Za-z_\-]*`)

// Reference is one identifier found in the L1 value
type Reference struct {
	ID    string // Canonical identifier, e.g. "L1_01_06"
	Label string // Document label preceding the identifier, if any
}

// Result is the parser output for one L1 value
type Result struct {
	Mode       model.Mode
	References []Reference // Ordered by first appearance, de-duplicated
	Literal    string      // Trimmed raw value; the hint used in SIMPLE mode
	Warnings   []string
}

// IDs returns the canonical identifiers in order
func (r Result) IDs() []string {
	ids := make([]string, len(r.References))
	for i, ref := range r.References {
		ids[i] = ref.ID
	}
	return ids
}

// Parser extracts rule references
type Parser struct {
	logger *zap.Logger
}

// NewParser creates a parser that logs soft warnings to logger (nil disables logging)
func NewParser(logger *zap.Logger) *Parser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Parser{logger: logger}
}

// Parse classifies the L1 value and extracts its references
func (p *Parser) Parse(l1Value string) Result {
	result := Result{
		Mode:    model.ModeSimple,
		Literal: strings.TrimSpace(l1Value),
	}

	seen := make(map[string]bool)
	for _, loc := range candidatePattern.FindAllStringIndex(l1Value, -1) {
		token := strings.TrimRight(l1Value[loc[0]:loc[1]], "_-")

		id, err := parseIdentifier(token)
		if err != nil {
			warning := fmt.Sprintf("ignored token %q: %v", token, err)
			result.Warnings = append(result.Warnings, warning)
			p.logger.Warn("malformed rule reference",
				zap.String("token", token),
				zap.Error(err),
			)
			continue
		}

		if seen[id] {
			continue
		}
		seen[id] = true

		result.References = append(result.References, Reference{
			ID:    id,
			Label: labelBefore(l1Value, loc[0]),
		})
	}

	if len(result.References) > 0 {
		result.Mode = model.ModeCompound
	}

	return result
}

// CanonicalID returns the canonical form of id, or an error if it is not a valid L1 identifier
func CanonicalID(id string) (string, error) {
	return parseIdentifier(strings.TrimSpace(id))
}

// parseIdentifier checks a token against the grammar and returns its canonical form
func parseIdentifier(token string) (string, error) {
	if len(token) < 2 {
		return "", fmt.Errorf("too short")
	}

	tier := strings.ToUpper(token[:2])
	if tier != string(model.TierL1) {
		return "", fmt.Errorf("tier %s is not a leaf rule tier", tier)
	}

	rest := token[2:]
	if !strings.HasPrefix(rest, "_") {
		return "", fmt.Errorf("expected '_' after tier prefix")
	}

	segments := strings.Split(rest[1:], "_")
	if len(segments) != segmentCount {
		return "", fmt.Errorf("expected %d numeric segments, found %d", segmentCount, len(segments))
	}

	canonical := make([]string, 0, segmentCount+1)
	canonical = append(canonical, tier)
	for _, seg := range segments {
		if seg == "" || len(seg) > maxSegmentDigits {
			return "", fmt.Errorf("segment %q must have 1-%d digits", seg, maxSegmentDigits)
		}
		for _, c := range seg {
			if c < '0' || c > '9' {
				return "", fmt.Errorf("segment %q is not numeric", seg)
			}
		}
		if len(seg) == 1 {
			seg = "0" + seg
		}
		canonical = append(canonical, seg)
	}

	return strings.Join(canonical, "_"), nil
}

// labelBefore returns the "label :" text immediately preceding position pos, if any.
// Labels are delimited by the previous comma or semicolon.
func labelBefore(s string, pos int) string {
	prefix := strings.TrimRight(s[:pos], " \t")
	if !strings.HasSuffix(prefix, ":") {
		return ""
	}
	prefix = strings.TrimSuffix(prefix, ":")

	if i := strings.LastIndexAny(prefix, ",;\n"); i >= 0 {
		prefix = prefix[i+1:]
	}
	return strings.TrimSpace(prefix)
}

// Package interpret turns raw oracle payloads into DecisionRecords.
//
// The interpreter is total: anything it cannot read becomes a
// CANNOT_DETERMINE decision explaining why, never an error and never PASS or FAIL.
package interpret

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/ppiankov/rulecheck/internal/metrics"
	"github.com/ppiankov/rulecheck/internal/model"
)

// SimpleReasoning is the reasoning attached to a recognised TEXT verdict
const SimpleReasoning = "simple evaluation"

const maxExcerpt = 120

// requiredKeys of a STRUCTURED response, in reporting order
var requiredKeys = []string{"primary_source", "comparisons", "overall_decision", "overall_reasoning"}

var fencePattern = regexp.MustCompile("(?s)^```[A-Za-z]*\\s*\\n?(.*?)\\n?```$")

// Interpreter reads oracle responses
type Interpreter struct {
	logger *zap.Logger
}

// New creates an interpreter (nil logger disables logging)
func New(logger *zap.Logger) *Interpreter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Interpreter{logger: logger}
}

// Interpret dispatches on the response format
func (i *Interpreter) Interpret(resp model.OracleResponse) model.DecisionRecord {
	switch resp.Format {
	case model.FormatStructured:
		return i.structured(resp.RawPayload)
	case model.FormatText:
		return i.text(resp.RawPayload)
	default:
		return i.downgrade(fmt.Sprintf("unknown response format %q", resp.Format))
	}
}

func (i *Interpreter) downgrade(reason string) model.DecisionRecord {
	metrics.DowngradesTotal.WithLabelValues("interpreter").Inc()
	i.logger.Debug("oracle response downgraded", zap.String("reason", reason))
	return model.CannotDetermine(reason)
}

func (i *Interpreter) structured(raw string) model.DecisionRecord {
	payload := stripFence(raw)

	var doc map[string]json.RawMessage
	if err := json.Unmarshal([]byte(payload), &doc); err != nil || doc == nil {
		return i.downgrade("malformed structured response")
	}

	var missing []string
	for _, key := range requiredKeys {
		if _, ok := doc[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return i.downgrade("incomplete structured response: missing " + strings.Join(missing, ", "))
	}

	var decision string
	if err := json.Unmarshal(doc["overall_decision"], &decision); err != nil {
		return i.downgrade("overall_decision is not a string")
	}
	verdict, ok := model.ParseVerdict(decision)
	if !ok {
		return i.downgrade(fmt.Sprintf("unrecognized overall_decision %q", excerpt(decision)))
	}

	var elements []json.RawMessage
	if err := json.Unmarshal(doc["comparisons"], &elements); err != nil || bytes.Equal(bytes.TrimSpace(doc["comparisons"]), []byte("null")) {
		return i.downgrade("comparisons is not an array")
	}

	comparisons := make([]model.ComparisonRecord, 0, len(elements))
	for idx, element := range elements {
		record, err := parseComparison(element)
		if err != nil {
			i.logger.Debug("dropped comparison",
				zap.Int("index", idx),
				zap.Error(err),
			)
			continue
		}
		comparisons = append(comparisons, record)
	}

	primary, _ := scalarText(doc["primary_source"])
	reasoning, _ := scalarText(doc["overall_reasoning"])

	return model.DecisionRecord{
		Verdict:       verdict,
		Reasoning:     reasoning,
		Comparisons:   comparisons,
		PrimarySource: primary,
	}
}

// parseComparison validates one element of the comparisons array
func parseComparison(raw json.RawMessage) (model.ComparisonRecord, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return model.ComparisonRecord{}, fmt.Errorf("element is not an object")
	}

	var id string
	if err := json.Unmarshal(fields["l1_rule_id"], &id); err != nil || strings.TrimSpace(id) == "" {
		return model.ComparisonRecord{}, fmt.Errorf("missing l1_rule_id")
	}

	expectedRaw, ok := fields["expected"]
	if !ok {
		return model.ComparisonRecord{}, fmt.Errorf("missing expected")
	}
	expected, ok := scalarText(expectedRaw)
	if !ok {
		return model.ComparisonRecord{}, fmt.Errorf("expected is not a scalar")
	}

	actualRaw, ok := fields["actual"]
	if !ok {
		return model.ComparisonRecord{}, fmt.Errorf("missing actual")
	}
	actual, ok := scalarText(actualRaw)
	if !ok {
		return model.ComparisonRecord{}, fmt.Errorf("actual is not a scalar")
	}

	match, ok := parseMatch(fields["match"])
	if !ok {
		return model.ComparisonRecord{}, fmt.Errorf("missing or invalid match")
	}

	note := ""
	if raw, ok := fields["note"]; ok {
		note, _ = scalarText(raw)
	}

	return model.ComparisonRecord{
		L1RuleID: strings.TrimSpace(id),
		Expected: expected,
		Actual:   actual,
		Match:    match,
		Note:     note,
	}, nil
}

func parseMatch(raw json.RawMessage) (bool, bool) {
	if raw == nil {
		return false, false
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return false, false
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "yes":
		return true, true
	case "false", "no":
		return false, true
	default:
		return false, false
	}
}

// scalarText renders a JSON scalar as text. null renders as "".
// ok is false for objects, arrays and invalid JSON.
func scalarText(raw json.RawMessage) (string, bool) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return "", false
	}

	switch val := v.(type) {
	case nil:
		return "", true
	case string:
		return val, true
	case bool:
		if val {
			return "true", true
		}
		return "false", true
	case json.Number:
		return val.String(), true
	default:
		return "", false
	}
}

// stripFence removes a surrounding markdown code fence, if any
func stripFence(raw string) string {
	s := strings.TrimSpace(raw)
	if m := fencePattern.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	return s
}

var cannotDeterminePhrases = []string{
	"cannot determine",
	"can not determine",
	"cannot be determined",
	"can't determine",
	"cant determine",
	"undetermined",
}

func (i *Interpreter) text(raw string) model.DecisionRecord {
	words := normalizeText(raw)
	if len(words) == 0 {
		return i.downgrade("unrecognized response text: " + excerpt(raw))
	}

	joined := " " + strings.Join(words, " ") + " "
	for _, phrase := range cannotDeterminePhrases {
		if strings.Contains(joined, " "+phrase+" ") {
			return model.DecisionRecord{
				Verdict:     model.VerdictCannotDetermine,
				Reasoning:   SimpleReasoning,
				Comparisons: []model.ComparisonRecord{},
			}
		}
	}

	// Only a leading verdict counts, and never one that is negated or hedged
	if v, ok := verdictWord(words[0]); ok && !hasNegation(words) {
		return simpleDecision(v)
	}

	return i.downgrade("unrecognized response text: " + excerpt(raw))
}

func simpleDecision(v model.Verdict) model.DecisionRecord {
	return model.DecisionRecord{
		Verdict:     v,
		Reasoning:   SimpleReasoning,
		Comparisons: []model.ComparisonRecord{},
	}
}

func hasNegation(words []string) bool {
	for _, w := range words {
		switch {
		case w == "not", w == "no", w == "never", w == "cannot", w == "nor":
			return true
		case strings.HasSuffix(w, "n't"):
			return true
		}
	}
	return false
}

func verdictWord(w string) (model.Verdict, bool) {
	switch w {
	case "pass":
		return model.VerdictPass, true
	case "fail":
		return model.VerdictFail, true
	default:
		return "", false
	}
}

// normalizeText case-folds and splits on anything but letters, digits and apostrophes.
// "_" and "-" separate words so CANNOT_DETERMINE reads as two words.
func normalizeText(raw string) []string {
	lower := strings.ToLower(raw)
	lower = strings.ReplaceAll(lower, "’", "'")
	fields := strings.FieldsFunc(lower, func(r rune) bool {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '\'':
			return false
		default:
			return true
		}
	})

	words := fields[:0]
	for _, f := range fields {
		if f = strings.Trim(f, "'"); f != "" {
			words = append(words, f)
		}
	}
	return words
}

// excerpt trims s to at most maxExcerpt runes
func excerpt(s string) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= maxExcerpt {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxExcerpt])
}

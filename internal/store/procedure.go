package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ppiankov/rulecheck/internal/model"
)

// ErrProcedureNotFound means no procedure with the requested name is defined
var ErrProcedureNotFound = errors.New("procedure not defined")

// ProcedureStore is the query surface of the procedure check-rule tier
type ProcedureStore interface {
	// Procedures returns every procedure, ordered by name
	Procedures(ctx context.Context) ([]model.Procedure, error)

	// Procedure returns the named procedure
	Procedure(ctx context.Context, name string) (model.Procedure, error)

	// CheckRules returns the descriptions of the requested check rules.
	// Undefined ids are absent from the map.
	CheckRules(ctx context.Context, ids []string) (map[string]model.CheckRule, error)

	// L1RulesForCheck returns the L1 rules under a check rule, ordered by id
	L1RulesForCheck(ctx context.Context, checkRuleID string) ([]model.RuleDescriptor, error)

	// DocumentSubmitted reports whether the document a check rule asks about
	// has any recorded value for claimID
	DocumentSubmitted(ctx context.Context, claimID, checkDescription string) (bool, error)
}

const (
	patientTable = "PatientData"
	claimColumn  = "claimid"
)

var submittedQuestion = regexp.MustCompile(`(?i)is the (.*) submitted\??`)

// DocumentKeyword derives the claims-column keyword from a check rule description:
// "Is the Claim form submitted?" becomes "claim_form"
func DocumentKeyword(checkDescription string) string {
	core := strings.TrimSpace(checkDescription)
	if m := submittedQuestion.FindStringSubmatch(core); m != nil {
		core = strings.TrimSpace(m[1])
	}
	return strings.ReplaceAll(strings.ToLower(core), " ", "_")
}

// procedureRule maps the rules database procedure_rules table
type procedureRule struct {
	ID             int    `gorm:"column:id;primaryKey"`
	ProcName       string `gorm:"column:proc_name"`
	CheckRules     string `gorm:"column:check_rules"`
	ProcedureRules string `gorm:"column:procedure_rules"`
}

func (procedureRule) TableName() string { return "procedure_rules" }

// checkRule maps the rules database check_rules table
type checkRule struct {
	RulesID          string `gorm:"column:rules_id;primaryKey"`
	RulesDescription string `gorm:"column:rules_description"`
}

func (checkRule) TableName() string { return "check_rules" }

func (p procedureRule) procedure() model.Procedure {
	return model.Procedure{
		Name:       strings.TrimSpace(p.ProcName),
		CheckRules: p.CheckRules,
		Expression: strings.TrimSpace(p.ProcedureRules),
	}
}

// Procedures returns every procedure ordered by name
func (s *SQLStore) Procedures(ctx context.Context) ([]model.Procedure, error) {
	var rows []procedureRule
	if err := s.rules.WithContext(ctx).Order("proc_name").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("%w: list procedures: %v", ErrStoreUnavailable, err)
	}

	procedures := make([]model.Procedure, len(rows))
	for i, row := range rows {
		procedures[i] = row.procedure()
	}
	return procedures, nil
}

// Procedure returns the named procedure; names match case-insensitively
func (s *SQLStore) Procedure(ctx context.Context, name string) (model.Procedure, error) {
	var row procedureRule
	err := s.rules.WithContext(ctx).
		Where("LOWER(TRIM(proc_name)) = ?", strings.ToLower(strings.TrimSpace(name))).
		Take(&row).Error
	switch {
	case err == nil:
		return row.procedure(), nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return model.Procedure{}, fmt.Errorf("%w: %s", ErrProcedureNotFound, name)
	default:
		return model.Procedure{}, fmt.Errorf("%w: lookup procedure %s: %v", ErrStoreUnavailable, name, err)
	}
}

// CheckRules returns the requested check rules keyed by id
func (s *SQLStore) CheckRules(ctx context.Context, ids []string) (map[string]model.CheckRule, error) {
	out := make(map[string]model.CheckRule, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	var rows []checkRule
	if err := s.rules.WithContext(ctx).Where("rules_id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("%w: lookup check rules: %v", ErrStoreUnavailable, err)
	}
	for _, row := range rows {
		out[row.RulesID] = model.CheckRule{ID: row.RulesID, Description: row.RulesDescription}
	}
	return out, nil
}

// L1RulesForCheck returns the L1 rules whose parent is checkRuleID
func (s *SQLStore) L1RulesForCheck(ctx context.Context, checkRuleID string) ([]model.RuleDescriptor, error) {
	var rows []l1Rule
	if err := s.rules.WithContext(ctx).Where("check_rule_id = ?", checkRuleID).Order("rule_id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("%w: list L1 rules of %s: %v", ErrStoreUnavailable, checkRuleID, err)
	}

	rules := make([]model.RuleDescriptor, len(rows))
	for i, row := range rows {
		rules[i] = row.descriptor()
	}
	return rules, nil
}

// DocumentSubmitted looks for a non-empty value in any claims column whose
// name contains the document keyword
func (s *SQLStore) DocumentSubmitted(ctx context.Context, claimID, checkDescription string) (bool, error) {
	keyword := DocumentKeyword(checkDescription)
	if keyword == "" || claimID == "" {
		return false, nil
	}

	query := fmt.Sprintf(`SELECT * FROM %q WHERE %s = ? LIMIT 1`, patientTable, claimColumn)
	rows, err := s.claims.WithContext(ctx).Raw(query, claimID).Rows()
	if err != nil {
		return false, fmt.Errorf("%w: check %q for claim %s: %v", ErrStoreUnavailable, keyword, claimID, err)
	}
	defer func() { _ = rows.Close() }()

	submitted, err := anyKeywordValue(rows, keyword)
	if err != nil {
		return false, fmt.Errorf("%w: check %q for claim %s: %v", ErrStoreUnavailable, keyword, claimID, err)
	}

	s.logger.Debug("document submission checked",
		zap.String("claim_id", claimID),
		zap.String("keyword", keyword),
		zap.Bool("submitted", submitted),
	)
	return submitted, nil
}

// anyKeywordValue reports whether the first row has a non-empty value in a matching column
func anyKeywordValue(rows *sql.Rows, keyword string) (bool, error) {
	cols, err := rows.Columns()
	if err != nil {
		return false, err
	}
	if !rows.Next() {
		return false, rows.Err()
	}

	values := make([]sql.NullString, len(cols))
	dest := make([]interface{}, len(cols))
	for i := range values {
		dest[i] = &values[i]
	}
	if err := rows.Scan(dest...); err != nil {
		return false, err
	}

	for i, col := range cols {
		name := strings.ToLower(col)
		if name == claimColumn || !strings.Contains(name, keyword) {
			continue
		}
		if values[i].Valid && strings.TrimSpace(values[i].String) != "" {
			return true, nil
		}
	}
	return false, nil
}

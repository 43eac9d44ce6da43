package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ppiankov/rulecheck/internal/model"
)

// l1Rule maps the rules database l1_rules table
type l1Rule struct {
	RuleID         string `gorm:"column:rule_id;primaryKey"`
	CheckRuleID    string `gorm:"column:check_rule_id"`
	Description    string `gorm:"column:description"`
	SQLQuery       string `gorm:"column:sql_query"`
	SourceDocument string `gorm:"column:source_document"`
}

func (l1Rule) TableName() string { return "l1_rules" }

// l2Rule maps the rules database l2_rules table.
// l1_rule_id holds the raw reference string, not a single id.
type l2Rule struct {
	RuleID          string `gorm:"column:rule_id;primaryKey"`
	RuleDescription string `gorm:"column:rule_description"`
	L1RuleID        string `gorm:"column:l1_rule_id"`
}

func (l2Rule) TableName() string { return "l2_rules" }

// SQLStore reads rules from the rules database and facts from the claims database.
// Each L1 rule stores the SELECT that extracts its value; "?" binds the claim id.
type SQLStore struct {
	rules  *gorm.DB
	claims *gorm.DB
	logger *zap.Logger
}

// OpenSQLStore opens both SQLite databases read-only
func OpenSQLStore(rulesPath, claimsPath string, log *zap.Logger) (*SQLStore, error) {
	if log == nil {
		log = zap.NewNop()
	}

	rules, err := openReadOnly(rulesPath)
	if err != nil {
		return nil, fmt.Errorf("%w: open rules database: %v", ErrStoreUnavailable, err)
	}
	claims, err := openReadOnly(claimsPath)
	if err != nil {
		closeDB(rules)
		return nil, fmt.Errorf("%w: open claims database: %v", ErrStoreUnavailable, err)
	}

	return NewSQLStore(rules, claims, log), nil
}

// NewSQLStore wraps existing GORM handles
func NewSQLStore(rules, claims *gorm.DB, log *zap.Logger) *SQLStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &SQLStore{rules: rules, claims: claims, logger: log}
}

func openReadOnly(path string) (*gorm.DB, error) {
	dsn := fmt.Sprintf("file:%s?mode=ro", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// Close closes both database handles
func (s *SQLStore) Close() error {
	return errors.Join(closeDB(s.rules), closeDB(s.claims))
}

func closeDB(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Fetch runs the L1 rule's query for claimID
func (s *SQLStore) Fetch(ctx context.Context, ruleID, claimID string) (model.EvidenceFact, error) {
	rule, err := s.l1Rule(ctx, ruleID)
	if err != nil {
		return model.EvidenceFact{}, err
	}

	query := strings.TrimSpace(rule.SQLQuery)
	if query == "" {
		return model.EvidenceFact{}, fmt.Errorf("%w: rule %s has no extraction query", ErrEvidenceNotFound, ruleID)
	}
	if !isReadQuery(query) {
		return model.EvidenceFact{}, fmt.Errorf("%w: rule %s query is not a SELECT", ErrStoreUnavailable, ruleID)
	}

	var args []interface{}
	if strings.Contains(query, "?") {
		args = append(args, claimID)
	}

	rows, err := s.claims.WithContext(ctx).Raw(query, args...).Rows()
	if err != nil {
		return model.EvidenceFact{}, fmt.Errorf("%w: rule %s: %v", ErrStoreUnavailable, ruleID, err)
	}
	defer func() { _ = rows.Close() }()

	value, found, err := firstRowValue(rows)
	if err != nil {
		return model.EvidenceFact{}, fmt.Errorf("%w: rule %s: %v", ErrStoreUnavailable, ruleID, err)
	}
	if !found {
		return model.EvidenceFact{}, fmt.Errorf("%w: rule %s, claim %s", ErrEvidenceNotFound, ruleID, claimID)
	}

	s.logger.Debug("fetched evidence",
		zap.String("rule_id", ruleID),
		zap.String("claim_id", claimID),
	)

	return model.EvidenceFact{
		RuleID:          rule.RuleID,
		ClaimID:         claimID,
		Value:           value,
		SourceReference: rule.SourceDocument,
	}, nil
}

// firstRowValue reads the first row; multiple columns are joined with ", ".
// NULL columns contribute nothing.
func firstRowValue(rows *sql.Rows) (string, bool, error) {
	if !rows.Next() {
		return "", false, rows.Err()
	}

	cols, err := rows.Columns()
	if err != nil {
		return "", false, err
	}

	values := make([]sql.NullString, len(cols))
	dest := make([]interface{}, len(cols))
	for i := range values {
		dest[i] = &values[i]
	}
	if err := rows.Scan(dest...); err != nil {
		return "", false, err
	}

	parts := make([]string, 0, len(values))
	for _, v := range values {
		if v.Valid && v.String != "" {
			parts = append(parts, v.String)
		}
	}
	return strings.Join(parts, ", "), true, nil
}

func isReadQuery(query string) bool {
	upper := strings.ToUpper(query)
	return strings.HasPrefix(upper, "SELECT") || strings.HasPrefix(upper, "WITH")
}

// Rule returns the descriptor of an L1 or L2 rule
func (s *SQLStore) Rule(ctx context.Context, ruleID string) (model.RuleDescriptor, error) {
	if strings.HasPrefix(strings.ToUpper(ruleID), string(model.TierL2)) {
		var rule l2Rule
		if err := s.take(ctx, &rule, ruleID); err != nil {
			return model.RuleDescriptor{}, err
		}
		return rule.descriptor(), nil
	}

	rule, err := s.l1Rule(ctx, ruleID)
	if err != nil {
		return model.RuleDescriptor{}, err
	}
	return rule.descriptor(), nil
}

// L2Rules returns all L2 rules ordered by id
func (s *SQLStore) L2Rules(ctx context.Context) ([]model.RuleDescriptor, error) {
	var rows []l2Rule
	if err := s.rules.WithContext(ctx).Order("rule_id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("%w: list L2 rules: %v", ErrStoreUnavailable, err)
	}

	rules := make([]model.RuleDescriptor, len(rows))
	for i, row := range rows {
		rules[i] = row.descriptor()
	}
	return rules, nil
}

func (s *SQLStore) l1Rule(ctx context.Context, ruleID string) (l1Rule, error) {
	var rule l1Rule
	err := s.take(ctx, &rule, ruleID)
	return rule, err
}

func (s *SQLStore) take(ctx context.Context, dest interface{}, ruleID string) error {
	err := s.rules.WithContext(ctx).Where("rule_id = ?", ruleID).Take(dest).Error
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%w: %s", ErrRuleNotFound, ruleID)
	default:
		return fmt.Errorf("%w: lookup rule %s: %v", ErrStoreUnavailable, ruleID, err)
	}
}

func (r l1Rule) descriptor() model.RuleDescriptor {
	return model.RuleDescriptor{
		ID:             r.RuleID,
		Tier:           model.TierL1,
		Description:    r.Description,
		SourceDocument: r.SourceDocument,
		CheckRuleID:    r.CheckRuleID,
		Query:          r.SQLQuery,
	}
}

func (r l2Rule) descriptor() model.RuleDescriptor {
	return model.RuleDescriptor{
		ID:          r.RuleID,
		Tier:        model.TierL2,
		Description: r.RuleDescription,
		L1Value:     r.L1RuleID,
	}
}

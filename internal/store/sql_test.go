package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ppiankov/rulecheck/internal/model"
)

func openWritable(t *testing.T, path string) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	t.Cleanup(func() { _ = closeDB(db) })
	return db
}

func exec(t *testing.T, db *gorm.DB, stmt string, args ...interface{}) {
	t.Helper()
	if err := db.Exec(stmt, args...).Error; err != nil {
		t.Fatalf("exec %q: %v", stmt, err)
	}
}

// newTestSQLStore builds rules and claims databases shaped like production ones
func newTestSQLStore(t *testing.T) *SQLStore {
	t.Helper()
	dir := t.TempDir()
	rulesPath := filepath.Join(dir, "rules.db")
	claimsPath := filepath.Join(dir, "claims.db")

	rules := openWritable(t, rulesPath)
	exec(t, rules, `CREATE TABLE l1_rules (rule_id TEXT PRIMARY KEY, check_rule_id TEXT, description TEXT NOT NULL, sql_query TEXT, source_document TEXT)`)
	exec(t, rules, `CREATE TABLE l2_rules (rule_id TEXT PRIMARY KEY, rule_description TEXT NOT NULL, l1_rule_id TEXT)`)
	exec(t, rules, `INSERT INTO l1_rules VALUES (?, ?, ?, ?, ?)`, "L1_01_06", "CH01", "Patient name on claim form",
		`SELECT "Claim_form_page_1.Patient_Name" FROM PatientData WHERE ClaimID = ?`, "Claim form")
	exec(t, rules, `INSERT INTO l1_rules VALUES (?, ?, ?, ?, ?)`, "L1_05_01", "CH05", "Patient name on Aadhaar card",
		`SELECT "Aadhaar.Name", "Aadhaar.Surname" FROM PatientData WHERE ClaimID = ?`, "Aadhar card")
	exec(t, rules, `INSERT INTO l1_rules VALUES (?, ?, ?, ?, ?)`, "L1_09_01", "CH09", "Rule without query", "", "")
	exec(t, rules, `INSERT INTO l1_rules VALUES (?, ?, ?, ?, ?)`, "L1_09_02", "CH09", "Unsafe query", "DELETE FROM PatientData", "")
	exec(t, rules, `INSERT INTO l1_rules VALUES (?, ?, ?, ?, ?)`, "L1_09_03", "CH09", "Broken query", "SELECT missing_column FROM PatientData WHERE ClaimID = ?", "")
	exec(t, rules, `INSERT INTO l2_rules VALUES (?, ?, ?)`, "L2_02", "Check if the patient name matches", "Claim form : L1_01_06, Aadhar card : L1_05_01")
	exec(t, rules, `INSERT INTO l2_rules VALUES (?, ?, ?)`, "L2_01", "Is the Rohini ID present", "Pass")
	exec(t, rules, `CREATE TABLE check_rules (rules_id TEXT PRIMARY KEY, rules_description TEXT)`)
	exec(t, rules, `CREATE TABLE procedure_rules (id INTEGER PRIMARY KEY, proc_name TEXT, check_rules TEXT, procedure_rules TEXT)`)
	exec(t, rules, `INSERT INTO check_rules VALUES (?, ?)`, "CH01", "Is the Claim form submitted?")
	exec(t, rules, `INSERT INTO check_rules VALUES (?, ?)`, "CH05", "Is the Aadhaar submitted?")
	exec(t, rules, `INSERT INTO procedure_rules VALUES (?, ?, ?, ?)`, 1, "Cataract Surgery", "CH01, CH05", "[CH01, (CH05, CH07)]")
	exec(t, rules, `INSERT INTO procedure_rules VALUES (?, ?, ?, ?)`, 2, "Appendectomy", "CH01", "")

	claims := openWritable(t, claimsPath)
	exec(t, claims, `CREATE TABLE PatientData (ClaimID TEXT, "Claim_form_page_1.Patient_Name" TEXT, "Aadhaar.Name" TEXT, "Aadhaar.Surname" TEXT)`)
	exec(t, claims, `INSERT INTO PatientData VALUES (?, ?, ?, ?)`, "8956", "Ravi Kumar", "Ravi", "Kumar")
	exec(t, claims, `INSERT INTO PatientData VALUES (?, ?, ?, ?)`, "9000", nil, nil, nil)

	s, err := OpenSQLStore(rulesPath, claimsPath, nil)
	if err != nil {
		t.Fatalf("OpenSQLStore failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLStore_Fetch(t *testing.T) {
	s := newTestSQLStore(t)
	ctx := context.Background()

	fact, err := s.Fetch(ctx, "L1_01_06", "8956")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if fact.Value != "Ravi Kumar" {
		t.Errorf("expected Ravi Kumar, got %q", fact.Value)
	}
	if fact.SourceReference != "Claim form" {
		t.Errorf("expected source Claim form, got %q", fact.SourceReference)
	}
	if fact.ClaimID != "8956" || fact.RuleID != "L1_01_06" {
		t.Errorf("unexpected identifiers: %+v", fact)
	}

	multi, err := s.Fetch(ctx, "L1_05_01", "8956")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if multi.Value != "Ravi, Kumar" {
		t.Errorf("expected joined columns, got %q", multi.Value)
	}
}

func TestSQLStore_FetchNullIsEmptyFact(t *testing.T) {
	s := newTestSQLStore(t)

	fact, err := s.Fetch(context.Background(), "L1_01_06", "9000")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if fact.Value != "" {
		t.Errorf("expected empty value, got %q", fact.Value)
	}
}

func TestSQLStore_FetchErrors(t *testing.T) {
	s := newTestSQLStore(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		ruleID string
		claim  string
		want   error
	}{
		{"unknown rule", "L1_99_99", "8956", ErrEvidenceNotFound},
		{"unknown claim", "L1_01_06", "0000", ErrEvidenceNotFound},
		{"rule without query", "L1_09_01", "8956", ErrEvidenceNotFound},
		{"non-select query", "L1_09_02", "8956", ErrStoreUnavailable},
		{"broken query", "L1_09_03", "8956", ErrStoreUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Fetch(ctx, tt.ruleID, tt.claim)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestSQLStore_Rules(t *testing.T) {
	s := newTestSQLStore(t)
	ctx := context.Background()

	l1, err := s.Rule(ctx, "L1_05_01")
	if err != nil {
		t.Fatalf("Rule failed: %v", err)
	}
	if l1.Tier != model.TierL1 || l1.SourceDocument != "Aadhar card" || l1.CheckRuleID != "CH05" {
		t.Errorf("unexpected L1 descriptor: %+v", l1)
	}

	l2, err := s.Rule(ctx, "L2_02")
	if err != nil {
		t.Fatalf("Rule failed: %v", err)
	}
	if l2.Tier != model.TierL2 || l2.L1Value != "Claim form : L1_01_06, Aadhar card : L1_05_01" {
		t.Errorf("unexpected L2 descriptor: %+v", l2)
	}

	if _, err := s.Rule(ctx, "L2_99"); !errors.Is(err, ErrRuleNotFound) {
		t.Errorf("expected ErrRuleNotFound, got %v", err)
	}

	all, err := s.L2Rules(ctx)
	if err != nil {
		t.Fatalf("L2Rules failed: %v", err)
	}
	if len(all) != 2 || all[0].ID != "L2_01" || all[1].ID != "L2_02" {
		t.Errorf("unexpected L2 rules: %+v", all)
	}
}

func TestOpenSQLStore_MissingDatabase(t *testing.T) {
	dir := t.TempDir()
	_, err := OpenSQLStore(filepath.Join(dir, "missing.db"), filepath.Join(dir, "missing2.db"), nil)
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestSQLStore_Procedures(t *testing.T) {
	s := newTestSQLStore(t)
	ctx := context.Background()

	procedures, err := s.Procedures(ctx)
	if err != nil {
		t.Fatalf("Procedures failed: %v", err)
	}
	if len(procedures) != 2 || procedures[0].Name != "Appendectomy" {
		t.Fatalf("expected 2 procedures ordered by name, got %+v", procedures)
	}

	p, err := s.Procedure(ctx, " cataract surgery ")
	if err != nil {
		t.Fatalf("Procedure failed: %v", err)
	}
	if p.Expression != "[CH01, (CH05, CH07)]" || p.CheckRules != "CH01, CH05" {
		t.Errorf("unexpected procedure: %+v", p)
	}

	if _, err := s.Procedure(ctx, "Bypass"); !errors.Is(err, ErrProcedureNotFound) {
		t.Errorf("expected ErrProcedureNotFound, got %v", err)
	}
}

func TestSQLStore_CheckRules(t *testing.T) {
	s := newTestSQLStore(t)
	ctx := context.Background()

	checks, err := s.CheckRules(ctx, []string{"CH01", "CH05", "CH07"})
	if err != nil {
		t.Fatalf("CheckRules failed: %v", err)
	}
	if len(checks) != 2 {
		t.Fatalf("expected 2 defined checks, got %d", len(checks))
	}
	if _, ok := checks["CH07"]; ok {
		t.Error("undefined check rule must be absent")
	}
	if checks["CH05"].Description != "Is the Aadhaar submitted?" {
		t.Errorf("unexpected description: %q", checks["CH05"].Description)
	}

	rules, err := s.L1RulesForCheck(ctx, "CH09")
	if err != nil {
		t.Fatalf("L1RulesForCheck failed: %v", err)
	}
	if len(rules) != 3 || rules[0].ID != "L1_09_01" {
		t.Errorf("expected 3 ordered CH09 rules, got %+v", rules)
	}
}

func TestSQLStore_DocumentSubmitted(t *testing.T) {
	s := newTestSQLStore(t)
	ctx := context.Background()

	tests := []struct {
		name        string
		claim       string
		description string
		want        bool
	}{
		{"claim form present", "8956", "Is the Claim form submitted?", true},
		{"aadhaar present", "8956", "Is the Aadhaar submitted?", true},
		{"all values null", "9000", "Is the Claim form submitted?", false},
		{"unknown claim", "1234", "Is the Claim form submitted?", false},
		{"no matching column", "8956", "Is the Discharge summary submitted?", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.DocumentSubmitted(ctx, tt.claim, tt.description)
			if err != nil {
				t.Fatalf("DocumentSubmitted failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestDocumentKeyword(t *testing.T) {
	tests := map[string]string{
		"Is the Claim form submitted?": "claim_form",
		"is the aadhaar submitted":     "aadhaar",
		"  Discharge Summary  ":        "discharge_summary",
		"":                             "",
	}
	for in, want := range tests {
		if got := DocumentKeyword(in); got != want {
			t.Errorf("DocumentKeyword(%q) = %q, want %q", in, got, want)
		}
	}
}

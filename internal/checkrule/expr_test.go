package checkrule

import (
	"errors"
	"reflect"
	"testing"
)

func TestParse_Eval(t *testing.T) {
	tests := []struct {
		name      string
		expr      string
		submitted map[string]bool
		want      bool
	}{
		{"all and any satisfied", "[CH01, (CH02, CH03)]", map[string]bool{"CH01": true, "CH03": true}, true},
		{"any group unsatisfied", "[CH01, (CH02, CH03)]", map[string]bool{"CH01": true}, false},
		{"all group unsatisfied", "[CH01, (CH02, CH03)]", map[string]bool{"CH02": true, "CH03": true}, false},
		{"single id", "CH01", map[string]bool{"CH01": true}, true},
		{"single id missing", "CH01", map[string]bool{}, false},
		{"top-level list needs all", "CH01, CH02", map[string]bool{"CH01": true}, false},
		{"top-level list satisfied", "CH01, CH02", map[string]bool{"CH01": true, "CH02": true}, true},
		{"any of two", "(CH01, CH02)", map[string]bool{"CH02": true}, true},
		{"nested all inside any", "([CH01, CH02], CH03)", map[string]bool{"CH01": true, "CH02": true}, true},
		{"lower case ids", "[ch01, ch02]", map[string]bool{"CH01": true, "CH02": true}, true},
		{"three digit id", "CH100", map[string]bool{"CH100": true}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expr, err := Parse(tt.expr)
			if err != nil {
				t.Fatalf("Parse(%q) failed: %v", tt.expr, err)
			}
			if got := expr.Eval(tt.submitted); got != tt.want {
				t.Errorf("Eval = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParse_Blank(t *testing.T) {
	for _, s := range []string{"", "   ", "\n"} {
		expr, err := Parse(s)
		if err != nil {
			t.Errorf("Parse(%q) failed: %v", s, err)
		}
		if expr != nil {
			t.Errorf("Parse(%q) = %v, want nil", s, expr)
		}
		if ids := IDs(expr); len(ids) != 0 {
			t.Errorf("expected no ids, got %v", ids)
		}
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []string{
		"[CH01",
		"CH01)",
		"[CH01)",
		"[]",
		"( )",
		"(CH01,)",
		"CH1",
		"CHX1",
		"CH01 CH02",
		"L1_01_06",
		"[CH01, (CH02, CH03]",
	}

	for _, s := range tests {
		t.Run(s, func(t *testing.T) {
			if _, err := Parse(s); !errors.Is(err, ErrInvalidExpression) {
				t.Errorf("Parse(%q) error = %v, want ErrInvalidExpression", s, err)
			}
		})
	}
}

func TestIDs_OrderAndDedup(t *testing.T) {
	expr, err := Parse("[CH02, (CH01, ch02), CH05]")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	want := []string{"CH02", "CH01", "CH05"}
	if got := IDs(expr); !reflect.DeepEqual(got, want) {
		t.Errorf("IDs = %v, want %v", got, want)
	}
}

func TestExpr_String(t *testing.T) {
	expr, err := Parse(" [ch01,(CH02 , CH03)] ")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if got := expr.String(); got != "[CH01, (CH02, CH03)]" {
		t.Errorf("String = %q", got)
	}
}

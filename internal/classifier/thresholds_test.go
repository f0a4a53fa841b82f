package classifier

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadThresholdsKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "thresholds.yaml")
	if err := os.WriteFile(path, []byte(`
memoryWarning:
  op: ">"
  value: 70
crashLoopRestarts:
  op: ">="
  value: 5
`), 0o600); err != nil {
		t.Fatalf("write thresholds: %v", err)
	}

	th, err := LoadThresholds(path)
	if err != nil {
		t.Fatalf("load thresholds: %v", err)
	}
	if th.CPUCritical != DefaultThresholds().CPUCritical {
		t.Fatalf("expected default cpuCritical, got %+v", th.CPUCritical)
	}
	if hit, _, _ := EvaluateCondition(th.MemoryWarning, 75.0); !hit {
		t.Fatalf("expected memoryWarning > 70 to match 75")
	}
	if hit, _, _ := EvaluateCondition(th.CrashLoopRestarts, 4); hit {
		t.Fatalf("expected crashLoopRestarts >= 5 not to match 4")
	}
}

func TestParseThresholdsRejectsInvalid(t *testing.T) {
	cases := []struct {
		name string
		doc  string
		want string
	}{
		{"operator", "cpuCritical:\n  op: \"~\"\n  value: 90\n", "unknown operator"},
		{"value", "cpuWarning:\n  op: \">\"\n  value: high\n", "not numeric"},
		{"between", "cpuWarning:\n  op: between\n  min: 10\n", "min and max"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseThresholds([]byte(tc.doc))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestEvaluateConditionBetween(t *testing.T) {
	min, max := 10.0, 20.0
	hit, _, expr := EvaluateCondition(ConditionSpec{Op: "between", Min: &min, Max: &max}, 15)
	if !hit {
		t.Fatalf("expected 15 between 10 and 20")
	}
	if expr != "between 10 and 20" {
		t.Fatalf("unexpected expression %q", expr)
	}
}

func TestEvaluateConditionGreater(t *testing.T) {
	hit, observed, expr := EvaluateCondition(ConditionSpec{Op: ">", Value: 80}, 90.5)
	if !hit || observed != "90.5" || expr != "> 80" {
		t.Fatalf("unexpected result hit=%v observed=%q expr=%q", hit, observed, expr)
	}
	if hit, _, _ := EvaluateCondition(ConditionSpec{Op: ">", Value: "80"}, 70); hit {
		t.Fatalf("expected 70 > 80 to be false")
	}
}

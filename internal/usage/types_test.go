package usage

import (
	"encoding/json"
	"testing"
)

func TestBudgetStatusString(t *testing.T) {
	tests := []struct {
		status BudgetStatus
		want   string
	}{
		{BudgetOK, "ok"},
		{BudgetWarning, "warning"},
		{BudgetCritical, "critical"},
		{BudgetExceeded, "exceeded"},
		{BudgetUnknown, "unknown"},
		{BudgetStatus(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.status.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
			if tt.status == BudgetStatus(99) {
				return
			}
			parsed, err := ParseBudgetStatus(tt.want)
			if err != nil || parsed != tt.status {
				t.Errorf("ParseBudgetStatus(%q) = %v, %v", tt.want, parsed, err)
			}
		})
	}

	if _, err := ParseBudgetStatus("fine"); err == nil {
		t.Error("ParseBudgetStatus(fine) should fail")
	}
}

func TestBudgetStatusJSON(t *testing.T) {
	data, err := json.Marshal(map[string]BudgetStatus{"scout": BudgetCritical})
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"scout":"critical"}` {
		t.Fatalf("json = %s", data)
	}
}

func TestLevel(t *testing.T) {
	tests := []struct {
		name  string
		used  int64
		limit int64
		want  BudgetStatus
	}{
		{"zero", 0, 1000, BudgetOK},
		{"just under half", 499, 1000, BudgetOK},
		{"49.9 percent", 4999, 10000, BudgetOK},
		{"exactly half", 500, 1000, BudgetWarning},
		{"79.99 percent", 7999, 10000, BudgetWarning},
		{"exactly 80", 800, 1000, BudgetCritical},
		{"99.9 percent", 999, 1000, BudgetCritical},
		{"exactly 100", 1000, 1000, BudgetExceeded},
		{"over", 1500, 1000, BudgetExceeded},
		{"odd limit half", 3, 6, BudgetWarning},
		{"odd limit below half", 2, 6, BudgetOK},
		{"zero limit", 10, 0, BudgetUnknown},
		{"negative limit", 10, -5, BudgetUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Level(tt.used, tt.limit); got != tt.want {
				t.Errorf("Level(%d, %d) = %v, want %v", tt.used, tt.limit, got, tt.want)
			}
		})
	}
}

func TestCostTable(t *testing.T) {
	c := DefaultCostTable().WithOverrides(map[string]int64{"Bash": 250, "deploy": 900}, 75)

	tests := []struct {
		tool string
		want int64
	}{
		{"bash", 250},
		{"BASH", 250},
		{"deploy", 900},
		{"read", 50},
		{"never-heard-of-it", 75},
	}
	for _, tt := range tests {
		t.Run(tt.tool, func(t *testing.T) {
			if got := c.Cost(tt.tool); got != tt.want {
				t.Errorf("Cost(%q) = %d, want %d", tt.tool, got, tt.want)
			}
		})
	}

	got := c.ToolTokens(map[string]int64{"bash": 2, "read": 3, "mystery": 1, "ignored": 0})
	if want := int64(2*250 + 3*50 + 75); got != want {
		t.Errorf("ToolTokens = %d, want %d", got, want)
	}

	if DefaultCostTable().Cost("unknown") != DefaultToolCost {
		t.Error("default table should charge DefaultToolCost for unknown tools")
	}
	if (CostTable{}).Cost("x") != DefaultToolCost {
		t.Error("zero table should fall back to DefaultToolCost")
	}
}

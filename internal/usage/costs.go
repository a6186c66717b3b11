package usage

import (
	"sort"
	"strings"
)

// DefaultToolCost is charged for tools missing from the cost table.
const DefaultToolCost int64 = 100

// CostTable maps a tool name to the tokens one invocation is charged.
type CostTable struct {
	Tools   map[string]int64
	Default int64
}

// DefaultCostTable returns the built-in per-tool costs.
func DefaultCostTable() CostTable {
	return CostTable{
		Tools: map[string]int64{
			"read":       50,
			"write":      120,
			"edit":       100,
			"bash":       200,
			"grep":       40,
			"glob":       30,
			"web_fetch":  400,
			"web_search": 300,
			"task":       500,
		},
		Default: DefaultToolCost,
	}
}

// WithOverrides returns a copy of c with overrides applied. A non-positive
// defaultCost keeps the current default.
func (c CostTable) WithOverrides(overrides map[string]int64, defaultCost int64) CostTable {
	out := CostTable{Tools: make(map[string]int64, len(c.Tools)+len(overrides)), Default: c.Default}
	for k, v := range c.Tools {
		out.Tools[k] = v
	}
	for k, v := range overrides {
		out.Tools[normalizeTool(k)] = v
	}
	if defaultCost > 0 {
		out.Default = defaultCost
	}
	return out
}

// Cost returns the per-invocation cost of tool.
func (c CostTable) Cost(tool string) int64 {
	if v, ok := c.Tools[normalizeTool(tool)]; ok {
		return v
	}
	if c.Default > 0 {
		return c.Default
	}
	return DefaultToolCost
}

// ToolTokens sums count x cost over calls.
func (c CostTable) ToolTokens(calls map[string]int64) int64 {
	var total int64
	for tool, n := range calls {
		if n > 0 {
			total += n * c.Cost(tool)
		}
	}
	return total
}

// Names returns the tools with an explicit cost, sorted.
func (c CostTable) Names() []string {
	names := make([]string, 0, len(c.Tools))
	for k := range c.Tools {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func normalizeTool(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

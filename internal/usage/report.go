package usage

import (
	"fmt"
	"sort"
)

// AgentRow is one line of the per-agent breakdown.
type AgentRow struct {
	AgentID string `json:"agent_id"`
	AgentUsage
	Share float64 `json:"share"` // of summary total_tokens, 0..1
}

// ToolRow is one line of the per-tool breakdown.
type ToolRow struct {
	Tool        string           `json:"tool"`
	Invocations int64            `json:"invocations"`
	TotalTokens int64            `json:"total_tokens"`
	AvgCost     float64          `json:"avg_cost"`
	ByAgent     map[string]int64 `json:"by_agent,omitempty"`
}

// Report is a read-only projection of a baseline.
type Report struct {
	Summary         Summary    `json:"summary"`
	Agents          []AgentRow `json:"agents"`
	Tools           []ToolRow  `json:"tools"`
	Recommendations []string   `json:"recommendations"`
}

// Report tuning.
const (
	heavyToolShare     = 0.30
	costlyAgentFactor  = 1.5
	minSessionsToJudge = 2
)

// BuildReport ranks agents by total_tokens and tools by invocations, both
// descending with ties broken by name, and derives recommendations. It does
// not modify b.
func BuildReport(b *Baseline) Report {
	var r Report
	if b == nil {
		r.Recommendations = []string{"No sessions recorded yet."}
		return r
	}
	r.Summary = b.Summary

	for id, a := range b.Agents {
		if a == nil {
			continue
		}
		row := AgentRow{AgentID: id, AgentUsage: *a}
		if b.Summary.TotalTokens > 0 {
			row.Share = float64(a.TotalTokens) / float64(b.Summary.TotalTokens)
		}
		r.Agents = append(r.Agents, row)
	}
	sort.Slice(r.Agents, func(i, j int) bool {
		if r.Agents[i].TotalTokens != r.Agents[j].TotalTokens {
			return r.Agents[i].TotalTokens > r.Agents[j].TotalTokens
		}
		return r.Agents[i].AgentID < r.Agents[j].AgentID
	})

	for name, t := range b.Tools {
		if t == nil {
			continue
		}
		row := ToolRow{Tool: name, Invocations: t.Invocations, TotalTokens: t.TotalTokens, ByAgent: t.ByAgent}
		if t.Invocations > 0 {
			row.AvgCost = float64(t.TotalTokens) / float64(t.Invocations)
		}
		r.Tools = append(r.Tools, row)
	}
	sort.Slice(r.Tools, func(i, j int) bool {
		if r.Tools[i].Invocations != r.Tools[j].Invocations {
			return r.Tools[i].Invocations > r.Tools[j].Invocations
		}
		return r.Tools[i].Tool < r.Tools[j].Tool
	})

	r.Recommendations = recommend(r)
	return r
}

func recommend(r Report) []string {
	if r.Summary.TotalSessions == 0 {
		return []string{"No sessions recorded yet."}
	}
	var recs []string

	var toolTokens int64
	for _, t := range r.Tools {
		toolTokens += t.TotalTokens
	}
	byTokens := append([]ToolRow(nil), r.Tools...)
	sort.SliceStable(byTokens, func(i, j int) bool { return byTokens[i].TotalTokens > byTokens[j].TotalTokens })
	if toolTokens > 0 && len(byTokens) > 1 {
		top := byTokens[0]
		if share := float64(top.TotalTokens) / float64(toolTokens); share >= heavyToolShare {
			recs = append(recs, fmt.Sprintf("%s accounts for %.0f%% of tool tokens; batch or cache its calls.", top.Tool, share*100))
		}
	}

	var fleetCost float64
	var sessions int64
	for _, a := range r.Agents {
		fleetCost += float64(a.TotalTokens + a.ToolTokens)
		sessions += a.TotalSessions
	}
	if sessions > 0 && len(r.Agents) > 1 {
		avg := fleetCost / float64(sessions)
		for _, a := range r.Agents {
			if a.TotalSessions < minSessionsToJudge {
				continue
			}
			if a.AvgSessionCost >= avg*costlyAgentFactor {
				recs = append(recs, fmt.Sprintf("%s averages %.0f tokens per session, %.1fx the fleet average; tighten its prompts or scope.",
					a.AgentID, a.AvgSessionCost, a.AvgSessionCost/avg))
			}
		}
	}

	for _, a := range r.Agents {
		if a.TotalTokens > 0 && a.ToolTokens > a.TotalTokens {
			recs = append(recs, fmt.Sprintf("%s spends more on tool overhead (%d) than on model tokens (%d).",
				a.AgentID, a.ToolTokens, a.TotalTokens))
		}
	}

	if len(recs) == 0 {
		recs = append(recs, "Usage is balanced; no changes suggested.")
	}
	return recs
}

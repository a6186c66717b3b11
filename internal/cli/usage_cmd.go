package cli

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/agusx1211/switchyard/internal/theme"
	"github.com/agusx1211/switchyard/internal/usage"
)

var usageCmd = &cobra.Command{
	Use:     "usage",
	Aliases: []string{"tokens"},
	Short:   "Record and report agent token usage",
	Long: `Usage is folded into a cumulative baseline, one session at a time. Finished
sessions either record directly ('record') or submit a completion report to the
inbox ('submit'), which the usage pipeline of 'switchyard daemon' records
exactly once.

Examples:
  switchyard usage submit sess-42 scout --input 1200 --output 800 --tool bash=3
  switchyard usage report
  switchyard usage report --tools --json
  switchyard usage budget scout --limit 500000`,
}

var usageRecordCmd = &cobra.Command{
	Use:   "record <session-id> <agent>",
	Short: "Record a finished session directly",
	Args:  cobra.ExactArgs(2),
	RunE:  runUsageRecord,
}

var usageSubmitCmd = &cobra.Command{
	Use:   "submit <session-id> <agent>",
	Short: "Submit a completion report to the inbox",
	Args:  cobra.ExactArgs(2),
	RunE:  runUsageSubmit,
}

var usageReportCmd = &cobra.Command{
	Use:   "report",
	Short: "Show the usage report",
	RunE:  runUsageReport,
}

var usageBudgetCmd = &cobra.Command{
	Use:   "budget [agent]...",
	Short: "Classify agents against the daily token limit",
	RunE:  runUsageBudget,
}

var usageLogCmd = &cobra.Command{
	Use:   "log [YYYY-MM-DD]",
	Short: "Print the sessions logged for a day",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runUsageLog,
}

func addStatsFlags(cmd *cobra.Command) {
	cmd.Flags().Int64("input", 0, "Input tokens")
	cmd.Flags().Int64("output", 0, "Output tokens")
	cmd.Flags().StringArray("tool", nil, "Tool calls as name=count (repeatable)")
}

func init() {
	addStatsFlags(usageRecordCmd)
	addStatsFlags(usageSubmitCmd)
	usageReportCmd.Flags().Bool("baseline", false, "Print the raw baseline document")
	usageReportCmd.Flags().Bool("agents", false, "Show the per-agent breakdown")
	usageReportCmd.Flags().Bool("tools", false, "Show the per-tool breakdown")
	usageReportCmd.Flags().Bool("recommendations", false, "Show recommendations")
	usageReportCmd.Flags().Bool("json", false, "Output as JSON")
	usageBudgetCmd.Flags().Int64("limit", 0, "Daily token limit (default: usage.daily_limit)")
	usageBudgetCmd.Flags().Bool("json", false, "Output as JSON")
	usageLogCmd.Flags().Bool("json", false, "Output as JSON")
	usageCmd.AddCommand(usageRecordCmd, usageSubmitCmd, usageReportCmd, usageBudgetCmd, usageLogCmd)
	rootCmd.AddCommand(usageCmd)
}

func statsFromFlags(cmd *cobra.Command) (usage.SessionStats, error) {
	in, _ := cmd.Flags().GetInt64("input")
	out, _ := cmd.Flags().GetInt64("output")
	toolFlags, _ := cmd.Flags().GetStringArray("tool")
	if in < 0 || out < 0 {
		return usage.SessionStats{}, fmt.Errorf("token counts must not be negative")
	}
	tools, err := parseToolCounts(toolFlags)
	if err != nil {
		return usage.SessionStats{}, err
	}
	return usage.SessionStats{InputTokens: in, OutputTokens: out, ToolCalls: tools, EndedAt: time.Now().UTC()}, nil
}

func runUsageRecord(cmd *cobra.Command, args []string) error {
	stats, err := statsFromFlags(cmd)
	if err != nil {
		return err
	}
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	rec, err := a.aggregator().RecordSession(cmdContext(cmd), args[0], args[1], stats)
	if err != nil {
		return err
	}
	fmt.Printf("%sRecorded%s %s: %s tokens, %s tool tokens\n", styleBoldGreen, colorReset,
		rec.SessionID, formatTokens(rec.TotalTokens), formatTokens(rec.ToolTokens))
	return nil
}

func runUsageSubmit(cmd *cobra.Command, args []string) error {
	stats, err := statsFromFlags(cmd)
	if err != nil {
		return err
	}
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	added, err := usage.Submit(cmdContext(cmd), usage.NewInbox(a.store), usage.CompletionReport{
		SessionID: args[0],
		AgentID:   args[1],
		Stats:     stats,
	})
	if err != nil {
		return err
	}
	if !added {
		fmt.Printf("%sAlready submitted%s %s\n", styleBoldYellow, colorReset, args[0])
		return nil
	}
	fmt.Printf("%sSubmitted%s %s\n", styleBoldGreen, colorReset, args[0])
	return nil
}

func runUsageReport(cmd *cobra.Command, args []string) error {
	showBaseline, _ := cmd.Flags().GetBool("baseline")
	showAgents, _ := cmd.Flags().GetBool("agents")
	showTools, _ := cmd.Flags().GetBool("tools")
	showRecs, _ := cmd.Flags().GetBool("recommendations")
	asJSON, _ := cmd.Flags().GetBool("json")
	if !showAgents && !showTools && !showRecs {
		showAgents, showTools, showRecs = true, true, true
	}

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	b, err := a.aggregator().Baseline(cmdContext(cmd))
	if err != nil {
		return err
	}
	if showBaseline {
		return printJSON(b)
	}
	r := usage.BuildReport(b)
	if asJSON {
		out := usage.Report{Summary: r.Summary}
		if showAgents {
			out.Agents = r.Agents
		}
		if showTools {
			out.Tools = r.Tools
		}
		if showRecs {
			out.Recommendations = r.Recommendations
		}
		return printJSON(out)
	}

	printUsageReport(a, r, showAgents, showTools, showRecs)
	return nil
}

func printUsageReport(a *app, r usage.Report, showAgents, showTools, showRecs bool) {
	ids := a.cfg.Identities()
	summary := strings.Join([]string{
		theme.Label.Render("sessions ") + theme.Value.Render(strconv.FormatInt(r.Summary.TotalSessions, 10)),
		theme.Label.Render("tokens ") + theme.Value.Render(formatTokens(r.Summary.TotalTokens)),
		theme.Label.Render("tool calls ") + theme.Value.Render(formatTokens(r.Summary.TotalToolCalls)),
		theme.Label.Render("avg/session ") + theme.Value.Render(fmt.Sprintf("%.0f", r.Summary.AvgTokensPerSession)),
	}, theme.Dim.Render("  ·  "))
	fmt.Println()
	fmt.Println(theme.Box.Render(theme.Title.Render("Token usage") + "\n" + summary))

	if showAgents {
		printHeader("Agents")
		rows := make([][]string, 0, len(r.Agents))
		for _, row := range r.Agents {
			status := usage.Level(row.TotalTokens, a.cfg.Usage.DailyLimit).String()
			rows = append(rows, []string{
				ids.Resolve(row.AgentID).Label(),
				strconv.FormatInt(row.TotalSessions, 10),
				formatTokens(row.TotalTokens),
				fmt.Sprintf("%.1f%%", row.Share*100),
				formatTokens(row.ToolTokens),
				fmt.Sprintf("%.0f", row.AvgSessionCost),
				theme.Status(status),
			})
		}
		printTable([]string{"AGENT", "SESSIONS", "TOKENS", "SHARE", "TOOL TOKENS", "AVG COST", "BUDGET"}, rows)
	}

	if showTools {
		printHeader("Tools")
		rows := make([][]string, 0, len(r.Tools))
		for _, row := range r.Tools {
			rows = append(rows, []string{
				row.Tool,
				formatTokens(row.Invocations),
				formatTokens(row.TotalTokens),
				fmt.Sprintf("%.0f", row.AvgCost),
				topAgents(row.ByAgent, 3),
			})
		}
		printTable([]string{"TOOL", "CALLS", "TOKENS", "AVG COST", "TOP AGENTS"}, rows)
	}

	if showRecs {
		printHeader("Recommendations")
		for _, rec := range r.Recommendations {
			fmt.Println("  " + theme.Hint.Render("• "+rec))
		}
	}
	fmt.Println()
}

// topAgents lists the n heaviest agents of a tool as "a (12), b (3)".
func topAgents(byAgent map[string]int64, n int) string {
	type kv struct {
		id    string
		count int64
	}
	list := make([]kv, 0, len(byAgent))
	for id, c := range byAgent {
		list = append(list, kv{id, c})
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].count != list[j].count {
			return list[i].count > list[j].count
		}
		return list[i].id < list[j].id
	})
	if len(list) > n {
		list = list[:n]
	}
	parts := make([]string, len(list))
	for i, e := range list {
		parts[i] = fmt.Sprintf("%s (%d)", e.id, e.count)
	}
	return strings.Join(parts, ", ")
}

type budgetRow struct {
	AgentID string             `json:"agent_id"`
	Status  usage.BudgetStatus `json:"status"`
	Used    int64              `json:"used"`
	Limit   int64              `json:"limit"`
}

func runUsageBudget(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt64("limit")
	asJSON, _ := cmd.Flags().GetBool("json")
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	if limit == 0 {
		limit = a.cfg.Usage.DailyLimit
	}

	b, err := a.aggregator().Baseline(cmdContext(cmd))
	if err != nil {
		return err
	}
	agents := args
	if len(agents) == 0 {
		for id := range b.Agents {
			agents = append(agents, id)
		}
		sort.Strings(agents)
	}

	rows := make([]budgetRow, 0, len(agents))
	for _, id := range agents {
		row := budgetRow{AgentID: id, Limit: limit, Status: usage.BudgetFor(b, id, limit)}
		if ag, ok := b.Agents[id]; ok && ag != nil {
			row.Used = ag.TotalTokens
		}
		rows = append(rows, row)
	}
	if asJSON {
		return printJSON(rows)
	}

	printHeader(fmt.Sprintf("Budget (limit %s tokens)", formatTokens(limit)))
	table := make([][]string, 0, len(rows))
	for _, row := range rows {
		frac := 0.0
		if limit > 0 {
			frac = float64(row.Used) / float64(limit)
		}
		table = append(table, []string{
			a.cfg.Identities().Resolve(row.AgentID).Label(),
			formatTokens(row.Used),
			theme.Bar(frac, 20, row.Status.String()),
			theme.Status(row.Status.String()),
		})
	}
	printTable([]string{"AGENT", "USED", "", "STATUS"}, table)
	return nil
}

func runUsageLog(cmd *cobra.Command, args []string) error {
	asJSON, _ := cmd.Flags().GetBool("json")
	day := time.Now().UTC()
	if len(args) == 1 {
		parsed, err := time.Parse(time.DateOnly, args[0])
		if err != nil {
			return fmt.Errorf("invalid day %q (want YYYY-MM-DD)", args[0])
		}
		day = parsed
	}
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	recs, err := a.aggregator().DailyLog(cmdContext(cmd), day)
	if err != nil {
		return err
	}
	if asJSON {
		if recs == nil {
			recs = []usage.SessionRecord{}
		}
		return printJSON(recs)
	}

	printHeader("Sessions on " + day.Format(time.DateOnly))
	rows := make([][]string, 0, len(recs))
	for _, rec := range recs {
		rows = append(rows, []string{
			rec.RecordedAt.Local().Format(time.TimeOnly),
			rec.SessionID,
			rec.AgentID,
			formatTokens(rec.InputTokens),
			formatTokens(rec.OutputTokens),
			formatTokens(rec.ToolTokens),
		})
	}
	printTable([]string{"TIME", "SESSION", "AGENT", "INPUT", "OUTPUT", "TOOL TOKENS"}, rows)
	return nil
}

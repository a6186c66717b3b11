package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/x/ansi"
	"github.com/spf13/cobra"

	"github.com/agusx1211/switchyard/internal/chatrelay"
	"github.com/agusx1211/switchyard/internal/config"
	"github.com/agusx1211/switchyard/internal/docstore"
	"github.com/agusx1211/switchyard/internal/metrics"
	"github.com/agusx1211/switchyard/internal/queue"
	"github.com/agusx1211/switchyard/internal/spawn"
	"github.com/agusx1211/switchyard/internal/usage"
)

// projectRoot resolves --project, then SWITCHYARD_PROJECT_DIR, then the
// working directory.
func projectRoot(cmd *cobra.Command) (string, error) {
	if cmd != nil {
		if flag := cmd.Flags().Lookup("project"); flag != nil {
			if v := strings.TrimSpace(flag.Value.String()); v != "" {
				return v, nil
			}
		}
	}
	if dir := strings.TrimSpace(os.Getenv("SWITCHYARD_PROJECT_DIR")); dir != "" {
		return dir, nil
	}
	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getting working directory: %w", err)
	}
	return dir, nil
}

// cmdContext returns the command's context, or Background when the command
// was not started through Execute.
func cmdContext(cmd *cobra.Command) context.Context {
	if cmd != nil && cmd.Context() != nil {
		return cmd.Context()
	}
	return context.Background()
}

// app bundles what every command needs: config, store and metrics.
type app struct {
	root    string
	cfg     *config.Config
	store   docstore.Store
	metrics *metrics.Metrics
}

// openApp loads the project config and opens its document store.
func openApp(cmd *cobra.Command) (*app, error) {
	root, err := projectRoot(cmd)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(root)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	s, err := docstore.Open(cmdContext(cmd), cfg.StoreOptions(root))
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	return &app{root: root, cfg: cfg, store: s, metrics: metrics.New()}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

func (a *app) forwardQueue() *queue.Queue[chatrelay.ForwardTrigger] {
	return queue.New[chatrelay.ForwardTrigger](a.store, chatrelay.ForwardQueueKey)
}

func (a *app) spawnManager() *spawn.Manager {
	return spawn.NewManager(a.store, spawn.Options{TTL: a.cfg.Spawn.TTL, Metrics: a.metrics})
}

func (a *app) aggregator() *usage.Aggregator {
	costs := usage.DefaultCostTable().WithOverrides(a.cfg.Usage.ToolCosts, a.cfg.Usage.DefaultToolCost)
	return usage.NewAggregator(a.store, costs, usage.WithMetrics(a.metrics))
}

// printHeader prints a formatted section header.
func printHeader(title string) {
	fmt.Printf("\n%s%s%s\n", styleBoldCyan, title, colorReset)
	fmt.Println(colorDim + strings.Repeat("-", ansi.StringWidth(title)+2) + colorReset)
}

// printField prints a labeled field.
func printField(label, value string) {
	fmt.Printf("  %s%-16s%s %s\n", colorBold, label+":", colorReset, value)
}

// printFieldColored prints a labeled field with colored value.
func printFieldColored(label, value, color string) {
	fmt.Printf("  %s%-16s%s %s%s%s\n", colorBold, label+":", colorReset, color, value, colorReset)
}

// statusColor returns an ANSI color code for a queue, spawn or budget status.
func statusColor(status string) string {
	switch s := strings.ToLower(status); {
	case s == "ok", s == "sent", s == "forwarded", s == "completed", s == "recorded", s == "answered", s == "active":
		return colorGreen
	case s == "pending", s == "processing", s == "recording", s == "dispatching", s == "sending",
		s == "forwarding", s == "warning", strings.HasPrefix(s, "needs_"):
		return colorYellow
	case s == "critical", s == "exceeded", s == "failed", s == "error":
		return colorRed
	case s == "expired":
		return colorDim
	case s == "unknown":
		return colorBlue
	default:
		return colorWhite
	}
}

// statusBadge returns a colored status badge.
func statusBadge(status string) string {
	return fmt.Sprintf("%s[%s]%s", statusColor(status), status, colorReset)
}

// printTable prints a simple table with headers and rows. Cells may carry
// ANSI styling; widths are measured on the visible text.
func printTable(headers []string, rows [][]string) {
	if len(rows) == 0 {
		fmt.Println(colorDim + "  (none)" + colorReset)
		return
	}

	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = ansi.StringWidth(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) {
				if w := ansi.StringWidth(cell); w > widths[i] {
					widths[i] = w
				}
			}
		}
	}

	headerLine := "  "
	for i, h := range headers {
		headerLine += colorBold + h + colorReset + strings.Repeat(" ", widths[i]-ansi.StringWidth(h)+2)
	}
	fmt.Println(strings.TrimRight(headerLine, " "))

	sepLine := "  "
	for _, w := range widths {
		sepLine += colorDim + strings.Repeat("-", w+2) + colorReset
	}
	fmt.Println(sepLine)

	for _, row := range rows {
		rowLine := "  "
		for i, cell := range row {
			if i < len(widths) {
				padding := widths[i] - ansi.StringWidth(cell)
				if padding < 0 {
					padding = 0
				}
				rowLine += cell + strings.Repeat(" ", padding+2)
			}
		}
		fmt.Println(strings.TrimRight(rowLine, " "))
	}
}

// truncate shortens s to maxLen visible cells, adding "..." if needed.
func truncate(s string, maxLen int) string {
	return ansi.Truncate(s, maxLen, "...")
}

// firstLine returns the first line of a multi-line string.
func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}

// printJSON writes v as indented JSON to stdout.
func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// parseToolCounts parses repeated --tool name=count flags.
func parseToolCounts(values []string) (map[string]int64, error) {
	if len(values) == 0 {
		return nil, nil
	}
	out := make(map[string]int64, len(values))
	for _, v := range values {
		name, count, ok := strings.Cut(v, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid --tool %q (want name=count)", v)
		}
		n, err := strconv.ParseInt(strings.TrimSpace(count), 10, 64)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid --tool %q: count must be a non-negative integer", v)
		}
		out[name] += n
	}
	return out, nil
}

// formatTokens renders a token count with thousands separators.
func formatTokens(n int64) string {
	s := strconv.FormatInt(n, 10)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}

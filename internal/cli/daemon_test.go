package cli

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/agusx1211/switchyard/internal/chatrelay"
	"github.com/agusx1211/switchyard/internal/config"
	"github.com/agusx1211/switchyard/internal/docstore"
	"github.com/agusx1211/switchyard/internal/spawn"
	"github.com/agusx1211/switchyard/internal/usage"
)

func newProject(t *testing.T) string {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	return t.TempDir()
}

func projectCmd(root string) *cobra.Command {
	cmd := &cobra.Command{}
	cmd.SetContext(context.Background())
	cmd.Flags().String("project", root, "")
	return cmd
}

func daemonOnceCmd(root string) *cobra.Command {
	cmd := projectCmd(root)
	cmd.Flags().Bool("once", true, "")
	cmd.Flags().Bool("no-watch", true, "")
	cmd.Flags().String("metrics-addr", "", "")
	cmd.Flags().String("auth-token", "", "")
	return cmd
}

func openData(t *testing.T, root string) docstore.Store {
	t.Helper()
	s, err := docstore.NewFileStore(filepath.Join(root, config.DirName, "data"))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestResolveTasks(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    []string
		wantErr bool
	}{
		{name: "default all", args: nil, want: allTasks},
		{name: "explicit all", args: []string{"relay", "all"}, want: allTasks},
		{name: "subset keeps order", args: []string{"usage", "relay"}, want: []string{"usage", "relay"}},
		{name: "dedup and case", args: []string{"Relay", "relay"}, want: []string{"relay"}},
		{name: "unknown", args: []string{"mail"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolveTasks(tt.args)
			if (err != nil) != tt.wantErr {
				t.Fatalf("resolveTasks() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && !slices.Equal(got, tt.want) {
				t.Fatalf("resolveTasks() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestChatRelayDispatchOnce(t *testing.T) {
	root := newProject(t)

	say := projectCmd(root)
	say.Flags().String("session", "sess-42", "")
	out := captureStdout(t, func() {
		if err := runChatSay(say, []string{"scout", "check", "the", "build"}); err != nil {
			t.Fatalf("runChatSay() error = %v", err)
		}
	})
	if !strings.Contains(out, "Posted m-") {
		t.Fatalf("runChatSay() output = %q", out)
	}

	out = captureStdout(t, func() {
		if err := runDaemon(daemonOnceCmd(root), []string{"relay", "dispatch"}); err != nil {
			t.Fatalf("runDaemon() error = %v", err)
		}
	})
	if !strings.Contains(out, "1 enqueued") || !strings.Contains(out, "1 delivered") {
		t.Fatalf("daemon --once output = %q", out)
	}

	s := openData(t, root)
	ctx := context.Background()
	records, err := docstore.ReadRecords(ctx, s, chatrelay.OutboxPrefix+"scout")
	if err != nil || len(records) != 1 {
		t.Fatalf("outbox records = %d, err = %v", len(records), err)
	}
	var rec chatrelay.OutboxRecord
	if err := json.Unmarshal(records[0], &rec); err != nil {
		t.Fatal(err)
	}
	if rec.SessionKey != "sess-42" || !strings.Contains(rec.Message, "check the build") {
		t.Fatalf("outbox record = %+v", rec)
	}

	// A second pass finds nothing new.
	out = captureStdout(t, func() {
		if err := runDaemon(daemonOnceCmd(root), []string{"relay", "dispatch"}); err != nil {
			t.Fatalf("second runDaemon() error = %v", err)
		}
	})
	if !strings.Contains(out, "0 enqueued") || !strings.Contains(out, "0 delivered") {
		t.Fatalf("second pass output = %q", out)
	}

	list := projectCmd(root)
	list.Flags().String("status", "", "")
	list.Flags().Bool("json", true, "")
	out = captureStdout(t, func() {
		if err := runForwardList(list, nil); err != nil {
			t.Fatalf("runForwardList() error = %v", err)
		}
	})
	var items []chatrelay.ForwardItem
	if err := json.Unmarshal([]byte(out), &items); err != nil {
		t.Fatalf("forward list json: %v\n%s", err, out)
	}
	if len(items) != 1 || items[0].Status != chatrelay.StatusForwarded {
		t.Fatalf("forward items = %+v", items)
	}
}

func TestDaemonSpawnRequiresLaunchCommand(t *testing.T) {
	root := newProject(t)
	err := runDaemon(daemonOnceCmd(root), []string{"spawn"})
	if err == nil || !strings.Contains(err.Error(), "launch_command") {
		t.Fatalf("runDaemon(spawn) error = %v, want launch_command error", err)
	}
}

func TestSpawnPipelineRegistersSession(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	root := newProject(t)
	cfg := config.Default()
	cfg.Spawn.LaunchCommand = []string{"sh", "-c", "echo sess-{agent}"}
	if err := config.Save(root, cfg); err != nil {
		t.Fatal(err)
	}

	out := captureStdout(t, func() {
		if err := runSpawnSubmit(projectCmd(root), []string{"builder", "fix", "tests"}); err != nil {
			t.Fatalf("runSpawnSubmit() error = %v", err)
		}
	})
	fields := strings.Fields(out)
	if len(fields) < 2 || !strings.HasPrefix(fields[1], "r-") {
		t.Fatalf("submit output = %q", out)
	}
	id := fields[1]

	captureStdout(t, func() {
		if err := runDaemon(daemonOnceCmd(root), []string{"spawn"}); err != nil {
			t.Fatalf("runDaemon(spawn) error = %v", err)
		}
	})

	sessions := projectCmd(root)
	sessions.Flags().Bool("all", false, "")
	sessions.Flags().Bool("json", true, "")
	out = captureStdout(t, func() {
		if err := runSpawnSessions(sessions, nil); err != nil {
			t.Fatalf("runSpawnSessions() error = %v", err)
		}
	})
	var got []spawn.Session
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("sessions json: %v\n%s", err, out)
	}
	if len(got) != 1 || got[0].RequestID != id || got[0].SessionKey != "sess-builder" {
		t.Fatalf("sessions = %+v", got)
	}

	err := runSpawnRegister(projectCmd(root), []string{id, "sess-other"})
	if err == nil {
		t.Fatal("registering a completed request should fail")
	}
}

func TestUsageSubmitCollectReport(t *testing.T) {
	root := newProject(t)

	submit := projectCmd(root)
	addStatsFlags(submit)
	submit.Flags().Set("input", "1200")
	submit.Flags().Set("output", "800")
	submit.Flags().Set("tool", "bash=2")
	for i := 0; i < 2; i++ {
		captureStdout(t, func() {
			if err := runUsageSubmit(submit, []string{"sess-1", "scout"}); err != nil {
				t.Fatalf("runUsageSubmit() error = %v", err)
			}
		})
	}

	out := captureStdout(t, func() {
		if err := runDaemon(daemonOnceCmd(root), []string{"usage"}); err != nil {
			t.Fatalf("runDaemon(usage) error = %v", err)
		}
	})
	if !strings.Contains(out, "1 recorded") {
		t.Fatalf("usage pass output = %q", out)
	}

	report := projectCmd(root)
	for _, f := range []string{"baseline", "agents", "tools", "recommendations"} {
		report.Flags().Bool(f, false, "")
	}
	report.Flags().Bool("json", true, "")
	out = captureStdout(t, func() {
		if err := runUsageReport(report, nil); err != nil {
			t.Fatalf("runUsageReport() error = %v", err)
		}
	})
	var r usage.Report
	if err := json.Unmarshal([]byte(out), &r); err != nil {
		t.Fatalf("report json: %v\n%s", err, out)
	}
	if r.Summary.TotalSessions != 1 || r.Summary.TotalTokens != 2000 || r.Summary.TotalToolCalls != 2 {
		t.Fatalf("summary = %+v", r.Summary)
	}
	if len(r.Tools) != 1 || r.Tools[0].Tool != "bash" || r.Tools[0].TotalTokens != 400 {
		t.Fatalf("tools = %+v", r.Tools)
	}

	budget := projectCmd(root)
	budget.Flags().Int64("limit", 2500, "")
	budget.Flags().Bool("json", true, "")
	out = captureStdout(t, func() {
		if err := runUsageBudget(budget, []string{"scout", "ghost"}); err != nil {
			t.Fatalf("runUsageBudget() error = %v", err)
		}
	})
	var rows []budgetRow
	if err := json.Unmarshal([]byte(out), &rows); err != nil {
		t.Fatalf("budget json: %v\n%s", err, out)
	}
	if len(rows) != 2 || rows[0].Status != usage.BudgetCritical || rows[1].Status != usage.BudgetUnknown {
		t.Fatalf("budget rows = %+v", rows)
	}
}

func TestInitWritesConfigOnce(t *testing.T) {
	root := newProject(t)
	out := captureStdout(t, func() {
		if err := runInit(projectCmd(root), nil); err != nil {
			t.Fatalf("runInit() error = %v", err)
		}
	})
	if !strings.Contains(out, "Initialized") {
		t.Fatalf("first init output = %q", out)
	}
	if _, err := os.Stat(config.Path(root)); err != nil {
		t.Fatalf("config not written: %v", err)
	}
	out = captureStdout(t, func() {
		if err := runInit(projectCmd(root), nil); err != nil {
			t.Fatalf("second runInit() error = %v", err)
		}
	})
	if !strings.Contains(out, "Config exists") {
		t.Fatalf("second init output = %q", out)
	}
}

package cli

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/agusx1211/switchyard/internal/buildinfo"
	"github.com/agusx1211/switchyard/internal/debug"
)

// ANSI color codes. They are blanked when stdout is not a terminal.
var (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorWhite  = "\033[37m"

	styleBoldCyan   = "\033[1;36m"
	styleBoldGreen  = "\033[1;32m"
	styleBoldYellow = "\033[1;33m"
	styleBoldWhite  = "\033[1;37m"
)

func colorEnabled() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	fd := os.Stdout.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func disableColors() {
	colorReset, colorBold, colorDim = "", "", ""
	colorRed, colorGreen, colorYellow, colorBlue, colorWhite = "", "", "", "", ""
	styleBoldCyan, styleBoldGreen, styleBoldYellow, styleBoldWhite = "", "", "", ""
}

var rootCmd = &cobra.Command{
	Use:   "switchyard",
	Short: "Coordinate agents over shared JSON documents",
	Long: `switchyard relays chat messages to agent sessions, tracks spawn requests
and their sessions, and aggregates token usage. Every component polls shared
documents under .switchyard/, so producers and consumers can run as separate
processes.

Getting Started:
  switchyard init                          Create .switchyard/config.yaml
  switchyard daemon all                    Run every pipeline
  switchyard chat say scout "hello"        Post a message for an agent
  switchyard spawn submit builder "task"   Request a new session
  switchyard usage report                  Show token usage`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	if !colorEnabled() {
		disableColors()
	}
	rootCmd.CompletionOptions.HiddenDefaultCmd = true
	rootCmd.PersistentFlags().Bool("debug", false, "Enable verbose debug logging to ~/.switchyard/debug/")
	rootCmd.PersistentFlags().String("project", "", "Project root (default: $SWITCHYARD_PROJECT_DIR or the working directory)")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		debugFlag, _ := cmd.Flags().GetBool("debug")
		if !debugFlag && !debug.ShouldEnableFromEnv() {
			return nil
		}
		logPath, err := debug.Init()
		if err != nil {
			return fmt.Errorf("initializing debug logger: %w", err)
		}
		fmt.Fprintf(os.Stderr, "%s[debug]%s logging to %s\n", colorDim, colorReset, logPath)
		bi := buildinfo.Current()
		debug.LogKV("cli", "switchyard starting",
			"version", bi.Version,
			"commit", bi.CommitHash,
			"build_date", bi.BuildDate,
			"pid", os.Getpid(),
			"command", cmd.CommandPath(),
			"args", args,
		)
		return nil
	}
}

// Execute runs the root command.
func Execute() {
	defer debug.Close()
	if err := rootCmd.Execute(); err != nil {
		debug.Logf("cli", "exit with error: %v", err)
		fmt.Fprintf(os.Stderr, "%sError: %s%s\n", colorRed, err, colorReset)
		debug.Close()
		os.Exit(1)
	}
	debug.Log("cli", "exit success")
}

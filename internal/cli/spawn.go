package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/agusx1211/switchyard/internal/queue"
	"github.com/agusx1211/switchyard/internal/spawn"
)

var spawnCmd = &cobra.Command{
	Use:   "spawn",
	Short: "Manage spawn requests and registered sessions",
	Long: `Spawn requests move pending -> processing -> completed | error. Completing a
request registers a session that stays active for the configured TTL.

The spawn pipeline of 'switchyard daemon' claims and launches requests
automatically; these commands let an operator or an external orchestrator
drive the same transitions by hand.

Examples:
  switchyard spawn submit builder "fix the flaky test"
  switchyard spawn register r-1a2b3c4d sess-42
  switchyard spawn sessions --all`,
}

var spawnSubmitCmd = &cobra.Command{
	Use:   "submit <agent> <task>",
	Short: "Enqueue a spawn request",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runSpawnSubmit,
}

var spawnListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List spawn requests",
	RunE:    runSpawnList,
}

var spawnClaimCmd = &cobra.Command{
	Use:   "claim <request-id>",
	Short: "Move a pending request to processing",
	Args:  cobra.ExactArgs(1),
	RunE:  runSpawnClaim,
}

var spawnRegisterCmd = &cobra.Command{
	Use:   "register <request-id> <session-key>",
	Short: "Complete a request and register its session",
	Args:  cobra.ExactArgs(2),
	RunE:  runSpawnRegister,
}

var spawnFailCmd = &cobra.Command{
	Use:   "fail <request-id> <reason>",
	Short: "Move a request to error",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runSpawnFail,
}

var spawnSessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List registered sessions",
	RunE:  runSpawnSessions,
}

var spawnRepairCmd = &cobra.Command{
	Use:   "repair",
	Short: "Restore registry entries for completed requests",
	RunE:  runSpawnRepair,
}

func init() {
	spawnListCmd.Flags().String("status", "", "Only requests with this status")
	spawnListCmd.Flags().Bool("json", false, "Output as JSON")
	spawnSessionsCmd.Flags().Bool("all", false, "Include expired sessions")
	spawnSessionsCmd.Flags().Bool("json", false, "Output as JSON")
	spawnCmd.AddCommand(spawnSubmitCmd, spawnListCmd, spawnClaimCmd, spawnRegisterCmd,
		spawnFailCmd, spawnSessionsCmd, spawnRepairCmd)
	rootCmd.AddCommand(spawnCmd)
}

func runSpawnSubmit(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	id, err := a.spawnManager().Submit(cmdContext(cmd), args[0], strings.Join(args[1:], " "))
	if err != nil {
		return err
	}
	fmt.Printf("%sSubmitted%s %s for %s\n", styleBoldGreen, colorReset, id, a.cfg.Identities().Resolve(args[0]).Label())
	return nil
}

func runSpawnList(cmd *cobra.Command, args []string) error {
	status, _ := cmd.Flags().GetString("status")
	asJSON, _ := cmd.Flags().GetBool("json")
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	items, err := a.spawnManager().List(cmdContext(cmd))
	if err != nil {
		return err
	}
	if status != "" {
		filtered := items[:0]
		for _, it := range items {
			if it.Status == queue.Status(status) {
				filtered = append(filtered, it)
			}
		}
		items = filtered
	}
	if asJSON {
		if items == nil {
			items = []spawn.RequestItem{}
		}
		return printJSON(items)
	}

	printHeader("Spawn requests")
	rows := make([][]string, 0, len(items))
	for _, it := range items {
		detail := it.Payload.SessionKey
		if it.Status == spawn.StatusError {
			detail = colorRed + truncate(it.Payload.Error, 40) + colorReset
		}
		rows = append(rows, []string{
			it.ID,
			statusBadge(string(it.Status)),
			it.Payload.AgentID,
			truncate(firstLine(it.Payload.Task), 40),
			it.CreatedAt.Local().Format(time.DateTime),
			detail,
		})
	}
	printTable([]string{"ID", "STATUS", "AGENT", "TASK", "CREATED", "SESSION"}, rows)
	return nil
}

func runSpawnClaim(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	it, err := a.spawnManager().Claim(cmdContext(cmd), args[0])
	if err != nil {
		return err
	}
	fmt.Printf("%sClaimed%s %s -> %s\n", styleBoldGreen, colorReset, it.ID, statusBadge(string(it.Status)))
	return nil
}

func runSpawnRegister(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	sess, err := a.spawnManager().RegisterSession(cmdContext(cmd), args[0], args[1])
	if sess != nil {
		printHeader("Session registered")
		printField("Request", sess.RequestID)
		printField("Session", sess.SessionKey)
		printField("UUID", sess.UUID)
		printField("Agent", sess.AgentID)
		if err == nil {
			printFieldColored("Request status", string(spawn.StatusCompleted), colorGreen)
		}
		printField("Expires", sess.ExpiresAt.Local().Format(time.DateTime))
	}
	if err != nil {
		if sess != nil {
			fmt.Printf("  %sRegistry write failed; run 'switchyard spawn repair'.%s\n", styleBoldYellow, colorReset)
		}
		return err
	}
	return nil
}

func runSpawnFail(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	it, err := a.spawnManager().Fail(cmdContext(cmd), args[0], strings.Join(args[1:], " "))
	if err != nil {
		return err
	}
	fmt.Printf("%sFailed%s %s -> %s\n", styleBoldYellow, colorReset, it.ID, statusBadge(string(it.Status)))
	return nil
}

func runSpawnSessions(cmd *cobra.Command, args []string) error {
	all, _ := cmd.Flags().GetBool("all")
	asJSON, _ := cmd.Flags().GetBool("json")
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	mgr := a.spawnManager()
	now := time.Now().UTC()
	var sessions []spawn.Session
	if all {
		sessions, err = mgr.Sessions(cmdContext(cmd))
	} else {
		sessions, err = mgr.ActiveSessions(cmdContext(cmd), now)
	}
	if err != nil {
		return err
	}
	if asJSON {
		if sessions == nil {
			sessions = []spawn.Session{}
		}
		return printJSON(sessions)
	}

	printHeader("Sessions")
	rows := make([][]string, 0, len(sessions))
	for _, s := range sessions {
		state := "active"
		if s.Expired(now) {
			state = "expired"
		}
		rows = append(rows, []string{
			s.SessionKey,
			statusBadge(state),
			s.AgentID,
			s.RequestID,
			s.ExpiresAt.Local().Format(time.DateTime),
			truncate(firstLine(s.Task), 40),
		})
	}
	printTable([]string{"SESSION", "STATE", "AGENT", "REQUEST", "EXPIRES", "TASK"}, rows)
	return nil
}

func runSpawnRepair(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := a.spawnManager().Repair(cmdContext(cmd))
	if err != nil {
		return err
	}
	if n == 0 {
		fmt.Println(colorDim + "Registry is consistent; nothing to repair." + colorReset)
		return nil
	}
	fmt.Printf("%sRestored%s %d session(s)\n", styleBoldGreen, colorReset, n)
	return nil
}

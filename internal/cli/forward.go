package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/agusx1211/switchyard/internal/chatrelay"
	"github.com/agusx1211/switchyard/internal/queue"
)

var forwardCmd = &cobra.Command{
	Use:   "forward",
	Short: "Inspect and operate the forward queue",
	Long: `The forward queue holds triggers produced by the relay (needs_forward) and
by other producers (needs_send). The dispatcher moves them to forwarded/sent,
or to failed after repeated delivery errors.

Examples:
  switchyard forward list --status failed
  switchyard forward retry m-1a2b3c4d
  switchyard forward ack m-1a2b3c4d`,
}

var forwardListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List forward queue items",
	RunE:    runForwardList,
}

var forwardAckCmd = &cobra.Command{
	Use:   "ack <id>",
	Short: "Mark an item delivered without sending it",
	Args:  cobra.ExactArgs(1),
	RunE:  runForwardAck,
}

var forwardRetryCmd = &cobra.Command{
	Use:   "retry <id>",
	Short: "Move a failed item back to its pending status",
	Args:  cobra.ExactArgs(1),
	RunE:  runForwardRetry,
}

func init() {
	forwardListCmd.Flags().String("status", "", "Only items with this status")
	forwardListCmd.Flags().Bool("json", false, "Output as JSON")
	forwardRetryCmd.Flags().Bool("send", false, "Requeue as needs_send instead of needs_forward")
	forwardCmd.AddCommand(forwardListCmd, forwardAckCmd, forwardRetryCmd)
	rootCmd.AddCommand(forwardCmd)
}

func runForwardList(cmd *cobra.Command, args []string) error {
	status, _ := cmd.Flags().GetString("status")
	asJSON, _ := cmd.Flags().GetBool("json")
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	fwd := a.forwardQueue()
	var items []chatrelay.ForwardItem
	if status != "" {
		items, err = fwd.ListByStatus(cmdContext(cmd), queue.Status(status))
	} else {
		items, err = fwd.List(cmdContext(cmd))
	}
	if err != nil {
		return err
	}
	if asJSON {
		if items == nil {
			items = []chatrelay.ForwardItem{}
		}
		return printJSON(items)
	}

	printHeader("Forward queue")
	rows := make([][]string, 0, len(items))
	for _, it := range items {
		rows = append(rows, []string{
			it.ID,
			statusBadge(string(it.Status)),
			it.Payload.AgentID,
			truncate(firstLine(it.Payload.Text), 40),
			strconv.Itoa(it.Attempts),
			it.UpdatedAt.Local().Format(time.DateTime),
			truncate(it.LastError, 40),
		})
	}
	printTable([]string{"ID", "STATUS", "AGENT", "TEXT", "TRIES", "UPDATED", "LAST ERROR"}, rows)
	return nil
}

func runForwardAck(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	it, err := chatrelay.Ack(cmdContext(cmd), a.forwardQueue(), args[0])
	if err != nil {
		return err
	}
	fmt.Printf("%sAcknowledged%s %s -> %s\n", styleBoldGreen, colorReset, it.ID, statusBadge(string(it.Status)))
	return nil
}

func runForwardRetry(cmd *cobra.Command, args []string) error {
	send, _ := cmd.Flags().GetBool("send")
	lane := chatrelay.StatusNeedsForward
	if send {
		lane = chatrelay.StatusNeedsSend
	}
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	it, err := chatrelay.Requeue(cmdContext(cmd), a.forwardQueue(), args[0], lane)
	if err != nil {
		return err
	}
	fmt.Printf("%sRequeued%s %s -> %s\n", styleBoldGreen, colorReset, it.ID, statusBadge(string(it.Status)))
	return nil
}

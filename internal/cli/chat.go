package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/agusx1211/switchyard/internal/chatrelay"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Read and write agent chat documents",
	Long: `Chat documents are owned by the chat UI. These commands play that role
from the terminal: 'say' appends a user message and an open reply placeholder,
'reply' fills the placeholder, 'show' prints the conversation.

Examples:
  switchyard chat say scout "look at the failing build" --session sess-42
  switchyard chat reply scout m-1a2b3c4d "on it"
  switchyard chat show scout`,
}

var chatSayCmd = &cobra.Command{
	Use:   "say <agent> <message>",
	Short: "Post a user message for an agent",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runChatSay,
}

var chatReplyCmd = &cobra.Command{
	Use:   "reply <agent> <message-id> <reply>",
	Short: "Answer the placeholder of a message",
	Args:  cobra.MinimumNArgs(3),
	RunE:  runChatReply,
}

var chatShowCmd = &cobra.Command{
	Use:   "show <agent>",
	Short: "Print an agent's chat document",
	Args:  cobra.ExactArgs(1),
	RunE:  runChatShow,
}

func init() {
	chatSayCmd.Flags().String("session", "", "Session key the reply placeholder is bound to")
	chatShowCmd.Flags().Bool("json", false, "Output as JSON")
	chatShowCmd.Flags().Int("limit", 0, "Show only the last N entries")
	chatCmd.AddCommand(chatSayCmd, chatReplyCmd, chatShowCmd)
	rootCmd.AddCommand(chatCmd)
}

func runChatSay(cmd *cobra.Command, args []string) error {
	session, _ := cmd.Flags().GetString("session")
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	id, err := chatrelay.NewChat(a.store).Post(cmdContext(cmd), args[0], session, strings.Join(args[1:], " "))
	if err != nil {
		return err
	}
	fmt.Printf("%sPosted%s %s for %s\n", styleBoldGreen, colorReset, id, a.cfg.Identities().Resolve(args[0]).Label())
	return nil
}

func runChatReply(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := chatrelay.NewChat(a.store).Answer(cmdContext(cmd), args[0], args[1], strings.Join(args[2:], " ")); err != nil {
		return err
	}
	fmt.Printf("%sAnswered%s %s\n", styleBoldGreen, colorReset, args[1])
	return nil
}

func runChatShow(cmd *cobra.Command, args []string) error {
	asJSON, _ := cmd.Flags().GetBool("json")
	limit, _ := cmd.Flags().GetInt("limit")
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	msgs, err := chatrelay.NewChat(a.store).History(cmdContext(cmd), args[0])
	if err != nil {
		return err
	}
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	if asJSON {
		if msgs == nil {
			msgs = []chatrelay.ChatMessage{}
		}
		return printJSON(msgs)
	}

	ident := a.cfg.Identities().Resolve(args[0])
	printHeader("Chat with " + ident.Label())
	if len(msgs) == 0 {
		fmt.Println(colorDim + "  (empty)" + colorReset)
		return nil
	}
	for _, m := range msgs {
		when := ""
		if !m.Timestamp.IsZero() {
			when = colorDim + m.Timestamp.Local().Format(time.DateTime) + colorReset + " "
		}
		who := styleBoldWhite + "you" + colorReset
		if m.Sender == chatrelay.SenderAgent {
			who = styleBoldCyan + ident.Name + colorReset
		}
		text := m.Text()
		if m.Message == nil {
			text = statusBadge(m.Status)
		}
		fmt.Printf("  %s%s %s(%s)%s\n", when, who, colorDim, m.MessageID, colorReset)
		for _, line := range strings.Split(text, "\n") {
			fmt.Printf("    %s\n", line)
		}
	}
	fmt.Println()
	return nil
}

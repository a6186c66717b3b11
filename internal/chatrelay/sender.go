package chatrelay

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/agusx1211/switchyard/internal/debug"
	"github.com/agusx1211/switchyard/internal/docstore"
)

// ExecSender delivers a trigger by running a command. Each argument may
// contain the placeholders {session}, {agent}, {id} and {message}; they are
// substituted per argument, so no shell is involved.
type ExecSender struct {
	Command []string
	Timeout time.Duration
}

func (s *ExecSender) Send(ctx context.Context, t ForwardTrigger) error {
	if len(s.Command) == 0 {
		return fmt.Errorf("exec sender: no command configured")
	}
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	r := strings.NewReplacer(
		"{session}", t.SessionKey,
		"{agent}", t.AgentID,
		"{id}", t.MessageID,
		"{message}", t.DisplayMessage,
	)
	args := make([]string, len(s.Command))
	for i, a := range s.Command {
		args[i] = r.Replace(a)
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Env = debug.PropagatedEnv(os.Environ(), "sender:"+t.MessageID)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return fmt.Errorf("running %s: %w: %s", args[0], err, msg)
		}
		return fmt.Errorf("running %s: %w", args[0], err)
	}
	return nil
}

// OutboxRecord is one line of an agent outbox log.
type OutboxRecord struct {
	MessageID  string    `json:"messageId"`
	SessionKey string    `json:"sessionKey,omitempty"`
	Message    string    `json:"message"`
	Delivered  time.Time `json:"delivered"`
}

// OutboxSender delivers by appending to outbox/<agent>, a log the agent
// session tails. It is the default when no command is configured.
type OutboxSender struct {
	Store docstore.Store
	Now   func() time.Time
}

func (s *OutboxSender) Send(ctx context.Context, t ForwardTrigger) error {
	if t.AgentID == "" {
		return fmt.Errorf("outbox sender: trigger %s has no agent", t.MessageID)
	}
	now := time.Now().UTC()
	if s.Now != nil {
		now = s.Now()
	}
	return docstore.Append(ctx, s.Store, OutboxPrefix+t.AgentID, OutboxRecord{
		MessageID:  t.MessageID,
		SessionKey: t.SessionKey,
		Message:    t.DisplayMessage,
		Delivered:  now,
	})
}

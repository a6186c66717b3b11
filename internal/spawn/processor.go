package spawn

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/agusx1211/switchyard/internal/debug"
	"github.com/agusx1211/switchyard/internal/queue"
)

// Launcher creates the real execution session for a request and returns
// its session key.
type Launcher interface {
	Launch(ctx context.Context, requestID string, req Request) (string, error)
}

// LauncherFunc adapts a function to Launcher.
type LauncherFunc func(ctx context.Context, requestID string, req Request) (string, error)

func (f LauncherFunc) Launch(ctx context.Context, requestID string, req Request) (string, error) {
	return f(ctx, requestID, req)
}

// Processor is the polling orchestrator: it claims pending requests,
// launches them and records the outcome on the request.
type Processor struct {
	mgr      *Manager
	launcher Launcher
}

// ProcessResult summarizes one processor pass.
type ProcessResult struct {
	Registered int
	Failed     int
	Conflicts  int
}

func NewProcessor(mgr *Manager, launcher Launcher) *Processor {
	return &Processor{mgr: mgr, launcher: launcher}
}

// Poll handles every request pending at the time of the call.
func (p *Processor) Poll(ctx context.Context) (ProcessResult, error) {
	var res ProcessResult
	pending, err := p.mgr.ListPending(ctx)
	if err != nil {
		return res, fmt.Errorf("listing spawn requests: %w", err)
	}
	for _, it := range pending {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		p.process(ctx, it.ID, &res)
	}
	return res, nil
}

func (p *Processor) process(ctx context.Context, id string, res *ProcessResult) {
	claimed, err := p.mgr.Claim(ctx, id)
	if err != nil {
		if errors.Is(err, queue.ErrConflict) {
			res.Conflicts++
			return
		}
		debug.Warn("spawn", "claim failed", "id", id, "error", err)
		return
	}

	sessionKey, err := p.launcher.Launch(ctx, id, claimed.Payload)
	if err != nil {
		res.Failed++
		if _, ferr := p.mgr.Fail(ctx, id, err.Error()); ferr != nil {
			debug.Warn("spawn", "recording launch failure", "id", id, "error", ferr)
		}
		return
	}
	if _, err := p.mgr.RegisterSession(ctx, id, sessionKey); err != nil {
		switch {
		case errors.Is(err, queue.ErrConflict), errors.Is(err, ErrAlreadyCompleted):
			res.Conflicts++
		default:
			debug.Warn("spawn", "registering session", "id", id, "session", sessionKey, "error", err)
		}
		return
	}
	res.Registered++
}

// ExecLauncher runs a command per request. Arguments may contain {id},
// {agent} and {task}; the first non-empty line of stdout is the session key.
type ExecLauncher struct {
	Command []string
	Timeout time.Duration
}

func (l *ExecLauncher) Launch(ctx context.Context, requestID string, req Request) (string, error) {
	if len(l.Command) == 0 {
		return "", fmt.Errorf("exec launcher: no command configured")
	}
	if l.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.Timeout)
		defer cancel()
	}
	r := strings.NewReplacer("{id}", requestID, "{agent}", req.AgentID, "{task}", req.Task)
	args := make([]string, len(l.Command))
	for i, a := range l.Command {
		args[i] = r.Replace(a)
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Env = debug.PropagatedEnv(os.Environ(), "launcher:"+requestID)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("running %s: %w: %s", args[0], err, msg)
		}
		return "", fmt.Errorf("running %s: %w", args[0], err)
	}

	sc := bufio.NewScanner(&stdout)
	for sc.Scan() {
		if key := strings.TrimSpace(sc.Text()); key != "" {
			return key, nil
		}
	}
	return "", fmt.Errorf("running %s: no session key on stdout", args[0])
}

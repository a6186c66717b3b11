package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agusx1211/switchyard/internal/chatrelay"
	"github.com/agusx1211/switchyard/internal/debug"
	"github.com/agusx1211/switchyard/internal/dedup"
	"github.com/agusx1211/switchyard/internal/docstore"
	"github.com/agusx1211/switchyard/internal/poller"
	"github.com/agusx1211/switchyard/internal/spawn"
	"github.com/agusx1211/switchyard/internal/usage"
	"github.com/agusx1211/switchyard/internal/webserver"
)

const (
	taskRelay    = "relay"
	taskDispatch = "dispatch"
	taskSpawn    = "spawn"
	taskUsage    = "usage"
)

var allTasks = []string{taskRelay, taskDispatch, taskSpawn, taskUsage}

var daemonCmd = &cobra.Command{
	Use:   "daemon [relay|dispatch|spawn|usage|all]...",
	Short: "Run the polling pipelines",
	Long: `Run one or more pipelines until interrupted.

  relay     chat documents -> forward queue
  dispatch  forward queue -> agent sessions (command or outbox)
  spawn     pending spawn requests -> launched, registered sessions
  usage     completion report inbox -> usage baseline

Each pipeline polls on its own interval and never overlaps itself. Several
daemons may run against the same store; the queues' status transitions keep
each item with a single owner.

Examples:
  switchyard daemon                     # everything
  switchyard daemon relay dispatch      # only the chat path
  switchyard daemon --once usage        # one pass, then exit
  switchyard daemon --metrics-addr 127.0.0.1:9464`,
	RunE: runDaemon,
}

func init() {
	daemonCmd.Flags().String("metrics-addr", "", "Serve status and Prometheus metrics on host:port")
	daemonCmd.Flags().String("auth-token", "", "Bearer token required by the status server")
	daemonCmd.Flags().Bool("once", false, "Run each pipeline once and exit")
	daemonCmd.Flags().Bool("no-watch", false, "Disable file watching (poll only)")
	rootCmd.AddCommand(daemonCmd)
}

// resolveTasks expands args into an ordered, de-duplicated task list.
func resolveTasks(args []string) ([]string, error) {
	if len(args) == 0 {
		return slices.Clone(allTasks), nil
	}
	var out []string
	for _, a := range args {
		a = strings.ToLower(strings.TrimSpace(a))
		if a == "all" {
			return slices.Clone(allTasks), nil
		}
		if !slices.Contains(allTasks, a) {
			return nil, fmt.Errorf("unknown pipeline %q (use %s or all)", a, strings.Join(allTasks, ", "))
		}
		if !slices.Contains(out, a) {
			out = append(out, a)
		}
	}
	return out, nil
}

// pipeline is a poller task plus the document keys whose changes should
// nudge it.
type pipeline struct {
	task  poller.Task
	watch []string
}

// buildPipelines constructs the requested pipelines. report receives a one
// line summary after every run.
func buildPipelines(a *app, names []string, explicit bool, report func(task, summary string)) ([]pipeline, error) {
	cfg := a.cfg
	var out []pipeline
	for _, name := range names {
		switch name {
		case taskRelay:
			relay := chatrelay.NewRelay(a.store, a.forwardQueue(), dedup.New(cfg.Relay.DedupTTL), cfg.Identities(), a.metrics)
			out = append(out, pipeline{
				task: poller.Task{Name: name, Interval: cfg.Relay.Interval, Run: func(ctx context.Context) error {
					res, err := relay.Poll(ctx)
					report(name, fmt.Sprintf("%d agents, %d enqueued, %d duplicates, %d skipped, %d errors",
						res.Agents, res.Enqueued, res.Duplicates, res.Skipped, res.Errors))
					return err
				}},
				watch: []string{chatrelay.ChatPrefix},
			})

		case taskDispatch:
			var sender chatrelay.Sender = &chatrelay.OutboxSender{Store: a.store}
			if len(cfg.Dispatch.Command) > 0 {
				sender = &chatrelay.ExecSender{Command: cfg.Dispatch.Command, Timeout: cfg.Dispatch.Timeout}
			}
			d := chatrelay.NewDispatcher(a.forwardQueue(), sender, cfg.Dispatch.MaxAttempts, a.metrics)
			out = append(out, pipeline{
				task: poller.Task{Name: name, Interval: cfg.Dispatch.Interval, Run: func(ctx context.Context) error {
					res, err := d.Poll(ctx)
					report(name, fmt.Sprintf("%d delivered, %d retried, %d failed, %d conflicts",
						res.Delivered, res.Retried, res.Failed, res.Conflicts))
					return err
				}},
				watch: []string{chatrelay.ForwardQueueKey},
			})

		case taskSpawn:
			if len(cfg.Spawn.LaunchCommand) == 0 {
				if explicit {
					return nil, fmt.Errorf("spawn pipeline needs spawn.launch_command in .switchyard/config.yaml")
				}
				debug.Warn("daemon", "spawn pipeline disabled: spawn.launch_command is not configured")
				continue
			}
			proc := spawn.NewProcessor(a.spawnManager(), &spawn.ExecLauncher{Command: cfg.Spawn.LaunchCommand, Timeout: cfg.Spawn.Timeout})
			out = append(out, pipeline{
				task: poller.Task{Name: name, Interval: cfg.Spawn.Interval, Run: func(ctx context.Context) error {
					res, err := proc.Poll(ctx)
					report(name, fmt.Sprintf("%d registered, %d failed, %d conflicts", res.Registered, res.Failed, res.Conflicts))
					return err
				}},
				watch: []string{spawn.RequestsKey},
			})

		case taskUsage:
			col := usage.NewCollector(usage.NewInbox(a.store), a.aggregator(), a.metrics)
			out = append(out, pipeline{
				task: poller.Task{Name: name, Interval: cfg.Usage.Interval, Run: func(ctx context.Context) error {
					res, err := col.Poll(ctx)
					report(name, fmt.Sprintf("%d recorded, %d failed, %d conflicts", res.Recorded, res.Failed, res.Conflicts))
					return err
				}},
				watch: []string{usage.InboxKey},
			})
		}
	}
	return out, nil
}

// watchRoutes maps file store directories to the pipelines they nudge.
func watchRoutes(fs *docstore.FileStore, pipes []pipeline) map[string][]string {
	routes := make(map[string][]string)
	for _, p := range pipes {
		for _, key := range p.watch {
			var dirs []string
			if strings.HasSuffix(key, "/") {
				dirs = []string{filepath.Join(fs.Root(), filepath.FromSlash(strings.TrimSuffix(key, "/")))}
			} else {
				dirs = fs.Dirs(key)
			}
			for _, dir := range dirs {
				if !slices.Contains(routes[dir], p.task.Name) {
					routes[dir] = append(routes[dir], p.task.Name)
				}
			}
		}
	}
	return routes
}

func runDaemon(cmd *cobra.Command, args []string) error {
	names, err := resolveTasks(args)
	if err != nil {
		return err
	}
	explicit := len(args) > 0 && !slices.Contains(args, "all")
	once, _ := cmd.Flags().GetBool("once")
	noWatch, _ := cmd.Flags().GetBool("no-watch")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	authToken, _ := cmd.Flags().GetString("auth-token")

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	if metricsAddr == "" {
		metricsAddr = a.cfg.MetricsAddr
	}

	if once {
		pipes, err := buildPipelines(a, names, explicit, func(task, summary string) {
			fmt.Printf("  %s%-9s%s %s\n", colorBold, task, colorReset, summary)
		})
		if err != nil {
			return err
		}
		var failed []string
		for _, p := range pipes {
			if err := p.task.Run(cmdContext(cmd)); err != nil {
				fmt.Printf("  %s%-9s%s %serror: %v%s\n", colorBold, p.task.Name, colorReset, colorRed, err, colorReset)
				failed = append(failed, p.task.Name)
			}
		}
		if len(failed) > 0 {
			return fmt.Errorf("pipelines failed: %s", strings.Join(failed, ", "))
		}
		return nil
	}

	pipes, err := buildPipelines(a, names, explicit, func(task, summary string) {
		debug.LogKV("daemon", "poll", "task", task, "result", summary)
	})
	if err != nil {
		return err
	}
	if len(pipes) == 0 {
		return fmt.Errorf("no pipelines to run")
	}

	p, err := poller.New(a.metrics, poller.DefaultStopTimeout)
	if err != nil {
		return err
	}
	for _, pipe := range pipes {
		if err := p.Add(pipe.task); err != nil {
			return err
		}
	}

	if fs, ok := a.store.(*docstore.FileStore); ok && a.cfg.Watch && !noWatch {
		if err := p.Watch(watchRoutes(fs, pipes), a.cfg.WatchDebounce); err != nil {
			debug.Warn("daemon", "file watching disabled", "error", err)
		}
	}

	var srv *webserver.Server
	if metricsAddr != "" {
		srv = webserver.New(webserver.Sources{
			Forward:    a.forwardQueue(),
			Spawn:      a.spawnManager(),
			Usage:      a.aggregator(),
			Inbox:      usage.NewInbox(a.store),
			Metrics:    a.metrics,
			DailyLimit: a.cfg.Usage.DailyLimit,
		}, webserver.Options{Addr: metricsAddr, AuthToken: authToken})
		if err := srv.Start(); err != nil {
			p.Shutdown()
			return fmt.Errorf("starting status server: %w", err)
		}
	}

	ctx, stop := signal.NotifyContext(cmdContext(cmd), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p.Start()
	fmt.Printf("%sswitchyard daemon%s running %s (pid %d)\n", styleBoldGreen, colorReset, strings.Join(p.Tasks(), ", "), os.Getpid())
	if srv != nil {
		printField("Status", "http://"+srv.Addr()+"/api/status")
	}

	<-ctx.Done()
	fmt.Printf("\n  %sReceived interrupt, finishing in-flight polls...%s\n", styleBoldYellow, colorReset)

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		srv.Shutdown(shutdownCtx)
		cancel()
	}
	if err := p.Shutdown(); err != nil {
		return fmt.Errorf("stopping pollers: %w", err)
	}
	fmt.Printf("  %sStopped.%s\n", styleBoldGreen, colorReset)
	return nil
}

// Package debug is switchyard's structured log.
//
// Two sinks exist. The debug file (enabled with --debug or
// SWITCHYARD_DEBUG_ENABLED) receives every event with nanosecond timestamps,
// pid, process label, goroutine and caller, so the interleaving of several
// daemons writing the same documents can be reconstructed from one file.
// Warnings additionally go to the console writer (stderr by default) even
// when the debug file is off; daemons use them for per-item failures they
// log and skip.
//
// When the file sink is disabled, Log/Logf/LogKV are no-ops.
package debug

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/agusx1211/switchyard/internal/hexid"
)

var (
	logger   *Logger
	loggerMu sync.RWMutex

	console   io.Writer = os.Stderr
	consoleMu sync.Mutex
)

const (
	// EnvEnabled toggles the debug file for child processes.
	EnvEnabled = "SWITCHYARD_DEBUG_ENABLED"
	// EnvLogPath makes a process append to an existing debug file.
	EnvLogPath = "SWITCHYARD_DEBUG_LOG_PATH"
	// EnvProcess labels the current process in every line.
	EnvProcess = "SWITCHYARD_DEBUG_PROCESS"
)

// Logger writes structured debug lines to a file.
type Logger struct {
	mu        sync.Mutex
	file      *os.File
	path      string
	startedAt time.Time
	pid       int
	process   string
}

// Init opens the debug file and returns its path. Without EnvLogPath the
// file is created under ~/.switchyard/debug/.
func Init() (string, error) {
	loggerMu.RLock()
	if logger != nil {
		p := logger.path
		loggerMu.RUnlock()
		return p, nil
	}
	loggerMu.RUnlock()

	path, hid, inherited, err := resolveLogPath()
	if err != nil {
		return "", err
	}
	now := time.Now()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return "", fmt.Errorf("debug: open log %s: %w", path, err)
	}

	l := &Logger{
		file:      f,
		path:      path,
		startedAt: now,
		pid:       os.Getpid(),
		process:   processLabel(),
	}

	if inherited {
		fmt.Fprintf(f, "\n=== SWITCHYARD PROCESS ATTACHED ===\nStarted: %s\nPID: %d\nProcess: %s\n===\n\n",
			now.Format(time.RFC3339Nano), l.pid, l.process)
	} else {
		fmt.Fprintf(f, "=== SWITCHYARD DEBUG LOG ===\nStarted: %s\nPID: %d\nProcess: %s\nLog ID: %s\nFile: %s\n===\n\n",
			now.Format(time.RFC3339Nano), l.pid, l.process, hid, path)
	}

	loggerMu.Lock()
	if logger != nil {
		p := logger.path
		loggerMu.Unlock()
		_ = f.Close()
		return p, nil
	}
	logger = l
	loggerMu.Unlock()

	return path, nil
}

// Close closes the debug file. Safe to call when not initialized.
func Close() {
	loggerMu.Lock()
	l := logger
	logger = nil
	loggerMu.Unlock()

	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.file, "\n=== DEBUG LOG CLOSED === (pid=%d process=%s duration=%s)\n",
		l.pid, l.process, time.Since(l.startedAt))
	l.file.Close()
}

// Enabled reports whether the debug file is open.
func Enabled() bool {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return logger != nil
}

// Path returns the debug file path, or "" if disabled.
func Path() string {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	if logger == nil {
		return ""
	}
	return logger.path
}

// SetConsole redirects warnings and returns the previous writer.
func SetConsole(w io.Writer) io.Writer {
	consoleMu.Lock()
	defer consoleMu.Unlock()
	prev := console
	if w == nil {
		w = io.Discard
	}
	console = w
	return prev
}

// ShouldEnableFromEnv reports whether the environment asks for the debug file.
func ShouldEnableFromEnv() bool {
	path := strings.TrimSpace(os.Getenv(EnvLogPath))
	switch strings.TrimSpace(strings.ToLower(os.Getenv(EnvEnabled))) {
	case "":
		return path != ""
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return path != ""
	}
}

// PropagatedEnv overlays the debug variables on baseEnv so commands launched
// by a daemon append to the same file. baseEnv is returned unchanged when
// the debug file is off.
func PropagatedEnv(baseEnv []string, process string) []string {
	logPath := Path()
	if logPath == "" {
		return baseEnv
	}
	env := append([]string(nil), baseEnv...)
	env = setEnv(env, EnvEnabled, "1")
	env = setEnv(env, EnvLogPath, logPath)
	if strings.TrimSpace(process) != "" {
		env = setEnv(env, EnvProcess, process)
	}
	return env
}

func current() *Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return logger
}

// Log writes a debug line.
func Log(component, msg string) {
	if l := current(); l != nil {
		l.write(component, msg, 2)
	}
}

// Logf writes a formatted debug line.
func Logf(component, format string, args ...any) {
	if l := current(); l != nil {
		l.write(component, fmt.Sprintf(format, args...), 2)
	}
}

// LogKV writes a debug line with key-value pairs:
//
//	debug.LogKV("relay", "trigger enqueued", "agent", "scout", "message_id", "m1")
func LogKV(component, msg string, kvs ...any) {
	if l := current(); l != nil {
		l.write(component, formatKV(msg, kvs), 2)
	}
}

// Warn reports a recoverable failure on the console and in the debug file.
func Warn(component, msg string, kvs ...any) {
	line := formatKV(msg, kvs)
	consoleMu.Lock()
	fmt.Fprintf(console, "%s [%s] warning: %s\n", time.Now().Format("15:04:05"), component, line)
	consoleMu.Unlock()
	if l := current(); l != nil {
		l.write(component, "WARN "+line, 2)
	}
}

func formatKV(msg string, kvs []any) string {
	var b strings.Builder
	b.WriteString(msg)
	for i := 0; i+1 < len(kvs); i += 2 {
		fmt.Fprintf(&b, " %v=%v", kvs[i], kvs[i+1])
	}
	return b.String()
}

func (l *Logger) write(component, msg string, callerSkip int) {
	now := time.Now()
	_, file, line, ok := runtime.Caller(callerSkip)
	caller := "??:0"
	if ok {
		if idx := strings.LastIndex(file, "/internal/"); idx >= 0 {
			file = file[idx+1:]
		} else if idx := strings.LastIndex(file, "/cmd/"); idx >= 0 {
			file = file[idx+1:]
		}
		caller = fmt.Sprintf("%s:%d", file, line)
	}

	// TIMESTAMP +ELAPSED [PID] [PROCESS] [GID] [COMPONENT] CALLER | MESSAGE
	out := fmt.Sprintf("%s +%12s [P%-6d] [%-20s] [G%-6d] [%-10s] %-36s | %s\n",
		now.Format("15:04:05.000000000"),
		now.Sub(l.startedAt).Truncate(time.Microsecond),
		l.pid,
		l.process,
		goroutineID(),
		component,
		caller,
		msg,
	)

	l.mu.Lock()
	l.file.WriteString(out)
	l.mu.Unlock()
}

func resolveLogPath() (string, string, bool, error) {
	if inherited := strings.TrimSpace(os.Getenv(EnvLogPath)); inherited != "" {
		dir := filepath.Dir(inherited)
		if dir != "." && dir != string(filepath.Separator) {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return "", "", true, fmt.Errorf("debug: create dir %s: %w", dir, err)
			}
		}
		return inherited, "", true, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", "", false, fmt.Errorf("debug: user home dir: %w", err)
	}
	dir := filepath.Join(home, ".switchyard", "debug")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", "", false, fmt.Errorf("debug: create dir %s: %w", dir, err)
	}
	hid := hexid.New()
	return filepath.Join(dir, fmt.Sprintf("%s_%s.log", time.Now().Format("20060102T150405"), hid)), hid, false, nil
}

func processLabel() string {
	if p := strings.TrimSpace(os.Getenv(EnvProcess)); p != "" {
		return p
	}
	base := filepath.Base(os.Args[0])
	for _, arg := range os.Args[1:] {
		arg = strings.TrimSpace(arg)
		if arg == "" || strings.HasPrefix(arg, "-") {
			continue
		}
		return base + ":" + arg
	}
	return base
}

func setEnv(env []string, key, value string) []string {
	prefix := key + "="
	for i := range env {
		if strings.HasPrefix(env[i], prefix) {
			env[i] = prefix + value
			return env
		}
	}
	return append(env, prefix+value)
}

// goroutineID parses "goroutine N [" from runtime.Stack; debug mode only.
func goroutineID() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	s := strings.TrimPrefix(string(buf[:n]), "goroutine ")
	var id int64
	for _, c := range s {
		if c < '0' || c > '9' {
			break
		}
		id = id*10 + int64(c-'0')
	}
	return id
}

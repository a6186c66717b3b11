package debug

import (
	"bytes"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestShouldEnableFromEnv(t *testing.T) {
	tests := []struct {
		name    string
		enabled string
		path    string
		want    bool
	}{
		{name: "disabled by default", enabled: "", path: "", want: false},
		{name: "enabled explicit", enabled: "1", path: "", want: true},
		{name: "enabled via path", enabled: "", path: "/tmp/switchyard.log", want: true},
		{name: "explicit off wins", enabled: "0", path: "/tmp/switchyard.log", want: false},
		{name: "unknown toggle without path", enabled: "maybe", path: "", want: false},
		{name: "unknown toggle with path", enabled: "maybe", path: "/tmp/switchyard.log", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(EnvEnabled, tt.enabled)
			t.Setenv(EnvLogPath, tt.path)
			if got := ShouldEnableFromEnv(); got != tt.want {
				t.Fatalf("ShouldEnableFromEnv() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestInitInheritedPath(t *testing.T) {
	defer Close()

	logPath := filepath.Join(t.TempDir(), "aggregate.log")
	if err := os.WriteFile(logPath, []byte("existing\n"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	t.Setenv(EnvLogPath, logPath)
	t.Setenv(EnvProcess, "daemon:relay")

	gotPath, err := Init()
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if gotPath != logPath {
		t.Fatalf("Init() path = %q, want %q", gotPath, logPath)
	}

	LogKV("relay", "trigger enqueued", "message_id", "m1")
	Close()

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	s := string(data)
	if !strings.HasPrefix(s, "existing\n") {
		t.Fatalf("existing content was not preserved: %q", s)
	}
	for _, want := range []string{
		"=== SWITCHYARD PROCESS ATTACHED ===",
		"Process: daemon:relay",
		"[relay",
		"trigger enqueued message_id=m1",
		"=== DEBUG LOG CLOSED ===",
	} {
		if !strings.Contains(s, want) {
			t.Fatalf("log missing %q:\n%s", want, s)
		}
	}
}

func TestLogIsNoopWhenDisabled(t *testing.T) {
	Close()
	LogKV("relay", "dropped", "k", "v")
	if Enabled() || Path() != "" {
		t.Fatal("logger should be disabled")
	}
}

func TestWarnWritesConsoleWithoutDebugFile(t *testing.T) {
	Close()
	var buf bytes.Buffer
	prev := SetConsole(&buf)
	defer SetConsole(prev)

	Warn("usage", "baseline unreadable", "key", "usage/baseline")
	if !strings.Contains(buf.String(), "[usage] warning: baseline unreadable key=usage/baseline") {
		t.Fatalf("console = %q", buf.String())
	}
}

func TestPropagatedEnv(t *testing.T) {
	t.Run("no debug enabled", func(t *testing.T) {
		defer Close()
		in := []string{"FOO=bar"}
		out := PropagatedEnv(in, "launcher")
		if !reflect.DeepEqual(out, in) {
			t.Fatalf("PropagatedEnv() changed env: got=%v want=%v", out, in)
		}
	})

	t.Run("overlay debug vars", func(t *testing.T) {
		defer Close()
		logPath := filepath.Join(t.TempDir(), "shared.log")
		t.Setenv(EnvLogPath, logPath)
		t.Setenv(EnvProcess, "daemon:spawn")
		if _, err := Init(); err != nil {
			t.Fatalf("Init: %v", err)
		}

		out := PropagatedEnv([]string{
			"FOO=bar",
			EnvEnabled + "=0",
			EnvProcess + "=old",
		}, "launcher:r-1")

		m := envMap(out)
		if m["FOO"] != "bar" {
			t.Fatalf("FOO = %q, want bar", m["FOO"])
		}
		if m[EnvEnabled] != "1" {
			t.Fatalf("%s = %q, want 1", EnvEnabled, m[EnvEnabled])
		}
		if m[EnvLogPath] != logPath {
			t.Fatalf("%s = %q, want %q", EnvLogPath, m[EnvLogPath], logPath)
		}
		if m[EnvProcess] != "launcher:r-1" {
			t.Fatalf("%s = %q, want launcher:r-1", EnvProcess, m[EnvProcess])
		}
	})
}

func envMap(env []string) map[string]string {
	m := make(map[string]string, len(env))
	for _, kv := range env {
		k, v, ok := strings.Cut(kv, "=")
		if ok {
			m[k] = v
		}
	}
	return m
}

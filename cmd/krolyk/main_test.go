package main

import (
	"bytes"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/spf13/pflag"

	"github.com/ibs-source/krolyk/internal/config"
)

func execute(args ...string) (code int, stdout, stderr string) {
	var out, errOut bytes.Buffer
	code = run(args, &out, &errOut)
	return code, out.String(), errOut.String()
}

func TestHelp(t *testing.T) {
	code, stdout, _ := execute("help")
	if code != 0 {
		t.Fatalf("help exit code = %d, want 0", code)
	}
	for _, want := range []string{"Krolyk " + version, "start", "stop", "debug", "--pipe", "--queue"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("help output missing %q", want)
		}
	}
}

func TestNoCommand(t *testing.T) {
	code, _, stderr := execute()
	if code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "missing command") {
		t.Errorf("stderr = %q, want missing command message", stderr)
	}
}

func TestUnknownCommand(t *testing.T) {
	if code, _, _ := execute("restart"); code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
}

func TestStart_RunningInstance(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "file.pid")
	if err := os.WriteFile(pidPath, []byte("1"), 0o600); err != nil {
		t.Fatal(err)
	}

	code, _, stderr := execute("start", "--pid", pidPath)
	if code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "already running") {
		t.Errorf("stderr = %q, want conflict message", stderr)
	}

	data, err := os.ReadFile(pidPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "1" {
		t.Errorf("PID file content = %q, want unchanged %q", data, "1")
	}
}

func TestDebug_RunningInstance(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "file.pid")
	if err := os.WriteFile(pidPath, []byte("1"), 0o600); err != nil {
		t.Fatal(err)
	}

	if code, _, _ := execute("debug", "--pid", pidPath); code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
}

func TestDebug_PipeUnavailable(t *testing.T) {
	dir := t.TempDir()
	pidPath := filepath.Join(dir, "file.pid")

	code, _, stderr := execute("debug",
		"--pid", pidPath,
		"--pipe", filepath.Join(dir, "missing", "nagios.cmd"),
	)
	if code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "failed to open pipe") {
		t.Errorf("stderr = %q, want pipe error", stderr)
	}
	if _, err := os.Stat(pidPath); !os.IsNotExist(err) {
		t.Error("PID file left behind after failed start")
	}
}

func TestDebug_InvalidConfiguration(t *testing.T) {
	code, _, stderr := execute("debug", "--transport", "stomp", "--pid", filepath.Join(t.TempDir(), "file.pid"))
	if code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "invalid configuration") {
		t.Errorf("stderr = %q, want configuration error", stderr)
	}
}

func TestStop_NotRunning(t *testing.T) {
	code, _, stderr := execute("stop", "--pid", filepath.Join(t.TempDir(), "file.pid"))
	if code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "not running") {
		t.Errorf("stderr = %q, want not running message", stderr)
	}
}

func TestChildCommand_PasswordInEnvironment(t *testing.T) {
	fs := pflag.NewFlagSet("krolyk", pflag.ContinueOnError)
	config.RegisterFlags(fs)
	if err := fs.Parse([]string{"--password", "s3cret", "--queue", "checks"}); err != nil {
		t.Fatal(err)
	}

	args, env := childCommand(fs)
	if args[0] != "debug" {
		t.Errorf("args[0] = %q, want debug", args[0])
	}
	for _, arg := range args {
		if strings.Contains(arg, "s3cret") {
			t.Errorf("password on the command line: %q", arg)
		}
	}
	if !slices.Contains(args, "--queue=checks") {
		t.Errorf("args = %v, want --queue=checks", args)
	}
	if !slices.Equal(env, []string{"KROLYK_PASSWORD=s3cret"}) {
		t.Errorf("env = %v, want [KROLYK_PASSWORD=s3cret]", env)
	}
}

func TestStopSignals_SubscribedBeforeDelivery(t *testing.T) {
	sigCh, unsubscribe := stopSignals()
	defer unsubscribe()

	if err := syscall.Kill(os.Getpid(), syscall.SIGTERM); err != nil {
		t.Fatal(err)
	}
	select {
	case sig := <-sigCh:
		if sig != syscall.SIGTERM {
			t.Errorf("received %v, want SIGTERM", sig)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("SIGTERM not delivered to the subscription")
	}
}

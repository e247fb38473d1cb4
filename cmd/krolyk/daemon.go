package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/ibs-source/krolyk/internal/broker"
	"github.com/ibs-source/krolyk/internal/config"
	"github.com/ibs-source/krolyk/internal/lifecycle"
	"github.com/ibs-source/krolyk/internal/log"
	"github.com/ibs-source/krolyk/internal/metrics"
	"github.com/ibs-source/krolyk/internal/relay"
)

const (
	// syslogEnv makes the detached child log to syslog unless --syslog says otherwise
	syslogEnv = "KROLYK_SYSLOG=true"

	// passwordEnv carries --password to the child, off its command line
	passwordEnv = "KROLYK_PASSWORD"

	readyTimeout = 10 * time.Second
	readyGrace   = 500 * time.Millisecond
)

func newLogger(cfg *config.Config) *log.Logger {
	logger := log.New()
	logger.SetLevel(cfg.Log.Level)
	if cfg.Log.Syslog {
		if err := logger.EnableSyslog(); err != nil {
			logger.Warn("Syslog unavailable, logging to console only: %v", err)
		}
	}
	return logger
}

// runDebug runs the relay in the foreground until SIGINT or SIGTERM
func runDebug(cmd *cobra.Command) error {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return err
	}

	logger := newLogger(cfg)
	logger.Info("Krolyk %s: %s %s queue %s -> %s",
		version, cfg.Broker.Transport, cfg.Broker.Address(), cfg.Broker.Queue, cfg.Pipe.Path)

	r := relay.New(
		broker.NewDialer(&cfg.Broker, logger),
		relay.OpenPipe(cfg.Pipe.Path, logger),
		cfg,
		logger,
	)

	// Subscribe before the PID file exists so a stop sent right after start is not fatal
	sigCh, unsubscribe := stopSignals()
	defer unsubscribe()

	ctrl := lifecycle.NewController(cfg.Daemon.PIDFile, r, cfg.Daemon.ShutdownTimeout, logger)
	if err := ctrl.Start(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Metrics.Address != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Address, logger); err != nil {
				logger.Error("Metrics listener failed: %v", err)
			}
		}()
	}

	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("Received %s", sig)
			ctrl.Stop()
		case <-ctx.Done():
		}
	}()

	return ctrl.Wait()
}

// stopSignals subscribes to SIGINT and SIGTERM; the returned func unsubscribes
func stopSignals() (<-chan os.Signal, func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	return ch, func() { signal.Stop(ch) }
}

// childCommand rebuilds the changed flags as debug arguments. A password goes into
// the environment instead, where other users cannot read it from the process table.
func childCommand(fs *pflag.FlagSet) (args, env []string) {
	args = []string{"debug"}
	fs.Visit(func(f *pflag.Flag) {
		if f.Name == "password" && f.Value.String() != "" {
			env = append(env, passwordEnv+"="+f.Value.String())
			return
		}
		args = append(args, fmt.Sprintf("--%s=%s", f.Name, f.Value.String()))
	})
	return args, env
}

// runStart re-executes the binary with debug in a new session and returns once the
// child has claimed the PID file, or with an error if it exits first
func runStart(cmd *cobra.Command, stdout io.Writer) error {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return err
	}
	if err := lifecycle.CheckRunning(cfg.Daemon.PIDFile, os.Getpid()); err != nil {
		return err
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to locate executable: %w", err)
	}

	args, env := childCommand(cmd.Flags())
	child, err := lifecycle.NewSpawner().WithEnv(append(env, syslogEnv)...).SpawnDetached(exe, args, cfg.Daemon.LogFile)
	if err != nil {
		return err
	}
	if err := child.WaitReady(lifecycle.NewPIDFile(cfg.Daemon.PIDFile), readyTimeout, readyGrace); err != nil {
		return err
	}

	fmt.Fprintf(stdout, "krolyk started with pid %d, output in %s\n", child.PID, cfg.Daemon.LogFile)
	return nil
}

// runStop signals the instance recorded in the PID file and waits for it to exit
func runStop(cmd *cobra.Command, stdout io.Writer) error {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return err
	}

	pid, err := lifecycle.StopProcess(cfg.Daemon.PIDFile, cfg.Daemon.ShutdownTimeout)
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "krolyk (pid %d) stopped\n", pid)
	return nil
}

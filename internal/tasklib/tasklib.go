package tasklib

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"norc/internal/execution"
	"norc/internal/logging"
)

// Library names.
const (
	Command = "command"
	Sleep   = "sleep"
	Noop    = "noop"
)

// commandWaitDelay bounds how long a cancelled command may keep its output
// pipes open after SIGINT.
const commandWaitDelay = 5 * time.Second

// Register adds the built-in libraries to h.
func Register(h *execution.Handlers) error {
	for name, fn := range map[string]execution.RunFunc{
		Command: RunCommand,
		Sleep:   RunSleep,
		Noop:    RunNoop,
	} {
		if err := h.Register(name, fn); err != nil {
			return err
		}
	}
	return nil
}

// Default returns a Handlers holding only the built-in libraries.
func Default() *execution.Handlers {
	h := execution.NewHandlers()
	if err := Register(h); err != nil {
		panic(err)
	}
	return h
}

// RunCommand runs the task's args with /bin/sh -c, output to the task log.
// Cancellation sends SIGINT to the shell.
func RunCommand(ctx context.Context, rc execution.RunContext) error {
	script := strings.TrimSpace(rc.Task.Args)
	if script == "" {
		return errors.New("command task has no args to run")
	}
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", script)
	cmd.Stdout = rc.Log
	cmd.Stderr = rc.Log
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = commandWaitDelay

	logger := rc.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	logger.Debug("running command", logging.String("command", script))

	err := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("command stopped: %w", ctxErr)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return fmt.Errorf("command exited with status %d", exitErr.ExitCode())
	}
	if err != nil {
		return fmt.Errorf("run command: %w", err)
	}
	return nil
}

// RunSleep waits for the duration in args: plain seconds ("2.5") or a Go
// duration ("1m30s"). An empty value sleeps one second.
func RunSleep(ctx context.Context, rc execution.RunContext) error {
	d, err := parseSleep(rc.Task.Args)
	if err != nil {
		return err
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func parseSleep(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Second, nil
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		if secs < 0 {
			return 0, fmt.Errorf("sleep duration %q is negative", value)
		}
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("sleep duration %q: %w", value, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("sleep duration %q is negative", value)
	}
	return d, nil
}

// RunNoop succeeds immediately.
func RunNoop(context.Context, execution.RunContext) error {
	return nil
}

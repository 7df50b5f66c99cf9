package runner

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

// StderrToStdout is the --stderr value that shares the stdout destination.
const StderrToStdout = "STDOUT"

// RedirectOutput points file descriptors 1 and 2 at the task log so that
// everything the process writes, including runtime panics, reaches it. An
// empty stdout path leaves the descriptors alone.
func RedirectOutput(stdoutPath, stderrSpec string) (*os.File, error) {
	stdoutPath = strings.TrimSpace(stdoutPath)
	if stdoutPath == "" {
		return os.Stdout, nil
	}
	out, err := openAppend(stdoutPath)
	if err != nil {
		return nil, err
	}
	if err := unix.Dup3(int(out.Fd()), unix.Stdout, 0); err != nil {
		_ = out.Close()
		return nil, fmt.Errorf("redirect stdout: %w", err)
	}

	errOut := out
	switch spec := strings.TrimSpace(stderrSpec); spec {
	case StderrToStdout:
	case "":
		errOut = nil
	default:
		if errOut, err = openAppend(spec); err != nil {
			return nil, err
		}
	}
	if errOut != nil {
		if err := unix.Dup3(int(errOut.Fd()), unix.Stderr, 0); err != nil {
			return nil, fmt.Errorf("redirect stderr: %w", err)
		}
	}
	return out, nil
}

func openAppend(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return f, nil
}

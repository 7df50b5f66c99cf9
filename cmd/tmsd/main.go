package main

import (
	"context"
	"os"

	"golang.org/x/sys/unix"
)

func main() {
	outcome, err := execute(context.Background(), os.Args[1:], os.Stdout, os.Stderr)
	code, selfKill := exitStatus(outcome, err, os.Stderr)
	if selfKill {
		// In-process tasks cannot be interrupted; take them down with us.
		_ = unix.Kill(os.Getpid(), unix.SIGKILL)
	}
	os.Exit(code)
}

// Command tmsd-run-task runs a single task on behalf of tmsd's process
// backend and reports the outcome through its exit status.
package main

import (
	"context"
	"os"
)

func main() {
	os.Exit(execute(context.Background(), os.Args[1:], true))
}

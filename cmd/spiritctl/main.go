// Command spiritctl assigns biosamples to study groups and restructures groups.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"spiritcore/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cli.NewRootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "spiritctl:", err)
	}
	os.Exit(cli.GetExitCode(err))
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/quarryline/quarryline/cmd/quarryctl/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cli.NewRootCommand(cli.DefaultDeps()).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "quarryctl:", err)
		stop()
		os.Exit(1)
	}
}

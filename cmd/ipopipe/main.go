// Command ipopipe runs the IPO data pipeline: live refresh, batch runs, the
// daily quality rollup and the read API.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	_ "time/tzdata"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newApp().execute(ctx, os.Args[1:]); err != nil {
		_, _ = os.Stderr.WriteString(err.Error() + "\n")
		cancel()
		os.Exit(1)
	}
}

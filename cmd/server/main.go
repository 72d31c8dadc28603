package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"scanreader/internal/cli"
)

// The server binary is readerctl serve; flags after the program name are
// passed through, e.g. --config or --addr.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := cli.NewRootCommand()
	root.SetArgs(append([]string{"serve"}, os.Args[1:]...))
	if err := root.ExecuteContext(ctx); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
}

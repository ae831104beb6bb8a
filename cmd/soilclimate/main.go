package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/lox/soilclimate/internal/ingest"
)

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("soilclimate"),
		kong.Description("Attach daily AEMET climate records to soil profiles."),
		kong.UsageOnError(),
		kong.Vars{"base_url": ingest.DefaultBaseURL},
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, &cli.Globals, os.Stderr)
	kctx.FatalIfErrorf(err)

	err = kctx.Run(a)
	if closeErr := a.Close(); err == nil {
		err = closeErr
	}
	kctx.FatalIfErrorf(err)
}

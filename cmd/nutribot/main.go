package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"nutribot/internal/app"
)

var (
	configPath = flag.String("config", "", "Path to the YAML config file (overrides CONFIG_PATH)")
	version    = flag.Bool("version", false, "Show version")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Println("nutribot version " + app.BuildVersion())
		os.Exit(0)
	}

	if *configPath != "" {
		if err := os.Setenv("CONFIG_PATH", *configPath); err != nil {
			fmt.Fprintf(os.Stderr, "failed to set config path: %v\n", err)
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx); err != nil {
		slog.Error("application error", "error", err)
		stop()
		os.Exit(1)
	}
}

package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kylerisse/laeuft/pkg/config"
	"github.com/kylerisse/laeuft/pkg/logging"
	"github.com/kylerisse/laeuft/pkg/tracker"
)

func main() {
	configPath := flag.String("config", "laeuft-tracker.yaml", "path to the tracker config file")
	flag.Parse()

	cfg, err := config.LoadTracker(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "laeuft-tracker: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Log)

	t, err := tracker.New(cfg, logger)
	if err != nil {
		logger.Fatalf("Failed to build tracker: %v", err)
	}
	t.Start()

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("Shutting down...")
	t.Stop()
}

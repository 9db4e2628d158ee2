package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kylerisse/laeuft/pkg/config"
	"github.com/kylerisse/laeuft/pkg/logging"
	"github.com/kylerisse/laeuft/pkg/monitor"
)

func main() {
	configPath := flag.String("config", "laeuftd.yaml", "path to the monitor config file")
	flag.Parse()

	cfg, err := config.LoadMonitor(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "laeuftd: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Log)

	m, err := monitor.New(cfg, logger)
	if err != nil {
		logger.Fatalf("Failed to build monitor: %v", err)
	}
	if err := m.Start(); err != nil {
		logger.Fatalf("Failed to start monitor: %v", err)
	}

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("Shutting down...")
	m.Stop()
}

package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/mediabuy/adbatch/internal/config"
	"github.com/mediabuy/adbatch/internal/oplog"
	"github.com/mediabuy/adbatch/internal/spool"
)

func main() {
	configPath := flag.String("config", os.Getenv("ADBATCH_CONFIG"), "path to YAML config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	opLog, err := oplog.BuildLogFromDSN(cfg.OplogDSN)
	if err != nil {
		log.Fatalf("open operation log %s: %v", cfg.OplogDSN, err)
	}
	defer opLog.Close()

	watcher, err := spool.NewWatcher(cfg.SpoolDir, opLog, log.Default())
	if err != nil {
		log.Fatalf("spool watcher: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("watching %s, operation log %s", cfg.SpoolDir, cfg.OplogDSN)
	if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("spool watcher stopped: %v", err)
	}
}

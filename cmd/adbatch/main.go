package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/mediabuy/adbatch/internal/adops"
	"github.com/mediabuy/adbatch/internal/bulkmut"
	"github.com/mediabuy/adbatch/internal/config"
	"github.com/mediabuy/adbatch/internal/oplog"
	"github.com/mediabuy/adbatch/internal/pipeline"
	"github.com/mediabuy/adbatch/internal/statusapi"
)

func main() {
	configPath := flag.String("config", os.Getenv("ADBATCH_CONFIG"), "path to YAML config")
	mode := flag.String("mode", "async", "mutation path: async (bulk jobs) or sync")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if cfg.BaseURL == "" {
		log.Fatalf("remote base url is required (config base_url or ADBATCH_BASE_URL)")
	}

	opLog, err := oplog.BuildLogFromDSN(cfg.OplogDSN)
	if err != nil {
		log.Fatalf("open operation log %s: %v", cfg.OplogDSN, err)
	}
	defer opLog.Close()

	service := bulkmut.NewHTTPEntityService(bulkmut.HTTPEntityServiceOptions{
		BaseURL:   cfg.BaseURL,
		UserAgent: cfg.UserAgent,
		TokenProvider: func(context.Context) (string, error) {
			return cfg.AccessToken, nil
		},
		HTTPClient: &http.Client{Timeout: cfg.HTTPTimeout},
	})

	runMode := adops.ModeAsync
	if *mode == "sync" {
		runMode = adops.ModeSync
	}
	runner := pipeline.NewRunner(service, opLog, pipeline.Options{
		Mode:          runMode,
		Workers:       cfg.Workers,
		ChunkSize:     cfg.ChunkSize,
		SyncBatchSize: cfg.SyncBatchSize,
		PollBaseDelay: cfg.PollBaseDelay,
		PollMaxDelay:  cfg.PollMaxDelay,
		Logger:        log.Default(),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.StatusAddr != "" {
		status := statusapi.NewServer(runner.Tracker(), opLog, statusapi.ServerConfig{})
		go func() {
			log.Printf("status api listening on %s", cfg.StatusAddr)
			if err := http.ListenAndServe(cfg.StatusAddr, status); err != nil {
				log.Printf("status api stopped: %v", err)
			}
		}()
	}

	result, err := runner.Run(ctx)
	if err != nil {
		if ctx.Err() != nil && runner.Tracker().PendingCount() > 0 {
			log.Printf("interrupted, canceling %d pending jobs", runner.Tracker().PendingCount())
			cancelCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPTimeout)
			defer cancel()
			if cancelErr := runner.Tracker().CancelAll(cancelCtx); cancelErr != nil {
				log.Printf("cancel jobs: %v", cancelErr)
			}
		}
		log.Fatalf("run failed: %v", err)
	}

	log.Printf("run %s: %d submitted, %d skipped, %d jobs, %d rejected operations",
		result.RunID, result.Submitted, result.Skipped, len(result.Jobs), len(result.Failed))
	for _, failed := range result.Failed {
		log.Printf("rejected %s for client %d: %s %s",
			failed.Operation.ObjectType, failed.Operation.ClientID, failed.Code, failed.Message)
	}
	if len(result.AccountErrors) > 0 {
		for clientID, accountErr := range result.AccountErrors {
			log.Printf("client %d failed: %v", clientID, accountErr)
		}
		os.Exit(1)
	}
}

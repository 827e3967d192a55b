package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"

	"github.com/rankwell/opportunity-engine/pkg/api"
	"github.com/rankwell/opportunity-engine/pkg/config"
	"github.com/rankwell/opportunity-engine/pkg/logging"
	"github.com/rankwell/opportunity-engine/pkg/metrics"
	"github.com/rankwell/opportunity-engine/pkg/processor"
	"github.com/rankwell/opportunity-engine/pkg/shutdown"
	"github.com/rankwell/opportunity-engine/pkg/store"
)

func main() {
	cfgPath := flag.String("config", "", "config file (default: opportunityd.yaml in cwd or $HOME/.opptool)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(logging.ParseLevel(cfg.LogLevel), cfg.LogFormat == "json")
	logger.Info("Starting opportunity engine daemon", map[string]interface{}{
		"listen_addr": cfg.ListenAddr,
		"store":       cfg.Store.Type,
	})

	st, err := store.NewStore(store.Config{
		Type:            cfg.Store.Type,
		DSN:             cfg.Store.DSN,
		MaxOpenConns:    cfg.Store.MaxOpenConns,
		MaxIdleConns:    cfg.Store.MaxIdleConns,
		ConnMaxLifetime: cfg.Store.ConnMaxLifetime,
	})
	if err != nil {
		logger.Fatal("Failed to initialize store", map[string]interface{}{"error": err.Error()})
	}

	exporter := metrics.NewExporter(st)

	proc := processor.New(st, processor.Config{
		BatchSize:             cfg.Processor.BatchSize,
		MaxConcurrentBatches:  cfg.Processor.MaxConcurrentBatches,
		BatchTimeout:          cfg.Processor.BatchTimeout,
		DefaultTargetPosition: cfg.Processor.TargetPosition,
		RetryBatchSize:        50,
		RetryMaxRetries:       5,
		PersistRetries:        3,
	}, logger, exporter)

	sweeper := processor.NewSweeper(st, logger, cfg.Sweeper.CheckInterval, cfg.Sweeper.StaleThreshold)
	sweeper.Start()

	handler := api.NewHandler(st, proc, logger, exporter)
	router := mux.NewRouter()
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	sd := shutdown.New(30 * time.Second)
	sd.Register(shutdown.CloseResource(st, "store"))
	sd.Register(func(ctx context.Context) error {
		sweeper.Stop()
		return nil
	})
	sd.Register(shutdown.WaitForJobs(func() bool {
		return proc.ActiveJobs() == 0
	}, time.Second, "analysis jobs"))
	sd.Register(shutdown.StopHTTPServer(srv, "api"))

	go func() {
		logger.Info("API listening", map[string]interface{}{"addr": cfg.ListenAddr})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", map[string]interface{}{"error": err.Error()})
		}
	}()

	sd.Wait()
	sd.Shutdown()
}

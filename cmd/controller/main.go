package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aiperf/aiperf-go/pkg/bus"
	"github.com/aiperf/aiperf-go/pkg/config"
	"github.com/aiperf/aiperf-go/pkg/controller"
	"github.com/aiperf/aiperf-go/pkg/exportstub"
	"github.com/aiperf/aiperf-go/pkg/logging"
	"github.com/aiperf/aiperf-go/pkg/messages"
	"github.com/aiperf/aiperf-go/pkg/supervisor"
)

func main() {
	cfg := config.Load()
	log := logging.New(cfg.ServiceID)

	userConfig, err := loadUserConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("controller: failed to load run configuration")
	}

	buses := bus.NewBuses()
	mux := http.NewServeMux()
	buses.RegisterHTTP(mux)
	go func() {
		if err := http.ListenAndServe(cfg.BusListenAddr, mux); err != nil {
			log.Fatal().Err(err).Msg("controller: bus listener failed")
		}
	}()
	// Give the listener goroutine a moment to bind before dialing ourselves.
	time.Sleep(50 * time.Millisecond)

	pub, err := bus.NewPublisher(cfg.EventBusFrontendAddr, cfg.ServiceID)
	if err != nil {
		log.Fatal().Err(err).Msg("controller: failed to dial its own event bus frontend")
	}
	defer pub.Close()
	sub, err := bus.NewSubscriber(cfg.EventBusBackendAddr, cfg.ServiceID)
	if err != nil {
		log.Fatal().Err(err).Msg("controller: failed to dial its own event bus backend")
	}
	defer sub.Close()

	required := controller.RequiredServices{
		messages.ServiceDatasetManager: 1,
		messages.ServiceTimingManager:  1,
		messages.ServiceWorker:         userConfig.WorkerCount,
		messages.ServiceWorkerManager:  1,
		messages.ServiceInferenceParser: userConfig.ParserCount,
		messages.ServiceRecordsManager: 1,
	}
	binPaths := binPaths()

	ctrl := controller.New(cfg, required, binPaths, supervisor.NewOSProcessManager(), pub, sub, log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info().Int("workers", userConfig.WorkerCount).Int("parsers", userConfig.ParserCount).Msg("controller: starting run")
	results, err := ctrl.Run(ctx, userConfig)
	if err != nil {
		log.Fatal().Err(err).Msg("controller: run failed")
	}

	if userConfig.ArtifactDir != "" {
		if err := exportstub.WriteProfileJSON(userConfig.ArtifactDir, results); err != nil {
			log.Error().Err(err).Msg("controller: failed to write profile export")
		}
	}
	log.Info().Bool("cancelled", results.WasCancelled).Int("metrics", len(results.Metrics)).Msg("controller: run complete")
}

func loadUserConfig() (config.UserConfig, error) {
	path := os.Getenv("USER_CONFIG_PATH")
	if len(os.Args) > 1 {
		path = os.Args[1]
	}
	if path == "" {
		return config.UserConfig{}, os.ErrInvalid
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return config.UserConfig{}, err
	}
	var uc config.UserConfig
	if err := json.Unmarshal(b, &uc); err != nil {
		return config.UserConfig{}, err
	}
	return uc, nil
}

func binPaths() map[messages.ServiceType]string {
	return map[messages.ServiceType]string{
		messages.ServiceDatasetManager:  envStr("DATASET_MANAGER_BIN", "./bin/dataset"),
		messages.ServiceTimingManager:   envStr("TIMING_MANAGER_BIN", "./bin/timing"),
		messages.ServiceWorker:          envStr("WORKER_BIN", "./bin/worker"),
		messages.ServiceWorkerManager:   envStr("WORKER_MANAGER_BIN", "./bin/workermanager"),
		messages.ServiceInferenceParser: envStr("INFERENCE_PARSER_BIN", "./bin/parser"),
		messages.ServiceRecordsManager:  envStr("RECORDS_MANAGER_BIN", "./bin/records"),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

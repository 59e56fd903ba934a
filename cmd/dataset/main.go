package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/aiperf/aiperf-go/pkg/bus"
	"github.com/aiperf/aiperf-go/pkg/config"
	"github.com/aiperf/aiperf-go/pkg/dataset"
	"github.com/aiperf/aiperf-go/pkg/logging"
	"github.com/aiperf/aiperf-go/pkg/messages"
	"github.com/aiperf/aiperf-go/pkg/model"
	"github.com/aiperf/aiperf-go/pkg/obsmetrics"
)

func main() {
	cfg := config.Load()
	log := logging.New(cfg.ServiceID)

	pub, err := bus.NewPublisher(cfg.EventBusFrontendAddr, cfg.ServiceID)
	if err != nil {
		log.Fatal().Err(err).Msg("dataset: failed to dial event bus frontend")
	}
	defer pub.Close()
	sub, err := bus.NewSubscriber(cfg.EventBusBackendAddr, cfg.ServiceID)
	if err != nil {
		log.Fatal().Err(err).Msg("dataset: failed to dial event bus backend")
	}
	defer sub.Close()
	rep, err := bus.NewReplier(cfg.DatasetBackendAddr, cfg.ServiceID)
	if err != nil {
		log.Fatal().Err(err).Msg("dataset: failed to dial dataset backend")
	}
	defer rep.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	sub.Subscribe(messages.TypeShutdown, func(bus.Envelope) { cancel() })

	configured := make(chan config.UserConfig, 1)
	sub.Subscribe(messages.TypeProfileConfigure, func(env bus.Envelope) {
		var payload messages.ProfileConfigurePayload
		if err := env.Decode(&payload); err != nil {
			log.Error().Err(err).Msg("dataset: failed to decode PROFILE_CONFIGURE")
			return
		}
		select {
		case configured <- payload.UserConfig:
		default:
		}
	})

	if err := pub.Publish(messages.TypeRegisterService, messages.RegisterServicePayload{
		ServiceType: messages.ServiceDatasetManager, ReplicaID: cfg.ReplicaID,
	}); err != nil {
		log.Fatal().Err(err).Msg("dataset: failed to publish REGISTER_SERVICE")
	}

	var userConfig config.UserConfig
	select {
	case userConfig = <-configured:
	case <-ctx.Done():
		return
	}

	conversations, err := loadConversations(userConfig.DatasetPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", userConfig.DatasetPath).Msg("dataset: failed to load conversation corpus")
	}
	manager, err := dataset.NewManager(conversations, userConfig.Sampling, userConfig.RandomSeed)
	if err != nil {
		log.Fatal().Err(err).Msg("dataset: failed to build manager")
	}
	dataset.RegisterHandlers(rep, manager)

	if err := dataset.PublishConfigured(pub, manager); err != nil {
		log.Fatal().Err(err).Msg("dataset: failed to publish DATASET_CONFIGURED")
	}

	metrics := obsmetrics.New(cfg.ServiceID)
	mux := http.NewServeMux()
	metrics.RegisterHTTP(mux)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.MetricsPort)
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Error().Err(err).Msg("dataset: metrics server failed")
		}
	}()

	log.Info().Int("conversations", manager.Count()).Msg("dataset: ready, serving queries")
	<-ctx.Done()
	log.Info().Msg("dataset: shut down")
}

func loadConversations(path string) ([]model.Conversation, error) {
	if path == "" {
		return nil, fmt.Errorf("dataset: no dataset_path configured")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var conversations []model.Conversation
	if err := json.Unmarshal(b, &conversations); err != nil {
		return nil, err
	}
	return conversations, nil
}

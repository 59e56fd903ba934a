package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/aiperf/aiperf-go/pkg/bus"
	"github.com/aiperf/aiperf-go/pkg/config"
	"github.com/aiperf/aiperf-go/pkg/logging"
	"github.com/aiperf/aiperf-go/pkg/messages"
	"github.com/aiperf/aiperf-go/pkg/obsmetrics"
	"github.com/aiperf/aiperf-go/pkg/workermanager"
)

func main() {
	cfg := config.Load()
	log := logging.New(cfg.ServiceID)

	pub, err := bus.NewPublisher(cfg.EventBusFrontendAddr, cfg.ServiceID)
	if err != nil {
		log.Fatal().Err(err).Msg("workermanager: failed to dial event bus frontend")
	}
	defer pub.Close()
	sub, err := bus.NewSubscriber(cfg.EventBusBackendAddr, cfg.ServiceID)
	if err != nil {
		log.Fatal().Err(err).Msg("workermanager: failed to dial event bus backend")
	}
	defer sub.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	sub.Subscribe(messages.TypeShutdown, func(bus.Envelope) { cancel() })

	configured := make(chan config.UserConfig, 1)
	sub.Subscribe(messages.TypeProfileConfigure, func(env bus.Envelope) {
		var payload messages.ProfileConfigurePayload
		if err := env.Decode(&payload); err != nil {
			log.Error().Err(err).Msg("workermanager: failed to decode PROFILE_CONFIGURE")
			return
		}
		select {
		case configured <- payload.UserConfig:
		default:
		}
	})

	if err := pub.Publish(messages.TypeRegisterService, messages.RegisterServicePayload{
		ServiceType: messages.ServiceWorkerManager, ReplicaID: cfg.ReplicaID,
	}); err != nil {
		log.Fatal().Err(err).Msg("workermanager: failed to publish REGISTER_SERVICE")
	}

	var userConfig config.UserConfig
	select {
	case userConfig = <-configured:
	case <-ctx.Done():
		return
	}

	m := workermanager.New(sub, userConfig.WorkerCount, cfg.WorkerHealthReportInterval*3, log)

	metrics := obsmetrics.New(cfg.ServiceID)
	mux := http.NewServeMux()
	metrics.RegisterHTTP(mux)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.MetricsPort)
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Error().Err(err).Msg("workermanager: metrics server failed")
		}
	}()

	ticker := time.NewTicker(cfg.WorkerManagerSweepInterval)
	defer ticker.Stop()

	log.Info().Int("desired_replicas", m.DesiredReplicas()).Msg("workermanager: ready, tracking worker health")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("workermanager: shut down")
			return
		case now := <-ticker.C:
			m.SweepStale(now)
			if healthy := m.HealthyCount(); healthy < m.DesiredReplicas() {
				log.Warn().Int("healthy", healthy).Int("desired", m.DesiredReplicas()).Msg("workermanager: worker pool degraded")
			}
		}
	}
}

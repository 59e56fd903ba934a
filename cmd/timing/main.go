package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/aiperf/aiperf-go/pkg/bus"
	"github.com/aiperf/aiperf-go/pkg/config"
	"github.com/aiperf/aiperf-go/pkg/logging"
	"github.com/aiperf/aiperf-go/pkg/messages"
	"github.com/aiperf/aiperf-go/pkg/obsmetrics"
	"github.com/aiperf/aiperf-go/pkg/timing"
)

func main() {
	cfg := config.Load()
	log := logging.New(cfg.ServiceID)

	pub, err := bus.NewPublisher(cfg.EventBusFrontendAddr, cfg.ServiceID)
	if err != nil {
		log.Fatal().Err(err).Msg("timing: failed to dial event bus frontend")
	}
	defer pub.Close()
	sub, err := bus.NewSubscriber(cfg.EventBusBackendAddr, cfg.ServiceID)
	if err != nil {
		log.Fatal().Err(err).Msg("timing: failed to dial event bus backend")
	}
	defer sub.Close()
	creditPusher, err := bus.NewPusher(cfg.CreditFrontendAddr, cfg.ServiceID, cfg.PushRetryAttempts, cfg.PushRetryDelay)
	if err != nil {
		log.Fatal().Err(err).Msg("timing: failed to dial credit frontend")
	}
	defer creditPusher.Close()
	datasetReq, err := bus.NewRequester(cfg.DatasetFrontendAddr, cfg.ServiceID)
	if err != nil {
		log.Fatal().Err(err).Msg("timing: failed to dial dataset frontend")
	}
	defer datasetReq.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	sub.Subscribe(messages.TypeShutdown, func(bus.Envelope) { cancel() })
	sub.Subscribe(messages.TypeProfileCancel, func(bus.Envelope) { cancelRun() })

	cm := timing.NewCreditManager(cfg.ServiceID, creditPusher, pub)
	manager := timing.NewManager(cfg, cm, datasetReq)

	configured := make(chan config.UserConfig, 1)
	sub.Subscribe(messages.TypeProfileConfigure, func(env bus.Envelope) {
		var payload messages.ProfileConfigurePayload
		if err := env.Decode(&payload); err != nil {
			log.Error().Err(err).Msg("timing: failed to decode PROFILE_CONFIGURE")
			return
		}
		select {
		case configured <- payload.UserConfig:
		default:
		}
	})

	started := make(chan struct{}, 1)
	sub.Subscribe(messages.TypeProfileStart, func(bus.Envelope) {
		select {
		case started <- struct{}{}:
		default:
		}
	})

	if err := pub.Publish(messages.TypeRegisterService, messages.RegisterServicePayload{
		ServiceType: messages.ServiceTimingManager, ReplicaID: cfg.ReplicaID,
	}); err != nil {
		log.Fatal().Err(err).Msg("timing: failed to publish REGISTER_SERVICE")
	}

	var userConfig config.UserConfig
	select {
	case userConfig = <-configured:
	case <-ctx.Done():
		return
	}

	metrics := obsmetrics.New(cfg.ServiceID)
	mux := http.NewServeMux()
	metrics.RegisterHTTP(mux)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.MetricsPort)
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Error().Err(err).Msg("timing: metrics server failed")
		}
	}()

	select {
	case <-started:
	case <-ctx.Done():
		return
	}

	log.Info().Str("mode", string(userConfig.Load.Mode)).Msg("timing: profile starting")
	if err := manager.RunProfile(runCtx, userConfig.Load); err != nil && runCtx.Err() == nil {
		log.Error().Err(err).Msg("timing: profile run failed")
	}
	log.Info().Msg("timing: profile complete")

	<-ctx.Done()
	log.Info().Msg("timing: shut down")
}

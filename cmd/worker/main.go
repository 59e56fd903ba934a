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
	"github.com/aiperf/aiperf-go/pkg/worker"
)

func main() {
	cfg := config.Load()
	log := logging.New(cfg.ServiceID)

	pub, err := bus.NewPublisher(cfg.EventBusFrontendAddr, cfg.ServiceID)
	if err != nil {
		log.Fatal().Err(err).Msg("worker: failed to dial event bus frontend")
	}
	defer pub.Close()
	sub, err := bus.NewSubscriber(cfg.EventBusBackendAddr, cfg.ServiceID)
	if err != nil {
		log.Fatal().Err(err).Msg("worker: failed to dial event bus backend")
	}
	defer sub.Close()
	creditPuller, err := bus.NewPuller(cfg.CreditBackendAddr, cfg.ServiceID, cfg.MaxPullConcurrency)
	if err != nil {
		log.Fatal().Err(err).Msg("worker: failed to dial credit backend")
	}
	defer creditPuller.Close()
	rawPusher, err := bus.NewPusher(cfg.RawInferFrontendAddr, cfg.ServiceID, cfg.PushRetryAttempts, cfg.PushRetryDelay)
	if err != nil {
		log.Fatal().Err(err).Msg("worker: failed to dial raw-inference frontend")
	}
	defer rawPusher.Close()
	datasetReq, err := bus.NewRequester(cfg.DatasetFrontendAddr, cfg.ServiceID)
	if err != nil {
		log.Fatal().Err(err).Msg("worker: failed to dial dataset frontend")
	}
	defer datasetReq.Close()

	configured := make(chan config.UserConfig, 1)
	sub.Subscribe(messages.TypeProfileConfigure, func(env bus.Envelope) {
		var payload messages.ProfileConfigurePayload
		if err := env.Decode(&payload); err != nil {
			log.Error().Err(err).Msg("worker: failed to decode PROFILE_CONFIGURE")
			return
		}
		select {
		case configured <- payload.UserConfig:
		default:
		}
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	sub.Subscribe(messages.TypeShutdown, func(bus.Envelope) { cancel() })

	if err := pub.Publish(messages.TypeRegisterService, messages.RegisterServicePayload{
		ServiceType: messages.ServiceWorker, ReplicaID: cfg.ReplicaID,
	}); err != nil {
		log.Fatal().Err(err).Msg("worker: failed to publish REGISTER_SERVICE")
	}

	var userConfig config.UserConfig
	select {
	case userConfig = <-configured:
	case <-ctx.Done():
		return
	}

	w := worker.New(cfg.ServiceID, cfg.ReplicaID, userConfig.Endpoint, creditPuller, rawPusher, datasetReq, pub, nil, log)
	go w.StartHealthReporting(ctx, cfg.WorkerHealthReportInterval)

	metrics := obsmetrics.New(cfg.ServiceID)
	mux := http.NewServeMux()
	metrics.RegisterHTTP(mux)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.MetricsPort)
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Error().Err(err).Msg("worker: metrics server failed")
		}
	}()

	log.Info().Str("endpoint", userConfig.Endpoint.BaseURL).Msg("worker: ready, waiting for credits")
	<-ctx.Done()
	w.Wait()
	log.Info().Msg("worker: shut down")
}

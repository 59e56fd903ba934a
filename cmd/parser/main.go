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
	"github.com/aiperf/aiperf-go/pkg/parser"
	"github.com/aiperf/aiperf-go/pkg/tokenizer"
)

func main() {
	cfg := config.Load()
	log := logging.New(cfg.ServiceID)

	pub, err := bus.NewPublisher(cfg.EventBusFrontendAddr, cfg.ServiceID)
	if err != nil {
		log.Fatal().Err(err).Msg("parser: failed to dial event bus frontend")
	}
	defer pub.Close()
	sub, err := bus.NewSubscriber(cfg.EventBusBackendAddr, cfg.ServiceID)
	if err != nil {
		log.Fatal().Err(err).Msg("parser: failed to dial event bus backend")
	}
	defer sub.Close()
	rawPuller, err := bus.NewPuller(cfg.RawInferBackendAddr, cfg.ServiceID, cfg.MaxPullConcurrency)
	if err != nil {
		log.Fatal().Err(err).Msg("parser: failed to dial raw-inference backend")
	}
	defer rawPuller.Close()
	parsedPusher, err := bus.NewPusher(cfg.ParsedFrontendAddr, cfg.ServiceID, cfg.PushRetryAttempts, cfg.PushRetryDelay)
	if err != nil {
		log.Fatal().Err(err).Msg("parser: failed to dial parsed-record frontend")
	}
	defer parsedPusher.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	sub.Subscribe(messages.TypeShutdown, func(bus.Envelope) { cancel() })

	configured := make(chan config.UserConfig, 1)
	sub.Subscribe(messages.TypeProfileConfigure, func(env bus.Envelope) {
		var payload messages.ProfileConfigurePayload
		if err := env.Decode(&payload); err != nil {
			log.Error().Err(err).Msg("parser: failed to decode PROFILE_CONFIGURE")
			return
		}
		select {
		case configured <- payload.UserConfig:
		default:
		}
	})

	if err := pub.Publish(messages.TypeRegisterService, messages.RegisterServicePayload{
		ServiceType: messages.ServiceInferenceParser, ReplicaID: cfg.ReplicaID,
	}); err != nil {
		log.Fatal().Err(err).Msg("parser: failed to publish REGISTER_SERVICE")
	}

	var userConfig config.UserConfig
	select {
	case userConfig = <-configured:
	case <-ctx.Done():
		return
	}

	fallbackModel := ""
	if len(userConfig.Endpoint.Models) > 0 {
		fallbackModel = userConfig.Endpoint.Models[0]
	}
	tok := tokenizer.NewCache(nil)
	parser.New(rawPuller, parsedPusher, tok, userConfig.Endpoint.Type, fallbackModel, log)

	metrics := obsmetrics.New(cfg.ServiceID)
	mux := http.NewServeMux()
	metrics.RegisterHTTP(mux)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.MetricsPort)
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Error().Err(err).Msg("parser: metrics server failed")
		}
	}()

	log.Info().Str("endpoint_type", string(userConfig.Endpoint.Type)).Msg("parser: ready")
	<-ctx.Done()
	log.Info().Msg("parser: shut down")
}

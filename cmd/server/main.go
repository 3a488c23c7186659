package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"dialogue-transcription-service/internal/api"
	"dialogue-transcription-service/internal/config"
	"dialogue-transcription-service/internal/events"
	"dialogue-transcription-service/internal/observability"
	"dialogue-transcription-service/internal/observability/logging"
	"dialogue-transcription-service/internal/relay"
	"dialogue-transcription-service/internal/room"
	"dialogue-transcription-service/internal/session"
	"dialogue-transcription-service/internal/stt"
	"dialogue-transcription-service/internal/stt/google"
	"dialogue-transcription-service/internal/stt/mock"
	"dialogue-transcription-service/internal/stt/speechmatics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logging.Init(logging.Config{
		Level:      cfg.LogLevel,
		Format:     cfg.LogFormat,
		TimeFormat: time.RFC3339,
	})

	publisher := events.New(&events.Config{
		Enabled:      cfg.Kafka.Enabled,
		Brokers:      cfg.Kafka.Brokers,
		TopicPartial: cfg.Kafka.TopicPartial,
		TopicFinal:   cfg.Kafka.TopicFinal,
		Principal:    cfg.Kafka.Principal,
	})
	defer publisher.Close()

	hub := relay.NewHub()
	connector := room.NewConnector(cfg.LiveKit.URL, cfg.LiveKit.APIKey, cfg.LiveKit.APISecret)

	controller := session.NewController(
		session.Config{
			QueueCapacity: cfg.Session.QueueCapacity,
			GracePeriod:   cfg.Session.GracePeriod,
			StopTimeout:   cfg.Session.StopTimeout,
		},
		adapterFactory(cfg),
		connector,
		hub,
		publisher,
	)

	server := api.NewServer(
		controller,
		hub,
		api.NewTokenMinter(cfg.LiveKit.APIKey, cfg.LiveKit.APISecret),
		cfg.LiveKit.URL,
	)

	metricsServer := observability.NewServer(cfg.MetricsAddr)
	metricsServer.Start()

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().
			Str("addr", cfg.HTTPAddr).
			Str("stt_provider", cfg.STT.Provider).
			Msg("Dialogue transcription service started")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP serve failed")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("HTTP shutdown incomplete")
	}
	controller.Shutdown()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Metrics shutdown incomplete")
	}
}

// adapterFactory builds a fresh recognizer per session for the
// configured provider.
func adapterFactory(cfg *config.Config) session.AdapterFactory {
	sttCfg := stt.Config{
		Language:       cfg.STT.Language,
		SampleRate:     cfg.STT.SampleRate,
		EnablePartials: cfg.STT.EnablePartials,
		Diarization:    cfg.STT.Diarization,
		MaxDelay:       cfg.STT.MaxDelay,
	}

	switch cfg.STT.Provider {
	case "google":
		return func(ctx context.Context) (stt.Adapter, error) {
			return google.New(ctx, sttCfg)
		}
	case "mock":
		return func(ctx context.Context) (stt.Adapter, error) {
			return mock.New(), nil
		}
	default:
		return func(ctx context.Context) (stt.Adapter, error) {
			return speechmatics.New(cfg.STT.SpeechmaticsURL, cfg.STT.SpeechmaticsAPIKey, sttCfg), nil
		}
	}
}

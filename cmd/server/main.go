package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	api "conference-transcription-service/internal/api/http"
	"conference-transcription-service/internal/config"
	"conference-transcription-service/internal/events"
	"conference-transcription-service/internal/exam"
	"conference-transcription-service/internal/fanout"
	"conference-transcription-service/internal/observability"
	"conference-transcription-service/internal/observability/logging"
	"conference-transcription-service/internal/relay"
	"conference-transcription-service/internal/stt"
	sttgoogle "conference-transcription-service/internal/stt/google"
	sttmock "conference-transcription-service/internal/stt/mock"
	"conference-transcription-service/internal/transcript"
)

func main() {
	cfg := config.Load()

	logging.Init(logging.Config{
		Level:   cfg.Observability.LogLevel,
		Format:  cfg.Observability.LogFormat,
		Service: cfg.Service.Principal,
	})
	log := logging.Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Recognition backend.
	var factory stt.Factory
	switch cfg.STT.Provider {
	case "google":
		client, err := speech.NewClient(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("speech client init failed")
		}
		defer client.Close()
		factory = sttgoogle.Factory(client, sttgoogle.Config{
			LanguageCode:   cfg.STT.LanguageCode,
			SampleRateHz:   cfg.STT.SampleRateHz,
			InterimResults: cfg.STT.InterimResults,
			AudioEncoding:  "LINEAR16",
			Model:          cfg.STT.Model,
			UseEnhanced:    cfg.STT.UseEnhanced,
		})
	default:
		log.Info().Str("provider", cfg.STT.Provider).Msg("using mock recognition backend")
		factory = sttmock.Factory()
	}

	// Event pipeline: relays publish into the registry; the transcript store
	// and Kafka publisher consume alongside connected clients.
	registry := fanout.NewRegistry(log)

	store, err := transcript.NewStore(cfg.TranscriptsDir, log)
	if err != nil {
		log.Fatal().Err(err).Msg("transcript store init failed")
	}
	registry.Subscribe(store.Subscriber())

	publisher := events.New(&events.Config{
		Enabled:      cfg.Kafka.Enabled,
		Brokers:      cfg.Kafka.Brokers,
		TopicPartial: cfg.Kafka.TopicPartial,
		TopicFinal:   cfg.Kafka.TopicFinal,
		Principal:    cfg.Kafka.Principal,
	})
	defer publisher.Close()
	registry.Subscribe(publisher.Subscriber())

	relayHandler := relay.NewHandler(relay.Config{
		MaxStreamDuration:  cfg.Relay.MaxStreamDuration,
		ReopenMaxAttempts:  cfg.Relay.ReopenMaxAttempts,
		ReopenBackoff:      cfg.Relay.ReopenBackoff,
		DrainTimeout:       cfg.Relay.DrainTimeout,
		EventQueueCapacity: cfg.Relay.EventQueueCapacity,
	}, factory, registry, log)

	deps := api.Deps{
		Tokens:        api.NewTokenMinter(cfg.LiveKit.APIKey, cfg.LiveKit.APISecret, 6*time.Hour),
		Store:         store,
		Transcription: relayHandler,
		Log:           log,
	}

	if cfg.Exam.APIKey != "" {
		genaiClient, err := genai.NewClient(ctx, option.WithAPIKey(cfg.Exam.APIKey))
		if err != nil {
			log.Fatal().Err(err).Msg("genai client init failed")
		}
		defer genaiClient.Close()
		deps.Exam = exam.NewGenerator(genaiClient, cfg.Exam.Model, log)
	} else {
		log.Info().Msg("exam generation disabled (no API key)")
	}

	if cfg.LiveKit.URL != "" {
		deps.Recorder = api.NewRecorder(cfg.LiveKit.URL, cfg.LiveKit.APIKey, cfg.LiveKit.APISecret)
	} else {
		log.Info().Msg("recording disabled (no LiveKit URL)")
	}

	obs := observability.NewServer(":" + cfg.Service.MetricsPort)
	obs.Start()

	httpServer := &http.Server{
		Addr:         ":" + cfg.Service.HTTPPort,
		Handler:      api.NewRouter(deps),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // websocket sessions outlive any write deadline
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("addr", httpServer.Addr).Msg("conference transcription service started")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http serve failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown failed")
	}
	if err := obs.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("observability shutdown failed")
	}
}

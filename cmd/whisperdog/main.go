package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/xblabs/WhisperDog-sub003/internal/api"
	"github.com/xblabs/WhisperDog-sub003/internal/config"
	"github.com/xblabs/WhisperDog-sub003/internal/events"
	"github.com/xblabs/WhisperDog-sub003/internal/history"
	"github.com/xblabs/WhisperDog-sub003/internal/session"
	"github.com/xblabs/WhisperDog-sub003/internal/storage"
	"github.com/xblabs/WhisperDog-sub003/internal/transcribe"
)

var version = "dev"

func main() {
	startTime := time.Now()

	var overrides config.Overrides
	flag.StringVar(&overrides.EnvFile, "env-file", "", "path to .env file")
	flag.StringVar(&overrides.HTTPAddr, "http-addr", "", "HTTP listen address")
	flag.StringVar(&overrides.LogLevel, "log-level", "", "log level (trace..error)")
	flag.StringVar(&overrides.DataDir, "data-dir", "", "recording archive directory")
	flag.StringVar(&overrides.ImportDir, "import-dir", "", "WAV drop directory to watch")
	flag.StringVar(&overrides.Provider, "provider", "", "STT provider (whisper|elevenlabs)")
	flag.Parse()

	cfg, err := config.Load(overrides)
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	log.Info().Str("version", version).Str("provider", cfg.Provider).Msg("whisperdog starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// History store
	store, err := history.Open(cfg.HistoryDB)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open history store")
	}
	defer store.Close()

	// Recording archive: local always, S3 mirror when configured
	storageLog := log.With().Str("component", "storage").Logger()
	var archive storage.Store = storage.NewLocalStore(cfg.DataDir)
	if cfg.S3.Bucket != "" {
		s3Store, err := storage.NewS3Store(cfg.S3, storageLog)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to configure s3 archive")
		}
		if err := s3Store.HeadBucket(ctx); err != nil {
			log.Fatal().Err(err).Str("bucket", cfg.S3.Bucket).Msg("s3 bucket not reachable")
		}
		archive = storage.NewTiered(archive, s3Store, storageLog)
		log.Info().Str("bucket", cfg.S3.Bucket).Msg("s3 archive enabled")
	}

	// STT provider
	var provider transcribe.Provider
	switch cfg.Provider {
	case "elevenlabs":
		provider = transcribe.NewElevenLabsClient(cfg.ElevenAPIKey, cfg.ElevenModel, cfg.STTTimeout)
	default:
		provider = transcribe.NewWhisperClient(cfg.WhisperURL, cfg.WhisperModel, cfg.STTTimeout)
	}

	// Pipeline and live session manager
	bus := events.NewBus(256)
	pipeline := session.NewPipeline(cfg, provider, store, archive, bus, log)
	manager := session.NewManager(pipeline, cfg, log)

	// Import watcher
	if cfg.ImportDir != "" {
		importer := session.NewImporter(pipeline, cfg.ImportDir, log)
		if err := importer.Start(); err != nil {
			log.Fatal().Err(err).Str("dir", cfg.ImportDir).Msg("failed to start import watcher")
		}
		defer importer.Stop()
	}

	// HTTP server
	httpLog := log.With().Str("component", "http").Logger()
	srv := api.NewServer(cfg, manager, store, bus, version, startTime, httpLog)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown error")
	}
	log.Info().Msg("whisperdog stopped")
}

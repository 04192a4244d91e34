// ytaudio/main.go
package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ytaudio/api"
	"ytaudio/config"
	"ytaudio/ffmpeg"
	"ytaudio/job"
	"ytaudio/provider"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "ytaudio").Logger()

	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.Fatal().Err(err).Str("level", cfg.LogLevel).Msg("invalid log level")
	}
	logger = logger.Level(level)
	if level > zerolog.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}

	// 2. Initialize collaborators (provider, transcoder, temp storage)
	yt := provider.NewYouTube(cfg.ProviderTimeout, logger)
	guard := ffmpeg.NewResourceGuard(cfg, logger)
	transcoder, err := ffmpeg.NewTranscoder(cfg, guard, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize transcoder")
	}
	store, err := job.NewTempStore(cfg.TempDir, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize temp storage")
	}

	// 3. Initialize the pipeline and job manager
	pipeline := job.NewPipeline(cfg, yt, yt, transcoder, store, logger)
	jobManager, err := job.NewManager(cfg, pipeline, store, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize job manager")
	}

	// 4. Start background services and HTTP server. Request contexts derive
	// from ctx so a shutdown cancels in-flight downloads.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	jobManager.Start(ctx)

	router := api.SetupRouter(jobManager, yt, cfg, logger)
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("delivery", cfg.Delivery).
			Str("ffmpeg", cfg.FFBin).
			Int("bitrate_kbps", cfg.AudioBitrate).
			Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("listen failed")
		}
	}()

	// 5. Wait for interrupt signal for graceful shutdown
	<-ctx.Done()
	stop()
	logger.Info().Msg("shutting down gracefully, press Ctrl+C again to force")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Int("active_jobs", jobManager.Active()).Msg("server exiting")
}

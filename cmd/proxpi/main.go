package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/phuslu/log"

	"github.com/nm-proxpi/proxpi/internal/cache"
	"github.com/nm-proxpi/proxpi/internal/config"
	"github.com/nm-proxpi/proxpi/internal/filecache"
	"github.com/nm-proxpi/proxpi/internal/logger"
	"github.com/nm-proxpi/proxpi/internal/pypi"
	"github.com/nm-proxpi/proxpi/internal/server"
)

func main() {
	cfg := config.Load()

	logger.Init(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Color: cfg.LogColor})

	log.Info().
		Str("index_url", cfg.IndexURL).
		Int64("cache_size_bytes", cfg.CacheSize).
		Str("cache_size_human", formatBytes(cfg.CacheSize)).
		Dur("index_ttl", cfg.IndexTTL).
		Str("port", cfg.Port).
		Msg("starting proxpi")

	sourceCfg := func(baseURL string, ttl time.Duration) pypi.Config {
		return pypi.Config{
			BaseURL:                baseURL,
			TTL:                    ttl,
			DisableSSLVerification: cfg.DisableSSLVerification,
			ConnectTimeout:         cfg.ConnectTimeout,
			ReadTimeout:            cfg.ReadTimeout,
		}
	}

	root := pypi.NewSource(sourceCfg(cfg.IndexURL, cfg.IndexTTL))
	extras := make([]*pypi.Source, len(cfg.ExtraIndexURLs))
	for i, url := range cfg.ExtraIndexURLs {
		extras[i] = pypi.NewSource(sourceCfg(url, cfg.ExtraIndexTTLs[i]))
	}
	agg := cache.New(root, extras...)

	// PROXPI_CACHE_DIR being explicitly set means the directory may carry
	// files from a prior run; an unset one means config.Load() just
	// allocated a fresh, necessarily empty temp directory.
	adopt := os.Getenv("PROXPI_CACHE_DIR") != ""
	files, err := filecache.New(filecache.Config{
		Dir:             cfg.CacheDir,
		Budget:          cfg.CacheSize,
		DownloadTimeout: cfg.DownloadTimeout,
		Adopt:           adopt,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize file cache")
	}

	srv := server.New(cfg, agg, files)

	httpServer := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: srv.Router(),
	}

	go func() {
		log.Info().Str("address", httpServer.Addr).Msg("http server starting")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Warn().Msg("shutdown signal received")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	log.Info().Msg("server stopped gracefully")
}

func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

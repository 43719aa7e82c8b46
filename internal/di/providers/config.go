// Package providers contains dependency injection providers for the audio cache service.
package providers

import (
	"github.com/samber/do/v2"

	"github.com/listenupapp/audiocache/internal/config"
	"github.com/listenupapp/audiocache/internal/logger"
)

// ProvideConfig provides the application configuration.
func ProvideConfig(i do.Injector) (*config.Config, error) {
	return config.LoadConfig()
}

// ProvideLogger provides the structured logger.
func ProvideLogger(i do.Injector) (*logger.Logger, error) {
	cfg := do.MustInvoke[*config.Config](i)

	log := logger.New(logger.Config{
		Level:       logger.ParseLevel(cfg.Logger.Level),
		AddSource:   cfg.App.Environment == "development",
		Environment: cfg.App.Environment,
	})

	log.Info("Starting audio cache",
		"environment", cfg.App.Environment,
		"log_level", cfg.Logger.Level,
		"data_path", cfg.Storage.DataPath,
		"cache_dir", cfg.Storage.CacheDir,
		"codec", cfg.Transcode.Codec,
	)

	return log, nil
}

package providers

import (
	"github.com/samber/do/v2"

	"github.com/listenupapp/audiocache/internal/config"
	"github.com/listenupapp/audiocache/internal/logger"
	"github.com/listenupapp/audiocache/internal/probe"
	"github.com/listenupapp/audiocache/internal/resolver"
	"github.com/listenupapp/audiocache/internal/source/telegram"
	"github.com/listenupapp/audiocache/internal/source/youtube"
)

// SourceRegistryHandle wraps the resolver registry and the clients behind its
// handlers.
type SourceRegistryHandle struct {
	*resolver.Registry
	youtube  *youtube.Client
	telegram *telegram.Handler
}

// Shutdown implements do.Shutdownable.
func (h *SourceRegistryHandle) Shutdown() error {
	h.youtube.Close()
	if h.telegram != nil {
		h.telegram.Close()
	}
	return nil
}

// ProvideSourceRegistry provides the source resolver with platform handlers
// registered ahead of the generic ffprobe fallback.
func ProvideSourceRegistry(i do.Injector) (*SourceRegistryHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	prober := do.MustInvoke[*probe.Prober](i)

	registry := resolver.NewRegistry(prober, log.Component("resolver"))
	handle := &SourceRegistryHandle{Registry: registry}

	handle.youtube = youtube.New(youtube.Options{
		BaseURL:     cfg.Sources.YouTubeAPIURL,
		RPS:         cfg.Sources.YouTubeRPS,
		CodecFamily: cfg.Transcode.CodecFamily(),
	}, log.Component("youtube"))
	registry.Register(youtube.NewHandler(handle.youtube, log.Component("youtube")))

	if cfg.Sources.TelegramBotToken != "" {
		handle.telegram = telegram.New(cfg.Sources.TelegramAPIURL, cfg.Sources.TelegramBotToken, prober, log.Component("telegram"))
		registry.Register(handle.telegram)
	} else {
		log.Info("Telegram source disabled (no bot token)")
	}

	log.Info("Source handlers registered", "handlers", registry.Handlers())

	return handle, nil
}

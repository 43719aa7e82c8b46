package providers

import (
	"github.com/samber/do/v2"

	"github.com/listenupapp/audiocache/internal/cachedir"
	"github.com/listenupapp/audiocache/internal/config"
	"github.com/listenupapp/audiocache/internal/logger"
	"github.com/listenupapp/audiocache/internal/probe"
	"github.com/listenupapp/audiocache/internal/transcode"
	"github.com/listenupapp/audiocache/internal/workpool"
)

// ProvideCacheLayout provides the cache directory layout. Temp files left by
// an earlier process are removed here, before any transcode can start.
func ProvideCacheLayout(i do.Injector) (*cachedir.Layout, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	layout, err := cachedir.New(cfg.Storage.CacheDir, cfg.Transcode.Extension)
	if err != nil {
		return nil, err
	}

	removed, err := layout.RemoveStaleTemps()
	if err != nil {
		log.Warn("Failed to clear stale temp files", "error", err)
	} else if removed > 0 {
		log.Info("Cleared stale temp files", "removed", removed)
	}

	return layout, nil
}

// ProvideProber provides the ffprobe wrapper.
func ProvideProber(i do.Injector) (*probe.Prober, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	p, err := probe.New(cfg.Transcode.FFprobePath, 0, log.Component("probe"))
	if err != nil {
		return nil, err
	}

	log.Info("ffprobe located", "path", p.Path())
	return p, nil
}

// ProvideTranscoder provides the ffmpeg encode pipeline.
func ProvideTranscoder(i do.Injector) (*transcode.Transcoder, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	layout := do.MustInvoke[*cachedir.Layout](i)
	prober := do.MustInvoke[*probe.Prober](i)

	return transcode.New(cfg.Transcode, layout, prober, log.Component("transcode"))
}

// Pools groups the two external-process worker pools.
type Pools struct {
	Probe     *workpool.Pool
	Transcode *workpool.Pool
}

// ProvidePools provides the probe and transcode pools.
func ProvidePools(i do.Injector) (*Pools, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	pools := &Pools{
		Probe:     workpool.New("probe", cfg.Workers.Probe),
		Transcode: workpool.New("transcode", cfg.Workers.Transcode),
	}

	log.Info("Worker pools ready",
		"probe_workers", pools.Probe.Size(),
		"transcode_workers", pools.Transcode.Size(),
	)

	return pools, nil
}

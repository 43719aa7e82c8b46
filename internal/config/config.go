// Package config loads service configuration from flags, environment variables, and .env files.
package config

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config holds the application configuration.
type Config struct {
	App       AppConfig
	Logger    LoggerConfig
	Server    ServerConfig
	Storage   StorageConfig
	Transcode TranscodeConfig
	Workers   WorkersConfig
	Retry     RetryConfig
	Sweep     SweepConfig
	Sources   SourcesConfig
	API       APIConfig
}

// AppConfig holds application-level configuration.
type AppConfig struct {
	Environment string
}

// LoggerConfig holds logging configuration.
type LoggerConfig struct {
	Level string
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port         string        // default: 8080
	ReadTimeout  time.Duration // default: 15s
	WriteTimeout time.Duration // default: 0 (streams may be long)
	IdleTimeout  time.Duration // default: 60s
}

// StorageConfig holds on-disk locations.
type StorageConfig struct {
	// DataPath holds the catalog database, search index and metadata cache.
	DataPath string
	// CacheDir holds one transcoded file per record (default: {data}/cache).
	CacheDir string
	// MetadataCacheTTL bounds how long resolved source metadata is reused (0 disables).
	MetadataCacheTTL time.Duration
}

// TranscodeConfig describes the single output profile of a deployment.
type TranscodeConfig struct {
	FFmpegPath  string // default: auto-detect
	FFprobePath string // default: auto-detect
	Codec       string // ffmpeg encoder name (default: libopus)
	Bitrate     string // default: 128k
	Extension   string // container extension without dot (default: ogg)
	// MaxDuration is the longest accepted source; longer sources are rejected
	// and encodes are capped at this length.
	MaxDuration time.Duration
	// LoudnessRange is the loudnorm LRA ceiling in LU.
	LoudnessRange float64
	// ProcessTimeout bounds each external process invocation.
	ProcessTimeout time.Duration
	// DurationTolerance is the allowed drift between recorded and probed duration.
	DurationTolerance time.Duration
}

// WorkersConfig sizes the two external-process pools. Zero means one per CPU.
type WorkersConfig struct {
	Probe     int
	Transcode int
}

// RetryConfig configures retry budgets for queued work and catalog reads.
type RetryConfig struct {
	Attempts     int
	Delay        time.Duration
	Grow         bool
	ReadAttempts int
	ReadDelay    time.Duration
}

// SweepConfig controls the cache integrity sweep.
type SweepConfig struct {
	Interval time.Duration // 0 disables the periodic sweep
	Deep     bool
	OnStart  bool
	Watch    bool // repair records whose cache file disappears
}

// SourcesConfig configures platform source handlers.
type SourcesConfig struct {
	YouTubeAPIURL    string
	YouTubeRPS       float64
	TelegramBotToken string // empty disables the Telegram handler
	TelegramAPIURL   string
}

// APIConfig holds inbound request limits.
type APIConfig struct {
	RateLimitRPS   float64
	RateLimitBurst int
}

// LoadConfig loads configuration from multiple sources with precedence:
// 1. Command-line flags (highest priority).
// 2. Environment variables.
// 3. .env file.
// 4. Default values (lowest priority).
func LoadConfig() (*Config, error) {
	return load(flag.CommandLine, os.Args[1:])
}

func load(fs *flag.FlagSet, args []string) (*Config, error) {
	env := fs.String("env", "", "Environment (development, staging, production)")
	logLevel := fs.String("log-level", "", "Log level (debug, info, warn, error)")
	envFile := fs.String("env-file", ".env", "Path to .env file")

	serverPort := fs.String("port", "", "Server port (default: 8080)")
	readTimeout := fs.String("read-timeout", "", "HTTP read timeout (default: 15s)")
	writeTimeout := fs.String("write-timeout", "", "HTTP write timeout (default: 0, unlimited)")
	idleTimeout := fs.String("idle-timeout", "", "HTTP idle timeout (default: 60s)")

	dataPath := fs.String("data-path", "", "Directory for the catalog database and indexes")
	cacheDir := fs.String("cache-dir", "", "Directory for transcoded audio (default: {data}/cache)")
	metaTTL := fs.String("metadata-cache-ttl", "", "How long resolved metadata is reused (default: 1h)")

	ffmpegPath := fs.String("ffmpeg-path", "", "Path to ffmpeg binary (default: auto-detect)")
	ffprobePath := fs.String("ffprobe-path", "", "Path to ffprobe binary (default: auto-detect)")
	codec := fs.String("codec", "", "Audio encoder (default: libopus)")
	bitrate := fs.String("bitrate", "", "Audio bitrate (default: 128k)")
	extension := fs.String("extension", "", "Output container extension (default: ogg)")
	maxDuration := fs.String("max-duration", "", "Maximum accepted audio length (default: 3h)")
	processTimeout := fs.String("process-timeout", "", "Timeout per ffmpeg/ffprobe run (default: 30m)")

	probeWorkers := fs.String("probe-workers", "", "Concurrent probes (default: CPU count)")
	transcodeWorkers := fs.String("transcode-workers", "", "Concurrent transcodes (default: CPU count)")

	sweepInterval := fs.String("sweep-interval", "", "Cache sweep interval, 0 to disable (default: 6h)")
	sweepDeep := fs.String("sweep-deep", "", "Re-probe durations during periodic sweeps (default: false)")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}

	// Load .env file if it exists (silently ignore if not found).
	_ = loadEnvFile(*envFile)

	cfg := &Config{
		App: AppConfig{
			Environment: getConfigValue(*env, "ENV", "development"),
		},
		Logger: LoggerConfig{
			Level: getConfigValue(*logLevel, "LOG_LEVEL", "info"),
		},
		Server: ServerConfig{
			Port: getConfigValue(*serverPort, "SERVER_PORT", "8080"),
		},
		Storage: StorageConfig{
			DataPath: getConfigValue(*dataPath, "DATA_PATH", ""),
			CacheDir: getConfigValue(*cacheDir, "CACHE_DIR", ""),
		},
		Transcode: TranscodeConfig{
			FFmpegPath:    getConfigValue(*ffmpegPath, "FFMPEG_PATH", ""),
			FFprobePath:   getConfigValue(*ffprobePath, "FFPROBE_PATH", ""),
			Codec:         getConfigValue(*codec, "AUDIO_CODEC", "libopus"),
			Bitrate:       getConfigValue(*bitrate, "AUDIO_BITRATE", "128k"),
			Extension:     strings.TrimPrefix(getConfigValue(*extension, "AUDIO_EXTENSION", "ogg"), "."),
			LoudnessRange: getFloatConfigValue("", "LOUDNESS_LRA", 11),
		},
		Workers: WorkersConfig{
			Probe:     getIntConfigValue(*probeWorkers, "PROBE_WORKERS", 0),
			Transcode: getIntConfigValue(*transcodeWorkers, "TRANSCODE_WORKERS", 0),
		},
		Retry: RetryConfig{
			Attempts:     getIntConfigValue("", "RETRY_ATTEMPTS", 5),
			Grow:         getBoolConfigValue("", "RETRY_GROW", false),
			ReadAttempts: getIntConfigValue("", "READ_RETRY_ATTEMPTS", 60),
		},
		Sweep: SweepConfig{
			Deep:    getBoolConfigValue(*sweepDeep, "SWEEP_DEEP", false),
			OnStart: getBoolConfigValue("", "SWEEP_ON_START", true),
			Watch:   getBoolConfigValue("", "CACHE_WATCH", true),
		},
		Sources: SourcesConfig{
			YouTubeAPIURL:    getConfigValue("", "YOUTUBE_API_URL", "https://www.youtube.com/youtubei/v1"),
			YouTubeRPS:       getFloatConfigValue("", "YOUTUBE_RPS", 2),
			TelegramBotToken: getConfigValue("", "TELEGRAM_BOT_TOKEN", ""),
			TelegramAPIURL:   getConfigValue("", "TELEGRAM_API_URL", "https://api.telegram.org"),
		},
		API: APIConfig{
			RateLimitRPS:   getFloatConfigValue("", "RATE_LIMIT_RPS", 5),
			RateLimitBurst: getIntConfigValue("", "RATE_LIMIT_BURST", 10),
		},
	}

	durations := []struct {
		dst      *time.Duration
		flagVal  string
		envKey   string
		fallback string
	}{
		{&cfg.Server.ReadTimeout, *readTimeout, "SERVER_READ_TIMEOUT", "15s"},
		{&cfg.Server.WriteTimeout, *writeTimeout, "SERVER_WRITE_TIMEOUT", "0s"},
		{&cfg.Server.IdleTimeout, *idleTimeout, "SERVER_IDLE_TIMEOUT", "60s"},
		{&cfg.Storage.MetadataCacheTTL, *metaTTL, "METADATA_CACHE_TTL", "1h"},
		{&cfg.Transcode.MaxDuration, *maxDuration, "MAX_DURATION", "3h"},
		{&cfg.Transcode.ProcessTimeout, *processTimeout, "PROCESS_TIMEOUT", "30m"},
		{&cfg.Transcode.DurationTolerance, "", "DURATION_TOLERANCE", "2s"},
		{&cfg.Retry.Delay, "", "RETRY_DELAY", "5s"},
		{&cfg.Retry.ReadDelay, "", "READ_RETRY_DELAY", "1s"},
		{&cfg.Sweep.Interval, *sweepInterval, "SWEEP_INTERVAL", "6h"},
	}
	for _, d := range durations {
		raw := getConfigValue(d.flagVal, d.envKey, d.fallback)
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", d.envKey, raw, err)
		}
		*d.dst = parsed
	}

	if err := cfg.expandStoragePaths(); err != nil {
		return nil, fmt.Errorf("invalid storage path: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required config values are present and valid.
func (c *Config) Validate() error {
	validEnvs := map[string]bool{
		"development": true,
		"staging":     true,
		"production":  true,
	}
	if !validEnvs[c.App.Environment] {
		return fmt.Errorf("invalid environment: %q (must be development, staging, or production)", c.App.Environment)
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[strings.ToLower(c.Logger.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logger.Level)
	}

	if c.Storage.DataPath == "" {
		return errors.New("data path cannot be empty after expansion")
	}
	if c.Storage.CacheDir == "" {
		return errors.New("cache dir cannot be empty after expansion")
	}

	if c.Transcode.Codec == "" || c.Transcode.Bitrate == "" || c.Transcode.Extension == "" {
		return errors.New("codec, bitrate and extension are required")
	}
	if want, ok := codecContainers[c.Transcode.Codec]; ok && !containsString(want, c.Transcode.Extension) {
		return fmt.Errorf("codec %s cannot be written to .%s (use one of %s)",
			c.Transcode.Codec, c.Transcode.Extension, strings.Join(want, ", "))
	}
	if c.Transcode.MaxDuration <= 0 {
		return errors.New("max duration must be positive")
	}
	if c.Transcode.LoudnessRange < 1 || c.Transcode.LoudnessRange > 50 {
		return fmt.Errorf("loudness range %.1f out of bounds (1-50 LU)", c.Transcode.LoudnessRange)
	}
	if c.Transcode.DurationTolerance < 0 {
		return errors.New("duration tolerance cannot be negative")
	}

	if c.Workers.Probe < 0 || c.Workers.Transcode < 0 {
		return errors.New("worker counts cannot be negative")
	}
	if c.Retry.Attempts < 1 || c.Retry.ReadAttempts < 1 {
		return errors.New("retry attempts must be at least 1")
	}
	if c.Sweep.Interval < 0 {
		return errors.New("sweep interval cannot be negative")
	}

	return nil
}

// codecContainers lists containers known to accept each common encoder.
// Encoders not listed are passed through unchecked.
var codecContainers = map[string][]string{
	"libopus":    {"ogg", "opus", "webm", "mka"},
	"libvorbis":  {"ogg", "webm", "mka"},
	"aac":        {"m4a", "mp4", "aac", "mka"},
	"libfdk_aac": {"m4a", "mp4", "aac", "mka"},
	"libmp3lame": {"mp3", "mka"},
	"flac":       {"flac", "ogg", "mka"},
}

// CodecFamily returns the short codec family name used to rank source streams.
func (t TranscodeConfig) CodecFamily() string {
	switch t.Codec {
	case "libopus", "opus":
		return "opus"
	case "libvorbis", "vorbis":
		return "vorbis"
	case "aac", "libfdk_aac":
		return "aac"
	case "libmp3lame", "mp3":
		return "mp3"
	default:
		return t.Codec
	}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// expandPath expands ~ and makes the path absolute.
// If path is empty and defaultPath is provided, uses the default.
func expandPath(path, defaultPath string) (string, error) {
	if path == "" {
		return defaultPath, nil
	}

	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, path[2:])
	}

	if !filepath.IsAbs(path) {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return "", fmt.Errorf("failed to get absolute path: %w", err)
		}
		path = absPath
	}

	return filepath.Clean(path), nil
}

// expandStoragePaths resolves the data path (default ~/audiocache) and the
// cache dir beneath it.
func (c *Config) expandStoragePaths() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	data, err := expandPath(c.Storage.DataPath, filepath.Join(homeDir, "audiocache"))
	if err != nil {
		return err
	}
	c.Storage.DataPath = data

	cache, err := expandPath(c.Storage.CacheDir, filepath.Join(data, "cache"))
	if err != nil {
		return err
	}
	c.Storage.CacheDir = cache
	return nil
}

// getConfigValue returns the first non-empty value from flag, env var, or default.
func getConfigValue(flagValue, envKey, defaultValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if envValue := os.Getenv(envKey); envValue != "" {
		return envValue
	}
	return defaultValue
}

// getBoolConfigValue returns a bool from flag, env var, or default.
// Accepts: "true", "1", "yes" (case-insensitive) as true; anything else is false.
func getBoolConfigValue(flagValue, envKey string, defaultValue bool) bool {
	strValue := getConfigValue(flagValue, envKey, "")
	if strValue == "" {
		return defaultValue
	}
	strValue = strings.ToLower(strValue)
	return strValue == "true" || strValue == "1" || strValue == "yes"
}

// getIntConfigValue returns an int from flag, env var, or default.
func getIntConfigValue(flagValue, envKey string, defaultValue int) int {
	strValue := getConfigValue(flagValue, envKey, "")
	if strValue == "" {
		return defaultValue
	}
	var result int
	if _, err := fmt.Sscanf(strValue, "%d", &result); err != nil {
		return defaultValue
	}
	return result
}

// getFloatConfigValue returns a float64 from flag, env var, or default.
func getFloatConfigValue(flagValue, envKey string, defaultValue float64) float64 {
	strValue := getConfigValue(flagValue, envKey, "")
	if strValue == "" {
		return defaultValue
	}
	var result float64
	if _, err := fmt.Sscanf(strValue, "%g", &result); err != nil {
		return defaultValue
	}
	return result
}

// loadEnvFile loads environment variables from a .env file.
// Format: KEY=value (one per line, # for comments).
func loadEnvFile(path string) error {
	file, err := os.Open(path) //#nosec G304 -- Config file path from user input is expected
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return fmt.Errorf("invalid format at line %d: %s", lineNum, line)
		}

		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"'`)

		// Env vars already set take precedence over the file.
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("failed to set env var %s: %w", key, err)
			}
		}
	}

	return scanner.Err()
}

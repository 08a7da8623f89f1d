// Package config loads voiceauthd's runtime configuration: flags via
// spf13/pflag, an optional YAML file layered underneath, following the
// sibling reference pack's config-loading style rather than the
// teacher's bare stdlib flag package (§6 expansion).
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/askid/voiceauth/internal/session"
)

// Config is every environment/configuration input named in §6.
type Config struct {
	ListenAddr string `yaml:"listenAddr"`

	VADModelPath       string `yaml:"vadModelPath"`
	WhisperModelPath   string `yaml:"whisperModelPath"`
	EmbeddingModelPath string `yaml:"embeddingModelPath"`
	GalleryPath        string `yaml:"galleryPath"`
	FFmpegPath         string `yaml:"ffmpegPath"`

	PoolSize int `yaml:"poolSize"`

	Threshold          float64       `yaml:"threshold"`
	PaddingSeconds     float64       `yaml:"paddingSeconds"`
	IdleTimeout        time.Duration `yaml:"idleTimeout"`
	MaxRetriesPerSet   int           `yaml:"maxRetriesPerSet"`
	ChallengeLengthMin int           `yaml:"challengeLengthMin"`
	ChallengeLengthMax int           `yaml:"challengeLengthMax"`

	MetricsAddr string `yaml:"metricsAddr"`
}

// SessionConfig projects the session-relevant subset of Config into a
// session.Config.
func (c Config) SessionConfig() session.Config {
	return session.Config{
		Threshold:          c.Threshold,
		PaddingSeconds:     c.PaddingSeconds,
		IdleTimeout:        c.IdleTimeout,
		MaxRetriesPerSet:   c.MaxRetriesPerSet,
		ChallengeLengthMin: c.ChallengeLengthMin,
		ChallengeLengthMax: c.ChallengeLengthMax,
	}
}

func defaults() Config {
	d := session.DefaultConfig()
	return Config{
		ListenAddr:         ":8080",
		GalleryPath:        "data/gallery.json",
		FFmpegPath:         "ffmpeg",
		PoolSize:           0, // 0 or less: one handle per CPU (see cmd/voiceauthd)
		Threshold:          d.Threshold,
		PaddingSeconds:     d.PaddingSeconds,
		IdleTimeout:        d.IdleTimeout,
		MaxRetriesPerSet:   d.MaxRetriesPerSet,
		ChallengeLengthMin: d.ChallengeLengthMin,
		ChallengeLengthMax: d.ChallengeLengthMax,
		MetricsAddr:        ":9090",
	}
}

// Load parses args (normally os.Args[1:]) into a Config, optionally
// layering a YAML file over the defaults before flags are applied.
func Load(args []string) (Config, error) {
	cfg := defaults()

	fs := pflag.NewFlagSet("voiceauthd", pflag.ContinueOnError)
	configFile := fs.String("config", "", "path to an optional YAML config file")
	listenAddr := fs.String("listen", cfg.ListenAddr, "HTTP/WebSocket listen address")
	vadModel := fs.String("vad-model", cfg.VADModelPath, "path to the Silero VAD ONNX model")
	whisperModel := fs.String("whisper-model", cfg.WhisperModelPath, "path to the whisper.cpp ggml model")
	embeddingModel := fs.String("embedding-model", cfg.EmbeddingModelPath, "path to the speaker embedding ONNX model")
	galleryPath := fs.String("gallery", cfg.GalleryPath, "path to the gallery JSON file")
	ffmpegPath := fs.String("ffmpeg", cfg.FFmpegPath, "path to the ffmpeg binary")
	poolSize := fs.Int("pool-size", cfg.PoolSize, "number of worker pool handles")
	threshold := fs.Float64("threshold", cfg.Threshold, "verification cosine similarity threshold")
	padding := fs.Float64("padding-seconds", cfg.PaddingSeconds, "segmenter padding in seconds")
	idleTimeout := fs.Duration("idle-timeout", cfg.IdleTimeout, "session idle timeout")
	maxRetries := fs.Int("max-retries", cfg.MaxRetriesPerSet, "max retries per enrollment set")
	challengeMin := fs.Int("challenge-min", cfg.ChallengeLengthMin, "minimum verification challenge length")
	challengeMax := fs.Int("challenge-max", cfg.ChallengeLengthMax, "maximum verification challenge length")
	metricsAddr := fs.String("metrics-listen", cfg.MetricsAddr, "Prometheus metrics listen address")

	if err := fs.Parse(args); err != nil {
		return Config{}, fmt.Errorf("config: parse flags: %w", err)
	}

	if *configFile != "" {
		raw, err := os.ReadFile(*configFile)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", *configFile, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", *configFile, err)
		}
	}

	applyIfChanged(fs, "listen", &cfg.ListenAddr, *listenAddr)
	applyIfChanged(fs, "vad-model", &cfg.VADModelPath, *vadModel)
	applyIfChanged(fs, "whisper-model", &cfg.WhisperModelPath, *whisperModel)
	applyIfChanged(fs, "embedding-model", &cfg.EmbeddingModelPath, *embeddingModel)
	applyIfChanged(fs, "gallery", &cfg.GalleryPath, *galleryPath)
	applyIfChanged(fs, "ffmpeg", &cfg.FFmpegPath, *ffmpegPath)
	applyIfChanged(fs, "metrics-listen", &cfg.MetricsAddr, *metricsAddr)
	if fs.Changed("pool-size") {
		cfg.PoolSize = *poolSize
	}
	if fs.Changed("threshold") {
		cfg.Threshold = *threshold
	}
	if fs.Changed("padding-seconds") {
		cfg.PaddingSeconds = *padding
	}
	if fs.Changed("idle-timeout") {
		cfg.IdleTimeout = *idleTimeout
	}
	if fs.Changed("max-retries") {
		cfg.MaxRetriesPerSet = *maxRetries
	}
	if fs.Changed("challenge-min") {
		cfg.ChallengeLengthMin = *challengeMin
	}
	if fs.Changed("challenge-max") {
		cfg.ChallengeLengthMax = *challengeMax
	}

	if cfg.VADModelPath == "" || cfg.WhisperModelPath == "" || cfg.EmbeddingModelPath == "" {
		return Config{}, fmt.Errorf("config: vad-model, whisper-model, and embedding-model are required")
	}

	return cfg, nil
}

func applyIfChanged(fs *pflag.FlagSet, name string, dst *string, val string) {
	if fs.Changed(name) {
		*dst = val
	}
}

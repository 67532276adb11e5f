// Package config loads bladetrail settings from defaults, an optional TOML
// file and BLADETRAIL_* environment variables.
package config

import (
	"os"
	"strings"

	"bladetrail/detection"
	"bladetrail/tracking"

	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"
)

// DefaultFile is read from the working directory when no --config is given.
const DefaultFile = "bladetrail.toml"

// EnvPrefix is prepended to every environment override, e.g.
// BLADETRAIL_SERVER_ADDR.
const EnvPrefix = "BLADETRAIL"

// Config is the complete runtime configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Model    ModelConfig    `mapstructure:"model"`
	Video    VideoConfig    `mapstructure:"video"`
	Tracking TrackingConfig `mapstructure:"tracking"`
	FFmpeg   FFmpegConfig   `mapstructure:"ffmpeg"`
	Log      LogConfig      `mapstructure:"log"`
}

// ServerConfig configures the HTTP boundary
type ServerConfig struct {
	Addr          string `mapstructure:"addr"`
	MaxUploadMB   int    `mapstructure:"max_upload_mb"`
	MaxConcurrent int    `mapstructure:"max_concurrent"` // pipeline runs sharing one model
}

// ModelConfig configures the detector
type ModelConfig struct {
	Path       string  `mapstructure:"path"`
	InputSize  int     `mapstructure:"input_size"`
	Confidence float64 `mapstructure:"confidence"`
	NMS        float64 `mapstructure:"nms"`
	BatchSize  int     `mapstructure:"batch_size"`
	Replay     string  `mapstructure:"replay"` // JSONL detections used instead of the model
}

// VideoConfig configures decoding and encoding
type VideoConfig struct {
	Prefetch int    `mapstructure:"prefetch"`
	FourCC   string `mapstructure:"fourcc"`
}

// TrackingConfig configures the track manager and trails
type TrackingConfig struct {
	MatchDistance float64 `mapstructure:"match_distance"`
	LostDistance  float64 `mapstructure:"lost_distance"`
	MaxTracks     int     `mapstructure:"max_tracks"`
	MaxTrail      int     `mapstructure:"max_trail"`
}

// FFmpegConfig configures the web re-encode step
type FFmpegConfig struct {
	Binary   string `mapstructure:"binary"`
	Disabled bool   `mapstructure:"disabled"`
}

// LogConfig configures the logger
type LogConfig struct {
	JSON    bool `mapstructure:"json"`
	Verbose bool `mapstructure:"verbose"`
}

// SetDefaults registers every key with its default value. Keys must be
// registered for environment overrides to reach Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8000")
	v.SetDefault("server.max_upload_mb", 512)
	v.SetDefault("server.max_concurrent", 1)

	v.SetDefault("model.path", "model_weight/best.onnx")
	v.SetDefault("model.input_size", 1024)
	v.SetDefault("model.confidence", 0.25)
	v.SetDefault("model.nms", 0.45)
	v.SetDefault("model.batch_size", 50)
	v.SetDefault("model.replay", "")

	v.SetDefault("video.prefetch", 50)
	v.SetDefault("video.fourcc", "mp4v")

	v.SetDefault("tracking.match_distance", 100.0)
	v.SetDefault("tracking.lost_distance", 300.0)
	v.SetDefault("tracking.max_tracks", 50)
	v.SetDefault("tracking.max_trail", 50)

	v.SetDefault("ffmpeg.binary", "ffmpeg")
	v.SetDefault("ffmpeg.disabled", false)

	v.SetDefault("log.json", false)
	v.SetDefault("log.verbose", false)
}

// NewViper returns a viper instance with defaults and env binding set up.
// Callers may bind cobra flags to it before calling Load.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// Load reads path (or DefaultFile when path is empty and it exists) into v
// and returns the validated configuration.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path == "" {
		if _, err := os.Stat(DefaultFile); err == nil {
			path = DefaultFile
		}
	}
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config file %s", path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that sizes and thresholds are usable
func (c *Config) Validate() error {
	positive := []struct {
		key   string
		value float64
	}{
		{"server.max_upload_mb", float64(c.Server.MaxUploadMB)},
		{"server.max_concurrent", float64(c.Server.MaxConcurrent)},
		{"model.input_size", float64(c.Model.InputSize)},
		{"model.batch_size", float64(c.Model.BatchSize)},
		{"video.prefetch", float64(c.Video.Prefetch)},
		{"tracking.match_distance", c.Tracking.MatchDistance},
		{"tracking.lost_distance", c.Tracking.LostDistance},
		{"tracking.max_tracks", float64(c.Tracking.MaxTracks)},
		{"tracking.max_trail", float64(c.Tracking.MaxTrail)},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return errors.Newf("%s must be > 0, got %v", p.key, p.value)
		}
	}

	if c.Model.Confidence < 0 || c.Model.Confidence > 1 {
		return errors.Newf("model.confidence must be within [0, 1], got %v", c.Model.Confidence)
	}
	if c.Model.NMS < 0 || c.Model.NMS > 1 {
		return errors.Newf("model.nms must be within [0, 1], got %v", c.Model.NMS)
	}
	if len(c.Video.FourCC) != 4 {
		return errors.Newf("video.fourcc must be 4 characters, got %q", c.Video.FourCC)
	}
	if c.Tracking.LostDistance <= c.Tracking.MatchDistance {
		return errors.Newf("tracking.lost_distance (%v) must exceed tracking.match_distance (%v)",
			c.Tracking.LostDistance, c.Tracking.MatchDistance)
	}
	if c.Model.Replay == "" && c.Model.Path == "" {
		return errors.WithHint(errors.New("model.path is empty"),
			"set model.path to an ONNX file or model.replay to a JSONL detections file")
	}
	return nil
}

// TrackerConfig converts the tracking section for tracking.NewManager.
func (c *Config) TrackerConfig() tracking.Config {
	return tracking.Config{
		MatchDistance: c.Tracking.MatchDistance,
		LostDistance:  c.Tracking.LostDistance,
		MaxTracks:     c.Tracking.MaxTracks,
		MaxTrail:      c.Tracking.MaxTrail,
	}
}

// DetectorOptions converts the model section for the ONNX providers.
func (c *Config) DetectorOptions() detection.Options {
	return detection.Options{
		InputSize:  c.Model.InputSize,
		Confidence: float32(c.Model.Confidence),
		NMS:        float32(c.Model.NMS),
	}
}

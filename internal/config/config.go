// Package config provides the configuration structure for the inference studio.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
	"github.com/joho/godotenv"
)

// Environment variables that override the project configuration.
const (
	EnvAPIURL       = "INFERENCE_API_URL"
	EnvPublicAPIURL = "NEXT_PUBLIC_API_URL"
	EnvPort         = "PORT"
	EnvNATSURL      = "NATS_URL"
)

// Defaults applied when the configuration leaves a value unset.
const (
	DefaultAPIURL             = "http://localhost:8000"
	DefaultTimeoutSeconds     = 60
	DefaultHost               = "127.0.0.1"
	DefaultPort               = 3000
	DefaultMaxUploadMB        = 32
	DefaultSessionIdleMinutes = 30
	DefaultWorkers            = 2
	DefaultChunkRunes         = 500
	DefaultAudioBucket        = "STUDIO_AUDIO"
	DefaultAudioSubject       = "audio.chunk.created"
	DefaultTextSubject        = "text.processed"
)

// DefaultLabels is the binary label pair of the dog/cat classifier.
var DefaultLabels = []string{"cat", "dog"}

// ErrInvalidPort is returned when the PORT override is not a number.
var ErrInvalidPort = errors.New("invalid port")

// InferenceConfig describes the remote inference endpoints.
type InferenceConfig struct {
	BaseURL        string   `toml:"base_url"`
	TimeoutSeconds int      `toml:"timeout_seconds"`
	Labels         []string `toml:"labels"`
	Workers        int      `toml:"workers"`
	ChunkRunes     int      `toml:"chunk_runes"`
}

// ServerConfig holds the settings of the page server.
type ServerConfig struct {
	Host               string `toml:"host"`
	Port               int    `toml:"port"`
	MaxUploadMB        int    `toml:"max_upload_mb"`
	SessionIdleMinutes int    `toml:"session_idle_minutes"`
}

// NATSConfig holds the configuration for NATS. An empty URL disables it.
type NATSConfig struct {
	URL                      string `toml:"url"`
	TextProcessedSubject     string `toml:"text_processed_subject"`
	AudioChunkCreatedSubject string `toml:"audio_chunk_created_subject"`
	AudioObjectStoreBucket   string `toml:"audio_object_store_bucket"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
	OutputDir   string `toml:"output_dir"`
}

// Config is the root configuration structure.
type Config struct {
	Inference InferenceConfig `toml:"inference"`
	Server    ServerConfig    `toml:"server"`
	NATS      NATSConfig      `toml:"nats"`
	Paths     PathsConfig     `toml:"paths"`
}

// Load reads an optional .env file, loads the project configuration through the
// configurator and applies environment overrides and defaults.
func Load(log *logger.Logger) (*Config, error) {
	envErr := godotenv.Load()
	if envErr != nil && !errors.Is(envErr, fs.ErrNotExist) {
		log.Warn("Ignoring unreadable .env file: %v", envErr)
	}

	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	err = cfg.ApplyEnvironment(os.LookupEnv)
	if err != nil {
		return nil, err
	}

	cfg.ApplyDefaults()

	return &cfg, nil
}

// ApplyEnvironment overrides values from the environment. lookup has the
// signature of os.LookupEnv.
func (c *Config) ApplyEnvironment(lookup func(string) (string, bool)) error {
	if value, ok := lookup(EnvPublicAPIURL); ok && value != "" {
		c.Inference.BaseURL = value
	}

	if value, ok := lookup(EnvAPIURL); ok && value != "" {
		c.Inference.BaseURL = value
	}

	if value, ok := lookup(EnvNATSURL); ok && value != "" {
		c.NATS.URL = value
	}

	if value, ok := lookup(EnvPort); ok && value != "" {
		port, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%w: %q", ErrInvalidPort, value)
		}

		c.Server.Port = port
	}

	return nil
}

// ApplyDefaults fills every unset value with its default.
func (c *Config) ApplyDefaults() {
	c.Inference.BaseURL = strings.TrimRight(c.Inference.BaseURL, "/")
	if c.Inference.BaseURL == "" {
		c.Inference.BaseURL = DefaultAPIURL
	}

	if c.Inference.TimeoutSeconds <= 0 {
		c.Inference.TimeoutSeconds = DefaultTimeoutSeconds
	}

	if len(c.Inference.Labels) != len(DefaultLabels) {
		c.Inference.Labels = append([]string(nil), DefaultLabels...)
	}

	if c.Inference.Workers <= 0 {
		c.Inference.Workers = DefaultWorkers
	}

	if c.Inference.ChunkRunes <= 0 {
		c.Inference.ChunkRunes = DefaultChunkRunes
	}

	if c.Server.Host == "" {
		c.Server.Host = DefaultHost
	}

	if c.Server.Port <= 0 {
		c.Server.Port = DefaultPort
	}

	if c.Server.MaxUploadMB <= 0 {
		c.Server.MaxUploadMB = DefaultMaxUploadMB
	}

	if c.Server.SessionIdleMinutes <= 0 {
		c.Server.SessionIdleMinutes = DefaultSessionIdleMinutes
	}

	if c.NATS.AudioObjectStoreBucket == "" {
		c.NATS.AudioObjectStoreBucket = DefaultAudioBucket
	}

	if c.NATS.AudioChunkCreatedSubject == "" {
		c.NATS.AudioChunkCreatedSubject = DefaultAudioSubject
	}

	if c.NATS.TextProcessedSubject == "" {
		c.NATS.TextProcessedSubject = DefaultTextSubject
	}

	if c.Paths.BaseLogsDir == "" {
		c.Paths.BaseLogsDir = os.TempDir()
	}

	if c.Paths.OutputDir == "" {
		c.Paths.OutputDir = "."
	}
}

// Timeout returns the per-request timeout of the inference client.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.Inference.TimeoutSeconds) * time.Second
}

// SessionIdle returns how long an unused visitor workspace is kept.
func (c *Config) SessionIdle() time.Duration {
	return time.Duration(c.Server.SessionIdleMinutes) * time.Minute
}

// MaxUploadBytes returns the multipart size limit of the page server.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.Server.MaxUploadMB) << 20
}

// Addr returns the listen address of the page server.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

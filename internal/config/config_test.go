// Package config_test tests the configuration loading for the inference studio.
package config_test

import (
	"testing"

	"github.com/book-expert/inference-studio/internal/config"
	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Parallel()

	tomlData := `
[inference]
base_url = "http://inference.local:8000/"
timeout_seconds = 15
labels = ["cat", "dog"]
workers = 4

[server]
host = "0.0.0.0"
port = 8080
max_upload_mb = 8

[nats]
url = "nats://127.0.0.1:4222"
text_processed_subject = "text.processed"
audio_chunk_created_subject = "audio.chunk.created"
audio_object_store_bucket = "AUDIO_FILES"

[paths]
base_logs_dir = "/var/log/studio"
`

	var cfg config.Config

	err := toml.Unmarshal([]byte(tomlData), &cfg)
	require.NoError(t, err)

	cfg.ApplyDefaults()

	assert.Equal(t, "http://inference.local:8000", cfg.Inference.BaseURL)
	assert.Equal(t, 15, cfg.Inference.TimeoutSeconds)
	assert.Equal(t, []string{"cat", "dog"}, cfg.Inference.Labels)
	assert.Equal(t, 4, cfg.Inference.Workers)
	assert.Equal(t, "0.0.0.0:8080", cfg.Addr())
	assert.Equal(t, int64(8<<20), cfg.MaxUploadBytes())
	assert.Equal(t, "nats://127.0.0.1:4222", cfg.NATS.URL)
	assert.Equal(t, "AUDIO_FILES", cfg.NATS.AudioObjectStoreBucket)
	assert.Equal(t, "/var/log/studio", cfg.Paths.BaseLogsDir)
}

func TestApplyDefaults(t *testing.T) {
	t.Parallel()

	var cfg config.Config

	cfg.ApplyDefaults()

	assert.Equal(t, config.DefaultAPIURL, cfg.Inference.BaseURL)
	assert.Equal(t, config.DefaultTimeoutSeconds, cfg.Inference.TimeoutSeconds)
	assert.Equal(t, config.DefaultLabels, cfg.Inference.Labels)
	assert.Equal(t, config.DefaultChunkRunes, cfg.Inference.ChunkRunes)
	assert.Equal(t, "127.0.0.1:3000", cfg.Addr())
	assert.Equal(t, config.DefaultAudioBucket, cfg.NATS.AudioObjectStoreBucket)
	assert.Empty(t, cfg.NATS.URL)
}

func TestApplyEnvironment(t *testing.T) {
	t.Parallel()

	env := map[string]string{
		config.EnvPublicAPIURL: "http://public:8000",
		config.EnvAPIURL:       "http://private:9000",
		config.EnvPort:         "9090",
		config.EnvNATSURL:      "nats://broker:4222",
	}
	lookup := func(key string) (string, bool) {
		value, ok := env[key]

		return value, ok
	}

	var cfg config.Config

	err := cfg.ApplyEnvironment(lookup)
	require.NoError(t, err)

	assert.Equal(t, "http://private:9000", cfg.Inference.BaseURL)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "nats://broker:4222", cfg.NATS.URL)
}

func TestApplyEnvironment_InvalidPort(t *testing.T) {
	t.Parallel()

	lookup := func(key string) (string, bool) {
		if key == config.EnvPort {
			return "eighty", true
		}

		return "", false
	}

	var cfg config.Config

	err := cfg.ApplyEnvironment(lookup)
	require.ErrorIs(t, err, config.ErrInvalidPort)
}

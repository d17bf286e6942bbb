package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, Validate(cfg))
	assert.Equal(t, 448, cfg.Pipeline.InputSize)
	assert.Equal(t, 90, cfg.Pipeline.Rotation)
	assert.Equal(t, "nearest", cfg.Pipeline.Resampling)
	assert.False(t, cfg.Pipeline.Strict)
	assert.Equal(t, 1, cfg.Sinks.Window.AspectWidth)
}

func TestParseOverridesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
instance_id: cam-1
source:
  type: gstreamer
  width: 1280
  height: 720
pipeline:
  rotation: -90
  strict: true
  classify_timeout: 2s
dump:
  enabled: true
  format: webp
sinks:
  mqtt:
    enabled: true
    broker: tcp://localhost:1883
    encoding: msgpack
  websocket:
    enabled: true
`))
	require.NoError(t, err)

	assert.Equal(t, "gstreamer", cfg.Source.Type)
	assert.Equal(t, "v4l2src", cfg.Source.Element)
	assert.Equal(t, 30, cfg.Source.FPS)
	assert.Equal(t, 270, cfg.Pipeline.Rotation)
	assert.True(t, cfg.Pipeline.Strict)
	assert.Equal(t, 2*time.Second, cfg.Pipeline.ClassifyTimeout)
	assert.Equal(t, 448, cfg.Pipeline.InputSize, "untouched default kept")

	assert.Equal(t, "dump", cfg.Dump.Dir)
	assert.Equal(t, 90, cfg.Dump.Quality)

	assert.Equal(t, "yolocam/detections/cam-1", cfg.Sinks.MQTT.Topic)
	assert.Equal(t, "msgpack", cfg.Sinks.MQTT.Encoding)
	assert.Equal(t, ":8081", cfg.Sinks.WebSocket.Addr)
	assert.Equal(t, "/detections", cfg.Sinks.WebSocket.Path)
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"instance id", func(c *Config) { c.InstanceID = "Cam 1" }},
		{"log level", func(c *Config) { c.LogLevel = "loud" }},
		{"source type", func(c *Config) { c.Source.Type = "rtsp" }},
		{"source size", func(c *Config) { c.Source.Width = 0 }},
		{"backend", func(c *Config) { c.Classifier.Backend = "tflite" }},
		{"model path", func(c *Config) { c.Classifier.ONNX.ModelPath = "" }},
		{"pixel std", func(c *Config) { c.Classifier.ONNX.PixelStd = 0 }},
		{"ollama model", func(c *Config) { c.Classifier.Backend = "ollama" }},
		{"input size", func(c *Config) { c.Pipeline.InputSize = 0 }},
		{"resampling", func(c *Config) { c.Pipeline.Resampling = "cubic" }},
		{"dump format", func(c *Config) { c.Dump.Enabled = true; c.Dump.Format = "bmp" }},
		{"aspect", func(c *Config) { c.Sinks.Window.AspectWidth = -4 }},
		{"mqtt broker", func(c *Config) { c.Sinks.MQTT.Enabled = true }},
		{"mqtt qos", func(c *Config) {
			c.Sinks.MQTT.Enabled = true
			c.Sinks.MQTT.Broker = "tcp://b:1883"
			c.Sinks.MQTT.QoS = 3
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, Validate(cfg))
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

// replaceFile swaps content in with a rename so the watcher never sees a
// truncated file
func replaceFile(t *testing.T, path, content string) {
	t.Helper()
	tmp := path + ".tmp"
	require.NoError(t, os.WriteFile(tmp, []byte(content), 0o644))
	require.NoError(t, os.Rename(tmp, path))
}

func TestWatchReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "yolocam.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pipeline:\n  rotation: 0\n"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan *Config, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, func(c *Config) {
			select {
			case got <- c:
			default:
			}
		})
	}()

	// give the watcher time to register before writing
	var cfg *Config
	require.Eventually(t, func() bool {
		replaceFile(t, path, "pipeline:\n  rotation: 180\n  strict: true\n")
		select {
		case cfg = <-got:
			return true
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}, 3*time.Second, 10*time.Millisecond)

	assert.Equal(t, 180, cfg.Pipeline.Rotation)
	assert.True(t, cfg.Pipeline.Strict)

	cancel()
	require.NoError(t, <-done)
}

func TestWatchSkipsInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "yolocam.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{}\n"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan *Config, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, func(c *Config) {
			select {
			case got <- c:
			default:
			}
		})
	}()

	time.Sleep(100 * time.Millisecond)
	replaceFile(t, path, "pipeline:\n  resampling: cubic\n")
	time.Sleep(200 * time.Millisecond)

	assert.Empty(t, got)
	cancel()
	require.NoError(t, <-done)
}

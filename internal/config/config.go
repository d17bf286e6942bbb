package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete yolocam configuration
type Config struct {
	InstanceID string         `yaml:"instance_id"`
	LogLevel   string         `yaml:"log_level"` // debug, info, warn, error
	Source     SourceConfig   `yaml:"source"`
	Classifier ClassifierConf `yaml:"classifier"`
	Pipeline   PipelineConfig `yaml:"pipeline"`
	Dump       DumpConfig     `yaml:"dump"`
	Sinks      SinksConfig    `yaml:"sinks"`
}

// SourceConfig selects and configures the frame source
type SourceConfig struct {
	Type     string `yaml:"type"` // webcam, gstreamer, synthetic
	DeviceID int    `yaml:"device_id"`
	Element  string `yaml:"element"` // gstreamer source element
	Device   string `yaml:"device"`  // gstreamer device property
	Width    int    `yaml:"width"`
	Height   int    `yaml:"height"`
	FPS      int    `yaml:"fps"`
	Padded   bool   `yaml:"padded"` // synthetic only: emit padded strides
}

// ClassifierConf selects the classifier backend
type ClassifierConf struct {
	Backend string       `yaml:"backend"` // onnx, ollama
	ONNX    ONNXConfig   `yaml:"onnx"`
	Ollama  OllamaConfig `yaml:"ollama"`
}

// ONNXConfig configures the local YOLO graph
type ONNXConfig struct {
	ModelPath      string  `yaml:"model_path"`
	LabelPath      string  `yaml:"label_path"`
	LibraryPath    string  `yaml:"library_path"` // onnxruntime shared library
	InputName      string  `yaml:"input_name"`
	OutputName     string  `yaml:"output_name"`
	PixelMean      float32 `yaml:"pixel_mean"`
	PixelStd       float32 `yaml:"pixel_std"`
	ScoreThreshold float32 `yaml:"score_threshold"`
	NMSThreshold   float32 `yaml:"nms_threshold"`
	CoreML         bool    `yaml:"coreml"`
	Threads        int     `yaml:"threads"`
}

// OllamaConfig configures the remote vision model backend
type OllamaConfig struct {
	URL         string        `yaml:"url"`
	Model       string        `yaml:"model"`
	Timeout     time.Duration `yaml:"timeout"`
	JPEGQuality int           `yaml:"jpeg_quality"`
	MinScore    float32       `yaml:"min_score"`
}

// PipelineConfig contains frame processing settings
type PipelineConfig struct {
	InputSize       int           `yaml:"input_size"`
	Rotation        int           `yaml:"rotation"` // degrees, applied after crop and scale
	Resampling      string        `yaml:"resampling"`
	Strict          bool          `yaml:"strict"` // admit only after an explicit request
	ClassifyTimeout time.Duration `yaml:"classify_timeout"`
}

// DumpConfig controls the debug frame dump
type DumpConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Dir      string `yaml:"dir"`
	Format   string `yaml:"format"` // png, jpg, webp
	Quality  int    `yaml:"quality"`
	Lossless bool   `yaml:"lossless"`
}

// SinksConfig contains the result sinks
type SinksConfig struct {
	Window    WindowConfig    `yaml:"window"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	WebSocket WebSocketConfig `yaml:"websocket"`
}

// WindowConfig controls the preview window
type WindowConfig struct {
	Enabled bool   `yaml:"enabled"`
	Name    string `yaml:"name"`
	// AspectWidth:AspectHeight is fitted into MaxWidth x MaxHeight
	AspectWidth  int `yaml:"aspect_width"`
	AspectHeight int `yaml:"aspect_height"`
	MaxWidth     int `yaml:"max_width"`
	MaxHeight    int `yaml:"max_height"`
}

// MQTTConfig contains MQTT broker settings
type MQTTConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	QoS      byte   `yaml:"qos"`
	Encoding string `yaml:"encoding"` // json, msgpack
}

// WebSocketConfig controls the detection broadcast endpoint
type WebSocketConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Path    string `yaml:"path"`
}

// Default returns a configuration that runs the synthetic source through
// the local tiny-yolo-voc graph with a preview window
func Default() *Config {
	return &Config{
		InstanceID: "yolocam",
		LogLevel:   "info",
		Source: SourceConfig{
			Type:   "synthetic",
			Width:  640,
			Height: 480,
			FPS:    30,
		},
		Classifier: ClassifierConf{
			Backend: "onnx",
			ONNX: ONNXConfig{
				ModelPath:      "models/tiny-yolo-voc.onnx",
				InputName:      "Placeholder",
				OutputName:     "19_fc",
				PixelMean:      128,
				PixelStd:       128,
				ScoreThreshold: 0.2,
				NMSThreshold:   0.4,
			},
		},
		Pipeline: PipelineConfig{
			InputSize:       448,
			Rotation:        90,
			Resampling:      "nearest",
			ClassifyTimeout: 5 * time.Second,
		},
		Sinks: SinksConfig{
			Window: WindowConfig{Enabled: true},
		},
	}
}

// Load reads a YAML configuration file on top of Default
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML on top of Default and validates the result
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Validate configuration
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

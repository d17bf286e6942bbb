package config

import (
	"fmt"
	"regexp"
	"time"
)

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

// Validate checks if the configuration is valid and fills in defaults
func Validate(cfg *Config) error {
	if cfg.InstanceID == "" {
		return fmt.Errorf("instance_id is required")
	}
	if !instanceIDPattern.MatchString(cfg.InstanceID) {
		return fmt.Errorf("instance_id must match pattern [a-z0-9-]+")
	}

	switch cfg.LogLevel {
	case "":
		cfg.LogLevel = "info"
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be one of debug, info, warn, error")
	}

	if err := validateSource(&cfg.Source); err != nil {
		return fmt.Errorf("source: %w", err)
	}
	if err := validateClassifier(&cfg.Classifier); err != nil {
		return fmt.Errorf("classifier: %w", err)
	}
	if err := validatePipeline(&cfg.Pipeline); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}

	// Dump
	if cfg.Dump.Enabled {
		if cfg.Dump.Dir == "" {
			cfg.Dump.Dir = "dump"
		}
		switch cfg.Dump.Format {
		case "":
			cfg.Dump.Format = "png"
		case "png", "jpg", "webp":
		default:
			return fmt.Errorf("dump.format must be png, jpg or webp")
		}
		if cfg.Dump.Quality == 0 {
			cfg.Dump.Quality = 90
		}
		if cfg.Dump.Quality < 1 || cfg.Dump.Quality > 100 {
			return fmt.Errorf("dump.quality must be in 1..100")
		}
	}

	// Sinks
	w := &cfg.Sinks.Window
	if w.Name == "" {
		w.Name = "yolocam"
	}
	if w.AspectWidth < 0 || w.AspectHeight < 0 {
		return fmt.Errorf("sinks.window aspect ratio must not be negative")
	}
	if w.AspectWidth == 0 && w.AspectHeight == 0 {
		w.AspectWidth, w.AspectHeight = 1, 1 // model input is square
	}
	if w.MaxWidth <= 0 {
		w.MaxWidth = 720
	}
	if w.MaxHeight <= 0 {
		w.MaxHeight = 720
	}

	m := &cfg.Sinks.MQTT
	if m.Enabled {
		if m.Broker == "" {
			return fmt.Errorf("sinks.mqtt.broker is required")
		}
		if m.Topic == "" {
			m.Topic = fmt.Sprintf("yolocam/detections/%s", cfg.InstanceID)
		}
		if m.QoS > 2 {
			return fmt.Errorf("sinks.mqtt.qos must be 0, 1 or 2")
		}
		switch m.Encoding {
		case "":
			m.Encoding = "json"
		case "json", "msgpack":
		default:
			return fmt.Errorf("sinks.mqtt.encoding must be json or msgpack")
		}
	}

	ws := &cfg.Sinks.WebSocket
	if ws.Enabled {
		if ws.Addr == "" {
			ws.Addr = ":8081"
		}
		if ws.Path == "" {
			ws.Path = "/detections"
		}
	}

	return nil
}

func validateSource(s *SourceConfig) error {
	switch s.Type {
	case "":
		s.Type = "synthetic"
	case "webcam", "gstreamer", "synthetic":
	default:
		return fmt.Errorf("type must be webcam, gstreamer or synthetic, got %q", s.Type)
	}
	if s.Width <= 0 || s.Height <= 0 {
		return fmt.Errorf("width and height must be > 0")
	}
	if s.FPS <= 0 {
		s.FPS = 30
	}
	if s.Type == "gstreamer" && s.Element == "" {
		s.Element = "v4l2src"
	}
	return nil
}

func validateClassifier(c *ClassifierConf) error {
	switch c.Backend {
	case "":
		c.Backend = "onnx"
	case "onnx", "ollama":
	default:
		return fmt.Errorf("backend must be onnx or ollama, got %q", c.Backend)
	}

	if c.Backend == "onnx" {
		if c.ONNX.ModelPath == "" {
			return fmt.Errorf("onnx.model_path is required")
		}
		if c.ONNX.PixelStd == 0 {
			return fmt.Errorf("onnx.pixel_std must not be zero")
		}
		if c.ONNX.ScoreThreshold < 0 || c.ONNX.ScoreThreshold > 1 {
			return fmt.Errorf("onnx.score_threshold must be in 0..1")
		}
		if c.ONNX.NMSThreshold <= 0 || c.ONNX.NMSThreshold > 1 {
			return fmt.Errorf("onnx.nms_threshold must be in (0, 1]")
		}
	}

	if c.Backend == "ollama" {
		if c.Ollama.Model == "" {
			return fmt.Errorf("ollama.model is required")
		}
		if c.Ollama.URL == "" {
			c.Ollama.URL = "http://localhost:11434"
		}
		if c.Ollama.Timeout <= 0 {
			c.Ollama.Timeout = 60 * time.Second
		}
		if c.Ollama.JPEGQuality == 0 {
			c.Ollama.JPEGQuality = 85
		}
	}
	return nil
}

func validatePipeline(p *PipelineConfig) error {
	if p.InputSize <= 0 {
		return fmt.Errorf("input_size must be > 0")
	}
	switch p.Resampling {
	case "":
		p.Resampling = "nearest"
	case "nearest", "bilinear":
	default:
		return fmt.Errorf("resampling must be nearest or bilinear, got %q", p.Resampling)
	}
	p.Rotation = ((p.Rotation % 360) + 360) % 360
	if p.ClassifyTimeout < 0 {
		return fmt.Errorf("classify_timeout must not be negative")
	}
	return nil
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/dudu/yolocam/internal/camera"
	"github.com/dudu/yolocam/internal/config"
	"github.com/dudu/yolocam/internal/detector"
	"github.com/dudu/yolocam/internal/dump"
	"github.com/dudu/yolocam/internal/inference"
	"github.com/dudu/yolocam/internal/layout"
	"github.com/dudu/yolocam/internal/normalize"
	"github.com/dudu/yolocam/internal/pipeline"
	"github.com/dudu/yolocam/internal/sink"
	"github.com/dudu/yolocam/internal/ui"
)

func init() {
	// Lock the main goroutine to the main OS thread.
	// This is required on macOS for OpenCV's highgui (window creation).
	runtime.LockOSThread()
}

type Flags struct {
	ConfigPath string
	Debug      bool
	Source     string
	Backend    string
	Model      string
	Rotation   int
	Strict     bool
	DumpDir    string
	Preview    bool
}

func main() {
	flags, set := parseFlags()

	if err := run(flags, set); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (Flags, map[string]bool) {
	f := Flags{}

	flag.StringVar(&f.ConfigPath, "config", "", "YAML config file (reloaded on change)")
	flag.StringVar(&f.ConfigPath, "c", "", "YAML config file (shorthand)")
	flag.BoolVar(&f.Debug, "debug", false, "Enable debug logging")
	flag.StringVar(&f.Source, "source", "", "Frame source: webcam, gstreamer or synthetic")
	flag.StringVar(&f.Source, "s", "", "Frame source (shorthand)")
	flag.StringVar(&f.Backend, "backend", "", "Classifier backend: onnx or ollama")
	flag.StringVar(&f.Backend, "b", "", "Classifier backend (shorthand)")
	flag.StringVar(&f.Model, "model", "", "ONNX model path or Ollama model name")
	flag.StringVar(&f.Model, "m", "", "Model (shorthand)")
	flag.IntVar(&f.Rotation, "rotation", 0, "Rotation in degrees applied after crop and scale")
	flag.BoolVar(&f.Strict, "strict", false, "Admit a frame only after 'c' is pressed")
	flag.StringVar(&f.DumpDir, "dump", "", "Write every model input frame to this directory")
	flag.BoolVar(&f.Preview, "preview", true, "Show preview window")
	flag.BoolVar(&f.Preview, "p", true, "Show preview window (shorthand)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "yolocam - Real-time object detection on camera frames\n\n")
		fmt.Fprintf(os.Stderr, "Usage: yolocam [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nKeys: 'c' classify next frame, 'q' or ESC quit\n")
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  yolocam --source webcam --model models/tiny-yolo-voc.onnx\n")
		fmt.Fprintf(os.Stderr, "  yolocam --config yolocam.yaml --dump frames\n")
		fmt.Fprintf(os.Stderr, "  yolocam --backend ollama --model llava --strict\n")
	}

	flag.Parse()

	set := make(map[string]bool)
	flag.Visit(func(fl *flag.Flag) { set[fl.Name] = true })
	return f, set
}

// loadConfig reads the config file, if any, and applies the flags that
// were given explicitly
func loadConfig(f Flags, set map[string]bool) (*config.Config, error) {
	cfg := config.Default()
	if f.ConfigPath != "" {
		loaded, err := config.Load(f.ConfigPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if f.Debug {
		cfg.LogLevel = "debug"
	}
	if f.Source != "" {
		cfg.Source.Type = f.Source
	}
	if f.Backend != "" {
		cfg.Classifier.Backend = f.Backend
	}
	if f.Model != "" {
		if cfg.Classifier.Backend == string(pipeline.BackendOllama) {
			cfg.Classifier.Ollama.Model = f.Model
		} else {
			cfg.Classifier.ONNX.ModelPath = f.Model
		}
	}
	if set["rotation"] {
		cfg.Pipeline.Rotation = f.Rotation
	}
	if set["strict"] {
		cfg.Pipeline.Strict = f.Strict
	}
	if f.DumpDir != "" {
		cfg.Dump.Enabled = true
		cfg.Dump.Dir = f.DumpDir
	}
	if set["preview"] || set["p"] {
		cfg.Sinks.Window.Enabled = f.Preview
	}

	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: l}))
}

func newClassifier(cfg *config.Config) (pipeline.Classifier, error) {
	switch pipeline.Backend(cfg.Classifier.Backend) {
	case pipeline.BackendONNX:
		c := cfg.Classifier.ONNX
		if err := inference.Initialize(c.LibraryPath); err != nil {
			return nil, err
		}
		model := detector.DefaultModelConfig()
		model.ModelPath = c.ModelPath
		model.LabelPath = c.LabelPath
		model.InputSize = cfg.Pipeline.InputSize
		model.InputName = c.InputName
		model.OutputName = c.OutputName
		model.PixelMean = c.PixelMean
		model.PixelStd = c.PixelStd
		model.ScoreThreshold = c.ScoreThreshold
		model.NMSThreshold = c.NMSThreshold
		model.CoreML = c.CoreML
		model.Threads = c.Threads
		return detector.NewYOLO(model)

	case pipeline.BackendOllama:
		c := cfg.Classifier.Ollama
		return detector.NewRemote(detector.RemoteConfig{
			URL:         c.URL,
			Model:       c.Model,
			Timeout:     c.Timeout,
			JPEGQuality: c.JPEGQuality,
			MinScore:    c.MinScore,
			Labels:      detector.VOCLabels,
		})

	default:
		return nil, fmt.Errorf("invalid backend: %s (use 'onnx' or 'ollama')", cfg.Classifier.Backend)
	}
}

func newSource(cfg config.SourceConfig) (camera.Source, error) {
	switch cfg.Type {
	case "webcam":
		return camera.NewCaptureWithResolution(cfg.DeviceID, cfg.FPS, cfg.Width, cfg.Height)
	case "gstreamer":
		return camera.NewGstSource(camera.GstConfig{
			Element:   cfg.Element,
			Device:    cfg.Device,
			Width:     cfg.Width,
			Height:    cfg.Height,
			TargetFPS: cfg.FPS,
		})
	case "synthetic":
		return camera.NewSynthetic(camera.SyntheticConfig{
			Width:  cfg.Width,
			Height: cfg.Height,
			FPS:    cfg.FPS,
			Padded: cfg.Padded,
		})
	default:
		return nil, fmt.Errorf("invalid source: %s", cfg.Type)
	}
}

func run(f Flags, set map[string]bool) error {
	cfg, err := loadConfig(f, set)
	if err != nil {
		return err
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	logger.Info("yolocam starting",
		"instance_id", cfg.InstanceID,
		"source", cfg.Source.Type,
		"backend", cfg.Classifier.Backend,
		"input_size", cfg.Pipeline.InputSize,
		"rotation", cfg.Pipeline.Rotation,
		"strict", cfg.Pipeline.Strict)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Classifier
	classifier, err := newClassifier(cfg)
	if err != nil {
		return fmt.Errorf("failed to create classifier: %w", err)
	}
	defer inference.Shutdown()

	// Sinks
	var sinks sink.Multi
	var dumpers pipeline.Dumpers

	var window *ui.Window
	if cfg.Sinks.Window.Enabled {
		w := cfg.Sinks.Window
		aspect, err := layout.NewAspectRatio(w.AspectWidth, w.AspectHeight)
		if err != nil {
			classifier.Close()
			return fmt.Errorf("invalid window aspect ratio: %w", err)
		}
		window = ui.NewWindow(w.Name, aspect, w.MaxWidth, w.MaxHeight)
		defer window.Close()
		sinks = append(sinks, window)
		dumpers = append(dumpers, window)
	}

	if cfg.Sinks.MQTT.Enabled {
		m := cfg.Sinks.MQTT
		mq, err := sink.NewMQTT(sink.MQTTConfig{
			Broker:   m.Broker,
			Topic:    m.Topic,
			QoS:      m.QoS,
			Encoding: sink.Encoding(m.Encoding),
			Source:   cfg.InstanceID,
		})
		if err != nil {
			classifier.Close()
			return fmt.Errorf("failed to create mqtt sink: %w", err)
		}
		defer mq.Close()
		sinks = append(sinks, mq)
	}

	if cfg.Sinks.WebSocket.Enabled {
		ws := cfg.Sinks.WebSocket
		hub := sink.NewHub(cfg.InstanceID)
		defer hub.Close()
		mux := http.NewServeMux()
		mux.Handle(ws.Path, hub)
		server := &http.Server{Addr: ws.Addr, Handler: mux}
		go func() {
			logger.Info("websocket endpoint listening", "addr", ws.Addr, "path", ws.Path)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("websocket server failed", "error", err)
			}
		}()
		defer server.Close()
		sinks = append(sinks, hub)
	}

	if cfg.Dump.Enabled {
		d, err := dump.New(dump.Config{
			Dir:      cfg.Dump.Dir,
			Format:   dump.Format(cfg.Dump.Format),
			Quality:  cfg.Dump.Quality,
			Lossless: cfg.Dump.Lossless,
		}, logger)
		if err != nil {
			classifier.Close()
			return fmt.Errorf("failed to create dumper: %w", err)
		}
		defer func() {
			d.Close()
			s := d.Stats()
			logger.Info("dump finished", "written", s.Written, "dropped", s.Dropped, "failed", s.Failed)
		}()
		dumpers = append(dumpers, d)
	}

	// Pipeline: results are applied on this thread through the render loop
	render := pipeline.NewLoop(16)
	opts := []pipeline.Option{
		pipeline.WithRenderExecutor(render),
		pipeline.WithLogger(logger),
	}
	if len(dumpers) > 0 {
		opts = append(opts, pipeline.WithDumper(dumpers))
	}
	p, err := pipeline.New(pipeline.Config{
		InputSize:       cfg.Pipeline.InputSize,
		Rotation:        cfg.Pipeline.Rotation,
		Resampling:      normalize.Resampling(cfg.Pipeline.Resampling),
		Strict:          cfg.Pipeline.Strict,
		ClassifyTimeout: cfg.Pipeline.ClassifyTimeout,
	}, classifier, sinks, opts...)
	if err != nil {
		classifier.Close()
		return fmt.Errorf("failed to create pipeline: %w", err)
	}
	defer p.Close()

	// Frame source
	src, err := newSource(cfg.Source)
	if err != nil {
		return fmt.Errorf("failed to open source: %w", err)
	}
	defer src.Close()

	latest := camera.NewLatest()
	defer latest.Close()

	srcErr := make(chan error, 1)
	go func() {
		srcErr <- src.Run(ctx, latest)
	}()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-latest.Ready():
				p.OnFrameAvailable(latest)
			}
		}
	}()
	// stop producers before the deferred closes above run
	defer cancel()

	if f.ConfigPath != "" {
		go func() {
			err := config.Watch(ctx, f.ConfigPath, func(c *config.Config) {
				p.SetRotation(c.Pipeline.Rotation)
				p.SetStrict(c.Pipeline.Strict)
				logger.Info("pipeline settings reloaded",
					"rotation", c.Pipeline.Rotation,
					"strict", c.Pipeline.Strict)
			})
			if err != nil {
				logger.Warn("config watcher stopped", "error", err)
			}
		}()
	}

	// Handle signals for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	statsTicker := time.NewTicker(10 * time.Second)
	defer statsTicker.Stop()

	logger.Info("running, press 'c' to classify the next frame, 'q' to quit")

	for {
		select {
		case <-sigChan:
			logger.Info("shutting down")
			return nil
		case err := <-srcErr:
			if err != nil {
				return fmt.Errorf("source stopped: %w", err)
			}
			return nil
		case <-statsTicker.C:
			s := p.Stats()
			logger.Info("pipeline stats",
				"processed", s.Processed,
				"failed", s.Failed,
				"admitted", s.Admission.Admitted,
				"dropped", s.Admission.Dropped,
				"state", s.Admission.State.String(),
				"frames_published", latest.Published(),
				"frames_overwritten", latest.Overwritten())
		default:
		}

		render.RunPending()

		if window == nil {
			time.Sleep(10 * time.Millisecond)
			continue
		}

		timing := p.LastTiming()
		if timing.Total > 0 {
			window.SetStatus(fmt.Sprintf("C:%.0fms N:%.0fms I:%.0fms T:%.0fms",
				float64(timing.Convert.Milliseconds()),
				float64(timing.Normalize.Milliseconds()),
				float64(timing.Classify.Milliseconds()),
				float64(timing.Total.Milliseconds())))
		}
		window.Render()

		// WaitKey must be called to process window events on macOS
		switch key := window.WaitKey(10); key {
		case 'c':
			p.RequestNext()
		case 'q', 27: // 'q' or ESC
			logger.Info("quitting")
			return nil
		}
	}
}

package camera

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

// GstConfig configures the GStreamer source
type GstConfig struct {
	// Element is the source element, e.g. "v4l2src" or "videotestsrc"
	Element string
	// Device is set as the "device" property when not empty
	Device    string
	Width     int
	Height    int
	TargetFPS int
}

// GstSource captures through a GStreamer pipeline ending in an I420 appsink:
// src ! videoconvert ! videoscale ! videorate ! capsfilter ! appsink
type GstSource struct {
	config   GstConfig
	pipeline *gst.Pipeline
	sink     *app.Sink
	layout   Layout
	pool     *bufferPool

	out     atomic.Pointer[Latest]
	seq     atomic.Uint64
	dropped atomic.Uint64
}

// NewGstSource builds the pipeline; Run starts it
func NewGstSource(config GstConfig) (*GstSource, error) {
	if config.Width <= 0 || config.Height <= 0 {
		return nil, fmt.Errorf("invalid capture size %dx%d", config.Width, config.Height)
	}
	if config.Element == "" {
		config.Element = "v4l2src"
	}
	if config.TargetFPS <= 0 {
		config.TargetFPS = 30
	}

	gst.Init(nil)

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	src, err := gst.NewElement(config.Element)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", config.Element, err)
	}
	if config.Device != "" {
		src.SetProperty("device", config.Device)
	}

	convert, err := gst.NewElement("videoconvert")
	if err != nil {
		return nil, fmt.Errorf("failed to create videoconvert: %w", err)
	}
	scale, err := gst.NewElement("videoscale")
	if err != nil {
		return nil, fmt.Errorf("failed to create videoscale: %w", err)
	}
	rate, err := gst.NewElement("videorate")
	if err != nil {
		return nil, fmt.Errorf("failed to create videorate: %w", err)
	}

	capsfilter, err := gst.NewElement("capsfilter")
	if err != nil {
		return nil, fmt.Errorf("failed to create capsfilter: %w", err)
	}
	capsStr := fmt.Sprintf("video/x-raw,format=I420,width=%d,height=%d,framerate=%d/1",
		config.Width, config.Height, config.TargetFPS)
	capsfilter.SetProperty("caps", gst.NewCapsFromString(capsStr))

	sink, err := app.NewAppSink()
	if err != nil {
		return nil, fmt.Errorf("failed to create appsink: %w", err)
	}
	sink.SetProperty("sync", false)    // No sync with clock (real-time)
	sink.SetProperty("max-buffers", 1) // Keep only latest frame
	sink.SetProperty("drop", true)     // Drop old frames

	if err := pipeline.AddMany(src, convert, scale, rate, capsfilter, sink.Element); err != nil {
		return nil, fmt.Errorf("failed to add elements: %w", err)
	}
	if err := gst.ElementLinkMany(src, convert, scale, rate, capsfilter, sink.Element); err != nil {
		return nil, fmt.Errorf("failed to link elements: %w", err)
	}

	layout := GstLayout(config.Width, config.Height)
	s := &GstSource{
		config:   config,
		pipeline: pipeline,
		sink:     sink,
		layout:   layout,
		pool:     newBufferPool(layout.Size),
	}
	sink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: s.onNewSample,
	})
	return s, nil
}

// onNewSample copies the mapped buffer into a pooled frame and unmaps
// before publishing, so GStreamer gets its buffer back immediately
func (s *GstSource) onNewSample(sink *app.Sink) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		slog.Warn("camera: failed to pull sample from appsink, skipping frame")
		return gst.FlowOK
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		slog.Warn("camera: failed to get buffer from sample, skipping frame")
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) < s.layout.Size {
		buffer.Unmap()
		s.dropped.Add(1)
		slog.Debug("camera: short I420 buffer", "bytes", len(data), "want", s.layout.Size)
		return gst.FlowOK
	}
	f := s.pool.frameFrom(s.layout, data)
	buffer.Unmap()

	f.Seq = s.seq.Add(1)
	if out := s.out.Load(); out != nil {
		out.Publish(f)
	} else {
		f.Release()
	}
	return gst.FlowOK
}

// Run plays the pipeline and watches its bus until ctx is done, EOS, or error
func (s *GstSource) Run(ctx context.Context, out *Latest) error {
	s.out.Store(out)
	defer s.out.Store(nil)

	if err := s.pipeline.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("failed to start pipeline: %w", err)
	}
	slog.Info("camera: gstreamer pipeline playing",
		"element", s.config.Element,
		"resolution", fmt.Sprintf("%dx%d", s.config.Width, s.config.Height))

	bus := s.pipeline.GetPipelineBus()
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}
		switch msg.Type() {
		case gst.MessageEOS:
			return fmt.Errorf("end of stream")
		case gst.MessageError:
			gerr := msg.ParseError()
			slog.Error("camera: pipeline error", "error", gerr.Error(), "debug", gerr.DebugString())
			return fmt.Errorf("pipeline error: %s", gerr.Error())
		}
	}
}

// Dropped returns how many samples were discarded as malformed
func (s *GstSource) Dropped() uint64 {
	return s.dropped.Load()
}

// Close stops the pipeline
func (s *GstSource) Close() error {
	if s.pipeline == nil {
		return nil
	}
	err := s.pipeline.SetState(gst.StateNull)
	s.pipeline = nil
	return err
}

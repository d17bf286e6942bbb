package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dudu/yolocam/internal/admission"
	"github.com/dudu/yolocam/internal/colorconv"
	"github.com/dudu/yolocam/internal/detector"
	"github.com/dudu/yolocam/internal/frame"
	"github.com/dudu/yolocam/internal/normalize"
)

// Config holds pipeline configuration
type Config struct {
	InputSize       int
	Rotation        int
	Resampling      normalize.Resampling
	Strict          bool
	ClassifyTimeout time.Duration
}

// Timing holds performance timing information
type Timing struct {
	Convert   time.Duration
	Normalize time.Duration
	Classify  time.Duration
	Total     time.Duration
}

// Stats is a snapshot of pipeline counters
type Stats struct {
	Processed  uint64 // cycles delivered to the sink
	Failed     uint64 // cycles aborted by acquisition, conversion or classifier errors
	Admission  admission.Stats
	LastTiming Timing
}

// Option customizes a Processor
type Option func(*Processor)

// WithInferenceExecutor sets where classification runs (default: a Worker)
func WithInferenceExecutor(e Executor) Option {
	return func(p *Processor) { p.inference = e }
}

// WithRenderExecutor sets where the sink is called (default: Inline)
func WithRenderExecutor(e Executor) Option {
	return func(p *Processor) { p.render = e }
}

// WithDumper enables the debug dump of normalized frames
func WithDumper(d Dumper) Option {
	return func(p *Processor) { p.dumper = d }
}

// WithLogger overrides slog.Default()
func WithLogger(l *slog.Logger) Option {
	return func(p *Processor) { p.logger = l }
}

// Processor drives one frame at a time from camera to sink:
// acquire, admit, convert, normalize, classify, deliver.
type Processor struct {
	config     Config
	gate       *admission.Controller
	converter  *colorconv.Converter
	normalizer *normalize.Normalizer
	classifier Classifier
	sink       ResultSink
	dumper     Dumper
	inference  Executor
	render     Executor
	worker     *Worker // owned default inference executor
	logger     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	seq       atomic.Uint64
	processed atomic.Uint64
	failed    atomic.Uint64

	timingMu   sync.Mutex
	lastTiming Timing
}

// New creates a processor around an initialized classifier
func New(config Config, classifier Classifier, sink ResultSink, opts ...Option) (*Processor, error) {
	if classifier == nil {
		return nil, errors.New("classifier not initialized")
	}
	if sink == nil {
		return nil, errors.New("result sink required")
	}

	cache := frame.NewBufferCache()
	normalizer, err := normalize.NewNormalizer(normalize.Options{
		InputSize:  config.InputSize,
		Rotation:   config.Rotation,
		Resampling: config.Resampling,
	}, cache)
	if err != nil {
		return nil, fmt.Errorf("failed to create normalizer: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Processor{
		config:     config,
		gate:       admission.NewController(admission.Options{Strict: config.Strict}),
		converter:  colorconv.NewConverter(cache),
		normalizer: normalizer,
		classifier: classifier,
		sink:       sink,
		render:     Inline{},
		logger:     slog.Default(),
		ctx:        ctx,
		cancel:     cancel,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.inference == nil {
		p.worker = NewWorker(1)
		p.inference = p.worker
	}
	return p, nil
}

// OnFrameAvailable is the frame-ready event. It runs acquisition,
// conversion and normalization on the caller's goroutine and hands
// classification to the inference executor.
func (p *Processor) OnFrameAvailable(src FrameSource) {
	raw, err := src.AcquireLatest()
	if err != nil {
		p.failed.Add(1)
		p.logger.Debug("pipeline: acquire failed", "error", err)
		return
	}
	if raw == nil {
		return
	}

	if !p.gate.TryAdmit() {
		raw.Release()
		return
	}

	start := time.Now()
	traceID := uuid.NewString()
	srcW, srcH := raw.Width, raw.Height

	input, transform, timing, err := p.prepare(raw)
	if err != nil {
		p.abort(traceID, err)
		return
	}

	seq := p.seq.Add(1)
	if p.dumper != nil {
		p.dumper.Dump(seq, input)
	}

	accepted := p.inference.Post(func() {
		p.classify(traceID, input, transform, srcW, srcH, timing, start)
	})
	if !accepted {
		p.abort(traceID, errors.New("inference executor rejected task"))
	}
}

// prepare converts and normalizes raw. The raw frame is released as soon
// as its planes are copied out, and on every error path.
func (p *Processor) prepare(raw *frame.RawFrame) (*frame.NormalizedFrame, normalize.Transform, Timing, error) {
	defer raw.Release()
	var timing Timing

	convertStart := time.Now()
	packed, err := p.converter.Convert(raw)
	timing.Convert = time.Since(convertStart)
	raw.Release()
	if err != nil {
		return nil, normalize.Transform{}, timing, err
	}

	normalizeStart := time.Now()
	input, transform, err := p.normalizer.Normalize(packed)
	timing.Normalize = time.Since(normalizeStart)
	if err != nil {
		return nil, normalize.Transform{}, timing, fmt.Errorf("failed to normalize: %w", err)
	}
	return input, transform, timing, nil
}

func (p *Processor) classify(traceID string, input *frame.NormalizedFrame, transform normalize.Transform, srcW, srcH int, timing Timing, start time.Time) {
	ctx := p.ctx
	if p.config.ClassifyTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.ClassifyTimeout)
		defer cancel()
	}

	classifyStart := time.Now()
	dets, err := p.classifier.Classify(ctx, input)
	timing.Classify = time.Since(classifyStart)
	if err != nil {
		p.abort(traceID, fmt.Errorf("classification failed: %w", err))
		return
	}

	mapToFrame(dets, transform, srcW, srcH)

	delivered := p.render.Post(func() {
		p.sink.SetResults(dets)
		timing.Total = time.Since(start)
		p.setTiming(timing)
		p.processed.Add(1)
		p.logger.Debug("pipeline: cycle complete",
			"trace_id", traceID,
			"detections", len(dets),
			"total_ms", timing.Total.Milliseconds())
		p.gate.Complete()
	})
	if !delivered {
		p.abort(traceID, errors.New("render executor rejected results"))
	}
}

func (p *Processor) abort(traceID string, err error) {
	p.failed.Add(1)
	p.logger.Debug("pipeline: cycle dropped", "trace_id", traceID, "error", err)
	p.gate.Complete()
}

// mapToFrame fills FrameBox from the normalized Box through the inverse
// normalization transform
func mapToFrame(dets []detector.Detection, t normalize.Transform, srcW, srcH int) {
	size := float32(t.Size)
	for i := range dets {
		b := dets[i].Box.Scale(size, size)
		x1, y1, x2, y2 := t.MapBox(float64(b.X1), float64(b.Y1), float64(b.X2), float64(b.Y2))
		dets[i].FrameBox = detector.BoundingBox{
			X1: float32(x1), Y1: float32(y1),
			X2: float32(x2), Y2: float32(y2),
		}.Clamp(float32(srcW), float32(srcH))
	}
}

func (p *Processor) setTiming(t Timing) {
	p.timingMu.Lock()
	p.lastTiming = t
	p.timingMu.Unlock()
}

// RequestNext arms the gate for the next frame (the capture trigger in
// strict mode)
func (p *Processor) RequestNext() {
	p.gate.RequestNext()
}

// SetRotation changes the normalization rotation from the next frame on
func (p *Processor) SetRotation(deg int) {
	p.normalizer.SetRotation(deg)
}

// SetStrict switches between single-flight and one-shot admission
func (p *Processor) SetStrict(strict bool) {
	p.gate.SetStrict(strict)
}

// State returns Idle or Processing
func (p *Processor) State() admission.State {
	return p.gate.State()
}

// LastTiming returns timing from the last delivered cycle
func (p *Processor) LastTiming() Timing {
	p.timingMu.Lock()
	defer p.timingMu.Unlock()
	return p.lastTiming
}

// Stats returns a snapshot of the counters
func (p *Processor) Stats() Stats {
	return Stats{
		Processed:  p.processed.Load(),
		Failed:     p.failed.Load(),
		Admission:  p.gate.Stats(),
		LastTiming: p.LastTiming(),
	}
}

// Close cancels in-flight classification, stops the owned worker and
// closes the classifier
func (p *Processor) Close() error {
	p.cancel()
	if p.worker != nil {
		p.worker.Close()
	}

	if err := p.classifier.Close(); err != nil {
		return fmt.Errorf("failed to close classifier: %w", err)
	}
	return nil
}

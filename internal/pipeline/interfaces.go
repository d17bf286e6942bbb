package pipeline

import (
	"context"

	"github.com/dudu/yolocam/internal/detector"
	"github.com/dudu/yolocam/internal/frame"
)

// Backend represents the classifier backend to use
type Backend string

const (
	BackendONNX   Backend = "onnx"
	BackendOllama Backend = "ollama"
)

// Classifier runs object detection on a normalized frame
type Classifier interface {
	Classify(ctx context.Context, f *frame.NormalizedFrame) ([]detector.Detection, error)
	Close() error
}

// ResultSink receives the detections of each completed cycle, replacing
// the previous set
type ResultSink interface {
	SetResults(dets []detector.Detection)
}

// FrameSource hands out the most recent camera frame. A nil frame with a
// nil error means nothing is available yet.
type FrameSource interface {
	AcquireLatest() (*frame.RawFrame, error)
}

// Dumper receives every normalized frame for debugging. Implementations
// must not block and must copy the frame before returning.
type Dumper interface {
	Dump(seq uint64, f *frame.NormalizedFrame)
}

// Executor runs tasks in some execution context. Post reports whether the
// task was accepted.
type Executor interface {
	Post(task func()) bool
}

// Dumpers fans a frame out to several dumpers in order
type Dumpers []Dumper

// Dump forwards f to every dumper
func (d Dumpers) Dump(seq uint64, f *frame.NormalizedFrame) {
	for _, dd := range d {
		dd.Dump(seq, f)
	}
}

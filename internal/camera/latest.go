package camera

import (
	"sync"
	"sync/atomic"

	"github.com/dudu/yolocam/internal/frame"
)

// Latest keeps only the most recent frame of a source. Publishing a new
// frame releases the one nobody acquired; readers are woken through Ready.
type Latest struct {
	mu      sync.Mutex
	pending *frame.RawFrame
	ready   chan struct{}
	closed  bool

	published   atomic.Uint64
	overwritten atomic.Uint64
}

// NewLatest creates an empty slot
func NewLatest() *Latest {
	return &Latest{ready: make(chan struct{}, 1)}
}

// Publish stores f as the latest frame and signals readiness
func (l *Latest) Publish(f *frame.RawFrame) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		f.Release()
		return
	}
	prev := l.pending
	l.pending = f
	l.mu.Unlock()

	l.published.Add(1)
	if prev != nil {
		l.overwritten.Add(1)
		prev.Release()
	}

	select {
	case l.ready <- struct{}{}:
	default:
	}
}

// AcquireLatest takes the pending frame, or returns nil when there is none.
// The caller owns the frame and must Release it.
func (l *Latest) AcquireLatest() (*frame.RawFrame, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	f := l.pending
	l.pending = nil
	return f, nil
}

// Ready fires after Publish; one signal may cover several frames
func (l *Latest) Ready() <-chan struct{} {
	return l.ready
}

// Published returns the number of frames published
func (l *Latest) Published() uint64 {
	return l.published.Load()
}

// Overwritten returns how many frames were replaced before being acquired
func (l *Latest) Overwritten() uint64 {
	return l.overwritten.Load()
}

// Close releases the pending frame; later publishes are released at once
func (l *Latest) Close() {
	l.mu.Lock()
	prev := l.pending
	l.pending = nil
	l.closed = true
	l.mu.Unlock()
	if prev != nil {
		prev.Release()
	}
}

package dump

import (
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/google/uuid"

	"github.com/dudu/yolocam/internal/frame"
)

// Format is the image encoding of dumped frames
type Format string

const (
	FormatPNG  Format = "png"
	FormatJPEG Format = "jpg"
	FormatWebP Format = "webp"
)

// Config configures the dumper
type Config struct {
	Dir      string
	Format   Format
	Quality  int  // jpg and lossy webp quality, 1-100
	Lossless bool // webp only
}

// Stats counts dump outcomes
type Stats struct {
	Written uint64
	Dropped uint64 // requests that arrived while a write was pending
	Failed  uint64
}

type job struct {
	seq   uint64
	frame *frame.NormalizedFrame
}

// Dumper writes normalized frames to disk on a background goroutine.
// It holds at most one pending frame; requests arriving while busy are
// dropped so the pipeline never waits on the disk.
type Dumper struct {
	config Config
	logger *slog.Logger
	run    string

	mu     sync.RWMutex
	closed bool
	slot   chan job
	busy   atomic.Bool
	wg     sync.WaitGroup

	written atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64
}

// New creates the output directory and starts the writer
func New(config Config, logger *slog.Logger) (*Dumper, error) {
	if config.Dir == "" {
		return nil, fmt.Errorf("dump directory required")
	}
	config.Format = Format(strings.ToLower(string(config.Format)))
	switch config.Format {
	case "":
		config.Format = FormatPNG
	case "jpeg":
		config.Format = FormatJPEG
	case FormatPNG, FormatJPEG, FormatWebP:
	default:
		return nil, fmt.Errorf("unsupported dump format %q", config.Format)
	}
	if config.Quality <= 0 || config.Quality > 100 {
		config.Quality = 90
	}
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(config.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create dump directory: %w", err)
	}

	d := &Dumper{
		config: config,
		logger: logger,
		run:    uuid.NewString()[:8],
		slot:   make(chan job, 1),
	}
	d.wg.Add(1)
	go d.loop()
	return d, nil
}

// Dump queues a copy of f unless a write is already pending
func (d *Dumper) Dump(seq uint64, f *frame.NormalizedFrame) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed || !d.busy.CompareAndSwap(false, true) {
		d.dropped.Add(1)
		return
	}
	d.slot <- job{seq: seq, frame: f.Clone()}
}

func (d *Dumper) loop() {
	defer d.wg.Done()
	for j := range d.slot {
		path := d.path(j.seq)
		if err := d.write(path, j.frame.ToNRGBA(nil)); err != nil {
			d.failed.Add(1)
			d.logger.Warn("dump: write failed", "path", path, "error", err)
		} else {
			d.written.Add(1)
			d.logger.Debug("dump: frame written", "path", path)
		}
		d.busy.Store(false)
	}
}

func (d *Dumper) path(seq uint64) string {
	name := fmt.Sprintf("frame-%s-%06d.%s", d.run, seq, d.config.Format)
	return filepath.Join(d.config.Dir, name)
}

func (d *Dumper) write(path string, img image.Image) error {
	switch d.config.Format {
	case FormatWebP:
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		opts := &webp.Options{Lossless: d.config.Lossless, Quality: float32(d.config.Quality)}
		if err := webp.Encode(f, img, opts); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	case FormatPNG:
		return imaging.Save(img, path)
	default:
		return imaging.Save(img, path, imaging.JPEGQuality(d.config.Quality))
	}
}

// Stats returns a snapshot of the counters
func (d *Dumper) Stats() Stats {
	return Stats{
		Written: d.written.Load(),
		Dropped: d.dropped.Load(),
		Failed:  d.failed.Load(),
	}
}

// Close flushes the pending frame and stops the writer. Frames dumped
// after Close are counted as dropped.
func (d *Dumper) Close() error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.slot)
	}
	d.mu.Unlock()
	d.wg.Wait()
	return nil
}

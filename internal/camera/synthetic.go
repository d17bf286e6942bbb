package camera

import (
	"context"
	"fmt"
	"time"

	"github.com/dudu/yolocam/internal/colorconv"
	"github.com/dudu/yolocam/internal/frame"
)

// Source produces frames into a Latest slot until ctx is done
type Source interface {
	Run(ctx context.Context, out *Latest) error
	Close() error
}

// barColors are the classic eight test bars
var barColors = [][3]uint8{
	{235, 235, 235},
	{235, 235, 16},
	{16, 235, 235},
	{16, 235, 16},
	{235, 16, 235},
	{235, 16, 16},
	{16, 16, 235},
	{16, 16, 16},
}

// SyntheticConfig configures the test-pattern source
type SyntheticConfig struct {
	Width, Height int
	FPS           int
	// Padded uses GStreamer's 4-byte aligned strides instead of tight rows
	Padded bool
}

// Synthetic generates moving color bars as I420 frames
type Synthetic struct {
	config SyntheticConfig
	layout Layout
	pool   *bufferPool
	seq    uint64
}

// NewSynthetic creates a test-pattern source
func NewSynthetic(config SyntheticConfig) (*Synthetic, error) {
	if config.Width <= 0 || config.Height <= 0 {
		return nil, fmt.Errorf("invalid synthetic size %dx%d", config.Width, config.Height)
	}
	if config.FPS <= 0 {
		config.FPS = 30
	}
	layout := TightLayout(config.Width, config.Height)
	if config.Padded {
		layout = GstLayout(config.Width, config.Height)
	}
	return &Synthetic{
		config: config,
		layout: layout,
		pool:   newBufferPool(layout.Size),
	}, nil
}

// Next renders the next frame. Bars shift one column per frame.
func (s *Synthetic) Next() *frame.RawFrame {
	buf := s.pool.get()
	s.render(*buf, int(s.seq))
	s.seq++
	f := s.layout.Frame(*buf, func() { s.pool.put(buf) })
	f.Seq = s.seq
	return f
}

func (s *Synthetic) render(buf []byte, shift int) {
	l := s.layout
	barWidth := max(1, l.Width/len(barColors))

	barAt := func(x int) [3]uint8 {
		return barColors[((x+shift)/barWidth)%len(barColors)]
	}

	for y := 0; y < l.Height; y++ {
		row := buf[y*l.YStride:]
		for x := 0; x < l.Width; x++ {
			c := barAt(x)
			yy, _, _ := colorconv.RGBToYUV(c[0], c[1], c[2])
			row[x] = yy
		}
	}
	for y := 0; y < (l.Height+1)/2; y++ {
		u := buf[l.UOffset+y*l.UVStride:]
		v := buf[l.VOffset+y*l.UVStride:]
		for x := 0; x < (l.Width+1)/2; x++ {
			c := barAt(x * 2)
			_, u[x], v[x] = colorconv.RGBToYUV(c[0], c[1], c[2])
		}
	}
}

// Run publishes frames at the configured rate until ctx is done
func (s *Synthetic) Run(ctx context.Context, out *Latest) error {
	ticker := time.NewTicker(time.Second / time.Duration(s.config.FPS))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			out.Publish(s.Next())
		}
	}
}

// Close is a no-op
func (s *Synthetic) Close() error {
	return nil
}

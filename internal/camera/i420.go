package camera

import (
	"sync"

	"github.com/dudu/yolocam/internal/frame"
)

// Layout gives plane offsets and strides inside one contiguous I420 buffer
type Layout struct {
	Width, Height int
	YStride       int
	UVStride      int
	UOffset       int
	VOffset       int
	Size          int
}

// TightLayout packs planes without padding (OpenCV's I420 output)
func TightLayout(width, height int) Layout {
	cw, ch := (width+1)/2, (height+1)/2
	l := Layout{
		Width:    width,
		Height:   height,
		YStride:  width,
		UVStride: cw,
		UOffset:  width * height,
	}
	l.VOffset = l.UOffset + cw*ch
	l.Size = l.VOffset + cw*ch
	return l
}

// GstLayout follows GStreamer's default I420 layout: every row stride is
// rounded up to 4 bytes and plane heights to even rows.
func GstLayout(width, height int) Layout {
	h2 := roundUp(height, 2)
	l := Layout{
		Width:    width,
		Height:   height,
		YStride:  roundUp(width, 4),
		UVStride: roundUp(roundUp(width, 2)/2, 4),
	}
	l.UOffset = l.YStride * h2
	l.VOffset = l.UOffset + l.UVStride*h2/2
	l.Size = l.VOffset + l.UVStride*h2/2
	return l
}

func roundUp(v, n int) int {
	return (v + n - 1) / n * n
}

// Frame slices buf into planes. buf must hold at least l.Size bytes.
func (l Layout) Frame(buf []byte, release func()) *frame.RawFrame {
	ch := (l.Height + 1) / 2
	return frame.NewRawFrame(l.Width, l.Height,
		frame.Plane{Data: buf[:l.UOffset], RowStride: l.YStride, PixelStride: 1},
		frame.Plane{Data: buf[l.UOffset : l.UOffset+l.UVStride*ch], RowStride: l.UVStride, PixelStride: 1},
		frame.Plane{Data: buf[l.VOffset : l.VOffset+l.UVStride*ch], RowStride: l.UVStride, PixelStride: 1},
		release)
}

// bufferPool recycles frame buffers of one size; Release on a frame hands
// its buffer back here
type bufferPool struct {
	size int
	pool sync.Pool
}

func newBufferPool(size int) *bufferPool {
	p := &bufferPool{size: size}
	p.pool.New = func() any {
		b := make([]byte, size)
		return &b
	}
	return p
}

func (p *bufferPool) get() *[]byte {
	return p.pool.Get().(*[]byte)
}

func (p *bufferPool) put(b *[]byte) {
	if len(*b) == p.size {
		p.pool.Put(b)
	}
}

// frameFrom copies data into a pooled buffer and wraps it as a frame that
// returns the buffer on release
func (p *bufferPool) frameFrom(l Layout, data []byte) *frame.RawFrame {
	buf := p.get()
	copy(*buf, data)
	return l.Frame(*buf, func() { p.put(buf) })
}

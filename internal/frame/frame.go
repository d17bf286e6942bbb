package frame

import (
	"image"
	"sync"
)

// Plane is one image plane as delivered by a camera source
type Plane struct {
	Data        []byte
	RowStride   int // bytes between the starts of consecutive rows
	PixelStride int // bytes between consecutive samples in a row
}

// RawFrame is a planar YUV 4:2:0 frame owned by its source until released
type RawFrame struct {
	Width, Height int
	Y, U, V       Plane
	Seq           uint64

	releaseOnce sync.Once
	release     func()
}

// NewRawFrame wraps planes with a release callback (may be nil)
func NewRawFrame(width, height int, y, u, v Plane, release func()) *RawFrame {
	return &RawFrame{
		Width:   width,
		Height:  height,
		Y:       y,
		U:       u,
		V:       v,
		release: release,
	}
}

// Release hands the frame back to its source. Safe to call more than once.
func (f *RawFrame) Release() {
	f.releaseOnce.Do(func() {
		if f.release != nil {
			f.release()
		}
	})
}

// PackedFrame holds 0xAARRGGBB words, row-major, one per pixel
type PackedFrame struct {
	Width, Height int
	Pix           []uint32
}

// NewPackedFrame allocates a zeroed packed frame
func NewPackedFrame(width, height int) *PackedFrame {
	return &PackedFrame{
		Width:  width,
		Height: height,
		Pix:    make([]uint32, width*height),
	}
}

// At returns the packed pixel at (x, y)
func (p *PackedFrame) At(x, y int) uint32 {
	return p.Pix[y*p.Width+x]
}

// Fill sets every pixel to argb
func (p *PackedFrame) Fill(argb uint32) {
	for i := range p.Pix {
		p.Pix[i] = argb
	}
}

// ToNRGBA copies the frame into dst, reallocating when the size differs
func (p *PackedFrame) ToNRGBA(dst *image.NRGBA) *image.NRGBA {
	r := image.Rect(0, 0, p.Width, p.Height)
	if dst == nil || dst.Rect != r {
		dst = image.NewNRGBA(r)
	}
	for i, c := range p.Pix {
		o := i * 4
		dst.Pix[o] = uint8(c >> 16)
		dst.Pix[o+1] = uint8(c >> 8)
		dst.Pix[o+2] = uint8(c)
		dst.Pix[o+3] = uint8(c >> 24)
	}
	return dst
}

// FromNRGBA fills p from src, which must have the same size
func (p *PackedFrame) FromNRGBA(src *image.NRGBA) {
	for i := range p.Pix {
		o := i * 4
		p.Pix[i] = uint32(src.Pix[o+3])<<24 |
			uint32(src.Pix[o])<<16 |
			uint32(src.Pix[o+1])<<8 |
			uint32(src.Pix[o+2])
	}
}

// NormalizedFrame is the square model input produced by the normalizer
type NormalizedFrame struct {
	PackedFrame
}

// NewNormalizedFrame allocates a size x size normalized frame
func NewNormalizedFrame(size int) *NormalizedFrame {
	return &NormalizedFrame{PackedFrame: *NewPackedFrame(size, size)}
}

// Size returns the side length
func (n *NormalizedFrame) Size() int {
	return n.Width
}

// Clone returns a deep copy
func (n *NormalizedFrame) Clone() *NormalizedFrame {
	c := NewNormalizedFrame(n.Width)
	copy(c.Pix, n.Pix)
	return c
}

// ARGB splits a packed word into channels
func ARGB(c uint32) (a, r, g, b uint8) {
	return uint8(c >> 24), uint8(c >> 16), uint8(c >> 8), uint8(c)
}

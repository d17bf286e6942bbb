package colorconv

import (
	"errors"
	"fmt"

	"github.com/dudu/yolocam/internal/frame"
)

var (
	// ErrShortPlane is returned when a plane holds fewer bytes than its strides require
	ErrShortPlane = errors.New("plane shorter than dimensions and strides require")
	// ErrInvalidStride is returned for non-positive strides or a row stride below the width
	ErrInvalidStride = errors.New("invalid plane stride")
	// ErrInvalidSize is returned for non-positive dimensions or an undersized destination
	ErrInvalidSize = errors.New("invalid frame size")
)

// Fixed-point channel range after the 1192 luma multiply: 18 bits.
const maxChannel = 262143

// YUV420ToARGB converts planar YUV 4:2:0 to packed 0xAARRGGBB words.
// Luma is read at y*yRowStride+x, chroma at (y/2)*uvRowStride+(x/2)*uvPixelStride.
func YUV420ToARGB(dst []uint32, yData, uData, vData []byte, width, height, yRowStride, uvRowStride, uvPixelStride int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidSize, width, height)
	}
	if len(dst) < width*height {
		return fmt.Errorf("%w: destination holds %d pixels, need %d", ErrInvalidSize, len(dst), width*height)
	}
	if yRowStride < width || uvRowStride <= 0 || uvPixelStride <= 0 {
		return fmt.Errorf("%w: y=%d uv=%d pixel=%d", ErrInvalidStride, yRowStride, uvRowStride, uvPixelStride)
	}
	if need := (height-1)*yRowStride + width; len(yData) < need {
		return fmt.Errorf("%w: y has %d bytes, need %d", ErrShortPlane, len(yData), need)
	}
	chromaW := (width + 1) / 2
	chromaH := (height + 1) / 2
	if (chromaW-1)*uvPixelStride+1 > uvRowStride && chromaH > 1 {
		return fmt.Errorf("%w: uv row stride %d below row extent", ErrInvalidStride, uvRowStride)
	}
	need := (chromaH-1)*uvRowStride + (chromaW-1)*uvPixelStride + 1
	if len(uData) < need {
		return fmt.Errorf("%w: u has %d bytes, need %d", ErrShortPlane, len(uData), need)
	}
	if len(vData) < need {
		return fmt.Errorf("%w: v has %d bytes, need %d", ErrShortPlane, len(vData), need)
	}

	out := 0
	for j := 0; j < height; j++ {
		pY := j * yRowStride
		pUV := (j >> 1) * uvRowStride
		for i := 0; i < width; i++ {
			uvOffset := pUV + (i>>1)*uvPixelStride
			dst[out] = yuvToARGB(int(yData[pY+i]), int(uData[uvOffset]), int(vData[uvOffset]))
			out++
		}
	}
	return nil
}

// yuvToARGB applies the integer BT.601 limited-range transform
func yuvToARGB(y, u, v int) uint32 {
	y -= 16
	if y < 0 {
		y = 0
	}
	u -= 128
	v -= 128

	y1192 := 1192 * y
	r := clamp(y1192 + 1634*v)
	g := clamp(y1192 - 833*v - 400*u)
	b := clamp(y1192 + 2066*u)

	return 0xff000000 |
		uint32((r<<6)&0xff0000) |
		uint32((g>>2)&0xff00) |
		uint32((b>>10)&0xff)
}

func clamp(c int) int {
	if c < 0 {
		return 0
	}
	if c > maxChannel {
		return maxChannel
	}
	return c
}

// Converter converts raw frames into a reused packed buffer
type Converter struct {
	cache *frame.BufferCache
}

// NewConverter creates a converter backed by cache (a private cache when nil)
func NewConverter(cache *frame.BufferCache) *Converter {
	if cache == nil {
		cache = frame.NewBufferCache()
	}
	return &Converter{cache: cache}
}

// Convert decodes f into the converter's packed buffer. The buffer is
// reallocated only when the frame size changes and is overwritten by the
// next call.
func (c *Converter) Convert(f *frame.RawFrame) (*frame.PackedFrame, error) {
	if f == nil {
		return nil, fmt.Errorf("%w: nil frame", ErrInvalidSize)
	}
	if f.Width <= 0 || f.Height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidSize, f.Width, f.Height)
	}
	if f.U.RowStride != f.V.RowStride || f.U.PixelStride != f.V.PixelStride {
		return nil, fmt.Errorf("%w: u and v strides differ", ErrInvalidStride)
	}

	dst := c.cache.Packed(f.Width, f.Height)
	err := YUV420ToARGB(dst.Pix, f.Y.Data, f.U.Data, f.V.Data,
		f.Width, f.Height, f.Y.RowStride, f.U.RowStride, f.U.PixelStride)
	if err != nil {
		return nil, fmt.Errorf("failed to convert %dx%d frame: %w", f.Width, f.Height, err)
	}
	return dst, nil
}

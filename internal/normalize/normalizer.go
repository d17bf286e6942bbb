package normalize

import (
	"errors"
	"fmt"
	"image"
	"math"
	"sync/atomic"

	"golang.org/x/image/draw"

	"github.com/dudu/yolocam/internal/frame"
)

// ErrInvalidSize is returned for a non-positive input size or an empty source
var ErrInvalidSize = errors.New("invalid normalization size")

// Resampling selects how source pixels are sampled
type Resampling string

const (
	Nearest  Resampling = "nearest"
	Bilinear Resampling = "bilinear"
)

// Options configures a Normalizer
type Options struct {
	InputSize  int
	Rotation   int
	Resampling Resampling
}

// Normalizer crops, scales and rotates packed frames into a square buffer
type Normalizer struct {
	size       int
	resampling Resampling
	rotation   atomic.Int32
	cache      *frame.BufferCache

	// bilinear scratch
	srcImg *image.NRGBA
	dstImg *image.NRGBA
}

// NewNormalizer creates a normalizer. cache may be shared with the converter.
func NewNormalizer(opts Options, cache *frame.BufferCache) (*Normalizer, error) {
	if opts.InputSize <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSize, opts.InputSize)
	}
	switch opts.Resampling {
	case "":
		opts.Resampling = Nearest
	case Nearest, Bilinear:
	default:
		return nil, fmt.Errorf("unknown resampling %q", opts.Resampling)
	}
	if cache == nil {
		cache = frame.NewBufferCache()
	}

	n := &Normalizer{
		size:       opts.InputSize,
		resampling: opts.Resampling,
		cache:      cache,
	}
	n.rotation.Store(int32(opts.Rotation))
	return n, nil
}

// InputSize returns the side of the produced square
func (n *Normalizer) InputSize() int {
	return n.size
}

// Rotation returns the current rotation in degrees
func (n *Normalizer) Rotation() int {
	return int(n.rotation.Load())
}

// SetRotation changes the rotation applied from the next frame on
func (n *Normalizer) SetRotation(deg int) {
	n.rotation.Store(int32(deg))
}

// Normalize writes src into the cached InputSize x InputSize buffer and
// returns it with the transform used. The buffer is overwritten by the next call.
func (n *Normalizer) Normalize(src *frame.PackedFrame) (*frame.NormalizedFrame, Transform, error) {
	if src == nil || src.Width <= 0 || src.Height <= 0 {
		return nil, Transform{}, fmt.Errorf("%w: empty source", ErrInvalidSize)
	}

	t := NewTransform(src.Width, src.Height, n.size, n.Rotation())
	dst := n.cache.Normalized(n.size)

	switch n.resampling {
	case Bilinear:
		n.srcImg = src.ToNRGBA(n.srcImg)
		if n.dstImg == nil || n.dstImg.Rect.Dx() != n.size {
			n.dstImg = image.NewNRGBA(image.Rect(0, 0, n.size, n.size))
		}
		resampleBilinear(n.dstImg, n.srcImg, t)
		dst.FromNRGBA(n.dstImg)
	default:
		resampleNearest(&dst.PackedFrame, src, t)
	}
	return dst, t, nil
}

// Normalize is the allocating form: it returns a fresh target x target frame
func Normalize(src *frame.PackedFrame, target, rotationDegrees int) *frame.NormalizedFrame {
	if target <= 0 {
		return &frame.NormalizedFrame{}
	}
	dst := frame.NewNormalizedFrame(target)
	if src == nil || src.Width <= 0 || src.Height <= 0 {
		return dst
	}
	resampleNearest(&dst.PackedFrame, src, NewTransform(src.Width, src.Height, target, rotationDegrees))
	return dst
}

// resampleNearest samples each destination pixel center through the inverse
// transform. Pixels falling outside the source become 0.
func resampleNearest(dst, src *frame.PackedFrame, t Transform) {
	inv := t.inv
	for y := 0; y < dst.Height; y++ {
		fy := float64(y) + 0.5
		row := dst.Pix[y*dst.Width : (y+1)*dst.Width]
		for x := range row {
			fx := float64(x) + 0.5
			sx := int(math.Floor(inv[0]*fx + inv[1]*fy + inv[2]))
			sy := int(math.Floor(inv[3]*fx + inv[4]*fy + inv[5]))
			if sx < 0 || sy < 0 || sx >= src.Width || sy >= src.Height {
				row[x] = 0
				continue
			}
			row[x] = src.Pix[sy*src.Width+sx]
		}
	}
}

func resampleBilinear(dst, src *image.NRGBA, t Transform) {
	// Transform leaves uncovered pixels untouched
	clear(dst.Pix)
	draw.BiLinear.Transform(dst, t.Matrix(), src, src.Bounds(), draw.Src, nil)
}

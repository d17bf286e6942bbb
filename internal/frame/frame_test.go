package frame

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRawFrameReleaseIsIdempotent(t *testing.T) {
	calls := 0
	f := NewRawFrame(2, 2, Plane{}, Plane{}, Plane{}, func() { calls++ })

	f.Release()
	f.Release()

	assert.Equal(t, 1, calls)
}

func TestRawFrameReleaseWithoutCallback(t *testing.T) {
	f := NewRawFrame(2, 2, Plane{}, Plane{}, Plane{}, nil)
	assert.NotPanics(t, f.Release)
}

func TestPackedFrameNRGBARoundTrip(t *testing.T) {
	p := NewPackedFrame(3, 2)
	p.Pix[0] = 0xff102030
	p.Pix[4] = 0x80a0b0c0

	img := p.ToNRGBA(nil)
	require.Equal(t, image.Rect(0, 0, 3, 2), img.Rect)
	assert.Equal(t, []uint8{0x10, 0x20, 0x30, 0xff}, img.Pix[0:4])

	back := NewPackedFrame(3, 2)
	back.FromNRGBA(img)
	assert.Equal(t, p.Pix, back.Pix)

	// same size reuses the destination
	again := p.ToNRGBA(img)
	assert.Same(t, img, again)
}

func TestBufferCacheReallocatesOnlyOnSizeChange(t *testing.T) {
	c := NewBufferCache()

	a := c.Packed(640, 480)
	b := c.Packed(640, 480)
	assert.Same(t, a, b)
	assert.Equal(t, 1, c.Allocations())

	d := c.Packed(480, 640)
	assert.NotSame(t, a, d)
	assert.Len(t, d.Pix, 480*640)
	assert.Equal(t, 2, c.Allocations())

	n1 := c.Normalized(448)
	n2 := c.Normalized(448)
	assert.Same(t, n1, n2)
	assert.Equal(t, 448, n1.Size())
	assert.Equal(t, 3, c.Allocations())
}

func TestNormalizedFrameClone(t *testing.T) {
	n := NewNormalizedFrame(4)
	n.Fill(0xff00ff00)

	c := n.Clone()
	c.Pix[0] = 0

	assert.Equal(t, uint32(0xff00ff00), n.Pix[0])
	a, r, g, b := ARGB(n.At(1, 1))
	assert.Equal(t, [4]uint8{0xff, 0, 0xff, 0}, [4]uint8{a, r, g, b})
}

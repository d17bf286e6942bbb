package camera

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dudu/yolocam/internal/colorconv"
	"github.com/dudu/yolocam/internal/frame"
)

func countingFrame(releases *atomic.Int32) *frame.RawFrame {
	return frame.NewRawFrame(2, 2, frame.Plane{}, frame.Plane{}, frame.Plane{}, func() { releases.Add(1) })
}

func TestLatestKeepsNewestFrame(t *testing.T) {
	l := NewLatest()
	var releases atomic.Int32

	f, err := l.AcquireLatest()
	require.NoError(t, err)
	assert.Nil(t, f)

	first := countingFrame(&releases)
	second := countingFrame(&releases)
	l.Publish(first)
	l.Publish(second)

	assert.Equal(t, int32(1), releases.Load(), "overwritten frame released")
	assert.Equal(t, uint64(2), l.Published())
	assert.Equal(t, uint64(1), l.Overwritten())

	select {
	case <-l.Ready():
	default:
		t.Fatal("expected ready signal")
	}

	got, err := l.AcquireLatest()
	require.NoError(t, err)
	assert.Same(t, second, got)

	again, _ := l.AcquireLatest()
	assert.Nil(t, again)
}

func TestLatestCloseReleases(t *testing.T) {
	l := NewLatest()
	var releases atomic.Int32

	l.Publish(countingFrame(&releases))
	l.Close()
	assert.Equal(t, int32(1), releases.Load())

	l.Publish(countingFrame(&releases))
	assert.Equal(t, int32(2), releases.Load(), "publish after close releases at once")
}

func TestLayouts(t *testing.T) {
	tight := TightLayout(640, 480)
	assert.Equal(t, 640*480*3/2, tight.Size)
	assert.Equal(t, 320, tight.UVStride)
	assert.Equal(t, 640*480+320*240, tight.VOffset)

	g := GstLayout(641, 481)
	assert.Equal(t, 644, g.YStride)
	assert.Equal(t, 324, g.UVStride)
	assert.Equal(t, 644*482, g.UOffset)
	assert.Equal(t, 644*482+324*241, g.VOffset)
	assert.Equal(t, 644*482+2*324*241, g.Size)

	aligned := GstLayout(640, 480)
	assert.Equal(t, tight, aligned)
}

func TestLayoutFrameConverts(t *testing.T) {
	for _, padded := range []bool{false, true} {
		s, err := NewSynthetic(SyntheticConfig{Width: 82, Height: 46, Padded: padded})
		require.NoError(t, err)

		f := s.Next()
		packed, err := colorconv.NewConverter(nil).Convert(f)
		require.NoError(t, err, "padded=%v", padded)
		f.Release()

		// bars are 10 columns wide: first is white, eighth is black
		_, r, g, b := frame.ARGB(packed.At(0, 0))
		assert.InDelta(t, 235, float64(r), 4)
		assert.InDelta(t, 235, float64(g), 4)
		assert.InDelta(t, 235, float64(b), 4)

		_, r, g, b = frame.ARGB(packed.At(75, 45))
		assert.InDelta(t, 16, float64(r), 4)
		assert.InDelta(t, 16, float64(g), 4)
		assert.InDelta(t, 16, float64(b), 4)
	}
}

func TestSyntheticBarsMove(t *testing.T) {
	s, err := NewSynthetic(SyntheticConfig{Width: 64, Height: 8})
	require.NoError(t, err)

	a := s.Next()
	b := s.Next()
	assert.Equal(t, uint64(1), a.Seq)
	assert.Equal(t, uint64(2), b.Seq)

	// bar boundary at x=8 moves one column left
	assert.NotEqual(t, a.Y.Data[7], b.Y.Data[7])
	assert.Equal(t, a.Y.Data[8], b.Y.Data[7])
}

func TestSyntheticRunPublishes(t *testing.T) {
	s, err := NewSynthetic(SyntheticConfig{Width: 16, Height: 16, FPS: 200})
	require.NoError(t, err)
	l := NewLatest()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, l) }()

	select {
	case <-l.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("no frame published")
	}
	cancel()
	require.NoError(t, <-done)

	f, err := l.AcquireLatest()
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, 16, f.Width)
	f.Release()
	l.Close()
	assert.NoError(t, s.Close())
}

func TestNewSyntheticValidates(t *testing.T) {
	_, err := NewSynthetic(SyntheticConfig{Width: 0, Height: 10})
	assert.Error(t, err)
}

func TestBufferPoolCopiesData(t *testing.T) {
	l := TightLayout(4, 2)
	p := newBufferPool(l.Size)
	data := make([]byte, l.Size)
	for i := range data {
		data[i] = byte(i)
	}

	f := p.frameFrom(l, data)
	data[0] = 99
	assert.Equal(t, byte(0), f.Y.Data[0])
	assert.Equal(t, []byte{8, 9}, f.U.Data)
	assert.Equal(t, []byte{10, 11}, f.V.Data)
	f.Release()
}

package ui

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dudu/yolocam/internal/detector"
	"github.com/dudu/yolocam/internal/frame"
)

func TestOverlaysScaleToDisplay(t *testing.T) {
	dets := []detector.Detection{
		{Label: "dog", Score: 0.874, Box: detector.BoundingBox{X1: 0.25, Y1: 0.5, X2: 0.75, Y2: 1.2}},
	}

	got := overlays(dets, 400, 200)
	assert.Equal(t, []overlay{{rect: image.Rect(100, 100, 300, 200), text: "dog 87%"}}, got)
}

func TestPackBGRA(t *testing.T) {
	f := frame.NewNormalizedFrame(1)
	f.Pix[0] = 0x80112233

	out := packBGRA(nil, f)
	assert.Equal(t, []byte{0x33, 0x22, 0x11, 0x80}, out)

	again := packBGRA(out, f)
	assert.Equal(t, &out[0], &again[0], "buffer reused")
}

func TestDumpKeepsCopy(t *testing.T) {
	w := &Window{}
	f := frame.NewNormalizedFrame(2)
	f.Fill(0xffffffff)

	w.Dump(1, f)
	f.Fill(0)

	assert.True(t, w.fresh)
	assert.Equal(t, uint32(0xffffffff), w.preview.Pix[0])

	w.SetResults([]detector.Detection{{Label: "cat"}})
	assert.Len(t, w.results, 1)
}

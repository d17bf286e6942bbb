package detector

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ollama/ollama/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dudu/yolocam/internal/frame"
)

// gridOutput builds a raw output with one confident box per entry
type gridBox struct {
	cell, box, class int
	conf, prob       float32
	x, y, w, h       float32 // cell-relative center, sqrt-encoded size
}

func gridOutput(g Grid, boxes ...gridBox) []float32 {
	out := make([]float32, g.OutputSize())
	cells := g.Side * g.Side
	probsEnd := cells * g.Classes
	confEnd := probsEnd + cells*g.BoxesPerCell
	for _, b := range boxes {
		out[b.cell*g.Classes+b.class] = b.prob
		out[probsEnd+b.cell*g.BoxesPerCell+b.box] = b.conf
		o := confEnd + (b.cell*g.BoxesPerCell+b.box)*4
		out[o], out[o+1], out[o+2], out[o+3] = b.x, b.y, b.w, b.h
	}
	return out
}

func TestTinyYOLOOutputSize(t *testing.T) {
	assert.Equal(t, 1470, TinyYOLOVOC.OutputSize())

	g, err := GridForOutput(1470, 20, 2)
	require.NoError(t, err)
	assert.Equal(t, TinyYOLOVOC, g)

	_, err = GridForOutput(1471, 20, 2)
	assert.ErrorIs(t, err, ErrOutputSize)
}

func TestDecodeSingleBox(t *testing.T) {
	// cell 24 is row 3, col 3: the grid center
	out := gridOutput(TinyYOLOVOC, gridBox{
		cell: 24, box: 1, class: 14,
		conf: 0.9, prob: 0.8,
		x: 0.5, y: 0.5, w: 0.5, h: 0.6,
	})

	dets, err := Decode(out, TinyYOLOVOC, DecodeOptions{ScoreThreshold: 0.2, NMSThreshold: 0.4, Labels: VOCLabels})
	require.NoError(t, err)
	require.Len(t, dets, 1)

	d := dets[0]
	assert.Equal(t, "person", d.Label)
	assert.Equal(t, 14, d.ClassID)
	assert.InDelta(t, 0.72, d.Score, 1e-6)
	assert.InDelta(t, 0.5, d.Box.Center().X, 1e-6)
	assert.InDelta(t, 0.5, d.Box.Center().Y, 1e-6)
	assert.InDelta(t, 0.25, d.Box.Width(), 1e-6)
	assert.InDelta(t, 0.36, d.Box.Height(), 1e-6)
}

func TestDecodeThresholdAndOrdering(t *testing.T) {
	out := gridOutput(TinyYOLOVOC,
		gridBox{cell: 0, box: 0, class: 7, conf: 0.5, prob: 0.9, x: 0.5, y: 0.5, w: 0.3, h: 0.3},
		gridBox{cell: 48, box: 0, class: 11, conf: 0.95, prob: 0.95, x: 0.5, y: 0.5, w: 0.3, h: 0.3},
		gridBox{cell: 10, box: 1, class: 2, conf: 0.1, prob: 0.5, x: 0.5, y: 0.5, w: 0.3, h: 0.3},
	)

	dets, err := Decode(out, TinyYOLOVOC, DecodeOptions{ScoreThreshold: 0.2, NMSThreshold: 0.4, Labels: VOCLabels})
	require.NoError(t, err)
	require.Len(t, dets, 2)
	assert.Equal(t, "dog", dets[0].Label)
	assert.Equal(t, "cat", dets[1].Label)
}

func TestDecodeRejectsWrongSize(t *testing.T) {
	_, err := Decode(make([]float32, 10), TinyYOLOVOC, DecodeOptions{})
	assert.ErrorIs(t, err, ErrOutputSize)
}

func TestNMSIsPerClass(t *testing.T) {
	box := BoundingBox{X1: 0.1, Y1: 0.1, X2: 0.5, Y2: 0.5}
	shifted := BoundingBox{X1: 0.12, Y1: 0.1, X2: 0.52, Y2: 0.5}

	dets := []Detection{
		{ClassID: 1, Score: 0.6, Box: shifted},
		{ClassID: 1, Score: 0.9, Box: box},
		{ClassID: 2, Score: 0.7, Box: box},
	}

	kept := nms(dets, 0.4)
	require.Len(t, kept, 2)
	assert.Equal(t, float32(0.9), kept[0].Score)
	assert.Equal(t, 2, kept[1].ClassID)
}

func TestIoU(t *testing.T) {
	a := BoundingBox{X1: 0, Y1: 0, X2: 2, Y2: 2}
	assert.InDelta(t, 1.0, iou(a, a), 1e-6)
	assert.InDelta(t, 1.0/7.0, iou(a, BoundingBox{X1: 1, Y1: 1, X2: 3, Y2: 3}), 1e-6)
	assert.Zero(t, iou(a, BoundingBox{X1: 5, Y1: 5, X2: 6, Y2: 6}))
}

func TestBoundingBoxHelpers(t *testing.T) {
	b := BoundingBox{X1: -0.1, Y1: 0.2, X2: 1.3, Y2: 0.6}.Clamp(1, 1)
	assert.Equal(t, BoundingBox{X1: 0, Y1: 0.2, X2: 1, Y2: 0.6}, b)

	px := b.Scale(100, 50)
	assert.InDelta(t, 100, px.Width(), 1e-4)
	assert.InDelta(t, 20, px.Height(), 1e-4)
}

func TestLoadLabels(t *testing.T) {
	path := filepath.Join(t.TempDir(), "labels.txt")
	require.NoError(t, os.WriteFile(path, []byte("cat\n\n dog \nbird\n"), 0o644))

	labels, err := LoadLabels(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"cat", "dog", "bird"}, labels)

	empty := filepath.Join(t.TempDir(), "empty.txt")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	_, err = LoadLabels(empty)
	assert.Error(t, err)

	_, err = LoadLabels(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}

func TestFillInputNormalizesChannels(t *testing.T) {
	f := frame.NewNormalizedFrame(2)
	f.Pix[0] = 0xff80ff00 // r=128 g=255 b=0
	f.Pix[3] = 0xff000000

	dst := make([]float32, 2*2*3)
	FillInput(dst, f, 128, 128)

	assert.Equal(t, float32(0), dst[0])
	assert.InDelta(t, 127.0/128.0, dst[1], 1e-6)
	assert.Equal(t, float32(-1), dst[2])
	assert.Equal(t, float32(-1), dst[9])
}

type fakeChat struct {
	reply string
	err   error
	req   *api.ChatRequest
}

func (f *fakeChat) Chat(ctx context.Context, req *api.ChatRequest, fn api.ChatResponseFunc) error {
	f.req = req
	if f.err != nil {
		return f.err
	}
	return fn(api.ChatResponse{Message: api.Message{Role: "assistant", Content: f.reply}})
}

func TestRemoteClassify(t *testing.T) {
	chat := &fakeChat{reply: "```json\n" + `{
  "objects": [
    {"label": "Dog", "score": 0.4, "box": [0.1, 0.1, 0.4, 0.5]},
    {"label": "person", "score": 0.9, "box": [0.5, 0.2, 0.9, 1.2]},
    {"label": "noise", "score": 0.05, "box": [0, 0, 1, 1]}, // low score
    {"label": "broken", "score": 0.8, "box": [0.5]},
  ]
}` + "\n```"}

	r := newRemote(chat, RemoteConfig{Model: "llava", MinScore: 0.1, Labels: VOCLabels})
	f := frame.NewNormalizedFrame(16)
	f.Fill(0xff336699)

	dets, err := r.Classify(context.Background(), f)
	require.NoError(t, err)
	require.Len(t, dets, 2)

	assert.Equal(t, "person", dets[0].Label)
	assert.Equal(t, 14, dets[0].ClassID)
	assert.Equal(t, float32(1), dets[0].Box.Y2, "clamped to the frame")
	assert.Equal(t, 11, dets[1].ClassID, "labels match case-insensitively")

	require.NotNil(t, chat.req)
	assert.Equal(t, "llava", chat.req.Model)
	require.Len(t, chat.req.Messages, 1)
	require.Len(t, chat.req.Messages[0].Images, 1)
	img := chat.req.Messages[0].Images[0]
	assert.Equal(t, []byte{0xff, 0xd8}, []byte(img[:2]), "JPEG payload")
	assert.Equal(t, "ollama:llava", r.Name())
}

func TestRemoteClassifyErrors(t *testing.T) {
	f := frame.NewNormalizedFrame(8)

	_, err := newRemote(&fakeChat{err: errors.New("down")}, RemoteConfig{Model: "m"}).Classify(context.Background(), f)
	assert.Error(t, err)

	_, err = newRemote(&fakeChat{reply: ""}, RemoteConfig{Model: "m"}).Classify(context.Background(), f)
	assert.Error(t, err)

	_, err = newRemote(&fakeChat{reply: "I see a cat"}, RemoteConfig{Model: "m"}).Classify(context.Background(), f)
	assert.Error(t, err)
}

func TestNewRemoteValidates(t *testing.T) {
	_, err := NewRemote(RemoteConfig{URL: "localhost", Model: "m"})
	assert.Error(t, err)

	_, err = NewRemote(RemoteConfig{URL: "http://localhost:11434", Model: ""})
	assert.Error(t, err)

	r, err := NewRemote(RemoteConfig{URL: "http://localhost:11434/api/chat", Model: "m"})
	require.NoError(t, err)
	assert.NoError(t, r.Close())
}

package ui

import (
	"fmt"
	"image"
	"image/color"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/dudu/yolocam/internal/detector"
	"github.com/dudu/yolocam/internal/frame"
	"github.com/dudu/yolocam/internal/layout"
)

var (
	boxColor  = color.RGBA{R: 0, G: 255, B: 0, A: 255}
	textColor = color.RGBA{R: 255, G: 255, B: 0, A: 255}
)

// Window shows the model input with the latest detections drawn on top.
// SetResults and Render must run on the main thread; Dump may be called
// from any goroutine.
type Window struct {
	window     *gocv.Window
	name       string
	width      int
	height     int
	lastFrame  time.Time
	frameCount int
	fps        float64
	status     string

	mu      sync.Mutex
	preview *frame.NormalizedFrame
	fresh   bool

	results []detector.Detection
	bgra    []byte
}

// NewWindow creates a preview window sized to fit maxW x maxH at the given
// aspect ratio
func NewWindow(name string, aspect *layout.AspectRatio, maxW, maxH int) *Window {
	w, h := aspect.Measure(maxW, maxH)
	window := gocv.NewWindow(name)
	// Force window to appear on macOS
	window.ResizeWindow(w, h)
	window.MoveWindow(100, 100)
	return &Window{
		window:    window,
		name:      name,
		width:     w,
		height:    h,
		lastFrame: time.Now(),
	}
}

// SetResults replaces the drawn detections
func (w *Window) SetResults(dets []detector.Detection) {
	w.results = dets
}

// Dump keeps a copy of the frame being classified as the preview image
func (w *Window) Dump(seq uint64, f *frame.NormalizedFrame) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.preview == nil || w.preview.Size() != f.Size() {
		w.preview = f.Clone()
	} else {
		copy(w.preview.Pix, f.Pix)
	}
	w.fresh = true
}

// SetStatus sets a second overlay line, e.g. pipeline timing
func (w *Window) SetStatus(s string) {
	w.status = s
}

// Render draws the preview if a new one arrived and updates the FPS counter
func (w *Window) Render() {
	w.mu.Lock()
	if !w.fresh {
		w.mu.Unlock()
		return
	}
	w.fresh = false
	w.bgra = packBGRA(w.bgra, w.preview)
	size := w.preview.Size()
	w.mu.Unlock()

	src, err := gocv.NewMatFromBytes(size, size, gocv.MatTypeCV8UC4, w.bgra)
	if err != nil {
		return
	}
	defer src.Close()

	bgr := gocv.NewMat()
	defer bgr.Close()
	gocv.CvtColor(src, &bgr, gocv.ColorBGRAToBGR)

	display := gocv.NewMat()
	defer display.Close()
	gocv.Resize(bgr, &display, image.Pt(w.width, w.height), 0, 0, gocv.InterpolationLinear)

	for _, o := range overlays(w.results, w.width, w.height) {
		gocv.Rectangle(&display, o.rect, boxColor, 2)
		gocv.PutText(&display, o.text, image.Pt(o.rect.Min.X+2, max(o.rect.Min.Y-4, 12)),
			gocv.FontHersheyPlain, 1.2, textColor, 1)
	}

	w.Show(&display)
}

// Show displays a frame and updates FPS counter
func (w *Window) Show(frame *gocv.Mat) {
	w.frameCount++
	now := time.Now()

	// Calculate FPS every second
	elapsed := now.Sub(w.lastFrame)
	if elapsed >= time.Second {
		w.fps = float64(w.frameCount) / elapsed.Seconds()
		w.frameCount = 0
		w.lastFrame = now
	}

	fpsText := fmt.Sprintf("FPS: %.1f", w.fps)
	gocv.PutText(frame, fpsText, image.Pt(10, 30),
		gocv.FontHersheyPlain, 2, boxColor, 2)
	if w.status != "" {
		gocv.PutText(frame, w.status, image.Pt(10, 60),
			gocv.FontHersheyPlain, 1.5, boxColor, 2)
	}

	w.window.IMShow(*frame)
}

// WaitKey waits for key press, returns key code or -1
func (w *Window) WaitKey(delayMs int) int {
	return w.window.WaitKey(delayMs)
}

// FPS returns current frames per second
func (w *Window) FPS() float64 {
	return w.fps
}

// Close closes the window
func (w *Window) Close() error {
	if w.window != nil {
		return w.window.Close()
	}
	return nil
}

type overlay struct {
	rect image.Rectangle
	text string
}

// overlays scales normalized boxes to a width x height display
func overlays(dets []detector.Detection, width, height int) []overlay {
	out := make([]overlay, 0, len(dets))
	for _, d := range dets {
		b := d.Box.Clamp(1, 1).Scale(float32(width), float32(height))
		out = append(out, overlay{
			rect: image.Rect(int(b.X1), int(b.Y1), int(b.X2), int(b.Y2)),
			text: fmt.Sprintf("%s %.0f%%", d.Label, d.Score*100),
		})
	}
	return out
}

// packBGRA lays packed ARGB words out as OpenCV BGRA bytes
func packBGRA(dst []byte, f *frame.NormalizedFrame) []byte {
	n := len(f.Pix) * 4
	if cap(dst) < n {
		dst = make([]byte, n)
	}
	dst = dst[:n]
	for i, c := range f.Pix {
		o := i * 4
		dst[o] = uint8(c)
		dst[o+1] = uint8(c >> 8)
		dst[o+2] = uint8(c >> 16)
		dst[o+3] = uint8(c >> 24)
	}
	return dst
}

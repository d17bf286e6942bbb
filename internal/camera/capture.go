package camera

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"gocv.io/x/gocv"
)

// Capture manages webcam capture and turns BGR frames into I420 planes
type Capture struct {
	webcam    *gocv.VideoCapture
	deviceID  int
	targetFPS int
	width     int
	height    int
	layout    Layout
	pool      *bufferPool
	seq       atomic.Uint64
	mu        sync.Mutex
}

// NewCapture creates a new camera capture from device with default 720p resolution
func NewCapture(deviceID int, targetFPS int) (*Capture, error) {
	return NewCaptureWithResolution(deviceID, targetFPS, 1280, 720)
}

// NewCaptureWithResolution creates a new camera capture with specified resolution
func NewCaptureWithResolution(deviceID int, targetFPS int, width, height int) (*Capture, error) {
	webcam, err := gocv.OpenVideoCapture(deviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to open camera %d: %w", deviceID, err)
	}

	// Set camera properties
	webcam.Set(gocv.VideoCaptureFrameWidth, float64(width))
	webcam.Set(gocv.VideoCaptureFrameHeight, float64(height))
	webcam.Set(gocv.VideoCaptureFPS, float64(targetFPS))

	// Get actual dimensions (camera may not support requested resolution)
	actualWidth := int(webcam.Get(gocv.VideoCaptureFrameWidth))
	actualHeight := int(webcam.Get(gocv.VideoCaptureFrameHeight))
	if actualWidth%2 != 0 || actualHeight%2 != 0 {
		webcam.Close()
		return nil, fmt.Errorf("camera %d delivers odd size %dx%d, I420 needs even dimensions",
			deviceID, actualWidth, actualHeight)
	}

	layout := TightLayout(actualWidth, actualHeight)
	return &Capture{
		webcam:    webcam,
		deviceID:  deviceID,
		targetFPS: targetFPS,
		width:     actualWidth,
		height:    actualHeight,
		layout:    layout,
		pool:      newBufferPool(layout.Size),
	}, nil
}

// Read captures a frame into the provided Mat
func (c *Capture) Read(frame *gocv.Mat) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.webcam == nil {
		return false
	}

	return c.webcam.Read(frame)
}

// Run reads frames, converts them to I420 and publishes them to out
func (c *Capture) Run(ctx context.Context, out *Latest) error {
	bgr := gocv.NewMat()
	defer bgr.Close()
	yuv := gocv.NewMat()
	defer yuv.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if !c.Read(&bgr) {
			c.mu.Lock()
			closed := c.webcam == nil
			c.mu.Unlock()
			if closed {
				return nil
			}
			continue
		}
		if bgr.Empty() || bgr.Cols() != c.width || bgr.Rows() != c.height {
			continue
		}

		gocv.CvtColor(bgr, &yuv, gocv.ColorBGRToYUVI420)
		data := yuv.ToBytes()
		if len(data) < c.layout.Size {
			slog.Warn("camera: short I420 conversion", "bytes", len(data), "want", c.layout.Size)
			continue
		}

		f := c.pool.frameFrom(c.layout, data)
		f.Seq = c.seq.Add(1)
		out.Publish(f)
	}
}

// Width returns frame width
func (c *Capture) Width() int {
	return c.width
}

// Height returns frame height
func (c *Capture) Height() int {
	return c.height
}

// Close releases the camera
func (c *Capture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.webcam != nil {
		err := c.webcam.Close()
		c.webcam = nil
		return err
	}
	return nil
}

package detector

// Point represents a 2D point
type Point struct {
	X, Y float32
}

// BoundingBox represents an axis-aligned detection box
type BoundingBox struct {
	X1, Y1 float32 // top-left
	X2, Y2 float32 // bottom-right
}

// Width returns box width
func (b BoundingBox) Width() float32 {
	return b.X2 - b.X1
}

// Height returns box height
func (b BoundingBox) Height() float32 {
	return b.Y2 - b.Y1
}

// Center returns box center point
func (b BoundingBox) Center() Point {
	return Point{
		X: (b.X1 + b.X2) / 2,
		Y: (b.Y1 + b.Y2) / 2,
	}
}

// Area returns box area
func (b BoundingBox) Area() float32 {
	return b.Width() * b.Height()
}

// Scale multiplies both axes, e.g. to turn a unit box into pixels
func (b BoundingBox) Scale(sx, sy float32) BoundingBox {
	return BoundingBox{X1: b.X1 * sx, Y1: b.Y1 * sy, X2: b.X2 * sx, Y2: b.Y2 * sy}
}

// Clamp limits the box to [0,w]x[0,h]
func (b BoundingBox) Clamp(w, h float32) BoundingBox {
	return BoundingBox{
		X1: min(max(b.X1, 0), w),
		Y1: min(max(b.Y1, 0), h),
		X2: min(max(b.X2, 0), w),
		Y2: min(max(b.Y2, 0), h),
	}
}

// Detection is one recognized object
type Detection struct {
	Label   string  `json:"label" msgpack:"label"`
	ClassID int     `json:"class_id" msgpack:"class_id"`
	Score   float32 `json:"score" msgpack:"score"`
	// Box is normalized to [0,1] in model-input space
	Box BoundingBox `json:"box" msgpack:"box"`
	// FrameBox is Box mapped back to source-frame pixels
	FrameBox BoundingBox `json:"frame_box" msgpack:"frame_box"`
}

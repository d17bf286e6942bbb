package normalize

import (
	"math"

	"golang.org/x/image/math/f64"
)

// LegacyRotation is the fixed rotation earlier releases applied to every
// frame regardless of sensor orientation. It suits devices whose sensor is
// mounted landscape in a portrait body; other devices should configure 0.
const LegacyRotation = 90

// Crop describes the center-square crop and scale for a source size
type Crop struct {
	MinDim  int
	OffsetX int
	OffsetY int
	Scale   float64
}

// Geometry computes the center-square crop of a srcW x srcH frame and the
// uniform scale to a target x target square.
func Geometry(srcW, srcH, target int) Crop {
	minDim := min(srcW, srcH)
	c := Crop{
		MinDim:  minDim,
		OffsetX: max(0, (srcW-minDim)/2),
		OffsetY: max(0, (srcH-minDim)/2),
	}
	if minDim > 0 {
		c.Scale = float64(target) / float64(minDim)
	}
	return c
}

// Transform maps source-frame pixel coordinates to normalized-frame
// coordinates: translate by the crop offset, scale, then rotate about the
// destination center.
type Transform struct {
	Crop     Crop
	Size     int
	Rotation int

	fwd f64.Aff3
	inv f64.Aff3
}

// NewTransform builds the source-to-destination transform
func NewTransform(srcW, srcH, target, rotationDegrees int) Transform {
	c := Geometry(srcW, srcH, target)
	s := c.Scale
	ox, oy := float64(c.OffsetX), float64(c.OffsetY)

	// translate + scale
	fwd := f64.Aff3{
		s, 0, -s * ox,
		0, s, -s * oy,
	}

	if rotationDegrees != 0 {
		sin, cos := sinCos(rotationDegrees)
		cx, cy := float64(target)/2, float64(target)/2
		// T(c) * R * T(-c)
		rot := f64.Aff3{
			cos, -sin, cx - cos*cx + sin*cy,
			sin, cos, cy - sin*cx - cos*cy,
		}
		fwd = mul(rot, fwd)
	}

	return Transform{
		Crop:     c,
		Size:     target,
		Rotation: rotationDegrees,
		fwd:      fwd,
		inv:      invert(fwd),
	}
}

// Matrix returns the source-to-destination matrix
func (t Transform) Matrix() f64.Aff3 {
	return t.fwd
}

// Apply maps a source point into the normalized frame
func (t Transform) Apply(x, y float64) (float64, float64) {
	return apply(t.fwd, x, y)
}

// Invert maps a normalized-frame point back to the source frame
func (t Transform) Invert(x, y float64) (float64, float64) {
	return apply(t.inv, x, y)
}

// MapBox maps an axis-aligned box in normalized-frame pixels to the
// bounding box of its image in the source frame.
func (t Transform) MapBox(x1, y1, x2, y2 float64) (float64, float64, float64, float64) {
	xs := [4]float64{}
	ys := [4]float64{}
	xs[0], ys[0] = t.Invert(x1, y1)
	xs[1], ys[1] = t.Invert(x2, y1)
	xs[2], ys[2] = t.Invert(x2, y2)
	xs[3], ys[3] = t.Invert(x1, y2)

	minX, maxX := xs[0], xs[0]
	minY, maxY := ys[0], ys[0]
	for i := 1; i < 4; i++ {
		minX = math.Min(minX, xs[i])
		maxX = math.Max(maxX, xs[i])
		minY = math.Min(minY, ys[i])
		maxY = math.Max(maxY, ys[i])
	}
	return minX, minY, maxX, maxY
}

// sinCos is exact for quarter turns so nearest sampling does not drift
func sinCos(deg int) (float64, float64) {
	switch ((deg % 360) + 360) % 360 {
	case 0:
		return 0, 1
	case 90:
		return 1, 0
	case 180:
		return 0, -1
	case 270:
		return -1, 0
	}
	return math.Sincos(float64(deg) * math.Pi / 180)
}

func apply(m f64.Aff3, x, y float64) (float64, float64) {
	return m[0]*x + m[1]*y + m[2], m[3]*x + m[4]*y + m[5]
}

// mul returns a*b (b applied first)
func mul(a, b f64.Aff3) f64.Aff3 {
	return f64.Aff3{
		a[0]*b[0] + a[1]*b[3],
		a[0]*b[1] + a[1]*b[4],
		a[0]*b[2] + a[1]*b[5] + a[2],
		a[3]*b[0] + a[4]*b[3],
		a[3]*b[1] + a[4]*b[4],
		a[3]*b[2] + a[4]*b[5] + a[5],
	}
}

func invert(m f64.Aff3) f64.Aff3 {
	det := m[0]*m[4] - m[1]*m[3]
	if det == 0 {
		return f64.Aff3{}
	}
	a := m[4] / det
	b := -m[1] / det
	d := -m[3] / det
	e := m[0] / det
	return f64.Aff3{
		a, b, -(a*m[2] + b*m[5]),
		d, e, -(d*m[2] + e*m[5]),
	}
}

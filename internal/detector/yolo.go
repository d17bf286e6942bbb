package detector

import (
	"errors"
	"fmt"
	"math"
)

// ErrOutputSize is returned when a model output does not match its grid
var ErrOutputSize = errors.New("unexpected model output size")

// Grid describes a YOLOv1 style output layout: for every cell the class
// probabilities, then per-box confidences, then per-box coordinates, each
// section laid out over all cells in turn.
type Grid struct {
	Side         int // cells per side
	Classes      int
	BoxesPerCell int
}

// TinyYOLOVOC is the 7x7 grid, 20 classes, 2 boxes layout (1470 outputs)
var TinyYOLOVOC = Grid{Side: 7, Classes: 20, BoxesPerCell: 2}

// OutputSize returns the number of floats the model emits
func (g Grid) OutputSize() int {
	return g.Side * g.Side * (g.Classes + g.BoxesPerCell*5)
}

// GridForOutput infers the grid side of a model emitting n values
func GridForOutput(n, classes, boxesPerCell int) (Grid, error) {
	per := classes + boxesPerCell*5
	if per <= 0 || n%per != 0 {
		return Grid{}, fmt.Errorf("%w: %d values for %d classes", ErrOutputSize, n, classes)
	}
	side := int(math.Sqrt(float64(n / per)))
	if side*side*per != n {
		return Grid{}, fmt.Errorf("%w: %d values do not form a square grid", ErrOutputSize, n)
	}
	return Grid{Side: side, Classes: classes, BoxesPerCell: boxesPerCell}, nil
}

// DecodeOptions holds decoding thresholds
type DecodeOptions struct {
	ScoreThreshold float32
	NMSThreshold   float32
	Labels         []string
}

// Decode turns raw grid output into detections. A box scores
// confidence*P(class) for its best class; boxes under the threshold are
// dropped, then overlapping boxes of the same class are suppressed.
// Coordinates are normalized to [0,1] of the model input.
func Decode(out []float32, g Grid, opts DecodeOptions) ([]Detection, error) {
	if len(out) != g.OutputSize() {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrOutputSize, len(out), g.OutputSize())
	}

	cells := g.Side * g.Side
	probsEnd := cells * g.Classes
	confEnd := probsEnd + cells*g.BoxesPerCell
	side := float32(g.Side)

	var dets []Detection
	for cell := 0; cell < cells; cell++ {
		row := cell / g.Side
		col := cell % g.Side
		probs := out[cell*g.Classes : (cell+1)*g.Classes]

		for n := 0; n < g.BoxesPerCell; n++ {
			conf := out[probsEnd+cell*g.BoxesPerCell+n]

			bestClass, bestScore := -1, float32(0)
			for c, p := range probs {
				if s := conf * p; s > bestScore {
					bestClass, bestScore = c, s
				}
			}
			if bestClass < 0 || bestScore < opts.ScoreThreshold {
				continue
			}

			coord := out[confEnd+(cell*g.BoxesPerCell+n)*4:]
			cx := (coord[0] + float32(col)) / side
			cy := (coord[1] + float32(row)) / side
			w := coord[2] * coord[2]
			h := coord[3] * coord[3]

			box := BoundingBox{
				X1: cx - w/2,
				Y1: cy - h/2,
				X2: cx + w/2,
				Y2: cy + h/2,
			}.Clamp(1, 1)
			if box.Area() <= 0 {
				continue
			}

			dets = append(dets, Detection{
				Label:   labelFor(opts.Labels, bestClass),
				ClassID: bestClass,
				Score:   bestScore,
				Box:     box,
			})
		}
	}

	return nms(dets, opts.NMSThreshold), nil
}

func labelFor(labels []string, id int) string {
	if id >= 0 && id < len(labels) {
		return labels[id]
	}
	return fmt.Sprintf("class_%d", id)
}

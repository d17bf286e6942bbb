package detector

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/dudu/yolocam/internal/frame"
	"github.com/dudu/yolocam/internal/inference"
)

// ModelConfig describes a YOLO model graph and its pre/post-processing
type ModelConfig struct {
	ModelPath      string
	LabelPath      string
	NumClasses     int // total output values
	InputSize      int
	PixelMean      float32
	PixelStd       float32
	InputName      string
	OutputName     string
	ScoreThreshold float32
	NMSThreshold   float32
	CoreML         bool
	Threads        int
}

// DefaultModelConfig returns the tiny-yolo-voc graph settings
func DefaultModelConfig() ModelConfig {
	return ModelConfig{
		ModelPath:      "models/tiny-yolo-voc.onnx",
		NumClasses:     TinyYOLOVOC.OutputSize(),
		InputSize:      448,
		PixelMean:      128,
		PixelStd:       128.0,
		InputName:      "Placeholder",
		OutputName:     "19_fc",
		ScoreThreshold: 0.2,
		NMSThreshold:   0.4,
	}
}

// YOLO runs a YOLOv1 style graph through ONNX Runtime
type YOLO struct {
	session      *inference.Session
	config       ModelConfig
	grid         Grid
	labels       []string
	input        []float32
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	mu           sync.Mutex
}

// NewYOLO loads the model. The ONNX Runtime environment must be initialized.
func NewYOLO(config ModelConfig) (*YOLO, error) {
	if config.InputSize <= 0 {
		return nil, fmt.Errorf("invalid input size %d", config.InputSize)
	}
	if config.PixelStd == 0 {
		return nil, fmt.Errorf("pixel std must be non-zero")
	}

	labels := VOCLabels
	if config.LabelPath != "" {
		l, err := LoadLabels(config.LabelPath)
		if err != nil {
			return nil, err
		}
		labels = l
	}

	grid, err := GridForOutput(config.NumClasses, len(labels), TinyYOLOVOC.BoxesPerCell)
	if err != nil {
		return nil, fmt.Errorf("failed to derive output grid: %w", err)
	}

	session, err := inference.NewSession(config.ModelPath,
		[]string{config.InputName}, []string{config.OutputName},
		inference.SessionOptions{CoreML: config.CoreML, Threads: config.Threads})
	if err != nil {
		return nil, fmt.Errorf("failed to create YOLO session: %w", err)
	}

	size := int64(config.InputSize)
	input := make([]float32, size*size*3)
	inputTensor, err := inference.CreateTensor([]int64{1, size, size, 3}, input)
	if err != nil {
		session.Destroy()
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}

	outputTensor, err := inference.CreateEmptyTensor[float32]([]int64{1, int64(config.NumClasses)})
	if err != nil {
		inputTensor.Destroy()
		session.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	return &YOLO{
		session:      session,
		config:       config,
		grid:         grid,
		labels:       labels,
		input:        inputTensor.GetData(),
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
	}, nil
}

// Name identifies the backend
func (y *YOLO) Name() string {
	return "onnx:" + y.config.ModelPath
}

// Classify runs the model on a normalized frame
func (y *YOLO) Classify(ctx context.Context, f *frame.NormalizedFrame) ([]Detection, error) {
	if f.Size() != y.config.InputSize {
		return nil, fmt.Errorf("frame size %d does not match model input %d", f.Size(), y.config.InputSize)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	y.mu.Lock()
	defer y.mu.Unlock()

	FillInput(y.input, f, y.config.PixelMean, y.config.PixelStd)

	if err := y.session.Run([]ort.Value{y.inputTensor}, []ort.Value{y.outputTensor}); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	return Decode(y.outputTensor.GetData(), y.grid, DecodeOptions{
		ScoreThreshold: y.config.ScoreThreshold,
		NMSThreshold:   y.config.NMSThreshold,
		Labels:         y.labels,
	})
}

// Close releases tensors and the session
func (y *YOLO) Close() error {
	y.mu.Lock()
	defer y.mu.Unlock()

	var errs []error
	if y.inputTensor != nil {
		if err := y.inputTensor.Destroy(); err != nil {
			errs = append(errs, err)
		}
		y.inputTensor = nil
	}
	if y.outputTensor != nil {
		if err := y.outputTensor.Destroy(); err != nil {
			errs = append(errs, err)
		}
		y.outputTensor = nil
	}
	if y.session != nil {
		if err := y.session.Destroy(); err != nil {
			errs = append(errs, err)
		}
		y.session = nil
	}
	if len(errs) > 0 {
		return fmt.Errorf("cleanup errors: %v", errs)
	}
	return nil
}

// FillInput writes f as an NHWC RGB tensor, each channel as (v-mean)/std
func FillInput(dst []float32, f *frame.NormalizedFrame, mean, std float32) {
	for i, c := range f.Pix {
		o := i * 3
		dst[o] = (float32(uint8(c>>16)) - mean) / std
		dst[o+1] = (float32(uint8(c>>8)) - mean) / std
		dst[o+2] = (float32(uint8(c)) - mean) / std
	}
}

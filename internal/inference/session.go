package inference

import (
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

var (
	initialized bool
	initMu      sync.Mutex
)

// DefaultLibraryPath returns the bundled ONNX Runtime library for this OS
func DefaultLibraryPath() string {
	switch runtime.GOOS {
	case "darwin":
		return "lib/libonnxruntime.dylib"
	case "windows":
		return "lib/onnxruntime.dll"
	default:
		return "lib/libonnxruntime.so"
	}
}

// Initialize sets up ONNX Runtime environment (call once at startup).
// An empty libraryPath selects DefaultLibraryPath.
func Initialize(libraryPath string) error {
	initMu.Lock()
	defer initMu.Unlock()

	if initialized {
		return nil
	}

	if libraryPath == "" {
		libraryPath = DefaultLibraryPath()
	}
	ort.SetSharedLibraryPath(libraryPath)

	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX Runtime: %w", err)
	}

	initialized = true
	return nil
}

// Shutdown cleans up ONNX Runtime environment
func Shutdown() error {
	initMu.Lock()
	defer initMu.Unlock()

	if !initialized {
		return nil
	}

	if err := ort.DestroyEnvironment(); err != nil {
		return err
	}

	initialized = false
	return nil
}

// Initialized reports whether Initialize succeeded
func Initialized() bool {
	initMu.Lock()
	defer initMu.Unlock()
	return initialized
}

// SessionOptions tunes a session
type SessionOptions struct {
	// CoreML enables the CoreML execution provider, falling back to CPU
	CoreML bool
	// Threads limits intra-op threads; 0 keeps the runtime default
	Threads int
}

// Session wraps an ONNX Runtime inference session
type Session struct {
	session     *ort.DynamicAdvancedSession
	modelPath   string
	inputNames  []string
	outputNames []string
}

// NewSession creates a new inference session from an ONNX model
func NewSession(modelPath string, inputNames, outputNames []string, opts SessionOptions) (*Session, error) {
	if !Initialized() {
		return nil, fmt.Errorf("ONNX Runtime not initialized, call Initialize() first")
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer options.Destroy()

	if opts.Threads > 0 {
		if err := options.SetIntraOpNumThreads(opts.Threads); err != nil {
			return nil, fmt.Errorf("failed to set thread count: %w", err)
		}
	}

	provider := "cpu"
	if opts.CoreML {
		// Flag 0 = default settings, use Neural Engine + GPU
		if err := options.AppendExecutionProviderCoreML(0); err != nil {
			slog.Warn("inference: CoreML unavailable, using CPU", "model", modelPath, "error", err)
		} else {
			provider = "coreml"
		}
	}

	session, err := ort.NewDynamicAdvancedSession(
		modelPath,
		inputNames,
		outputNames,
		options,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create session for %s: %w", modelPath, err)
	}
	slog.Info("inference: session ready", "model", modelPath, "provider", provider)

	return &Session{
		session:     session,
		modelPath:   modelPath,
		inputNames:  inputNames,
		outputNames: outputNames,
	}, nil
}

// Run executes inference with the given inputs
func (s *Session) Run(inputs []ort.Value, outputs []ort.Value) error {
	return s.session.Run(inputs, outputs)
}

// ModelPath returns the model file the session was created from
func (s *Session) ModelPath() string {
	return s.modelPath
}

// Destroy releases session resources
func (s *Session) Destroy() error {
	if s.session != nil {
		err := s.session.Destroy()
		s.session = nil
		return err
	}
	return nil
}

// CreateTensor creates a tensor with the given shape and data
func CreateTensor[T ort.TensorData](shape []int64, data []T) (*ort.Tensor[T], error) {
	return ort.NewTensor(ort.NewShape(shape...), data)
}

// CreateEmptyTensor creates a zeroed tensor for output
func CreateEmptyTensor[T ort.TensorData](shape []int64) (*ort.Tensor[T], error) {
	size := int64(1)
	for _, dim := range shape {
		size *= dim
	}
	data := make([]T, size)
	return ort.NewTensor(ort.NewShape(shape...), data)
}

// IOInfo describes one model input or output
type IOInfo struct {
	Name       string
	Dimensions []int64
	DataType   string
}

// Describe lists a model's inputs and outputs without creating a session
func Describe(modelPath string) (inputs, outputs []IOInfo, err error) {
	in, out, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read model info: %w", err)
	}
	conv := func(infos []ort.InputOutputInfo) []IOInfo {
		res := make([]IOInfo, 0, len(infos))
		for _, i := range infos {
			res = append(res, IOInfo{Name: i.Name, Dimensions: i.Dimensions, DataType: fmt.Sprint(i.DataType)})
		}
		return res
	}
	return conv(in), conv(out), nil
}

// ModelMetadata holds the descriptive fields stored in an ONNX file
type ModelMetadata struct {
	Producer    string
	Version     int64
	Domain      string
	Description string
}

// Metadata reads a model's metadata. Fields the file does not carry are
// left empty.
func Metadata(modelPath string) (ModelMetadata, error) {
	var md ModelMetadata
	metadata, err := ort.GetModelMetadata(modelPath)
	if err != nil {
		return md, fmt.Errorf("failed to read metadata: %w", err)
	}
	defer metadata.Destroy()

	if producer, err := metadata.GetProducerName(); err == nil {
		md.Producer = producer
	}
	if version, err := metadata.GetVersion(); err == nil {
		md.Version = version
	}
	if domain, err := metadata.GetDomain(); err == nil {
		md.Domain = domain
	}
	if desc, err := metadata.GetDescription(); err == nil {
		md.Description = desc
	}
	return md, nil
}

package model

import (
	"context"
	"fmt"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"pet-skin/internal/domain/entity"
)

// InitONNXRuntime загружает разделяемую библиотеку onnxruntime один раз на процесс.
func InitONNXRuntime(libraryPath string) error {
	if ort.IsInitialized() {
		return nil
	}
	if libraryPath != "" {
		ort.SetSharedLibraryPath(libraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}
	return nil
}

// DestroyONNXRuntime освобождает окружение onnxruntime.
func DestroyONNXRuntime() error {
	if !ort.IsInitialized() {
		return nil
	}
	return ort.DestroyEnvironment()
}

// ONNXBackbone backbone, экспортированный в ONNX, на onnxruntime.
// Сессия держит заранее выделенные тензоры, поэтому вызовы сериализуются.
type ONNXBackbone struct {
	mu           sync.Mutex
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	outputShape  ort.Shape
	featureDim   int
}

// NewONNXBackbone открывает граф modelPath для входа [1,3,inputSize,inputSize].
// Окружение должно быть инициализировано через InitONNXRuntime.
func NewONNXBackbone(modelPath string, inputSize, intraOpThreads int) (*ONNXBackbone, error) {
	if _, err := os.Stat(modelPath); err != nil {
		return nil, &entity.ModelLoadError{Path: modelPath, Err: err}
	}

	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, &entity.ModelLoadError{Path: modelPath, Err: fmt.Errorf("read graph info: %w", err)}
	}
	if len(inputs) != 1 || len(outputs) < 1 {
		return nil, &entity.ModelLoadError{
			Path: modelPath,
			Err:  fmt.Errorf("expected 1 input and at least 1 output, got %d and %d", len(inputs), len(outputs)),
		}
	}

	outputShape, featureDim, err := featureShape(outputs[0].Dimensions)
	if err != nil {
		return nil, &entity.ModelLoadError{Path: modelPath, Err: err}
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, int64(inputSize), int64(inputSize)))
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer options.Destroy()
	if intraOpThreads > 0 {
		if err := options.SetIntraOpNumThreads(intraOpThreads); err != nil {
			inputTensor.Destroy()
			outputTensor.Destroy()
			return nil, fmt.Errorf("failed to set intra-op threads: %w", err)
		}
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{inputs[0].Name}, []string{outputs[0].Name},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		options)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, &entity.ModelLoadError{Path: modelPath, Err: fmt.Errorf("create ONNX session: %w", err)}
	}

	return &ONNXBackbone{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
		outputShape:  outputShape,
		featureDim:   featureDim,
	}, nil
}

// featureShape фиксирует batch=1 и проверяет, что остальные измерения статичны.
func featureShape(dims ort.Shape) (ort.Shape, int, error) {
	if len(dims) != 2 && len(dims) != 4 {
		return nil, 0, fmt.Errorf("unsupported backbone output rank %d (%v)", len(dims), dims)
	}
	shape := make(ort.Shape, len(dims))
	copy(shape, dims)
	shape[0] = 1
	for i, d := range shape[1:] {
		if d <= 0 {
			return nil, 0, fmt.Errorf("backbone output dim %d is dynamic (%v)", i+1, dims)
		}
	}
	return shape, int(shape[1]), nil
}

// Features прогоняет тензор через граф и усредняет карту признаков.
func (b *ONNXBackbone) Features(ctx context.Context, t entity.ImageTensor) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	input := b.inputTensor.GetData()
	if len(t.Data) != len(input) {
		return nil, fmt.Errorf("input tensor %v does not match session input %v", t.Shape(), b.inputTensor.GetShape())
	}
	copy(input, t.Data)

	if err := b.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	return GlobalAvgPool(b.outputTensor.GetData(), b.outputShape)
}

// FeatureDim размер вектора признаков
func (b *ONNXBackbone) FeatureDim() int {
	return b.featureDim
}

// Close освобождает сессию и тензоры
func (b *ONNXBackbone) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var err error
	if b.session != nil {
		err = b.session.Destroy()
		b.session = nil
	}
	if b.inputTensor != nil {
		b.inputTensor.Destroy()
		b.inputTensor = nil
	}
	if b.outputTensor != nil {
		b.outputTensor.Destroy()
		b.outputTensor = nil
	}
	return err
}

var _ Backbone = (*ONNXBackbone)(nil)

//go:build gocv
// +build gocv

package model

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"gocv.io/x/gocv"

	"pet-skin/internal/domain/entity"
)

// GoCVBackbone backbone в ONNX на модуле DNN из OpenCV.
type GoCVBackbone struct {
	mu         sync.Mutex
	net        gocv.Net
	inputSize  int
	featureDim int
}

// NewGoCVBackbone читает граф и определяет размер признаков пробным прогоном.
func NewGoCVBackbone(modelPath string, inputSize int) (*GoCVBackbone, error) {
	if _, err := os.Stat(modelPath); err != nil {
		return nil, &entity.ModelLoadError{Path: modelPath, Err: err}
	}

	net := gocv.ReadNetFromONNX(modelPath)
	if net.Empty() {
		return nil, &entity.ModelLoadError{Path: modelPath, Err: errors.New("opencv failed to read onnx graph")}
	}
	net.SetPreferableBackend(gocv.NetBackendOpenCV)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	b := &GoCVBackbone{net: net, inputSize: inputSize}
	out, err := b.forward(entity.NewImageTensor(3, inputSize, inputSize))
	if err != nil {
		net.Close()
		return nil, &entity.ModelLoadError{Path: modelPath, Err: err}
	}
	b.featureDim = len(out)

	return b, nil
}

// Features прогоняет тензор через сеть. OpenCV Net не потокобезопасен.
func (b *GoCVBackbone) Features(ctx context.Context, t entity.ImageTensor) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	return b.forward(t)
}

func (b *GoCVBackbone) forward(t entity.ImageTensor) ([]float32, error) {
	if t.Height != b.inputSize || t.Width != b.inputSize {
		return nil, fmt.Errorf("input %dx%d does not match network input %d", t.Width, t.Height, b.inputSize)
	}

	blob := gocv.NewMatWithSizes([]int{1, t.Channels, t.Height, t.Width}, gocv.MatTypeCV32F)
	defer blob.Close()
	data, err := blob.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("blob data: %w", err)
	}
	copy(data, t.Data)

	b.net.SetInput(blob, "")
	out := b.net.Forward("")
	defer out.Close()
	if out.Empty() {
		return nil, errors.New("empty network output")
	}

	values, err := out.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("output data: %w", err)
	}
	dims := out.Size()
	shape := make([]int64, len(dims))
	for i, d := range dims {
		shape[i] = int64(d)
	}

	return GlobalAvgPool(values, shape)
}

// FeatureDim размер вектора признаков
func (b *GoCVBackbone) FeatureDim() int {
	return b.featureDim
}

// Close освобождает сеть
func (b *GoCVBackbone) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.net.Close()
}

var _ Backbone = (*GoCVBackbone)(nil)

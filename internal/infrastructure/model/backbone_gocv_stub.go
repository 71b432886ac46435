//go:build !gocv
// +build !gocv

package model

import (
	"context"
	"errors"

	"pet-skin/internal/domain/entity"
)

var errNoGoCV = errors.New("gocv build tag is not enabled")

// GoCVBackbone заглушка без OpenCV.
type GoCVBackbone struct{}

// NewGoCVBackbone возвращает ошибку, если сборка без тега gocv.
func NewGoCVBackbone(modelPath string, inputSize int) (*GoCVBackbone, error) {
	_, _ = modelPath, inputSize
	return nil, errNoGoCV
}

func (b *GoCVBackbone) Features(ctx context.Context, t entity.ImageTensor) ([]float32, error) {
	return nil, errNoGoCV
}

func (b *GoCVBackbone) FeatureDim() int { return 0 }

func (b *GoCVBackbone) Close() error { return nil }

var _ Backbone = (*GoCVBackbone)(nil)

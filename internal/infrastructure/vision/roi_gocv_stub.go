//go:build !gocv
// +build !gocv

package vision

import (
	"errors"
	"image"

	"pet-skin/internal/domain/entity"
)

// GoCVExtractor заглушка без OpenCV.
type GoCVExtractor struct {
	MinSize int
}

// NewGoCVExtractor создаёт экстрактор-заглушку (без OpenCV).
func NewGoCVExtractor(minSize int) *GoCVExtractor {
	if minSize <= 0 {
		minSize = DefaultMinROISize
	}
	return &GoCVExtractor{MinSize: minSize}
}

// Locate возвращает ошибку, если сборка без тега gocv.
func (e *GoCVExtractor) Locate(img image.Image) (entity.BoundingBox, error) {
	_ = img
	return entity.BoundingBox{}, errors.New("gocv build tag is not enabled")
}

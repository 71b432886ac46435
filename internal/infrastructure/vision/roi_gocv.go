//go:build gocv
// +build gocv

package vision

import (
	"errors"
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"pet-skin/internal/domain/entity"
	"pet-skin/internal/domain/port"
)

// GoCVExtractor ищет область поражения средствами OpenCV.
type GoCVExtractor struct {
	MinSize int
}

// NewGoCVExtractor создаёт экстрактор с минимальным размером области.
func NewGoCVExtractor(minSize int) *GoCVExtractor {
	if minSize <= 0 {
		minSize = DefaultMinROISize
	}
	return &GoCVExtractor{MinSize: minSize}
}

// Locate: серый -> размытие 5x5 -> инвертированный порог Оцу -> внешние контуры -> крупнейшая рамка.
func (e *GoCVExtractor) Locate(img image.Image) (entity.BoundingBox, error) {
	bounds := img.Bounds()
	if bounds.Empty() {
		return entity.BoundingBox{}, errors.New("empty image")
	}

	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return entity.BoundingBox{}, fmt.Errorf("convert image: %w", err)
	}
	defer mat.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(mat, &gray, gocv.ColorBGRToGray)

	blur := gocv.NewMat()
	defer blur.Close()
	gocv.GaussianBlur(gray, &blur, image.Pt(5, 5), 0, 0, gocv.BorderDefault)

	mask := gocv.NewMat()
	defer mask.Close()
	gocv.Threshold(blur, &mask, 0, 255, gocv.ThresholdBinaryInv|gocv.ThresholdOtsu)

	contours := gocv.FindContours(mask, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	// Порядок контуров OpenCV не определён, поэтому выбор делает selectROI.
	rects := make([]image.Rectangle, 0, contours.Size())
	for i := 0; i < contours.Size(); i++ {
		rects = append(rects, gocv.BoundingRect(contours.At(i)))
	}

	return selectROI(rects, bounds, e.MinSize), nil
}

var _ port.ROIExtractor = (*GoCVExtractor)(nil)

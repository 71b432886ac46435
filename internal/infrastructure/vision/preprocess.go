package vision

import (
	"fmt"
	"image"

	"github.com/nfnt/resize"

	"pet-skin/internal/domain/entity"
	"pet-skin/internal/domain/port"
)

// DefaultInputSize сторона квадратного входа модели
const DefaultInputSize = 320

// Нормализация ImageNet
var (
	ImageNetMean = [3]float32{0.485, 0.456, 0.406}
	ImageNetStd  = [3]float32{0.229, 0.224, 0.225}
)

// Preprocessor масштабирует изображение до Size x Size и нормализует его в CHW-тензор.
// Одни и те же параметры применяются к полному изображению и к области поражения.
type Preprocessor struct {
	Size int
}

func NewPreprocessor(size int) *Preprocessor {
	if size <= 0 {
		size = DefaultInputSize
	}
	return &Preprocessor{Size: size}
}

// Preprocess вырезает region из img, масштабирует его и нормализует.
func (p *Preprocessor) Preprocess(img image.Image, region entity.BoundingBox) (entity.ImageTensor, error) {
	if img == nil || img.Bounds().Empty() {
		return entity.ImageTensor{}, fmt.Errorf("preprocess: empty image")
	}
	region = region.Clip(img.Bounds())
	if region.Empty() {
		return entity.ImageTensor{}, fmt.Errorf("preprocess: region %v outside image %v", region.Rect(), img.Bounds())
	}

	size := p.Size
	resized := resize.Resize(uint(size), uint(size), Crop(img, region), resize.Bilinear)
	b := resized.Bounds()
	if b.Dx() != size || b.Dy() != size {
		return entity.ImageTensor{}, fmt.Errorf("preprocess: resized to %dx%d, want %dx%d", b.Dx(), b.Dy(), size, size)
	}

	t := entity.NewImageTensor(3, size, size)
	plane := size * size
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			r, g, bl, _ := resized.At(b.Min.X+x, b.Min.Y+y).RGBA()

			idx := y*size + x
			t.Data[idx] = (float32(r)/65535.0 - ImageNetMean[0]) / ImageNetStd[0]
			t.Data[plane+idx] = (float32(g)/65535.0 - ImageNetMean[1]) / ImageNetStd[1]
			t.Data[2*plane+idx] = (float32(bl)/65535.0 - ImageNetMean[2]) / ImageNetStd[2]
		}
	}

	return t, nil
}

var _ port.Preprocessor = (*Preprocessor)(nil)

package vision

import (
	"errors"
	"image"

	"github.com/disintegration/imaging"

	"pet-skin/internal/domain/entity"
	"pet-skin/internal/domain/port"
)

// DefaultMinROISize минимальная сторона области поражения в пикселях
const DefaultMinROISize = 64

// blurSigma соответствует гауссову ядру 5x5 с sigma=0 в OpenCV
const blurSigma = 1.1

// OtsuExtractor ищет самое крупное тёмное пятно без OpenCV.
type OtsuExtractor struct {
	MinSize   int
	BlurSigma float64
}

// NewOtsuExtractor создаёт экстрактор с минимальным размером области.
func NewOtsuExtractor(minSize int) *OtsuExtractor {
	if minSize <= 0 {
		minSize = DefaultMinROISize
	}
	return &OtsuExtractor{
		MinSize:   minSize,
		BlurSigma: blurSigma,
	}
}

// Locate возвращает рамку крупнейшей связной тёмной области, у которой обе стороны
// больше MinSize. Если таких нет, возвращается всё изображение.
func (e *OtsuExtractor) Locate(img image.Image) (entity.BoundingBox, error) {
	bounds := img.Bounds()
	if bounds.Empty() {
		return entity.BoundingBox{}, errors.New("empty image")
	}

	blurred := imaging.Blur(imaging.Grayscale(img), e.BlurSigma)
	w, h := blurred.Bounds().Dx(), blurred.Bounds().Dy()

	lum := make([]uint8, w*h)
	for y := 0; y < h; y++ {
		row := blurred.Pix[y*blurred.Stride:]
		for x := 0; x < w; x++ {
			lum[y*w+x] = row[x*4]
		}
	}

	// Инвертированный порог: тёмное становится передним планом.
	t := otsuThreshold(lum)
	mask := make([]bool, len(lum))
	for i, v := range lum {
		mask[i] = v <= t
	}

	return selectROI(componentBoxes(mask, w, h), bounds, e.MinSize), nil
}

// selectROI выбирает крупнейшую подходящую рамку. Рамки заданы относительно (0,0).
func selectROI(rects []image.Rectangle, bounds image.Rectangle, minSize int) entity.BoundingBox {
	best := entity.FullBox(bounds)
	found := false
	for _, r := range rects {
		if r.Dx() <= minSize || r.Dy() <= minSize {
			continue
		}
		box := entity.BoxFromRect(r.Add(bounds.Min))
		if !found || box.Before(best) {
			best = box
			found = true
		}
	}
	return best.Clip(bounds)
}

// otsuThreshold возвращает порог, максимизирующий межклассовую дисперсию.
// Для однотонного изображения порог 0.
func otsuThreshold(pixels []uint8) uint8 {
	var hist [256]int
	for _, p := range pixels {
		hist[p]++
	}

	total := float64(len(pixels))
	var sum float64
	for v, c := range hist {
		sum += float64(v * c)
	}

	var (
		sumB, wB  float64
		maxVar    float64
		threshold uint8
	)
	for t := 0; t < 256; t++ {
		wB += float64(hist[t])
		if wB == 0 {
			continue
		}
		wF := total - wB
		if wF == 0 {
			break
		}
		sumB += float64(t * hist[t])

		mB := sumB / wB
		mF := (sum - sumB) / wF
		between := wB * wF * (mB - mF) * (mB - mF)
		if between > maxVar {
			maxVar = between
			threshold = uint8(t)
		}
	}

	return threshold
}

// componentBoxes возвращает рамки 8-связных компонент маски в порядке обхода строк.
// Рамка внешнего контура совпадает с рамкой компоненты.
func componentBoxes(mask []bool, w, h int) []image.Rectangle {
	visited := make([]bool, len(mask))
	var boxes []image.Rectangle
	stack := make([]int, 0, 256)

	for start, on := range mask {
		if !on || visited[start] {
			continue
		}
		visited[start] = true
		minX, minY := start%w, start/w
		maxX, maxY := minX, minY

		stack = append(stack[:0], start)
		for len(stack) > 0 {
			i := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			x, y := i%w, i/w

			minX, maxX = min(minX, x), max(maxX, x)
			minY, maxY = min(minY, y), max(maxY, y)

			for dy := -1; dy <= 1; dy++ {
				ny := y + dy
				if ny < 0 || ny >= h {
					continue
				}
				for dx := -1; dx <= 1; dx++ {
					nx := x + dx
					if nx < 0 || nx >= w {
						continue
					}
					j := ny*w + nx
					if mask[j] && !visited[j] {
						visited[j] = true
						stack = append(stack, j)
					}
				}
			}
		}

		boxes = append(boxes, image.Rect(minX, minY, maxX+1, maxY+1))
	}

	return boxes
}

var _ port.ROIExtractor = (*OtsuExtractor)(nil)

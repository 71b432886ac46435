package port

import (
	"context"
	"image"

	"pet-skin/internal/domain/entity"
)

// ImageDecoder интерфейс декодера входных байтов
type ImageDecoder interface {
	// Decode возвращает *entity.DecodeError, если байты не являются изображением
	Decode(data []byte) (image.Image, error)
}

// ROIExtractor интерфейс поиска области поражения
type ROIExtractor interface {
	// Locate возвращает область наибольшего тёмного пятна или всё изображение
	Locate(img image.Image) (entity.BoundingBox, error)
}

// Preprocessor интерфейс подготовки изображения для модели
type Preprocessor interface {
	// Preprocess вырезает область, масштабирует и нормализует её в тензор
	Preprocess(img image.Image, region entity.BoundingBox) (entity.ImageTensor, error)
}

// Classifier интерфейс классификатора с двумя входами
type Classifier interface {
	// Classify возвращает сырые оценки классов для полного изображения и области поражения
	Classify(ctx context.Context, full, roi entity.ImageTensor) ([]float32, error)

	// NumClasses число классов на выходе
	NumClasses() int
}

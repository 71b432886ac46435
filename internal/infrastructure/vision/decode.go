package vision

import (
	"bytes"
	"image"
	_ "image/gif"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	"pet-skin/internal/domain/entity"
	"pet-skin/internal/domain/port"
)

// Decode превращает байты в изображение. Поддерживаются JPEG, PNG, GIF, BMP, TIFF и WebP.
func Decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, &entity.DecodeError{Reason: "empty payload"}
	}

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &entity.DecodeError{Reason: "unsupported or corrupt image", Err: err}
	}
	if img.Bounds().Empty() {
		return nil, &entity.DecodeError{Reason: "image has no pixels"}
	}

	return img, nil
}

// Crop вырезает область из изображения. Полная область возвращает исходник без копии.
func Crop(img image.Image, box entity.BoundingBox) image.Image {
	if box == entity.FullBox(img.Bounds()) {
		return img
	}
	return imaging.Crop(img, box.Rect())
}

// Decoder реализация port.ImageDecoder поверх Decode
type Decoder struct{}

func (Decoder) Decode(data []byte) (image.Image, error) {
	return Decode(data)
}

var _ port.ImageDecoder = Decoder{}

package entity

import "fmt"

// ImageTensor нормализованное изображение в раскладке CHW.
type ImageTensor struct {
	Channels int
	Height   int
	Width    int
	Data     []float32
}

// NewImageTensor создаёт нулевой тензор заданного размера.
func NewImageTensor(channels, height, width int) ImageTensor {
	return ImageTensor{
		Channels: channels,
		Height:   height,
		Width:    width,
		Data:     make([]float32, channels*height*width),
	}
}

// Shape возвращает форму с batch-измерением: [1, C, H, W].
func (t ImageTensor) Shape() []int64 {
	return []int64{1, int64(t.Channels), int64(t.Height), int64(t.Width)}
}

// Validate проверяет согласованность формы и данных.
func (t ImageTensor) Validate() error {
	if t.Channels <= 0 || t.Height <= 0 || t.Width <= 0 {
		return fmt.Errorf("invalid tensor shape %dx%dx%d", t.Channels, t.Height, t.Width)
	}
	if len(t.Data) != t.Channels*t.Height*t.Width {
		return fmt.Errorf("tensor data length %d does not match shape %dx%dx%d",
			len(t.Data), t.Channels, t.Height, t.Width)
	}
	return nil
}

package model

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"pet-skin/internal/domain/entity"
	"pet-skin/internal/domain/port"
)

// Backbone общий энкодер изображения: тензор [1,3,S,S] -> вектор признаков длины FeatureDim.
type Backbone interface {
	Features(ctx context.Context, t entity.ImageTensor) ([]float32, error)
	FeatureDim() int
	Close() error
}

// FusionClassifier двухвходовый классификатор: один backbone для полного кадра и ROI,
// голова над конкатенацией признаков.
type FusionClassifier struct {
	backbone Backbone
	head     *FusionHead
}

// NewFusionClassifier собирает классификатор из backbone и головы.
func NewFusionClassifier(backbone Backbone, head *FusionHead) (*FusionClassifier, error) {
	if backbone.FeatureDim() != head.FeatureDim {
		return nil, fmt.Errorf("backbone feature dim %d does not match head %d", backbone.FeatureDim(), head.FeatureDim)
	}
	return &FusionClassifier{backbone: backbone, head: head}, nil
}

// Classify возвращает логиты классов для пары (полный кадр, ROI).
func (c *FusionClassifier) Classify(ctx context.Context, full, roi entity.ImageTensor) ([]float32, error) {
	var fullFeat, roiFeat []float32

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		f, err := c.encode(gctx, full)
		if err != nil {
			return fmt.Errorf("encode full image: %w", err)
		}
		fullFeat = f
		return nil
	})
	g.Go(func() error {
		f, err := c.encode(gctx, roi)
		if err != nil {
			return fmt.Errorf("encode roi: %w", err)
		}
		roiFeat = f
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	fused := make([]float32, 0, 2*c.head.FeatureDim)
	fused = append(fused, fullFeat...)
	fused = append(fused, roiFeat...)

	return c.head.Forward(fused)
}

func (c *FusionClassifier) encode(ctx context.Context, t entity.ImageTensor) ([]float32, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	f, err := c.backbone.Features(ctx, t)
	if err != nil {
		return nil, err
	}
	if len(f) != c.head.FeatureDim {
		return nil, fmt.Errorf("backbone returned %d features, want %d", len(f), c.head.FeatureDim)
	}
	return f, nil
}

// NumClasses число выходов головы
func (c *FusionClassifier) NumClasses() int {
	return c.head.NumClasses
}

// Close освобождает backbone
func (c *FusionClassifier) Close() error {
	return c.backbone.Close()
}

// GlobalAvgPool сводит выход backbone к вектору признаков.
// Поддерживаются формы [F], [1,F] и [1,F,h,w].
func GlobalAvgPool(data []float32, shape []int64) ([]float32, error) {
	switch {
	case len(shape) == 1 || (len(shape) == 2 && shape[0] == 1):
		out := make([]float32, len(data))
		copy(out, data)
		return out, nil
	case len(shape) == 4 && shape[0] == 1:
		f, spatial := int(shape[1]), int(shape[2]*shape[3])
		if spatial <= 0 || len(data) != f*spatial {
			return nil, fmt.Errorf("feature map %v holds %d values", shape, len(data))
		}
		out := make([]float32, f)
		for ch := 0; ch < f; ch++ {
			var sum float64
			for _, v := range data[ch*spatial : (ch+1)*spatial] {
				sum += float64(v)
			}
			out[ch] = float32(sum / float64(spatial))
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported backbone output shape %v", shape)
}

var _ port.Classifier = (*FusionClassifier)(nil)

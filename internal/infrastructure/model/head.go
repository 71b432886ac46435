package model

import (
	"fmt"
	"math"
)

const batchNormEps = 1e-5

// Linear полносвязный слой, веса [Out, In] построчно.
type Linear struct {
	In, Out int
	Weight  []float32
	Bias    []float32
}

// NewLinear создаёт слой с нулевыми весами.
func NewLinear(in, out int) Linear {
	return Linear{
		In:     in,
		Out:    out,
		Weight: make([]float32, in*out),
		Bias:   make([]float32, out),
	}
}

// Forward вычисляет Wx + b.
func (l *Linear) Forward(x []float32) ([]float32, error) {
	if len(x) != l.In {
		return nil, fmt.Errorf("linear %dx%d: got input of length %d", l.Out, l.In, len(x))
	}

	y := make([]float32, l.Out)
	for o := 0; o < l.Out; o++ {
		row := l.Weight[o*l.In : (o+1)*l.In]
		acc := l.Bias[o]
		for i, v := range x {
			acc += row[i] * v
		}
		y[o] = acc
	}
	return y, nil
}

// BatchNorm нормализация по накопленной статистике (режим вывода).
type BatchNorm struct {
	Features    int
	Weight      []float32
	Bias        []float32
	RunningMean []float32
	RunningVar  []float32
	Eps         float32
}

// NewBatchNorm создаёт тождественную нормализацию.
func NewBatchNorm(features int) BatchNorm {
	bn := BatchNorm{
		Features:    features,
		Weight:      make([]float32, features),
		Bias:        make([]float32, features),
		RunningMean: make([]float32, features),
		RunningVar:  make([]float32, features),
		Eps:         batchNormEps,
	}
	for i := 0; i < features; i++ {
		bn.Weight[i] = 1
		bn.RunningVar[i] = 1
	}
	return bn
}

// Forward нормализует x на месте.
func (b *BatchNorm) Forward(x []float32) error {
	if len(x) != b.Features {
		return fmt.Errorf("batchnorm %d: got input of length %d", b.Features, len(x))
	}
	for i := range x {
		inv := 1 / float32(math.Sqrt(float64(b.RunningVar[i]+b.Eps)))
		x[i] = (x[i]-b.RunningMean[i])*inv*b.Weight[i] + b.Bias[i]
	}
	return nil
}

func relu(x []float32) {
	for i, v := range x {
		if v < 0 {
			x[i] = 0
		}
	}
}

// FusionHead голова классификатора над конкатенацией признаков [full, roi]:
// dropout, linear(2F->F), relu, bn, dropout, linear(F->F/2), relu, dropout, linear(F/2->C).
// Dropout при выводе тождественен, поэтому в вычислении не участвует.
type FusionHead struct {
	FeatureDim int
	NumClasses int

	FC1 Linear
	BN  BatchNorm
	FC2 Linear
	Out Linear
}

// NewFusionHead создаёт голову с параметрами по умолчанию.
func NewFusionHead(featureDim, numClasses int) (*FusionHead, error) {
	if featureDim < 2 || featureDim%2 != 0 {
		return nil, fmt.Errorf("feature dim must be even and positive, got %d", featureDim)
	}
	if numClasses < 1 {
		return nil, fmt.Errorf("num classes must be positive, got %d", numClasses)
	}

	return &FusionHead{
		FeatureDim: featureDim,
		NumClasses: numClasses,
		FC1:        NewLinear(2*featureDim, featureDim),
		BN:         NewBatchNorm(featureDim),
		FC2:        NewLinear(featureDim, featureDim/2),
		Out:        NewLinear(featureDim/2, numClasses),
	}, nil
}

// Forward возвращает логиты классов.
func (h *FusionHead) Forward(fused []float32) ([]float32, error) {
	x, err := h.FC1.Forward(fused)
	if err != nil {
		return nil, err
	}
	relu(x)
	if err := h.BN.Forward(x); err != nil {
		return nil, err
	}

	x, err = h.FC2.Forward(x)
	if err != nil {
		return nil, err
	}
	relu(x)

	return h.Out.Forward(x)
}

type parameter struct {
	shape []int
	data  []float32
}

// parameters имена параметров головы в нумерации nn.Sequential.
func (h *FusionHead) parameters() map[string]parameter {
	f, c := h.FeatureDim, h.NumClasses
	return map[string]parameter{
		"1.weight":       {shape: []int{f, 2 * f}, data: h.FC1.Weight},
		"1.bias":         {shape: []int{f}, data: h.FC1.Bias},
		"3.weight":       {shape: []int{f}, data: h.BN.Weight},
		"3.bias":         {shape: []int{f}, data: h.BN.Bias},
		"3.running_mean": {shape: []int{f}, data: h.BN.RunningMean},
		"3.running_var":  {shape: []int{f}, data: h.BN.RunningVar},
		"5.weight":       {shape: []int{f / 2, f}, data: h.FC2.Weight},
		"5.bias":         {shape: []int{f / 2}, data: h.FC2.Bias},
		"8.weight":       {shape: []int{c, f / 2}, data: h.Out.Weight},
		"8.bias":         {shape: []int{c}, data: h.Out.Bias},
	}
}

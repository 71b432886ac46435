package model

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"

	"go.uber.org/zap"

	"pet-skin/internal/domain/entity"
)

const (
	// DataParallelPrefix префикс имён параметров, сохранённых из обёртки data-parallel.
	DataParallelPrefix = "module."
	// MaxMissingRatio доля отсутствующих параметров, после которой загрузка считается неудачной.
	MaxMissingRatio = 0.5

	defaultSanitySize = 320
	unexpectedLogMax  = 10
)

// Поля, под которыми чекпоинт может хранить сам набор параметров.
var stateDictWrappers = []string{"state_dict.", "model_state_dict."}

// Префиксы, под которыми в чекпоинте может лежать голова.
var headPrefixes = []string{"head.", "classifier.", "fc."}

// LoadOption настройка загрузки
type LoadOption func(*loadOptions)

type loadOptions struct {
	logger     *zap.Logger
	sanitySize int
}

// WithLogger задаёт логгер для предупреждений о неполной загрузке.
func WithLogger(logger *zap.Logger) LoadOption {
	return func(o *loadOptions) {
		o.logger = logger
	}
}

// WithSanitySize задаёт сторону нулевого тензора для пробного прогона.
func WithSanitySize(size int) LoadOption {
	return func(o *loadOptions) {
		o.sanitySize = size
	}
}

// BindReport итог нестрогой привязки параметров.
type BindReport struct {
	Expected   int
	Bound      int
	Missing    []string
	Unexpected []string
	Mismatched []string
}

// MissingRatio доля параметров модели, не найденных в архиве.
func (r BindReport) MissingRatio() float64 {
	if r.Expected == 0 {
		return 0
	}
	return float64(len(r.Missing)) / float64(r.Expected)
}

// Load читает архив весов по path и собирает классификатор на numClasses классов.
// Любая ошибка возвращается как *entity.ModelLoadError.
func Load(path string, numClasses int, backbone Backbone, opts ...LoadOption) (*FusionClassifier, error) {
	o := loadOptions{logger: zap.NewNop(), sanitySize: defaultSanitySize}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger.With(zap.String("path", path))

	if _, err := os.Stat(path); err != nil {
		return nil, &entity.ModelLoadError{Path: path, Err: err}
	}
	archive, err := OpenArchive(path)
	if err != nil {
		return nil, &entity.ModelLoadError{Path: path, Err: err}
	}

	head, err := NewFusionHead(backbone.FeatureDim(), numClasses)
	if err != nil {
		return nil, &entity.ModelLoadError{Path: path, Err: err}
	}

	if len(archive.Skipped) > 0 {
		logger.Debug("non-float tensors skipped", zap.Strings("names", archive.Skipped))
	}

	report := BindParameters(head, NormalizeKeys(archive.Tensors))
	switch {
	case len(report.Mismatched) > 0:
		return nil, &entity.ModelLoadError{Path: path, Params: report.Mismatched, Err: errors.New("shape mismatch")}
	case report.Bound == 0:
		return nil, &entity.ModelLoadError{Path: path, Params: report.Missing, Err: errors.New("no parameters bound")}
	case report.MissingRatio() > MaxMissingRatio:
		return nil, &entity.ModelLoadError{
			Path:   path,
			Params: report.Missing,
			Err:    fmt.Errorf("%d of %d parameters missing", len(report.Missing), report.Expected),
		}
	}

	if len(report.Missing) > 0 || len(report.Unexpected) > 0 {
		sample := report.Unexpected
		if len(sample) > unexpectedLogMax {
			sample = sample[:unexpectedLogMax]
		}
		logger.Warn("partial weight load",
			zap.Strings("missing", report.Missing),
			zap.Int("unexpected_count", len(report.Unexpected)),
			zap.Strings("unexpected_sample", sample),
		)
	}

	clf, err := NewFusionClassifier(backbone, head)
	if err != nil {
		return nil, &entity.ModelLoadError{Path: path, Err: err}
	}
	if err := SanityCheck(context.Background(), clf, o.sanitySize); err != nil {
		return nil, &entity.ModelLoadError{Path: path, Err: err}
	}

	logger.Info("model loaded",
		zap.Int("classes", numClasses),
		zap.Int("feature_dim", head.FeatureDim),
		zap.Int("bound", report.Bound),
		zap.Int("expected", report.Expected),
	)
	return clf, nil
}

// NormalizeKeys разворачивает обёртку state_dict и снимает префикс data-parallel.
func NormalizeKeys(tensors map[string]Tensor) map[string]Tensor {
	tensors = unwrapStateDict(tensors)

	out := make(map[string]Tensor, len(tensors))
	for name, t := range tensors {
		out[strings.TrimPrefix(name, DataParallelPrefix)] = t
	}
	return out
}

func unwrapStateDict(tensors map[string]Tensor) map[string]Tensor {
	for _, wrapper := range stateDictWrappers {
		inner := make(map[string]Tensor)
		for name, t := range tensors {
			if strings.HasPrefix(name, wrapper) {
				inner[strings.TrimPrefix(name, wrapper)] = t
			}
		}
		if len(inner) > 0 {
			return inner
		}
	}
	return tensors
}

// BindParameters копирует совпавшие по имени и форме тензоры в голову.
// Отсутствующие параметры сохраняют значения по умолчанию.
func BindParameters(head *FusionHead, state map[string]Tensor) BindReport {
	params := head.parameters()
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	report := BindReport{Expected: len(params)}
	used := make(map[string]bool, len(state))
	for _, name := range names {
		p := params[name]
		key, t, ok := lookupHeadParam(state, name)
		if !ok {
			report.Missing = append(report.Missing, "head."+name)
			continue
		}
		used[key] = true

		if !sameShape(t.Shape, p.shape) {
			report.Mismatched = append(report.Mismatched,
				fmt.Sprintf("%s %v != %v", key, t.Shape, p.shape))
			continue
		}
		copy(p.data, t.Data)
		report.Bound++
	}

	for key := range state {
		if !used[key] && !strings.HasSuffix(key, "num_batches_tracked") {
			report.Unexpected = append(report.Unexpected, key)
		}
	}
	sort.Strings(report.Unexpected)

	return report
}

func lookupHeadParam(state map[string]Tensor, name string) (string, Tensor, bool) {
	for _, prefix := range headPrefixes {
		if t, ok := state[prefix+name]; ok {
			return prefix + name, t, true
		}
	}
	return "", Tensor{}, false
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// SanityCheck прогоняет нулевые тензоры size x size через классификатор
// и проверяет длину и конечность выхода.
func SanityCheck(ctx context.Context, clf *FusionClassifier, size int) error {
	zero := entity.NewImageTensor(3, size, size)
	logits, err := clf.Classify(ctx, zero, zero)
	if err != nil {
		return fmt.Errorf("sanity forward pass: %w", err)
	}
	if len(logits) != clf.NumClasses() {
		return fmt.Errorf("sanity forward pass: got %d outputs, want %d", len(logits), clf.NumClasses())
	}
	for i, v := range logits {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return fmt.Errorf("sanity forward pass: output %d is not finite", i)
		}
	}
	return nil
}

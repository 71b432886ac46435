package app

import (
	"context"
	"fmt"
	"image"
	"math"

	"go.uber.org/zap"

	"pet-skin/internal/domain/entity"
	"pet-skin/internal/domain/port"
)

// Diagnoser ставит диагноз по декодированному изображению.
type Diagnoser interface {
	Diagnose(ctx context.Context, img image.Image) (entity.Diagnosis, error)
}

// DiagnosisCascade двухэтапный каскад: сначала наличие симптомов,
// затем тип заболевания, только если симптомы есть.
type DiagnosisCascade struct {
	roi     port.ROIExtractor
	pre     port.Preprocessor
	binary  port.Classifier
	disease port.Classifier
	logger  *zap.Logger
}

// NewDiagnosisCascade создаёт каскад. Классификаторы должны быть уже загружены.
func NewDiagnosisCascade(roi port.ROIExtractor, pre port.Preprocessor, binary, disease port.Classifier, logger *zap.Logger) *DiagnosisCascade {
	return &DiagnosisCascade{
		roi:     roi,
		pre:     pre,
		binary:  binary,
		disease: disease,
		logger:  logger.Named("cascade"),
	}
}

// Diagnose прогоняет изображение через каскад.
// Любой сбой возвращается как *entity.PredictionError без частичного результата.
func (c *DiagnosisCascade) Diagnose(ctx context.Context, img image.Image) (entity.Diagnosis, error) {
	pred, err := c.runStage(ctx, entity.StageBinary, c.binary, img)
	if err != nil {
		return entity.Diagnosis{}, c.fail(entity.StageBinary, err)
	}
	if pred.ClassIndex == 0 {
		return entity.Diagnosis{
			Label:      entity.NoSymptomLabel,
			Confidence: pred.Confidence,
			Stage:      entity.StageBinary,
		}, nil
	}

	pred, err = c.runStage(ctx, entity.StageDisease, c.disease, img)
	if err != nil {
		return entity.Diagnosis{}, c.fail(entity.StageDisease, err)
	}
	label, err := entity.StageDisease.Label(pred.ClassIndex)
	if err != nil {
		return entity.Diagnosis{}, c.fail(entity.StageDisease, err)
	}

	return entity.Diagnosis{
		Label:      label,
		Confidence: pred.Confidence,
		Stage:      entity.StageDisease,
	}, nil
}

func (c *DiagnosisCascade) runStage(ctx context.Context, stage entity.Stage, clf port.Classifier, img image.Image) (entity.Prediction, error) {
	if err := ctx.Err(); err != nil {
		return entity.Prediction{}, err
	}

	box, err := c.roi.Locate(img)
	if err != nil {
		return entity.Prediction{}, fmt.Errorf("locate roi: %w", err)
	}
	full, err := c.pre.Preprocess(img, entity.FullBox(img.Bounds()))
	if err != nil {
		return entity.Prediction{}, fmt.Errorf("preprocess image: %w", err)
	}
	roi, err := c.pre.Preprocess(img, box)
	if err != nil {
		return entity.Prediction{}, fmt.Errorf("preprocess roi: %w", err)
	}

	logits, err := clf.Classify(ctx, full, roi)
	if err != nil {
		return entity.Prediction{}, fmt.Errorf("classify: %w", err)
	}
	if want := len(stage.Labels()); len(logits) != want {
		return entity.Prediction{}, fmt.Errorf("classifier returned %d scores, want %d", len(logits), want)
	}
	for i, v := range logits {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return entity.Prediction{}, fmt.Errorf("score %d is not finite: %v", i, v)
		}
	}

	pred := entity.Softmax(logits).Best()
	c.logger.Debug("stage done",
		zap.String("stage", string(stage)),
		zap.Int("class", pred.ClassIndex),
		zap.Float64("confidence", pred.Confidence),
		zap.Int("roi_width", box.Width()),
		zap.Int("roi_height", box.Height()),
	)
	return pred, nil
}

func (c *DiagnosisCascade) fail(stage entity.Stage, err error) error {
	c.logger.Error("prediction failed", zap.String("stage", string(stage)), zap.Error(err))
	return &entity.PredictionError{Stage: stage, Err: err}
}

var _ Diagnoser = (*DiagnosisCascade)(nil)

package app

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"mime"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"pet-skin/internal/domain/entity"
	"pet-skin/internal/domain/port"
)

// ConfidencePlaces знаков после запятой в уверенности ответа
const ConfidencePlaces = 4

// InferenceService точка входа диагностики: байты изображения -> диагноз.
type InferenceService struct {
	diagnoser Diagnoser
	decoder   port.ImageDecoder
	sem       *semaphore.Weighted
	cache     port.DiagnosisCache
	describer port.DiagnosisDescriber
	logger    *zap.Logger
}

// InferenceOption настройка InferenceService
type InferenceOption func(*InferenceService)

// WithCache включает кэш результатов по хэшу изображения.
func WithCache(cache port.DiagnosisCache) InferenceOption {
	return func(s *InferenceService) {
		s.cache = cache
	}
}

// WithDescriber включает генерацию памятки для поля Details.
func WithDescriber(describer port.DiagnosisDescriber) InferenceOption {
	return func(s *InferenceService) {
		s.describer = describer
	}
}

// NewInferenceService создаёт сервис, выполняющий не более workers диагностик одновременно.
func NewInferenceService(diagnoser Diagnoser, decoder port.ImageDecoder, workers int, logger *zap.Logger, opts ...InferenceOption) *InferenceService {
	if workers <= 0 {
		workers = 1
	}
	s := &InferenceService{
		diagnoser: diagnoser,
		decoder:   decoder,
		sem:       semaphore.NewWeighted(int64(workers)),
		logger:    logger.Named("inference"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Predict декодирует изображение и возвращает диагноз с уверенностью, округлённой до 4 знаков.
// contentType может быть пустым; иначе он должен быть image/*.
func (s *InferenceService) Predict(ctx context.Context, data []byte, contentType string) (*entity.Diagnosis, error) {
	if contentType != "" && !IsImageContentType(contentType) {
		return nil, &entity.DecodeError{Reason: fmt.Sprintf("content type %q is not an image", contentType)}
	}

	var key string
	if s.cache != nil {
		key = CacheKey(data)
		cached, err := s.cache.Get(ctx, key)
		if err != nil {
			s.logger.Warn("cache get", zap.Error(err))
		}
		if cached != nil {
			return cached, nil
		}
	}

	img, err := s.decoder.Decode(data)
	if err != nil {
		var decodeErr *entity.DecodeError
		if errors.As(err, &decodeErr) {
			return nil, err
		}
		return nil, &entity.DecodeError{Reason: "decode failed", Err: err}
	}

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("wait for inference slot: %w", err)
	}
	diagnosis, err := s.diagnoser.Diagnose(ctx, img)
	s.sem.Release(1)
	if err != nil {
		return nil, err
	}
	diagnosis.Confidence = entity.RoundConfidence(diagnosis.Confidence, ConfidencePlaces)

	if s.describer != nil {
		details, err := s.describer.Describe(ctx, diagnosis)
		if err != nil {
			s.logger.Warn("describe diagnosis", zap.String("label", diagnosis.Label), zap.Error(err))
		} else {
			diagnosis.Details = details
		}
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, diagnosis); err != nil {
			s.logger.Warn("cache set", zap.Error(err))
		}
	}

	s.logger.Info("diagnosis",
		zap.String("label", diagnosis.Label),
		zap.Float64("confidence", diagnosis.Confidence),
		zap.String("stage", string(diagnosis.Stage)),
	)
	return &diagnosis, nil
}

// IsImageContentType проверяет, что MIME-тип относится к image/*.
func IsImageContentType(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return strings.HasPrefix(mediaType, "image/")
}

// CacheKey ключ кэша для байтов изображения
func CacheKey(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

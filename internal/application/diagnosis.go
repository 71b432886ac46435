package app

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"

	"pet-skin/internal/domain/entity"
	"pet-skin/internal/domain/port"
)

// ErrInvalidInput некорректные данные запроса
var ErrInvalidInput = errors.New("invalid input")

const (
	// SavedConfidencePlaces знаков уверенности при ручном сохранении записи
	SavedConfidencePlaces = 2

	DefaultHistoryLimit = 10
	MaxHistoryLimit     = 100
)

// Predictor диагностика по байтам изображения
type Predictor interface {
	Predict(ctx context.Context, data []byte, contentType string) (*entity.Diagnosis, error)
}

// HistoryPage страница истории питомца
type HistoryPage struct {
	Records []entity.DiagnosisRecord `json:"records"`
	Total   int                      `json:"total"`
	Page    int                      `json:"page"`
	Limit   int                      `json:"limit"`
}

// DiagnosisService история диагнозов питомцев и уведомления о новых записях.
type DiagnosisService struct {
	predictor Predictor
	history   port.DiagnosisRepository
	users     *UserService
	notifier  port.Notifier
	logger    *zap.Logger

	wg sync.WaitGroup
}

// NewDiagnosisService создаёт сервис. notifier может быть nil.
func NewDiagnosisService(predictor Predictor, history port.DiagnosisRepository, users *UserService, notifier port.Notifier, logger *zap.Logger) *DiagnosisService {
	return &DiagnosisService{
		predictor: predictor,
		history:   history,
		users:     users,
		notifier:  notifier,
		logger:    logger.Named("diagnosis"),
	}
}

// DiagnosePet ставит диагноз по фото и сохраняет его в историю питомца.
// При ошибке диагностики запись не создаётся и уведомление не отправляется.
func (s *DiagnosisService) DiagnosePet(ctx context.Context, userID, petID int64, data []byte, contentType string) (*entity.Diagnosis, entity.DiagnosisRecord, error) {
	if petID <= 0 {
		return nil, entity.DiagnosisRecord{}, fmt.Errorf("%w: pet id must be positive", ErrInvalidInput)
	}

	diagnosis, err := s.predictor.Predict(ctx, data, contentType)
	if err != nil {
		return nil, entity.DiagnosisRecord{}, err
	}

	record, err := s.record(ctx, entity.DiagnosisRecord{
		PetID:      petID,
		UserID:     userID,
		Diagnosis:  diagnosis.Label,
		Confidence: diagnosis.Confidence,
		Details:    diagnosis.Details,
	})
	if err != nil {
		return nil, entity.DiagnosisRecord{}, err
	}

	return diagnosis, record, nil
}

// Save сохраняет готовый диагноз. Уверенность должна быть в [0, 1].
func (s *DiagnosisService) Save(ctx context.Context, rec entity.DiagnosisRecord) (entity.DiagnosisRecord, error) {
	switch {
	case rec.PetID <= 0:
		return entity.DiagnosisRecord{}, fmt.Errorf("%w: pet id must be positive", ErrInvalidInput)
	case rec.Diagnosis == "":
		return entity.DiagnosisRecord{}, fmt.Errorf("%w: diagnosis is required", ErrInvalidInput)
	case rec.Confidence < 0 || rec.Confidence > 1:
		return entity.DiagnosisRecord{}, fmt.Errorf("%w: confidence %v is outside [0, 1]", ErrInvalidInput, rec.Confidence)
	}
	rec.Confidence = entity.RoundConfidence(rec.Confidence, SavedConfidencePlaces)

	return s.record(ctx, rec)
}

// History возвращает страницу page (с 1) истории питомца, новые записи первыми.
func (s *DiagnosisService) History(ctx context.Context, petID int64, page, limit int) (HistoryPage, error) {
	if petID <= 0 {
		return HistoryPage{}, fmt.Errorf("%w: pet id must be positive", ErrInvalidInput)
	}
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	if maxPage := math.MaxInt32 / limit; page > maxPage {
		page = maxPage
	}

	records, total, err := s.history.ListByPet(ctx, petID, (page-1)*limit, limit)
	if err != nil {
		return HistoryPage{}, fmt.Errorf("list history: %w", err)
	}
	if records == nil {
		records = []entity.DiagnosisRecord{}
	}

	return HistoryPage{Records: records, Total: total, Page: page, Limit: limit}, nil
}

// Wait дожидается отправки поставленных в очередь уведомлений.
func (s *DiagnosisService) Wait() {
	s.wg.Wait()
}

func (s *DiagnosisService) record(ctx context.Context, rec entity.DiagnosisRecord) (entity.DiagnosisRecord, error) {
	saved, err := s.history.Append(ctx, rec)
	if err != nil {
		return entity.DiagnosisRecord{}, fmt.Errorf("append history: %w", err)
	}
	s.logger.Info("diagnosis recorded",
		zap.Int64("id", saved.ID),
		zap.Int64("pet_id", saved.PetID),
		zap.Int64("user_id", saved.UserID),
		zap.String("diagnosis", saved.Diagnosis),
	)

	s.notify(ctx, saved)
	return saved, nil
}

// notify отправляет уведомление в фоне, если пользователь их включил.
func (s *DiagnosisService) notify(ctx context.Context, rec entity.DiagnosisRecord) {
	if s.notifier == nil || s.users == nil || rec.UserID == 0 {
		return
	}

	user, err := s.users.Get(ctx, rec.UserID, 0)
	if err != nil {
		s.logger.Warn("load user for alert", zap.Int64("user_id", rec.UserID), zap.Error(err))
		return
	}
	if !user.DiagnosisAlerts {
		return
	}

	bg := context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.notifier.NotifyDiagnosis(bg, user, rec); err != nil {
			s.logger.Error("send diagnosis alert", zap.Int64("user_id", user.ID), zap.Int64("record_id", rec.ID), zap.Error(err))
		}
	}()
}

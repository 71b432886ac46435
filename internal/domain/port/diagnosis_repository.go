package port

import (
	"context"

	"pet-skin/internal/domain/entity"
)

// DiagnosisRepository интерфейс хранилища истории диагнозов
type DiagnosisRepository interface {
	// Append сохраняет запись и возвращает её с ID и временем создания
	Append(ctx context.Context, record entity.DiagnosisRecord) (entity.DiagnosisRecord, error)

	// ListByPet возвращает страницу истории питомца (новые первыми) и общее число записей
	ListByPet(ctx context.Context, petID int64, offset, limit int) ([]entity.DiagnosisRecord, int, error)
}

// DiagnosisCache интерфейс кэша результатов по хэшу изображения
type DiagnosisCache interface {
	// Get возвращает nil без ошибки, если записи нет
	Get(ctx context.Context, key string) (*entity.Diagnosis, error)

	Set(ctx context.Context, key string, diagnosis entity.Diagnosis) error
}

// Notifier интерфейс уведомлений о новых диагнозах
type Notifier interface {
	NotifyDiagnosis(ctx context.Context, user *entity.User, record entity.DiagnosisRecord) error
}

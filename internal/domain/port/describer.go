package port

import (
	"context"

	"pet-skin/internal/domain/entity"
)

// DiagnosisDescriber интерфейс описателя диагноза
type DiagnosisDescriber interface {
	// Describe генерирует короткую памятку владельцу по диагнозу
	Describe(ctx context.Context, diagnosis entity.Diagnosis) (string, error)
}

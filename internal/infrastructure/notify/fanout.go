package notify

import (
	"context"
	"errors"

	"pet-skin/internal/domain/entity"
	"pet-skin/internal/domain/port"
)

// Fanout рассылает уведомление во все каналы и собирает ошибки
type Fanout []port.Notifier

func (f Fanout) NotifyDiagnosis(ctx context.Context, user *entity.User, record entity.DiagnosisRecord) error {
	var errs []error
	for _, n := range f {
		if err := n.NotifyDiagnosis(ctx, user, record); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var _ port.Notifier = Fanout(nil)

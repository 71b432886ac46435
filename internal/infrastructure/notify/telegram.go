package notify

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"pet-skin/internal/domain/entity"
	"pet-skin/internal/domain/port"
)

// MessageSender часть tgbotapi.BotAPI, нужная для отправки сообщений
type MessageSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier шлёт уведомление о диагнозе в чат пользователя
type TelegramNotifier struct {
	sender MessageSender
}

func NewTelegramNotifier(sender MessageSender) *TelegramNotifier {
	return &TelegramNotifier{sender: sender}
}

func (n *TelegramNotifier) NotifyDiagnosis(ctx context.Context, user *entity.User, record entity.DiagnosisRecord) error {
	if user.ChatID == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if _, err := n.sender.Send(tgbotapi.NewMessage(user.ChatID, FormatAlert(record))); err != nil {
		return fmt.Errorf("send telegram alert: %w", err)
	}
	return nil
}

// FormatAlert текст уведомления о новой записи
func FormatAlert(record entity.DiagnosisRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "새 진단 결과가 등록되었습니다.\n반려동물 #%d\n진단: %s\n신뢰도: %.1f%%",
		record.PetID, record.Diagnosis, record.Confidence*100)
	if record.Details != "" {
		b.WriteString("\n\n")
		b.WriteString(record.Details)
	}
	return b.String()
}

var _ port.Notifier = (*TelegramNotifier)(nil)

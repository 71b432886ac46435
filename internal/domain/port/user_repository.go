package port

import (
	"context"

	"pet-skin/internal/domain/entity"
)

// UserRepository интерфейс хранилища пользователей
type UserRepository interface {
	// Get возвращает пользователя по ID, создаёт нового если не найден.
	// Ненулевой chatID запоминается, чтобы слать уведомления в Telegram.
	Get(ctx context.Context, userID, chatID int64) (*entity.User, error)

	// Update атомарно применяет fn к пользователю (создаёт при необходимости)
	// и возвращает копию результата.
	Update(ctx context.Context, userID, chatID int64, fn func(*entity.User)) (*entity.User, error)
}

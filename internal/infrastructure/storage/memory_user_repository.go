package storage

import (
	"context"
	"sync"

	"pet-skin/internal/domain/entity"
	"pet-skin/internal/domain/port"
)

// MemoryUserRepository in-memory хранилище пользователей
type MemoryUserRepository struct {
	mu    sync.Mutex
	users map[int64]*entity.User
}

// NewMemoryUserRepository создаёт новое in-memory хранилище
func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{
		users: make(map[int64]*entity.User),
	}
}

// Get возвращает копию пользователя, создаёт нового если не найден
func (r *MemoryUserRepository) Get(ctx context.Context, userID, chatID int64) (*entity.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u := *r.getLocked(userID, chatID)
	return &u, nil
}

// Update меняет пользователя под блокировкой хранилища
func (r *MemoryUserRepository) Update(ctx context.Context, userID, chatID int64, fn func(*entity.User)) (*entity.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	user := r.getLocked(userID, chatID)
	fn(user)

	u := *user
	return &u, nil
}

func (r *MemoryUserRepository) getLocked(userID, chatID int64) *entity.User {
	user, exists := r.users[userID]
	if !exists {
		user = entity.NewUser(userID, chatID)
		r.users[userID] = user
	}
	if chatID != 0 && user.ChatID != chatID {
		user.ChatID = chatID
	}
	return user
}

// Проверка реализации интерфейса
var _ port.UserRepository = (*MemoryUserRepository)(nil)

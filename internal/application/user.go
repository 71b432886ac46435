package app

import (
	"context"
	"fmt"

	"pet-skin/internal/domain/entity"
	"pet-skin/internal/domain/port"
)

// UserService состояние диалога, выбранный питомец и уведомления пользователя.
type UserService struct {
	repo port.UserRepository
}

func NewUserService(repo port.UserRepository) *UserService {
	return &UserService{repo: repo}
}

func (s *UserService) Get(ctx context.Context, userID, chatID int64) (*entity.User, error) {
	return s.repo.Get(ctx, userID, chatID)
}

func (s *UserService) SetState(ctx context.Context, userID, chatID int64, state entity.UserState) (*entity.User, error) {
	return s.update(ctx, userID, chatID, func(u *entity.User) {
		u.SetState(state)
	})
}

// BeginCheck ждёт от пользователя фото питомца.
func (s *UserService) BeginCheck(ctx context.Context, userID, chatID int64) (*entity.User, error) {
	return s.SetState(ctx, userID, chatID, entity.StateAwaitingPhoto)
}

func (s *UserService) Cancel(ctx context.Context, userID, chatID int64) (*entity.User, error) {
	return s.SetState(ctx, userID, chatID, entity.StateMainMenu)
}

// SelectPet привязывает следующие диагнозы к питомцу petID.
func (s *UserService) SelectPet(ctx context.Context, userID, chatID, petID int64) (*entity.User, error) {
	if petID <= 0 {
		return nil, fmt.Errorf("%w: pet id must be positive", ErrInvalidInput)
	}
	return s.update(ctx, userID, chatID, func(u *entity.User) {
		u.PetID = petID
	})
}

// SetAlerts включает или выключает уведомления о новых диагнозах.
func (s *UserService) SetAlerts(ctx context.Context, userID, chatID int64, enabled bool) (*entity.User, error) {
	return s.update(ctx, userID, chatID, func(u *entity.User) {
		u.DiagnosisAlerts = enabled
	})
}

func (s *UserService) update(ctx context.Context, userID, chatID int64, fn func(*entity.User)) (*entity.User, error) {
	user, err := s.repo.Update(ctx, userID, chatID, fn)
	if err != nil {
		return nil, fmt.Errorf("update user %d: %w", userID, err)
	}
	return user, nil
}

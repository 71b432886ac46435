package app

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"pet-skin/internal/domain/entity"
	"pet-skin/internal/infrastructure/storage"
)

func TestUserService_BeginCheckAndCancel(t *testing.T) {
	repo := storage.NewMemoryUserRepository()
	svc := NewUserService(repo)
	ctx := context.Background()

	user, err := svc.BeginCheck(ctx, 1, 10)
	require.NoError(t, err)
	require.Equal(t, entity.StateAwaitingPhoto, user.State)

	user, err = svc.Cancel(ctx, 1, 10)
	require.NoError(t, err)
	require.Equal(t, entity.StateMainMenu, user.State)
}

func TestUserService_SelectPet(t *testing.T) {
	svc := NewUserService(storage.NewMemoryUserRepository())
	ctx := context.Background()

	user, err := svc.SelectPet(ctx, 2, 20, 42)
	require.NoError(t, err)
	require.Equal(t, int64(42), user.PetID)

	_, err = svc.SelectPet(ctx, 2, 20, 0)
	require.ErrorIs(t, err, ErrInvalidInput)

	user, err = svc.Get(ctx, 2, 20)
	require.NoError(t, err)
	require.Equal(t, int64(42), user.PetID)
}

func TestUserService_SetAlertsKeepsState(t *testing.T) {
	svc := NewUserService(storage.NewMemoryUserRepository())
	ctx := context.Background()

	_, err := svc.BeginCheck(ctx, 3, 30)
	require.NoError(t, err)

	user, err := svc.SetAlerts(ctx, 3, 30, true)
	require.NoError(t, err)
	require.True(t, user.DiagnosisAlerts)
	require.Equal(t, entity.StateAwaitingPhoto, user.State)
	require.Equal(t, int64(30), user.ChatID)
}

func TestUserService_ConcurrentChangesDoNotOverwrite(t *testing.T) {
	svc := NewUserService(storage.NewMemoryUserRepository())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(2)
		go func(petID int64) {
			defer wg.Done()
			_, _ = svc.SelectPet(ctx, 8, 80, petID)
		}(int64(i))
		go func() {
			defer wg.Done()
			_, _ = svc.BeginCheck(ctx, 8, 80)
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = svc.SetAlerts(ctx, 8, 80, true)
	}()
	wg.Wait()

	user, err := svc.Get(ctx, 8, 80)
	require.NoError(t, err)
	require.True(t, user.DiagnosisAlerts)
	require.Equal(t, entity.StateAwaitingPhoto, user.State)
}

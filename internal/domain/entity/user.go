package entity

// UserState состояние пользователя в диалоге
type UserState string

const (
	StateMainMenu      UserState = "main_menu"      // В главном меню
	StateAwaitingPhoto UserState = "awaiting_photo" // Ожидание фото питомца
	StateProcessing    UserState = "processing"     // Обработка изображения
)

// DefaultPetID питомец, к которому привязываются диагнозы до выбора через /pet
const DefaultPetID int64 = 1

// User представляет пользователя сервиса
type User struct {
	ID              int64     // Telegram User ID
	ChatID          int64     // Telegram Chat ID, 0 если пользователь не писал боту
	State           UserState // Текущее состояние пользователя
	PetID           int64     // Текущий питомец для новых диагнозов
	DiagnosisAlerts bool      // Уведомлять о новых диагнозах
}

// NewUser создаёт нового пользователя с начальным состоянием
func NewUser(userID, chatID int64) *User {
	return &User{
		ID:     userID,
		ChatID: chatID,
		State:  StateMainMenu,
		PetID:  DefaultPetID,
	}
}

// SetState обновляет состояние пользователя
func (u *User) SetState(state UserState) {
	u.State = state
}

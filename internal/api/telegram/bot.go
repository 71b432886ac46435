package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	app "pet-skin/internal/application"
	"pet-skin/internal/domain/entity"
)

const (
	msgStart = `👋 안녕하세요! 반려동물 피부 상태를 사진으로 확인해 드리는 봇입니다.

📸 /check 후 병변 부위 사진을 보내 주세요.

📋 명령어:
/check — 피부 검사 시작
/pet <번호> — 진단을 기록할 반려동물 선택
/history — 최근 진단 기록
/alerts on|off — 새 진단 알림 켜기/끄기
/help — 도움말
/cancel — 현재 작업 취소`

	msgHelp = `ℹ️ 사용 방법:

1️⃣ /check 를 보냅니다
2️⃣ 병변 부위 사진을 보냅니다
3️⃣ 증상 유무와 병변 유형, 신뢰도를 알려 드립니다

💡 촬영 팁:
• 밝은 곳에서 촬영하세요
• 병변이 화면 가운데 오도록 가까이 찍으세요
• 털이 가리지 않게 해 주세요

⚠️ 결과는 참고용이며 수의사 진료를 대신하지 않습니다.`

	msgAwaitingPhoto   = "📸 병변 부위 사진을 보내 주세요."
	msgCancelled       = "❌ 취소되었습니다. 새 검사는 /check 로 시작하세요."
	msgUseCheck        = "📸 먼저 /check 를 보내 주세요."
	msgUnknownCommand  = "❓ 알 수 없는 명령어입니다. /help 를 참고하세요."
	msgProcessing      = "⏳ 사진을 분석하고 있습니다..."
	msgNotImage        = "⚠️ 이미지 파일이 아닙니다. 사진을 다시 보내 주세요."
	msgProcessingError = "⚠️ 사진을 분석하지 못했습니다. 잠시 후 다시 시도해 주세요."
	msgPetUsage        = "사용법: /pet <번호>"
	msgAlertsUsage     = "사용법: /alerts on 또는 /alerts off"
	msgNoHistory       = "📭 아직 진단 기록이 없습니다."

	historyLimit = 5
)

// BotAPI часть tgbotapi.BotAPI, которой пользуется обработчик сообщений
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetFileDirectURL(fileID string) (string, error)
}

// Bot представляет Telegram-бота
type Bot struct {
	api       BotAPI
	users     *app.UserService
	diagnoses *app.DiagnosisService
	client    *http.Client
	logger    *zap.Logger

	wg sync.WaitGroup
}

// NewBot создаёт нового бота
func NewBot(api BotAPI, users *app.UserService, diagnoses *app.DiagnosisService, logger *zap.Logger) *Bot {
	return &Bot{
		api:       api,
		users:     users,
		diagnoses: diagnoses,
		client:    http.DefaultClient,
		logger:    logger.Named("telegram"),
	}
}

// Run обрабатывает обновления до отмены ctx. Каждое сообщение обрабатывается в своей горутине.
func (b *Bot) Run(ctx context.Context, api *tgbotapi.BotAPI) error {
	b.logger.Info("authorized", zap.String("account", api.Self.UserName))

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := api.GetUpdatesChan(u)
	defer b.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			api.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil {
				continue
			}

			msg := update.Message
			b.wg.Add(1)
			go func() {
				defer b.wg.Done()
				b.handleMessage(ctx, msg)
			}()
		}
	}
}

// handleMessage обрабатывает входящее сообщение
func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil {
		return
	}

	user, err := b.users.Get(ctx, msg.From.ID, msg.Chat.ID)
	if err != nil {
		b.logger.Error("get user", zap.Int64("user_id", msg.From.ID), zap.Error(err))
		return
	}

	if msg.IsCommand() {
		b.handleCommand(ctx, msg, user)
		return
	}

	if fileID, contentType, ok := imageAttachment(msg); ok {
		if user.State != entity.StateAwaitingPhoto {
			b.sendMessage(msg.Chat.ID, msgUseCheck)
			return
		}
		b.handlePhoto(ctx, msg, user, fileID, contentType)
		return
	}

	b.sendMessage(msg.Chat.ID, msgUseCheck)
}

// handleCommand обрабатывает команды бота
func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message, user *entity.User) {
	chatID := msg.Chat.ID

	switch msg.Command() {
	case "start":
		b.setState(ctx, user, chatID, entity.StateMainMenu)
		b.sendMessage(chatID, msgStart)

	case "help":
		b.sendMessage(chatID, msgHelp)

	case "check":
		b.setState(ctx, user, chatID, entity.StateAwaitingPhoto)
		b.sendMessage(chatID, msgAwaitingPhoto)

	case "cancel":
		b.setState(ctx, user, chatID, entity.StateMainMenu)
		b.sendMessage(chatID, msgCancelled)

	case "pet":
		petID, err := strconv.ParseInt(strings.TrimSpace(msg.CommandArguments()), 10, 64)
		if err != nil || petID <= 0 {
			b.sendMessage(chatID, msgPetUsage)
			return
		}
		if _, err := b.users.SelectPet(ctx, user.ID, chatID, petID); err != nil {
			b.logger.Error("select pet", zap.Int64("user_id", user.ID), zap.Error(err))
			b.sendMessage(chatID, msgProcessingError)
			return
		}
		b.sendMessage(chatID, fmt.Sprintf("🐾 반려동물 #%d 의 기록으로 저장합니다.", petID))

	case "alerts":
		var enabled bool
		switch strings.ToLower(strings.TrimSpace(msg.CommandArguments())) {
		case "on":
			enabled = true
		case "off":
			enabled = false
		default:
			b.sendMessage(chatID, msgAlertsUsage)
			return
		}
		if _, err := b.users.SetAlerts(ctx, user.ID, chatID, enabled); err != nil {
			b.logger.Error("set alerts", zap.Int64("user_id", user.ID), zap.Error(err))
			b.sendMessage(chatID, msgProcessingError)
			return
		}
		if enabled {
			b.sendMessage(chatID, "🔔 새 진단 알림을 켰습니다.")
		} else {
			b.sendMessage(chatID, "🔕 새 진단 알림을 껐습니다.")
		}

	case "history":
		page, err := b.diagnoses.History(ctx, user.PetID, 1, historyLimit)
		if err != nil {
			b.logger.Error("history", zap.Int64("pet_id", user.PetID), zap.Error(err))
			b.sendMessage(chatID, msgProcessingError)
			return
		}
		b.sendMessage(chatID, FormatHistory(user.PetID, page))

	default:
		b.sendMessage(chatID, msgUnknownCommand)
	}
}

// handlePhoto скачивает фото, ставит диагноз и сохраняет его в историю питомца
func (b *Bot) handlePhoto(ctx context.Context, msg *tgbotapi.Message, user *entity.User, fileID, contentType string) {
	chatID := msg.Chat.ID
	b.setState(ctx, user, chatID, entity.StateProcessing)
	defer b.setState(ctx, user, chatID, entity.StateMainMenu)

	b.sendMessage(chatID, msgProcessing)

	imageData, err := b.downloadFile(ctx, fileID)
	if err != nil {
		b.logger.Error("download photo", zap.Error(err))
		b.sendMessage(chatID, msgProcessingError)
		return
	}

	d, _, err := b.diagnoses.DiagnosePet(ctx, user.ID, user.PetID, imageData, contentType)
	if err != nil {
		var decodeErr *entity.DecodeError
		if errors.As(err, &decodeErr) {
			b.sendMessage(chatID, msgNotImage)
			return
		}
		b.logger.Error("diagnose photo", zap.Int64("user_id", user.ID), zap.Error(err))
		b.sendMessage(chatID, msgProcessingError)
		return
	}

	b.sendMessage(chatID, FormatDiagnosis(d))
}

func (b *Bot) setState(ctx context.Context, user *entity.User, chatID int64, state entity.UserState) {
	updated, err := b.users.SetState(ctx, user.ID, chatID, state)
	if err != nil {
		b.logger.Error("save user state", zap.Int64("user_id", user.ID), zap.Error(err))
		return
	}
	*user = *updated
}

// imageAttachment возвращает файл с максимальным разрешением или документ-изображение
func imageAttachment(msg *tgbotapi.Message) (string, string, bool) {
	if len(msg.Photo) > 0 {
		return msg.Photo[len(msg.Photo)-1].FileID, "image/jpeg", true
	}
	if msg.Document != nil && app.IsImageContentType(msg.Document.MimeType) {
		return msg.Document.FileID, msg.Document.MimeType, true
	}
	return "", "", false
}

// downloadFile скачивает файл из Telegram
func (b *Bot) downloadFile(ctx context.Context, fileID string) ([]byte, error) {
	fileURL, err := b.api.GetFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("get file: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download file: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	return data, nil
}

// sendMessage отправляет текстовое сообщение
func (b *Bot) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("send message", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

// FormatDiagnosis ответ пользователю по результату диагностики
func FormatDiagnosis(d *entity.Diagnosis) string {
	var sb strings.Builder
	if d.Label == entity.NoSymptomLabel {
		fmt.Fprintf(&sb, "✅ 증상이 발견되지 않았습니다 (%s).\n신뢰도: %.1f%%", d.Label, d.Confidence*100)
	} else {
		fmt.Fprintf(&sb, "🩺 의심 병변: %s\n신뢰도: %.1f%%", d.Label, d.Confidence*100)
	}
	if d.Details != "" {
		sb.WriteString("\n\n")
		sb.WriteString(d.Details)
	}
	return sb.String()
}

// FormatHistory последние записи истории питомца
func FormatHistory(petID int64, page app.HistoryPage) string {
	if len(page.Records) == 0 {
		return msgNoHistory
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "📋 반려동물 #%d 최근 진단 (%d/%d)", petID, len(page.Records), page.Total)
	for _, rec := range page.Records {
		fmt.Fprintf(&sb, "\n• %s %s (%.1f%%)", rec.CreatedAt.Format("2006-01-02 15:04"), rec.Diagnosis, rec.Confidence*100)
	}
	return sb.String()
}

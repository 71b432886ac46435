package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/require"

	"pet-skin/internal/domain/entity"
)

type fakeSender struct {
	sent []tgbotapi.Chattable
	err  error
}

func (s *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	s.sent = append(s.sent, c)
	return tgbotapi.Message{}, s.err
}

type countingNotifier struct {
	calls int
	err   error
}

func (n *countingNotifier) NotifyDiagnosis(ctx context.Context, user *entity.User, record entity.DiagnosisRecord) error {
	n.calls++
	return n.err
}

func testRecord() entity.DiagnosisRecord {
	return entity.DiagnosisRecord{
		ID:         11,
		PetID:      3,
		UserID:     7,
		Diagnosis:  "미란/궤양",
		Confidence: 0.8123,
		CreatedAt:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestTelegramNotifier_SendsToChat(t *testing.T) {
	sender := &fakeSender{}
	n := NewTelegramNotifier(sender)

	err := n.NotifyDiagnosis(context.Background(), &entity.User{ID: 7, ChatID: 70}, testRecord())
	require.NoError(t, err)
	require.Len(t, sender.sent, 1)

	msg, ok := sender.sent[0].(tgbotapi.MessageConfig)
	require.True(t, ok)
	require.Equal(t, int64(70), msg.ChatID)
	require.Contains(t, msg.Text, "미란/궤양")
	require.Contains(t, msg.Text, "81.2%")
}

func TestTelegramNotifier_SkipsUsersWithoutChat(t *testing.T) {
	sender := &fakeSender{}

	err := NewTelegramNotifier(sender).NotifyDiagnosis(context.Background(), &entity.User{ID: 7}, testRecord())
	require.NoError(t, err)
	require.Empty(t, sender.sent)
}

func TestTelegramNotifier_SendError(t *testing.T) {
	sender := &fakeSender{err: errors.New("forbidden")}

	err := NewTelegramNotifier(sender).NotifyDiagnosis(context.Background(), &entity.User{ID: 7, ChatID: 70}, testRecord())
	require.ErrorIs(t, err, sender.err)
}

func TestFormatAlert_Details(t *testing.T) {
	rec := testRecord()
	rec.Details = "병원 방문을 권장합니다."

	require.Contains(t, FormatAlert(rec), "\n\n병원 방문을 권장합니다.")
}

func TestKafkaNotifier_PublishesEvent(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var ev DiagnosisEvent
		if err := json.Unmarshal(val, &ev); err != nil {
			return err
		}
		if ev.RecordID != 11 || ev.ChatID != 70 || ev.Diagnosis != "미란/궤양" {
			return errors.New("unexpected event payload")
		}
		return nil
	})

	n := NewKafkaNotifier(producer, "diagnoses")
	require.NoError(t, n.NotifyDiagnosis(context.Background(), &entity.User{ID: 7, ChatID: 70}, testRecord()))
	require.NoError(t, n.Close())
}

func TestKafkaNotifier_SendError(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	n := NewKafkaNotifier(producer, "diagnoses")
	err := n.NotifyDiagnosis(context.Background(), &entity.User{ID: 7}, testRecord())
	require.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, n.Close())
}

func TestFanout_CallsAllAndJoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	a, b, c := &countingNotifier{}, &countingNotifier{err: boom}, &countingNotifier{}

	err := Fanout{a, b, c}.NotifyDiagnosis(context.Background(), &entity.User{ID: 1}, testRecord())
	require.ErrorIs(t, err, boom)
	require.Equal(t, 1, a.calls)
	require.Equal(t, 1, b.calls)
	require.Equal(t, 1, c.calls)

	require.NoError(t, Fanout{a}.NotifyDiagnosis(context.Background(), &entity.User{ID: 1}, testRecord()))
}

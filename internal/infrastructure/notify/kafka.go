package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/IBM/sarama"

	"pet-skin/internal/domain/entity"
	"pet-skin/internal/domain/port"
)

// DiagnosisEvent сообщение о новом диагнозе в Kafka
type DiagnosisEvent struct {
	RecordID   int64     `json:"record_id"`
	PetID      int64     `json:"pet_id"`
	UserID     int64     `json:"user_id"`
	ChatID     int64     `json:"chat_id,omitempty"`
	Diagnosis  string    `json:"diagnosis"`
	Confidence float64   `json:"confidence"`
	CreatedAt  time.Time `json:"created_at"`
}

// ConnectProducer синхронный продюсер с подтверждением от всех реплик
func ConnectProducer(brokers []string) (sarama.SyncProducer, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 2

	return sarama.NewSyncProducer(brokers, config)
}

// KafkaNotifier публикует события о диагнозах в топик
type KafkaNotifier struct {
	producer sarama.SyncProducer
	topic    string
}

func NewKafkaNotifier(producer sarama.SyncProducer, topic string) *KafkaNotifier {
	return &KafkaNotifier{producer: producer, topic: topic}
}

func (n *KafkaNotifier) NotifyDiagnosis(ctx context.Context, user *entity.User, record entity.DiagnosisRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b, err := json.Marshal(DiagnosisEvent{
		RecordID:   record.ID,
		PetID:      record.PetID,
		UserID:     user.ID,
		ChatID:     user.ChatID,
		Diagnosis:  record.Diagnosis,
		Confidence: record.Confidence,
		CreatedAt:  record.CreatedAt,
	})
	if err != nil {
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic: n.topic,
		Key:   sarama.StringEncoder(strconv.FormatInt(record.PetID, 10)),
		Value: sarama.ByteEncoder(b),
	}
	if _, _, err := n.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("send kafka event: %w", err)
	}
	return nil
}

func (n *KafkaNotifier) Close() error {
	return n.producer.Close()
}

var _ port.Notifier = (*KafkaNotifier)(nil)

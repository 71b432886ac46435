package entity

import (
	"fmt"
	"time"
)

// Stage этап каскада диагностики
type Stage string

const (
	StageBinary  Stage = "binary"  // Наличие симптомов
	StageDisease Stage = "disease" // Тип заболевания
)

// NoSymptomLabel метка бинарного этапа для здоровой кожи
const NoSymptomLabel = "무증상"

// BinaryLabels таблица меток бинарного этапа (индекс 0 завершает каскад)
var BinaryLabels = []string{NoSymptomLabel, "유증상"}

// DiseaseLabels таблица меток этапа заболеваний
var DiseaseLabels = []string{
	"구진/플라크",
	"비듬/각질/상피성잔고리",
	"태선화/과다색소침착",
	"농포/여드름",
	"미란/궤양",
	"결절/종괴",
}

// Labels возвращает таблицу меток этапа.
func (s Stage) Labels() []string {
	if s == StageBinary {
		return BinaryLabels
	}
	return DiseaseLabels
}

// Label возвращает метку класса этапа по индексу.
func (s Stage) Label(idx int) (string, error) {
	labels := s.Labels()
	if idx < 0 || idx >= len(labels) {
		return "", fmt.Errorf("class index %d out of range for %s stage", idx, s)
	}
	return labels[idx], nil
}

// Diagnosis итог диагностики одного изображения.
type Diagnosis struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Details    string  `json:"details,omitempty"`
	Stage      Stage   `json:"stage"`
}

// DiagnosisRecord запись истории диагностики питомца.
type DiagnosisRecord struct {
	ID         int64     `json:"id"`
	PetID      int64     `json:"pet_id"`
	UserID     int64     `json:"user_id"`
	Diagnosis  string    `json:"diagnosis"`
	Confidence float64   `json:"confidence"`
	Details    string    `json:"details,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

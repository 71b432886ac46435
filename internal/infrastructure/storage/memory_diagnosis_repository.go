package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"pet-skin/internal/domain/entity"
	"pet-skin/internal/domain/port"
)

// MemoryDiagnosisRepository in-memory история диагнозов
type MemoryDiagnosisRepository struct {
	mu      sync.RWMutex
	nextID  int64
	records map[int64][]entity.DiagnosisRecord // petID -> записи в порядке добавления
	now     func() time.Time
}

// NewMemoryDiagnosisRepository создаёт пустую историю
func NewMemoryDiagnosisRepository() *MemoryDiagnosisRepository {
	return &MemoryDiagnosisRepository{
		records: make(map[int64][]entity.DiagnosisRecord),
		now:     time.Now,
	}
}

// Append добавляет запись, назначая ID и время создания
func (r *MemoryDiagnosisRepository) Append(ctx context.Context, record entity.DiagnosisRecord) (entity.DiagnosisRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	record.ID = r.nextID
	record.CreatedAt = r.now().UTC()
	r.records[record.PetID] = append(r.records[record.PetID], record)

	return record, nil
}

// ListByPet возвращает страницу истории, новые записи первыми
func (r *MemoryDiagnosisRepository) ListByPet(ctx context.Context, petID int64, offset, limit int) ([]entity.DiagnosisRecord, int, error) {
	r.mu.RLock()
	all := append([]entity.DiagnosisRecord(nil), r.records[petID]...)
	r.mu.RUnlock()

	sort.SliceStable(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID > all[j].ID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	total := len(all)
	if offset < 0 || offset >= total {
		return []entity.DiagnosisRecord{}, total, nil
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}

	return all[offset:end], total, nil
}

// Len возвращает число записей всех питомцев
func (r *MemoryDiagnosisRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, recs := range r.records {
		n += len(recs)
	}
	return n
}

// Проверка реализации интерфейса
var _ port.DiagnosisRepository = (*MemoryDiagnosisRepository)(nil)

package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"pet-skin/internal/domain/entity"
	"pet-skin/internal/domain/port"
)

const (
	initDiagnosisTableQuery = `
create table if not exists diagnosis_history (
  id         bigserial primary key,
  pet_id     bigint not null,
  user_id    bigint not null,
  diagnosis  text not null,
  confidence double precision not null,
  details    text,
  created_at timestamptz not null default now()
);
create index if not exists diagnosis_history_pet_created_idx
  on diagnosis_history (pet_id, created_at desc);`

	appendDiagnosisQuery = `
insert into diagnosis_history (pet_id, user_id, diagnosis, confidence, details)
values ($1, $2, $3, $4, nullif($5, ''))
returning id, created_at`

	countDiagnosisQuery = `select count(*) from diagnosis_history where pet_id = $1`

	listDiagnosisQuery = `
select id, pet_id, user_id, diagnosis, confidence, coalesce(details, ''), created_at
from diagnosis_history
where pet_id = $1
order by created_at desc, id desc
offset $2 limit $3`
)

// PostgresDiagnosisRepository история диагнозов в Postgres
type PostgresDiagnosisRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresDiagnosisRepository подключается к базе и создаёт таблицу при необходимости
func NewPostgresDiagnosisRepository(ctx context.Context, dsn string) (*PostgresDiagnosisRepository, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, initDiagnosisTableQuery); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init diagnosis_history: %w", err)
	}

	return &PostgresDiagnosisRepository{pool: pool}, nil
}

// Append сохраняет запись
func (r *PostgresDiagnosisRepository) Append(ctx context.Context, record entity.DiagnosisRecord) (entity.DiagnosisRecord, error) {
	err := r.pool.QueryRow(ctx, appendDiagnosisQuery,
		record.PetID, record.UserID, record.Diagnosis, record.Confidence, record.Details,
	).Scan(&record.ID, &record.CreatedAt)
	if err != nil {
		return entity.DiagnosisRecord{}, fmt.Errorf("insert diagnosis: %w", err)
	}
	return record, nil
}

// ListByPet возвращает страницу истории питомца
func (r *PostgresDiagnosisRepository) ListByPet(ctx context.Context, petID int64, offset, limit int) ([]entity.DiagnosisRecord, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, countDiagnosisQuery, petID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count diagnoses: %w", err)
	}

	rows, err := r.pool.Query(ctx, listDiagnosisQuery, petID, offset, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("list diagnoses: %w", err)
	}

	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (entity.DiagnosisRecord, error) {
		var rec entity.DiagnosisRecord
		err := row.Scan(&rec.ID, &rec.PetID, &rec.UserID, &rec.Diagnosis, &rec.Confidence, &rec.Details, &rec.CreatedAt)
		return rec, err
	})
	if err != nil {
		return nil, 0, fmt.Errorf("scan diagnoses: %w", err)
	}

	return records, total, nil
}

// Close закрывает пул соединений
func (r *PostgresDiagnosisRepository) Close() {
	r.pool.Close()
}

var _ port.DiagnosisRepository = (*PostgresDiagnosisRepository)(nil)

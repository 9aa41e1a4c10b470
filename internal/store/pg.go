package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hraudit/promotiond/internal/models"
)

const recordColumns = `id, candidate_id, group_id, requested_at, from_rank, to_rank, reference_url,
	delivery_id, status, scheduled_for, processed_at, failure_reason, attempts, last_attempt_at, created_at`

type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (models.PromotionRecord, error) {
	var (
		rec           models.PromotionRecord
		deliveryID    sql.NullString
		scheduledFor  sql.NullTime
		processedAt   sql.NullTime
		failureReason sql.NullString
		lastAttemptAt sql.NullTime
	)
	if err := row.Scan(
		&rec.ID,
		&rec.CandidateID,
		&rec.GroupID,
		&rec.RequestedAt,
		&rec.FromRank,
		&rec.ToRank,
		&rec.ReferenceURL,
		&deliveryID,
		&rec.Status,
		&scheduledFor,
		&processedAt,
		&failureReason,
		&rec.Attempts,
		&lastAttemptAt,
		&rec.CreatedAt,
	); err != nil {
		return models.PromotionRecord{}, err
	}
	if deliveryID.Valid {
		v := deliveryID.String
		rec.DeliveryID = &v
	}
	if scheduledFor.Valid {
		t := scheduledFor.Time
		rec.ScheduledFor = &t
	}
	if processedAt.Valid {
		t := processedAt.Time
		rec.ProcessedAt = &t
	}
	if failureReason.Valid {
		v := failureReason.String
		rec.FailureReason = &v
	}
	if lastAttemptAt.Valid {
		t := lastAttemptAt.Time
		rec.LastAttemptAt = &t
	}
	return rec, nil
}

func (s *PGStore) Insert(ctx context.Context, in RecordInput) (models.PromotionRecord, error) {
	if err := in.validate(); err != nil {
		return models.PromotionRecord{}, err
	}
	query := `
		INSERT INTO promotions (candidate_id, group_id, requested_at, from_rank, to_rank, reference_url,
			status, scheduled_for, delivery_id, processed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING ` + recordColumns
	row := s.db.QueryRowContext(ctx, query,
		in.CandidateID, in.GroupID, in.RequestedAt, in.FromRank, in.ToRank, in.ReferenceURL,
		in.Status, in.ScheduledFor, in.DeliveryID, in.ProcessedAt)
	rec, err := scanRecord(row)
	if err != nil {
		return models.PromotionRecord{}, fmt.Errorf("insert promotion: %w", err)
	}
	return rec, nil
}

func (s *PGStore) CountProcessed(ctx context.Context, candidateID string, from, to time.Time) (int, error) {
	const query = `
		SELECT COUNT(*) FROM promotions
		WHERE candidate_id = $1 AND status = $2 AND requested_at >= $3 AND requested_at < $4
	`
	var count int
	if err := s.db.QueryRowContext(ctx, query, candidateID, models.StatusProcessed, from, to).Scan(&count); err != nil {
		return 0, fmt.Errorf("count processed: %w", err)
	}
	return count, nil
}

// DueRecords returns pending records whose scheduled_for has passed, oldest
// first so earlier-deferred candidates are not starved by later ones.
func (s *PGStore) DueRecords(ctx context.Context, now time.Time) ([]models.PromotionRecord, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM promotions
		WHERE status = $1 AND scheduled_for IS NOT NULL AND scheduled_for <= $2
		ORDER BY scheduled_for ASC
	`
	rows, err := s.db.QueryContext(ctx, query, models.StatusPending, now)
	if err != nil {
		return nil, fmt.Errorf("due records: %w", err)
	}
	defer rows.Close()

	var records []models.PromotionRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan due record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate due records: %w", err)
	}
	return records, nil
}

func (s *PGStore) MarkProcessed(ctx context.Context, id int64, deliveryID string, processedAt time.Time) (models.PromotionRecord, error) {
	query := `
		UPDATE promotions
		SET status = $2, delivery_id = $3, processed_at = $4, failure_reason = NULL,
		    attempts = attempts + 1, last_attempt_at = $4
		WHERE id = $1
		RETURNING ` + recordColumns
	row := s.db.QueryRowContext(ctx, query, id, models.StatusProcessed, deliveryID, processedAt)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.PromotionRecord{}, ErrNotFound
		}
		return models.PromotionRecord{}, fmt.Errorf("mark processed: %w", err)
	}
	return rec, nil
}

func (s *PGStore) MarkFailed(ctx context.Context, id int64, reason string, processedAt time.Time) (models.PromotionRecord, error) {
	query := `
		UPDATE promotions
		SET status = $2, failure_reason = $3, processed_at = $4,
		    attempts = attempts + 1, last_attempt_at = $4
		WHERE id = $1
		RETURNING ` + recordColumns
	row := s.db.QueryRowContext(ctx, query, id, models.StatusFailed, reason, processedAt)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.PromotionRecord{}, ErrNotFound
		}
		return models.PromotionRecord{}, fmt.Errorf("mark failed: %w", err)
	}
	return rec, nil
}

func (s *PGStore) History(ctx context.Context, candidateID string, limit int) ([]models.PromotionRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	query := `
		SELECT ` + recordColumns + `
		FROM promotions
		WHERE candidate_id = $1
		ORDER BY requested_at DESC
		LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, query, candidateID, limit)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	defer rows.Close()

	var records []models.PromotionRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan history record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return records, nil
}

func (s *PGStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("db ping: %w", err)
	}
	return nil
}

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hraudit/promotiond/internal/models"
)

// MemoryStore is an in-memory ledger used by tests and local runs.
type MemoryStore struct {
	mu      sync.RWMutex
	nextID  int64
	records map[int64]models.PromotionRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nextID:  1,
		records: map[int64]models.PromotionRecord{},
	}
}

func (m *MemoryStore) Insert(ctx context.Context, in RecordInput) (models.PromotionRecord, error) {
	if err := in.validate(); err != nil {
		return models.PromotionRecord{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := models.PromotionRecord{
		ID:           m.nextID,
		CandidateID:  in.CandidateID,
		GroupID:      in.GroupID,
		RequestedAt:  in.RequestedAt,
		FromRank:     in.FromRank,
		ToRank:       in.ToRank,
		ReferenceURL: in.ReferenceURL,
		Status:       in.Status,
		CreatedAt:    time.Now().UTC(),
	}
	if in.ScheduledFor != nil {
		t := *in.ScheduledFor
		rec.ScheduledFor = &t
	}
	if in.DeliveryID != nil {
		v := *in.DeliveryID
		rec.DeliveryID = &v
	}
	if in.ProcessedAt != nil {
		t := *in.ProcessedAt
		rec.ProcessedAt = &t
	}
	m.nextID++
	m.records[rec.ID] = rec
	return rec, nil
}

func (m *MemoryStore) CountProcessed(ctx context.Context, candidateID string, from, to time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, rec := range m.records {
		if rec.CandidateID != candidateID || rec.Status != models.StatusProcessed {
			continue
		}
		if rec.RequestedAt.Before(from) || !rec.RequestedAt.Before(to) {
			continue
		}
		count++
	}
	return count, nil
}

func (m *MemoryStore) DueRecords(ctx context.Context, now time.Time) ([]models.PromotionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var due []models.PromotionRecord
	for _, rec := range m.records {
		if rec.Status != models.StatusPending || rec.ScheduledFor == nil {
			continue
		}
		if rec.ScheduledFor.After(now) {
			continue
		}
		due = append(due, rec)
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].ScheduledFor.Before(*due[j].ScheduledFor)
	})
	return due, nil
}

func (m *MemoryStore) MarkProcessed(ctx context.Context, id int64, deliveryID string, processedAt time.Time) (models.PromotionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return models.PromotionRecord{}, ErrNotFound
	}
	rec.Status = models.StatusProcessed
	rec.DeliveryID = &deliveryID
	t := processedAt
	rec.ProcessedAt = &t
	rec.FailureReason = nil
	rec.Attempts++
	la := processedAt
	rec.LastAttemptAt = &la
	m.records[id] = rec
	return rec, nil
}

func (m *MemoryStore) MarkFailed(ctx context.Context, id int64, reason string, processedAt time.Time) (models.PromotionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return models.PromotionRecord{}, ErrNotFound
	}
	rec.Status = models.StatusFailed
	rec.FailureReason = &reason
	t := processedAt
	rec.ProcessedAt = &t
	rec.Attempts++
	la := processedAt
	rec.LastAttemptAt = &la
	m.records[id] = rec
	return rec, nil
}

func (m *MemoryStore) History(ctx context.Context, candidateID string, limit int) ([]models.PromotionRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var records []models.PromotionRecord
	for _, rec := range m.records {
		if rec.CandidateID == candidateID {
			records = append(records, rec)
		}
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].RequestedAt.After(records[j].RequestedAt)
	})
	if len(records) > limit {
		records = records[:limit]
	}
	result := make([]models.PromotionRecord, len(records))
	copy(result, records)
	return result, nil
}

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

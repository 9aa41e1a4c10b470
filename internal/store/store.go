package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hraudit/promotiond/internal/models"
)

var (
	// ErrNotFound is returned when a record id does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidRecord is returned when an insert is attempted with missing
	// or malformed required fields. It is the caller's bug and never retried.
	ErrInvalidRecord = errors.New("invalid promotion record")
)

// Store is the durable promotion ledger. Rows are append-only: nothing is
// ever deleted, and the only mutations are the terminal mark operations.
type Store interface {
	Insert(ctx context.Context, in RecordInput) (models.PromotionRecord, error)
	CountProcessed(ctx context.Context, candidateID string, from, to time.Time) (int, error)
	DueRecords(ctx context.Context, now time.Time) ([]models.PromotionRecord, error)
	MarkProcessed(ctx context.Context, id int64, deliveryID string, processedAt time.Time) (models.PromotionRecord, error)
	MarkFailed(ctx context.Context, id int64, reason string, processedAt time.Time) (models.PromotionRecord, error)
	History(ctx context.Context, candidateID string, limit int) ([]models.PromotionRecord, error)
	Ping(ctx context.Context) error
}

// RecordInput carries the fields for a new ledger row. Records are born either
// pending (deferred path, ScheduledFor set) or already processed (immediate
// path, DeliveryID and ProcessedAt set).
type RecordInput struct {
	CandidateID  string
	GroupID      string
	RequestedAt  time.Time
	FromRank     int
	ToRank       int
	ReferenceURL string
	Status       models.Status
	ScheduledFor *time.Time
	DeliveryID   *string
	ProcessedAt  *time.Time
}

func (in RecordInput) validate() error {
	var missing []string
	if in.CandidateID == "" {
		missing = append(missing, "candidateId")
	}
	if in.GroupID == "" {
		missing = append(missing, "groupId")
	}
	if in.FromRank <= 0 {
		missing = append(missing, "fromRank")
	}
	if in.ToRank <= 0 {
		missing = append(missing, "toRank")
	}
	if in.ReferenceURL == "" {
		missing = append(missing, "referenceUrl")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidRecord, strings.Join(missing, ", "))
	}
	if in.FromRank == in.ToRank {
		return fmt.Errorf("%w: fromRank and toRank are equal", ErrInvalidRecord)
	}
	switch in.Status {
	case models.StatusPending, models.StatusProcessed:
	default:
		return fmt.Errorf("%w: status %q not allowed on insert", ErrInvalidRecord, in.Status)
	}
	return nil
}

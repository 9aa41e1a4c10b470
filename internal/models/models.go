package models

import "time"

type Status string

const (
	StatusPending   Status = "pending"
	StatusProcessed Status = "processed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether a record in this status may never return to pending.
func (s Status) Terminal() bool {
	return s == StatusProcessed || s == StatusFailed
}

// PromotionRecord is one attempted or completed promotion. Rows are append-only:
// a record is never deleted, and only its status, delivery and attempt fields
// change after insert.
type PromotionRecord struct {
	ID            int64      `json:"id"`
	CandidateID   string     `json:"candidateId"`
	GroupID       string     `json:"groupId"`
	RequestedAt   time.Time  `json:"requestedAt"`
	FromRank      int        `json:"fromRank"`
	ToRank        int        `json:"toRank"`
	ReferenceURL  string     `json:"referenceUrl"`
	DeliveryID    *string    `json:"deliveryId,omitempty"`
	Status        Status     `json:"status"`
	ScheduledFor  *time.Time `json:"scheduledFor,omitempty"`
	ProcessedAt   *time.Time `json:"processedAt,omitempty"`
	FailureReason *string    `json:"failureReason,omitempty"`
	Attempts      int        `json:"attempts"`
	LastAttemptAt *time.Time `json:"lastAttemptAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
}

// SchedulerStatus is the snapshot returned by the status endpoint.
type SchedulerStatus struct {
	State        string     `json:"state"`
	Processing   bool       `json:"processing"`
	LastBatchDay string     `json:"lastBatchDay,omitempty"`
	NextWake     *time.Time `json:"nextWake,omitempty"`
}

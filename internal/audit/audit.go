// Package audit emits append-only events for every ledger insert and every
// terminal transition. The audit stream, not the ledger row, is the durable
// history of what happened to a promotion.
package audit

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
)

// Event types emitted by the promotion engine.
const (
	EventRecorded  = "promotion.recorded"
	EventScheduled = "promotion.scheduled"
	EventProcessed = "promotion.processed"
	EventFailed    = "promotion.failed"
)

// Event is the canonical audit record.
type Event struct {
	ID          string      `json:"id"`
	EventType   string      `json:"eventType"`
	RecordID    int64       `json:"recordId"`
	CandidateID string      `json:"candidateId"`
	GroupID     string      `json:"groupId"`
	Payload     interface{} `json:"payload,omitempty"`
	Ts          time.Time   `json:"ts"`
}

// NewEvent stamps an event with a fresh id and timestamp.
func NewEvent(eventType string, recordID int64, candidateID, groupID string, payload interface{}) Event {
	return Event{
		ID:          uuid.New().String(),
		EventType:   eventType,
		RecordID:    recordID,
		CandidateID: candidateID,
		GroupID:     groupID,
		Payload:     payload,
		Ts:          time.Now().UTC(),
	}
}

// Emitter publishes audit events. Emission is best-effort from the caller's
// point of view: a failed emit is logged, never surfaced to the user flow.
type Emitter interface {
	Emit(ctx context.Context, ev Event) error
}

// LogEmitter writes events to a standard logger.
type LogEmitter struct {
	logger *log.Logger
}

func NewLogEmitter(logger *log.Logger) *LogEmitter {
	if logger == nil {
		logger = log.New(os.Stdout, "[audit] ", log.LstdFlags)
	}
	return &LogEmitter{logger: logger}
}

func (e *LogEmitter) Emit(ctx context.Context, ev Event) error {
	e.logger.Printf("%s record=%d candidate=%s group=%s", ev.EventType, ev.RecordID, ev.CandidateID, ev.GroupID)
	return nil
}

// MultiEmitter fans an event out to several emitters, returning the first error.
type MultiEmitter []Emitter

func (m MultiEmitter) Emit(ctx context.Context, ev Event) error {
	var firstErr error
	for _, e := range m {
		if err := e.Emit(ctx, ev); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

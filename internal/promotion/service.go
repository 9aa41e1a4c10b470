// Package promotion enforces the one-processed-promotion-per-candidate-per-day
// rule and owns the pending to processed/failed transitions used by both the
// immediate and the deferred path.
package promotion

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/hraudit/promotiond/internal/audit"
	"github.com/hraudit/promotiond/internal/models"
	"github.com/hraudit/promotiond/internal/notify"
	"github.com/hraudit/promotiond/internal/store"
)

type Service struct {
	store    store.Store
	notifier notify.Notifier
	audit    audit.Emitter
	loc      *time.Location
	now      func() time.Time
	logger   *log.Logger
}

// Options carries the optional dependencies. Zero values get defaults: local
// time zone, wall clock, log-only audit.
type Options struct {
	Location *time.Location
	Now      func() time.Time
	Audit    audit.Emitter
	Logger   *log.Logger
}

func New(st store.Store, notifier notify.Notifier, opts Options) *Service {
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	emitter := opts.Audit
	if emitter == nil {
		emitter = audit.NewLogEmitter(nil)
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "[promotion] ", log.LstdFlags)
	}
	return &Service{
		store:    st,
		notifier: notifier,
		audit:    emitter,
		loc:      loc,
		now:      now,
		logger:   logger,
	}
}

// Request identifies one acceptance: who gets promoted, where, and the report
// that justifies it.
type Request struct {
	CandidateID  string
	GroupID      string
	FromRank     int
	ToRank       int
	ReferenceURL string
}

// dayBounds returns the half-open interval covering the calendar day of t in
// the configured zone.
func (s *Service) dayBounds(t time.Time) (time.Time, time.Time) {
	local := t.In(s.loc)
	from := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.loc)
	return from, from.AddDate(0, 0, 1)
}

// NextMidnight returns the first midnight in the configured zone strictly
// after t. At exactly midnight it rolls to the following midnight, so a
// same-instant race can never schedule for "now".
func (s *Service) NextMidnight(t time.Time) time.Time {
	local := t.In(s.loc)
	return time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, s.loc)
}

// DayOf formats the calendar day of t in the configured zone.
func (s *Service) DayOf(t time.Time) string {
	return t.In(s.loc).Format("2006-01-02")
}

// CanPromoteToday reports whether the candidate has no processed promotion in
// the current local day. It must be evaluated at acceptance time, not at
// finalize time. Two near-simultaneous acceptances can both observe true
// before either finalizes; that double-promotion window is a known limitation.
func (s *Service) CanPromoteToday(ctx context.Context, candidateID string) (bool, error) {
	if candidateID == "" {
		return false, fmt.Errorf("candidateId required")
	}
	from, to := s.dayBounds(s.now())
	count, err := s.store.CountProcessed(ctx, candidateID, from, to)
	if err != nil {
		return false, err
	}
	return count == 0, nil
}

// ScheduleDeferred inserts a pending record to be finalized at the next local
// midnight.
func (s *Service) ScheduleDeferred(ctx context.Context, req Request) (models.PromotionRecord, error) {
	now := s.now()
	scheduledFor := s.NextMidnight(now)
	rec, err := s.store.Insert(ctx, store.RecordInput{
		CandidateID:  req.CandidateID,
		GroupID:      req.GroupID,
		RequestedAt:  now,
		FromRank:     req.FromRank,
		ToRank:       req.ToRank,
		ReferenceURL: req.ReferenceURL,
		Status:       models.StatusPending,
		ScheduledFor: &scheduledFor,
	})
	if err != nil {
		return models.PromotionRecord{}, err
	}
	s.emit(ctx, audit.NewEvent(audit.EventScheduled, rec.ID, rec.CandidateID, rec.GroupID, map[string]interface{}{
		"scheduledFor": scheduledFor,
		"fromRank":     req.FromRank,
		"toRank":       req.ToRank,
	}))
	s.logger.Printf("scheduled deferred promotion id=%d candidate=%s for=%s", rec.ID, rec.CandidateID, scheduledFor.Format(time.RFC3339))
	return rec, nil
}

// RecordImmediate inserts a record already processed, for the path where the
// notice was delivered before the ledger write. The notice and the write are
// not transactional: if the insert fails the notice stays sent, the failure is
// logged as an anomaly, and the error is returned for the caller to report as
// "promotion could not be recorded".
func (s *Service) RecordImmediate(ctx context.Context, req Request, deliveryID string) (models.PromotionRecord, error) {
	if deliveryID == "" {
		return models.PromotionRecord{}, fmt.Errorf("deliveryId required")
	}
	now := s.now()
	rec, err := s.store.Insert(ctx, store.RecordInput{
		CandidateID:  req.CandidateID,
		GroupID:      req.GroupID,
		RequestedAt:  now,
		FromRank:     req.FromRank,
		ToRank:       req.ToRank,
		ReferenceURL: req.ReferenceURL,
		Status:       models.StatusProcessed,
		DeliveryID:   &deliveryID,
		ProcessedAt:  &now,
	})
	if err != nil {
		s.logger.Printf("notice %s sent but not recorded for candidate=%s: %v", deliveryID, req.CandidateID, err)
		return models.PromotionRecord{}, err
	}
	s.emit(ctx, audit.NewEvent(audit.EventRecorded, rec.ID, rec.CandidateID, rec.GroupID, map[string]interface{}{
		"deliveryId": deliveryID,
		"fromRank":   req.FromRank,
		"toRank":     req.ToRank,
	}))
	return rec, nil
}

// AcceptResult reports how an acceptance was handled.
type AcceptResult struct {
	Record   models.PromotionRecord
	Deferred bool
}

// Accept drives one report acceptance end to end: if the candidate is still
// eligible today the notice is sent and recorded immediately, otherwise a
// deferred record is scheduled for the next midnight.
func (s *Service) Accept(ctx context.Context, req Request) (AcceptResult, error) {
	eligible, err := s.CanPromoteToday(ctx, req.CandidateID)
	if err != nil {
		return AcceptResult{}, err
	}
	if !eligible {
		rec, err := s.ScheduleDeferred(ctx, req)
		if err != nil {
			return AcceptResult{}, err
		}
		return AcceptResult{Record: rec, Deferred: true}, nil
	}

	deliveryID, err := s.notifier.Send(ctx, notify.SendRequest{
		GroupID:      req.GroupID,
		CandidateID:  req.CandidateID,
		FromRank:     req.FromRank,
		ToRank:       req.ToRank,
		ReferenceURL: req.ReferenceURL,
	})
	if err != nil {
		return AcceptResult{}, err
	}
	rec, err := s.RecordImmediate(ctx, req, deliveryID)
	if err != nil {
		return AcceptResult{}, err
	}
	return AcceptResult{Record: rec}, nil
}

// FinalizeDue sends the notice for a due pending record and marks the terminal
// outcome. A notifier failure is converted to a failed mark and never
// propagated; only storage errors are returned.
func (s *Service) FinalizeDue(ctx context.Context, rec models.PromotionRecord) (models.PromotionRecord, error) {
	now := s.now()
	deliveryID, err := s.notifier.Send(ctx, notify.SendRequest{
		GroupID:      rec.GroupID,
		CandidateID:  rec.CandidateID,
		FromRank:     rec.FromRank,
		ToRank:       rec.ToRank,
		ReferenceURL: rec.ReferenceURL,
	})
	if err != nil {
		s.logger.Printf("finalize id=%d candidate=%s delivery failed: %v", rec.ID, rec.CandidateID, err)
		return s.markFailed(ctx, rec, err.Error(), now)
	}

	updated, err := s.store.MarkProcessed(ctx, rec.ID, deliveryID, now)
	if err != nil {
		return models.PromotionRecord{}, err
	}
	s.emit(ctx, audit.NewEvent(audit.EventProcessed, rec.ID, rec.CandidateID, rec.GroupID, map[string]interface{}{
		"deliveryId": deliveryID,
		"attempts":   updated.Attempts,
	}))
	return updated, nil
}

// MarkContextUnavailable fails a record whose group context no longer resolves.
func (s *Service) MarkContextUnavailable(ctx context.Context, rec models.PromotionRecord) (models.PromotionRecord, error) {
	return s.markFailed(ctx, rec, "context unavailable", s.now())
}

func (s *Service) markFailed(ctx context.Context, rec models.PromotionRecord, reason string, at time.Time) (models.PromotionRecord, error) {
	updated, err := s.store.MarkFailed(ctx, rec.ID, reason, at)
	if err != nil {
		return models.PromotionRecord{}, err
	}
	s.emit(ctx, audit.NewEvent(audit.EventFailed, rec.ID, rec.CandidateID, rec.GroupID, map[string]interface{}{
		"reason":   reason,
		"attempts": updated.Attempts,
	}))
	return updated, nil
}

// History returns the candidate's most recent promotions, newest first.
func (s *Service) History(ctx context.Context, candidateID string, limit int) ([]models.PromotionRecord, error) {
	if candidateID == "" {
		return nil, fmt.Errorf("candidateId required")
	}
	return s.store.History(ctx, candidateID, limit)
}

func (s *Service) emit(ctx context.Context, ev audit.Event) {
	if err := s.audit.Emit(ctx, ev); err != nil {
		s.logger.Printf("audit emit %s for record=%d failed: %v", ev.EventType, ev.RecordID, err)
	}
}

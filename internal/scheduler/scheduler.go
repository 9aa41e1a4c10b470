// Package scheduler drives the daily rollover: a long-lived one-shot timer
// wakes at local midnight, drains the due deferred promotions, and re-arms for
// the following midnight.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/hraudit/promotiond/internal/models"
	"github.com/hraudit/promotiond/internal/notify"
	"github.com/hraudit/promotiond/internal/promotion"
	"github.com/hraudit/promotiond/internal/store"
)

type State string

const (
	StateStopped   State = "stopped"
	StateScheduled State = "scheduled"
	StateRunning   State = "running"
)

const defaultRearmBackoff = 5 * time.Minute

// Timer is the one-shot timer handle the scheduler owns between wakes.
type Timer interface {
	Stop() bool
}

// TimerFactory arms a one-shot timer; tests substitute a manual one so
// midnight can be simulated without waiting in real time.
type TimerFactory func(d time.Duration, f func()) Timer

func realTimer(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Config carries the scheduler's optional knobs. Zero values get defaults:
// wall clock, real timers, 5 minute re-arm backoff.
type Config struct {
	Now          func() time.Time
	Timer        TimerFactory
	RearmBackoff time.Duration
	Logger       *log.Logger
}

type Scheduler struct {
	svc      *promotion.Service
	store    store.Store
	resolver notify.Resolver
	now      func() time.Time
	newTimer TimerFactory
	backoff  time.Duration
	logger   *log.Logger

	mu           sync.Mutex
	state        State
	timer        Timer
	processing   bool
	lastBatchDay string
	nextWake     time.Time
}

func New(svc *promotion.Service, st store.Store, resolver notify.Resolver, cfg Config) *Scheduler {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	timer := cfg.Timer
	if timer == nil {
		timer = realTimer
	}
	backoff := cfg.RearmBackoff
	if backoff <= 0 {
		backoff = defaultRearmBackoff
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "[scheduler] ", log.LstdFlags)
	}
	if resolver == nil {
		resolver = notify.StaticResolver{}
	}
	return &Scheduler{
		svc:      svc,
		store:    st,
		resolver: resolver,
		now:      now,
		newTimer: timer,
		backoff:  backoff,
		logger:   logger,
		state:    StateStopped,
	}
}

// Start runs a catch-up pass over anything that came due while the process was
// down, then arms the timer for the next midnight.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateStopped {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}
	s.state = StateScheduled
	s.mu.Unlock()

	s.logger.Printf("starting daily promotion scheduler")
	if err := s.ProcessDue(ctx); err != nil {
		s.logger.Printf("catch-up batch failed, deferring to next midnight: %v", err)
	}
	s.arm(ctx)
	return nil
}

// Stop cancels the armed timer. An in-flight batch is allowed to complete so
// no record is left mid-attempt.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.state != StateStopped {
		s.state = StateStopped
		s.logger.Printf("daily promotion scheduler stopped")
	}
}

// Status returns a snapshot for the ops surface.
func (s *Scheduler) Status() models.SchedulerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := models.SchedulerStatus{
		State:        string(s.state),
		Processing:   s.processing,
		LastBatchDay: s.lastBatchDay,
	}
	if !s.nextWake.IsZero() {
		t := s.nextWake
		st.NextWake = &t
	}
	return st
}

func (s *Scheduler) arm(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateStopped {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}

	now := s.now()
	next := s.svc.NextMidnight(now)
	delay := next.Sub(now)
	if delay <= 0 {
		// Clock went backwards or the zone data is off; retry after backoff
		// rather than leaving the scheduler permanently dormant.
		s.logger.Printf("non-positive delay %s to next midnight %s, retrying in %s", delay, next.Format(time.RFC3339), s.backoff)
		s.timer = s.newTimer(s.backoff, func() { s.arm(ctx) })
		return
	}

	s.nextWake = next
	s.state = StateScheduled
	s.logger.Printf("next promotion batch at %s (in %s)", next.Format(time.RFC3339), delay.Round(time.Second))
	s.timer = s.newTimer(delay, func() {
		if err := s.ProcessDue(ctx); err != nil {
			s.logger.Printf("batch failed, deferring remainder to next midnight: %v", err)
		}
		s.arm(ctx)
	})
}

// ProcessDue drains all due pending records once. A second concurrent call and
// a second call on the same local day are both rejected; one bad record never
// blocks the rest of the batch.
func (s *Scheduler) ProcessDue(ctx context.Context) error {
	now := s.now()
	today := s.svc.DayOf(now)

	s.mu.Lock()
	if s.processing {
		s.mu.Unlock()
		s.logger.Printf("batch already in progress, skipping")
		return nil
	}
	if s.lastBatchDay == today {
		s.mu.Unlock()
		s.logger.Printf("batch already ran on %s, skipping", today)
		return nil
	}
	s.processing = true
	prev := s.state
	if prev != StateStopped {
		s.state = StateRunning
	}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.processing = false
		s.lastBatchDay = today
		if s.state == StateRunning {
			s.state = prev
		}
		s.mu.Unlock()
	}()

	batchesTotal.Inc()
	due, err := s.store.DueRecords(ctx, now)
	if err != nil {
		return fmt.Errorf("fetch due records: %w", err)
	}
	if len(due) == 0 {
		s.logger.Printf("no due promotions")
		return nil
	}
	s.logger.Printf("processing %d due promotions", len(due))

	for _, rec := range due {
		if _, err := s.resolver.Resolve(ctx, rec.GroupID); err != nil {
			s.logger.Printf("record id=%d group=%s unresolvable: %v", rec.ID, rec.GroupID, err)
			if _, err := s.svc.MarkContextUnavailable(ctx, rec); err != nil {
				s.logger.Printf("mark record id=%d failed: %v", rec.ID, err)
				return fmt.Errorf("mark context unavailable: %w", err)
			}
			finalizedTotal.WithLabelValues("failed").Inc()
			continue
		}

		updated, err := s.svc.FinalizeDue(ctx, rec)
		if err != nil {
			// Storage is down; leave the rest of the batch for the next run.
			s.logger.Printf("finalize record id=%d failed: %v", rec.ID, err)
			return fmt.Errorf("finalize due: %w", err)
		}
		finalizedTotal.WithLabelValues(string(updated.Status)).Inc()
		s.logger.Printf("record id=%d candidate=%s finalized as %s", rec.ID, rec.CandidateID, updated.Status)
	}
	return nil
}

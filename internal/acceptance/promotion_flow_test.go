package acceptance

import (
	"context"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/hraudit/promotiond/internal/models"
	"github.com/hraudit/promotiond/internal/notify"
	"github.com/hraudit/promotiond/internal/promotion"
	"github.com/hraudit/promotiond/internal/scheduler"
	"github.com/hraudit/promotiond/internal/store"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

type manualTimer struct {
	fn func()
}

func (m *manualTimer) Stop() bool { return true }

type timerControl struct {
	mu     sync.Mutex
	timers []*manualTimer
}

func (tc *timerControl) factory(d time.Duration, f func()) scheduler.Timer {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	timer := &manualTimer{fn: f}
	tc.timers = append(tc.timers, timer)
	return timer
}

func (tc *timerControl) fireLast() {
	tc.mu.Lock()
	timer := tc.timers[len(tc.timers)-1]
	tc.mu.Unlock()
	timer.fn()
}

func TestAcceptDeferProcessFlow(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2024, 3, 11, 10, 0, 0, 0, time.UTC)}
	memStore := store.NewMemoryStore()
	notifier := notify.NewMemoryNotifier()
	quiet := log.New(io.Discard, "", 0)

	svc := promotion.New(memStore, notifier, promotion.Options{
		Location: time.UTC,
		Now:      clock.Now,
		Logger:   quiet,
	})

	// First acceptance of the day goes out immediately.
	first, err := svc.Accept(ctx, promotion.Request{
		CandidateID:  "cand-1",
		GroupID:      "group-1",
		FromRank:     4,
		ToRank:       5,
		ReferenceURL: "https://reports/101",
	})
	if err != nil {
		t.Fatalf("first accept: %v", err)
	}
	if first.Deferred {
		t.Fatalf("first acceptance should not defer")
	}
	if first.Record.Status != models.StatusProcessed || first.Record.DeliveryID == nil {
		t.Fatalf("first record not processed: %+v", first.Record)
	}

	// Second acceptance the same day is deferred to the next midnight.
	clock.Set(time.Date(2024, 3, 11, 14, 30, 0, 0, time.UTC))
	second, err := svc.Accept(ctx, promotion.Request{
		CandidateID:  "cand-1",
		GroupID:      "group-1",
		FromRank:     5,
		ToRank:       6,
		ReferenceURL: "https://reports/102",
	})
	if err != nil {
		t.Fatalf("second accept: %v", err)
	}
	if !second.Deferred {
		t.Fatalf("second acceptance should defer")
	}
	if second.Record.Status != models.StatusPending || second.Record.ScheduledFor == nil {
		t.Fatalf("deferred record malformed: %+v", second.Record)
	}
	wantMidnight := time.Date(2024, 3, 12, 0, 0, 0, 0, time.UTC)
	if !second.Record.ScheduledFor.Equal(wantMidnight) {
		t.Fatalf("scheduled for %v, want %v", second.Record.ScheduledFor, wantMidnight)
	}
	if got := len(notifier.Sends()); got != 1 {
		t.Fatalf("expected 1 delivery so far, got %d", got)
	}

	// The scheduler wakes at midnight and finalizes the deferred record.
	timers := &timerControl{}
	sched := scheduler.New(svc, memStore, notify.StaticResolver{}, scheduler.Config{
		Now:    clock.Now,
		Timer:  timers.factory,
		Logger: quiet,
	})
	if err := sched.Start(ctx); err != nil {
		t.Fatalf("start scheduler: %v", err)
	}
	defer sched.Stop()

	clock.Set(wantMidnight)
	timers.fireLast()

	history, err := svc.History(ctx, "cand-1", 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 history records, got %d", len(history))
	}
	finalized := history[0]
	if finalized.ID != second.Record.ID {
		t.Fatalf("expected deferred record newest, got %+v", finalized)
	}
	if finalized.Status != models.StatusProcessed || finalized.DeliveryID == nil {
		t.Fatalf("deferred record not finalized: %+v", finalized)
	}
	if finalized.Attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", finalized.Attempts)
	}
	if got := len(notifier.Sends()); got != 2 {
		t.Fatalf("expected 2 deliveries total, got %d", got)
	}
}

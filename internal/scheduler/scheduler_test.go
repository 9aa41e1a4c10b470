package scheduler_test

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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
	stopped bool
}

func (m *manualTimer) Stop() bool {
	m.stopped = true
	return true
}

// timerControl records armed timers so tests fire midnight by hand.
type timerControl struct {
	mu     sync.Mutex
	delays []time.Duration
	fires  []func()
	timers []*manualTimer
}

func (c *timerControl) factory(d time.Duration, f func()) scheduler.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	timer := &manualTimer{}
	c.delays = append(c.delays, d)
	c.fires = append(c.fires, f)
	c.timers = append(c.timers, timer)
	return timer
}

func (c *timerControl) fireLast() {
	c.mu.Lock()
	f := c.fires[len(c.fires)-1]
	c.mu.Unlock()
	f()
}

func (c *timerControl) armed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.fires)
}

type fakeResolver struct {
	missing map[string]bool
}

func (r fakeResolver) Resolve(ctx context.Context, groupID string) (notify.GroupContext, error) {
	if r.missing[groupID] {
		return notify.GroupContext{}, notify.ErrContextNotFound
	}
	return notify.GroupContext{ID: groupID}, nil
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

type fixture struct {
	clock    *fakeClock
	timers   *timerControl
	store    *store.MemoryStore
	notifier *notify.MemoryNotifier
	svc      *promotion.Service
	sched    *scheduler.Scheduler
}

func newFixture(t *testing.T, start time.Time, resolver notify.Resolver) *fixture {
	t.Helper()
	clock := &fakeClock{t: start}
	timers := &timerControl{}
	st := store.NewMemoryStore()
	notifier := notify.NewMemoryNotifier()
	svc := promotion.New(st, notifier, promotion.Options{
		Location: time.UTC,
		Now:      clock.Now,
		Logger:   quietLogger(),
	})
	sched := scheduler.New(svc, st, resolver, scheduler.Config{
		Now:    clock.Now,
		Timer:  timers.factory,
		Logger: quietLogger(),
	})
	return &fixture{clock: clock, timers: timers, store: st, notifier: notifier, svc: svc, sched: sched}
}

func deferRecord(t *testing.T, f *fixture, candidate string) models.PromotionRecord {
	t.Helper()
	rec, err := f.svc.ScheduleDeferred(context.Background(), promotion.Request{
		CandidateID:  candidate,
		GroupID:      "group-" + candidate,
		FromRank:     5,
		ToRank:       6,
		ReferenceURL: "https://reports/" + candidate,
	})
	require.NoError(t, err)
	return rec
}

func TestStartCatchUpProcessesOverdue(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, time.Date(2024, 3, 10, 10, 0, 0, 0, time.UTC), nil)

	rec := deferRecord(t, f, "cand-1")

	// The process was down over midnight; the record is overdue at restart.
	f.clock.Set(time.Date(2024, 3, 11, 9, 30, 0, 0, time.UTC))
	require.NoError(t, f.sched.Start(ctx))

	records, err := f.store.History(ctx, "cand-1", 1)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, rec.ID, records[0].ID)
	assert.Equal(t, models.StatusProcessed, records[0].Status)
	assert.Len(t, f.notifier.Sends(), 1)

	status := f.sched.Status()
	assert.Equal(t, string(scheduler.StateScheduled), status.State)
	require.NotNil(t, status.NextWake)
	assert.Equal(t, time.Date(2024, 3, 12, 0, 0, 0, 0, time.UTC), status.NextWake.UTC())
	assert.Equal(t, 1, f.timers.armed())
}

func TestTimerFiresAtMidnightAndRearms(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, time.Date(2024, 3, 10, 10, 0, 0, 0, time.UTC), nil)

	deferRecord(t, f, "cand-1")
	require.NoError(t, f.sched.Start(ctx))

	// Nothing was due at start; the record waits for midnight.
	records, err := f.store.History(ctx, "cand-1", 1)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, records[0].Status)

	f.clock.Set(time.Date(2024, 3, 11, 0, 0, 0, 500*int(time.Millisecond), time.UTC))
	f.timers.fireLast()

	records, err = f.store.History(ctx, "cand-1", 1)
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessed, records[0].Status)
	require.NotNil(t, records[0].DeliveryID)
	assert.Equal(t, 1, records[0].Attempts)

	// Re-armed for the following midnight.
	assert.Equal(t, 2, f.timers.armed())
	status := f.sched.Status()
	require.NotNil(t, status.NextWake)
	assert.Equal(t, time.Date(2024, 3, 12, 0, 0, 0, 0, time.UTC), status.NextWake.UTC())
}

func TestSameDayGuardSkipsSecondRun(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, time.Date(2024, 3, 11, 0, 0, 1, 0, time.UTC), nil)
	require.NoError(t, f.sched.Start(ctx))

	// A due record that appears after the day's batch already ran.
	past := time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC)
	_, err := f.store.Insert(ctx, store.RecordInput{
		CandidateID:  "cand-late",
		GroupID:      "group-late",
		RequestedAt:  past.Add(-time.Hour),
		FromRank:     5,
		ToRank:       6,
		ReferenceURL: "https://reports/late",
		Status:       models.StatusPending,
		ScheduledFor: &past,
	})
	require.NoError(t, err)

	f.clock.Set(time.Date(2024, 3, 11, 23, 59, 0, 0, time.UTC))
	require.NoError(t, f.sched.ProcessDue(ctx))

	records, err := f.store.History(ctx, "cand-late", 1)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, models.StatusPending, records[0].Status)
	assert.Empty(t, f.notifier.Sends())
}

func TestContextUnavailableFailsRecordAndContinues(t *testing.T) {
	ctx := context.Background()
	resolver := fakeResolver{missing: map[string]bool{"group-cand-gone": true}}
	f := newFixture(t, time.Date(2024, 3, 10, 10, 0, 0, 0, time.UTC), resolver)

	gone := deferRecord(t, f, "cand-gone")
	alive := deferRecord(t, f, "cand-alive")

	f.clock.Set(time.Date(2024, 3, 11, 0, 0, 1, 0, time.UTC))
	require.NoError(t, f.sched.ProcessDue(ctx))

	goneRecords, err := f.store.History(ctx, "cand-gone", 1)
	require.NoError(t, err)
	require.Len(t, goneRecords, 1)
	assert.Equal(t, gone.ID, goneRecords[0].ID)
	assert.Equal(t, models.StatusFailed, goneRecords[0].Status)
	require.NotNil(t, goneRecords[0].FailureReason)
	assert.Equal(t, "context unavailable", *goneRecords[0].FailureReason)

	aliveRecords, err := f.store.History(ctx, "cand-alive", 1)
	require.NoError(t, err)
	require.Len(t, aliveRecords, 1)
	assert.Equal(t, alive.ID, aliveRecords[0].ID)
	assert.Equal(t, models.StatusProcessed, aliveRecords[0].Status)
}

// selectiveNotifier fails deliveries to the listed candidates, passing the
// rest through to the real in-memory notifier.
type selectiveNotifier struct {
	inner   *notify.MemoryNotifier
	failing map[string]bool
}

func (n *selectiveNotifier) Send(ctx context.Context, req notify.SendRequest) (string, error) {
	if n.failing[req.CandidateID] {
		return "", &notify.DeliveryError{Err: errors.New("channel gone")}
	}
	return n.inner.Send(ctx, req)
}

func TestDeliveryFailureDoesNotAbortBatch(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2024, 3, 10, 10, 0, 0, 0, time.UTC)}
	st := store.NewMemoryStore()
	notifier := &selectiveNotifier{
		inner:   notify.NewMemoryNotifier(),
		failing: map[string]bool{"cand-1": true},
	}
	svc := promotion.New(st, notifier, promotion.Options{
		Location: time.UTC,
		Now:      clock.Now,
		Logger:   quietLogger(),
	})
	sched := scheduler.New(svc, st, nil, scheduler.Config{
		Now:    clock.Now,
		Timer:  (&timerControl{}).factory,
		Logger: quietLogger(),
	})

	for _, candidate := range []string{"cand-1", "cand-2"} {
		_, err := svc.ScheduleDeferred(ctx, promotion.Request{
			CandidateID:  candidate,
			GroupID:      "group-" + candidate,
			FromRank:     5,
			ToRank:       6,
			ReferenceURL: "https://reports/" + candidate,
		})
		require.NoError(t, err)
	}

	clock.Set(time.Date(2024, 3, 11, 0, 0, 1, 0, time.UTC))
	require.NoError(t, sched.ProcessDue(ctx))

	failed, err := st.History(ctx, "cand-1", 1)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, models.StatusFailed, failed[0].Status)
	require.NotNil(t, failed[0].FailureReason)
	assert.Contains(t, *failed[0].FailureReason, "channel gone")

	processed, err := st.History(ctx, "cand-2", 1)
	require.NoError(t, err)
	require.Len(t, processed, 1)
	assert.Equal(t, models.StatusProcessed, processed[0].Status)
}

func TestStopCancelsArmedTimer(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, time.Date(2024, 3, 10, 10, 0, 0, 0, time.UTC), nil)
	require.NoError(t, f.sched.Start(ctx))

	f.sched.Stop()
	assert.Equal(t, string(scheduler.StateStopped), f.sched.Status().State)
	f.timers.mu.Lock()
	defer f.timers.mu.Unlock()
	require.NotEmpty(t, f.timers.timers)
	assert.True(t, f.timers.timers[len(f.timers.timers)-1].stopped)
}

func TestDoubleStartRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, time.Date(2024, 3, 10, 10, 0, 0, 0, time.UTC), nil)
	require.NoError(t, f.sched.Start(ctx))
	assert.Error(t, f.sched.Start(ctx))
}

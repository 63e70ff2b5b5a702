package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thiwi/valiax/internal/dispatch"
)

type staticBuilder struct {
	groups  []DueGroup
	err     error
	block   chan struct{}
	entered chan struct{}
	calls   int32
}

func (b *staticBuilder) BuildDueGroups(ctx context.Context, now time.Time) ([]DueGroup, error) {
	atomic.AddInt32(&b.calls, 1)
	if b.entered != nil {
		b.entered <- struct{}{}
	}
	if b.block != nil {
		<-b.block
	}
	return b.groups, b.err
}

type recordingDispatcher struct {
	mu       sync.Mutex
	requests []dispatch.Request
	fail     map[string]bool
	delay    time.Duration
	inflight int32
	peak     int32
}

func (d *recordingDispatcher) Name() string { return "test" }

func (d *recordingDispatcher) Dispatch(ctx context.Context, req dispatch.Request) (dispatch.Ack, error) {
	n := atomic.AddInt32(&d.inflight, 1)
	defer atomic.AddInt32(&d.inflight, -1)
	for {
		p := atomic.LoadInt32(&d.peak)
		if n <= p || atomic.CompareAndSwapInt32(&d.peak, p, n) {
			break
		}
	}
	if d.delay > 0 {
		time.Sleep(d.delay)
	}
	d.mu.Lock()
	d.requests = append(d.requests, req)
	d.mu.Unlock()
	if d.fail[req.DBConnID] {
		return dispatch.Ack{}, errors.New("runner unreachable")
	}
	return dispatch.Ack{Accepted: req.RuleIDs}, nil
}

type countingExpirer struct{ cutoffs []time.Time }

func (e *countingExpirer) ExpireStale(ctx context.Context, cutoff time.Time) (int, error) {
	e.cutoffs = append(e.cutoffs, cutoff)
	return 2, nil
}

func groupsFor(conns ...string) []DueGroup {
	out := make([]DueGroup, 0, len(conns))
	for _, c := range conns {
		out = append(out, DueGroup{DBConnID: c, RuleIDs: []string{c + "-r1"}})
	}
	return out
}

func TestTickDispatchesEveryGroup(t *testing.T) {
	d := &recordingDispatcher{fail: map[string]bool{"c2": true}}
	exp := &countingExpirer{}
	trig := NewTrigger(&staticBuilder{groups: groupsFor("c1", "c2", "c3")}, d, exp, Config{StaleRunAfter: time.Hour}, testLogger())
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

	report, err := trig.Tick(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Groups)
	assert.Equal(t, 2, report.Dispatched)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 2, report.Expired)
	assert.Len(t, d.requests, 3)
	assert.Equal(t, []time.Time{now.Add(-time.Hour)}, exp.cutoffs)
	assert.Equal(t, Idle, trig.State())
	assert.Equal(t, report, trig.LastTick())
}

func TestTickSkipsWhileRunning(t *testing.T) {
	b := &staticBuilder{groups: groupsFor("c1"), block: make(chan struct{}), entered: make(chan struct{}, 1)}
	d := &recordingDispatcher{}
	trig := NewTrigger(b, d, nil, Config{}, testLogger())

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = trig.Tick(context.Background(), time.Now())
	}()
	<-b.entered
	assert.Equal(t, Running, trig.State())

	_, err := trig.Tick(context.Background(), time.Now())
	assert.ErrorIs(t, err, ErrTickSkipped)
	assert.Equal(t, Overdue, trig.State())

	close(b.block)
	<-done
	assert.Equal(t, Idle, trig.State())
	assert.Equal(t, int32(1), atomic.LoadInt32(&b.calls))
	assert.Len(t, d.requests, 1)
}

func TestTickBuildErrorDispatchesNothing(t *testing.T) {
	d := &recordingDispatcher{}
	trig := NewTrigger(&staticBuilder{err: errors.New("db down")}, d, nil, Config{}, testLogger())

	report, err := trig.Tick(context.Background(), time.Now())
	require.Error(t, err)
	assert.Equal(t, "db down", report.Error)
	assert.Empty(t, d.requests)
	assert.Equal(t, Idle, trig.State())

	// The loop keeps going on the next tick.
	trig.builder = &staticBuilder{groups: groupsFor("c1")}
	_, err = trig.Tick(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Len(t, d.requests, 1)
}

func TestTickBoundsConcurrentDispatches(t *testing.T) {
	d := &recordingDispatcher{delay: 20 * time.Millisecond}
	trig := NewTrigger(&staticBuilder{groups: groupsFor("a", "b", "c", "d", "e", "f")}, d, nil, Config{MaxConcurrentDispatches: 2}, testLogger())

	report, err := trig.Tick(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 6, report.Dispatched)
	assert.LessOrEqual(t, atomic.LoadInt32(&d.peak), int32(2))
}

func TestTickWindowCancelsOnlyPendingDispatches(t *testing.T) {
	d := &recordingDispatcher{delay: 80 * time.Millisecond}
	trig := NewTrigger(&staticBuilder{groups: groupsFor("a", "b", "c")}, d, nil, Config{Window: 30 * time.Millisecond, MaxConcurrentDispatches: 1}, testLogger())

	report, err := trig.Tick(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Dispatched)
	assert.Equal(t, 2, report.Cancelled)
	require.Len(t, d.requests, 1)
	assert.Equal(t, "a", d.requests[0].DBConnID)
}

func TestRunStopsOnCancel(t *testing.T) {
	b := &staticBuilder{}
	trig := NewTrigger(b, &recordingDispatcher{}, nil, Config{Tick: 10 * time.Millisecond}, testLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 55*time.Millisecond)
	defer cancel()

	err := trig.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&b.calls), int32(2))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "running", Running.String())
	assert.Equal(t, "overdue", Overdue.String())
}

package panel

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// manualPolicy's background ticker fires every timeout/2 of wall time, far
// slower than the tests that drive Check with a fake clock.
func manualPolicy(timeout time.Duration) Policy {
	return Policy{Timeout: timeout, CheckInterval: time.Hour}
}

func TestTransition(t *testing.T) {
	const timeout = 15 * time.Second
	tests := []struct {
		name    string
		cur     State
		since   time.Duration
		updated bool
		check   bool
		want    State
	}{
		{"update from uninitialized", StateUninitialized, 0, true, true, StateActive},
		{"update from no data", StateNoData, time.Minute, true, true, StateActive},
		{"within timeout stays", StateActive, timeout, false, true, StateActive},
		{"past timeout goes stale", StateActive, timeout + time.Millisecond, false, true, StateNoData},
		{"uninitialized times out", StateUninitialized, timeout + time.Millisecond, false, true, StateNoData},
		{"check disabled never stale", StateActive, time.Hour, false, false, StateActive},
		{"stopped is terminal", StateStopped, 0, true, true, StateStopped},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Transition(tt.cur, tt.since, tt.updated, timeout, tt.check)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLivenessStartsDisabled(t *testing.T) {
	clock := newFakeClock()
	l := NewLiveness(clock.Now(), 15*time.Second, true)

	assert.Equal(t, StateUninitialized, l.State())
	assert.True(t, l.Disabled())
	assert.False(t, l.HasReceivedData())

	l.RecordUpdate(clock.Now())
	assert.False(t, l.Disabled())
	assert.True(t, l.HasReceivedData())
}

func TestNeverUpdatedGoesStaleWithinOneCheckInterval(t *testing.T) {
	const (
		timeout  = 15 * time.Second
		interval = 2 * time.Second
	)
	clock := newFakeClock()
	created := clock.Now()
	l := NewLiveness(created, timeout, true)

	var staleAt time.Duration
	for elapsed := interval; elapsed <= timeout+2*interval; elapsed += interval {
		clock.Advance(interval)
		if l.Check(clock.Now()) == StateNoData {
			staleAt = clock.Now().Sub(created)
			break
		}
	}

	require.NotZero(t, staleAt, "panel never went stale")
	assert.GreaterOrEqual(t, staleAt, timeout)
	assert.Less(t, staleAt, timeout+interval)
}

func TestUpdatedPanelStaysActiveForTimeout(t *testing.T) {
	const timeout = 15 * time.Second
	clock := newFakeClock()
	l := NewLiveness(clock.Now(), timeout, true)

	clock.Advance(3 * time.Second)
	l.RecordUpdate(clock.Now())

	clock.Advance(timeout)
	assert.Equal(t, StateActive, l.Check(clock.Now()), "still active exactly at t0+T")

	clock.Advance(time.Millisecond)
	assert.Equal(t, StateNoData, l.Check(clock.Now()))

	l.RecordUpdate(clock.Now())
	assert.Equal(t, StateActive, l.State(), "NoData -> Active on the next update")
}

func TestRepeatedUpdatesNeverFlip(t *testing.T) {
	clock := newFakeClock()
	tr := NewTracker(TrackerConfig{Name: "fps", Policy: manualPolicy(15 * time.Second), Now: clock.Now})
	defer tr.Stop()

	for i := 0; i < 120; i++ {
		clock.Advance(time.Second)
		if i%5 == 0 {
			tr.RecordUpdate()
		}
		require.NotEqual(t, StateNoData, tr.Check(), "spurious NoData at step %d", i)
	}
	assert.Equal(t, StateActive, tr.State())
}

func TestTrackerStopIsTerminal(t *testing.T) {
	clock := newFakeClock()
	var mu sync.Mutex
	var changes []State

	tr := NewTracker(TrackerConfig{
		Name:   "memory",
		Policy: manualPolicy(time.Second),
		Now:    clock.Now,
		OnStateChange: func(name string, from, to State) {
			mu.Lock()
			changes = append(changes, to)
			mu.Unlock()
		},
	})

	tr.RecordUpdate()
	tr.Stop()
	tr.Stop()

	clock.Advance(time.Minute)
	assert.Equal(t, StateStopped, tr.Check())
	assert.Equal(t, StateStopped, tr.RecordUpdate())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{StateActive, StateStopped}, changes)
}

func TestTrackerCheckDisabled(t *testing.T) {
	clock := newFakeClock()
	tr := NewTracker(TrackerConfig{
		Name:   "websocket",
		Policy: Policy{Timeout: time.Second, CheckInterval: time.Hour, CheckDisabled: true},
		Now:    clock.Now,
	})
	defer tr.Stop()

	tr.RecordUpdate()
	clock.Advance(time.Hour)
	assert.Equal(t, StateActive, tr.Check())
}

func TestTrackerBackgroundCheck(t *testing.T) {
	stale := make(chan struct{}, 1)
	tr := NewTracker(TrackerConfig{
		Name:   "cpu",
		Policy: Policy{Timeout: 50 * time.Millisecond, CheckInterval: 10 * time.Millisecond},
		OnStateChange: func(name string, from, to State) {
			if to == StateNoData {
				select {
				case stale <- struct{}{}:
				default:
				}
			}
		},
	})
	defer tr.Stop()

	tr.RecordUpdate()
	assert.Equal(t, StateActive, tr.State())

	select {
	case <-stale:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for background check to mark panel stale")
	}
	assert.True(t, tr.Disabled())
}

func TestBoardObserve(t *testing.T) {
	clock := newFakeClock()
	board := NewBoard(BoardConfig{
		Default: manualPolicy(15 * time.Second),
		Overrides: map[string]Policy{
			"websocket": manualPolicy(time.Minute),
		},
		Now: clock.Now,
	})
	defer board.Stop()

	board.Observe([]string{"fps", "memory"})

	fps, ok := board.Tracker("fps")
	require.True(t, ok)
	assert.Equal(t, StateActive, fps.State())

	heap, _ := board.Tracker("jsHeap")
	assert.Equal(t, StateActive, heap.State(), "jsHeap reads the memory section")

	dom, _ := board.Tracker("dom")
	assert.Equal(t, StateUninitialized, dom.State())

	ws, _ := board.Tracker("websocket")
	assert.Equal(t, time.Minute, ws.Policy().Timeout)

	errs, _ := board.Tracker("pageErrors")
	assert.Equal(t, 60*time.Second, errs.Policy().Timeout, "built-in bursty policy")

	counts := board.Counts()
	assert.Equal(t, 3, counts[StateActive])
	assert.Equal(t, len(Catalog)-3, counts[StateUninitialized])

	statuses := board.Statuses()
	require.Len(t, statuses, len(Catalog))
	assert.Equal(t, "fps", statuses[0].Name)
}

func TestBoardReset(t *testing.T) {
	clock := newFakeClock()
	board := NewBoard(BoardConfig{Default: manualPolicy(time.Second), Now: clock.Now})
	defer board.Stop()

	board.Observe([]string{"cpu"})
	board.Reset()

	cpu, _ := board.Tracker("cpu")
	assert.Equal(t, StateUninitialized, cpu.State())
	assert.False(t, cpu.Snapshot().HasReceivedData)
}

func TestPolicyClampsCheckInterval(t *testing.T) {
	tests := []struct {
		name   string
		policy Policy
		want   time.Duration
	}{
		{"default interval over short timeout", Policy{Timeout: time.Second}, 500 * time.Millisecond},
		{"interval longer than timeout", Policy{Timeout: 10 * time.Second, CheckInterval: time.Minute}, 5 * time.Second},
		{"interval already short", Policy{Timeout: 15 * time.Second, CheckInterval: 2 * time.Second}, 2 * time.Second},
		{"defaults", Policy{}, 2 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTracker(TrackerConfig{Name: "fps", Policy: tt.policy})
			defer tr.Stop()
			assert.Equal(t, tt.want, tr.Policy().CheckInterval)
			assert.Less(t, tr.Policy().CheckInterval, tr.Policy().Timeout)
		})
	}
}

func TestBoardResetCallbackCanReadBoard(t *testing.T) {
	clock := newFakeClock()
	var board *Board
	var once sync.Once
	stopped := make(chan struct{})

	board = NewBoard(BoardConfig{
		Default: manualPolicy(time.Minute),
		Now:     clock.Now,
		OnStateChange: func(name string, from, to State) {
			if to != StateUninitialized {
				return
			}
			once.Do(func() {
				go func() {
					board.Stop()
					close(stopped)
				}()
				// Let Stop queue for the board's write lock.
				time.Sleep(20 * time.Millisecond)
			})
			board.Statuses()
		},
	})
	board.Observe([]string{"cpu"})

	done := make(chan struct{})
	go func() {
		board.Reset()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Reset blocked while a callback read the board")
	}
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not finish")
	}
}

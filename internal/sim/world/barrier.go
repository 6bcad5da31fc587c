package world

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// stepBarrier holds the coordinator in AWAITING_INFLUENCES until every body
// registered at the start of the step has reported, or the timeout fires.
// Each arm starts a new generation; report marks carry the generation, so a
// step re-run after an aborted wait starts from zero reports.
type stepBarrier struct {
	received atomic.Int64
	expected atomic.Int64

	mu      sync.Mutex
	step    uint64
	gen     uint64
	armed   bool
	release chan struct{}
	once    *sync.Once
}

func newStepBarrier() *stepBarrier {
	return &stepBarrier{release: make(chan struct{}), once: new(sync.Once)}
}

func (b *stepBarrier) arm(step uint64, expected int) (gen uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.gen++
	b.step = step
	b.armed = true
	b.received.Store(0)
	b.expected.Store(int64(expected))
	b.release = make(chan struct{})
	b.once = new(sync.Once)
	b.checkLocked()
	return b.gen
}

func (b *stepBarrier) disarm() {
	b.mu.Lock()
	b.armed = false
	b.mu.Unlock()
}

// arrive counts one report for step. mark receives the current generation
// and is called under the barrier lock so a report can never leak into
// another generation's count.
func (b *stepBarrier) arrive(step uint64, mark func(gen uint64) bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.armed || b.step != step || !mark(b.gen) {
		return false
	}
	b.received.Add(1)
	b.checkLocked()
	return true
}

// forgive lowers the quorum for a body that was removed before reporting.
func (b *stepBarrier) forgive(step uint64, reported func(gen uint64) bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.armed || b.step != step || reported(b.gen) {
		return
	}
	b.expected.Add(-1)
	b.checkLocked()
}

func (b *stepBarrier) checkLocked() {
	if b.received.Load() >= b.expected.Load() {
		rel := b.release
		b.once.Do(func() { close(rel) })
	}
}

// wait blocks until quorum, timeout, cancellation or stop. The timer never
// outlives the call.
func (b *stepBarrier) wait(ctx context.Context, stop <-chan struct{}, timeout time.Duration) (timedOut bool, err error) {
	b.mu.Lock()
	rel := b.release
	b.mu.Unlock()

	var expire <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expire = t.C
	}
	select {
	case <-rel:
		return false, nil
	case <-expire:
		return true, nil
	case <-ctx.Done():
		return false, ctx.Err()
	case <-stop:
		return false, ErrStopped
	}
}

func (b *stepBarrier) counts() (received, expected int) {
	return int(b.received.Load()), int(b.expected.Load())
}

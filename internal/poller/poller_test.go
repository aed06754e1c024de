package poller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/unklstewy/flightglobe/internal/reconcile"
	"github.com/unklstewy/flightglobe/pkg/flights"
)

type stubSource struct {
	batch flights.Batch
	calls int32
	delay time.Duration
}

func (s *stubSource) Fetch(ctx context.Context) flights.Batch {
	atomic.AddInt32(&s.calls, 1)
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	return s.batch
}

// overlapTarget fails the test if two reconciles ever run at once.
type overlapTarget struct {
	t       *testing.T
	active  int32
	calls   int32
	err     error
	mu      sync.Mutex
	batches [][]flights.Record
}

func (o *overlapTarget) Reconcile(ctx context.Context, records []flights.Record) (reconcile.Result, error) {
	if atomic.AddInt32(&o.active, 1) != 1 {
		o.t.Error("reconcile calls overlapped")
	}
	defer atomic.AddInt32(&o.active, -1)
	atomic.AddInt32(&o.calls, 1)

	o.mu.Lock()
	o.batches = append(o.batches, records)
	o.mu.Unlock()
	return reconcile.Result{Created: len(records)}, o.err
}

func TestRunOnce(t *testing.T) {
	src := &stubSource{batch: flights.Batch{Records: flights.FallbackRecords()[:2]}}
	tgt := &overlapTarget{t: t}
	p := New(src, tgt, time.Second, nil)

	res, err := p.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if res.Created != 2 {
		t.Errorf("Expected 2 created, got %d", res.Created)
	}

	st := p.Stats()
	if st.Cycles != 1 || st.InRegion != 2 || st.LastError != "" {
		t.Errorf("Unexpected stats: %+v", st)
	}
}

func TestRunOnceFallbackAndNotReady(t *testing.T) {
	src := &stubSource{batch: flights.Batch{
		Records:  flights.FallbackRecords(),
		Fallback: true,
		Err:      errors.New("feed down"),
	}}
	tgt := &overlapTarget{t: t, err: reconcile.ErrTemplateNotReady}
	p := New(src, tgt, time.Second, nil)

	_, err := p.RunOnce(context.Background())
	if !errors.Is(err, reconcile.ErrTemplateNotReady) {
		t.Fatalf("Expected ErrTemplateNotReady, got %v", err)
	}

	st := p.Stats()
	if st.Fallbacks != 1 || st.NotReady != 1 {
		t.Errorf("Unexpected stats: %+v", st)
	}
}

type panicTarget struct{}

func (panicTarget) Reconcile(context.Context, []flights.Record) (reconcile.Result, error) {
	panic("boom")
}

func TestRunOnceRecoversPanic(t *testing.T) {
	p := New(&stubSource{}, panicTarget{}, time.Second, nil)
	if _, err := p.RunOnce(context.Background()); err == nil {
		t.Error("Expected an error from the panicking cycle")
	}
	if p.Stats().Cycles != 1 {
		t.Error("Expected the cycle to be counted")
	}
}

type recordingObserver struct {
	batches int32
	cycles  int32
}

func (r *recordingObserver) ObserveBatch(flights.Batch)        { atomic.AddInt32(&r.batches, 1) }
func (r *recordingObserver) ObserveCycle(flights.Batch, error) { atomic.AddInt32(&r.cycles, 1) }

// TestRunNoOverlap runs cycles slower than the interval and checks they never overlap.
func TestRunNoOverlap(t *testing.T) {
	src := &stubSource{delay: 30 * time.Millisecond}
	tgt := &overlapTarget{t: t}
	obs := &recordingObserver{}
	p := New(src, tgt, 5*time.Millisecond, nil)
	p.SetObserver(obs)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	if err := p.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected context deadline, got %v", err)
	}

	calls := atomic.LoadInt32(&tgt.calls)
	if calls < 2 {
		t.Errorf("Expected several cycles, got %d", calls)
	}
	// every cycle takes at least 30ms, so 200ms allows no more than 7 of them
	if calls > 8 {
		t.Errorf("Expected cycles to be serialized, got %d", calls)
	}
	if atomic.LoadInt32(&obs.cycles) != calls {
		t.Errorf("Expected observer to see %d cycles, saw %d", calls, obs.cycles)
	}
}

func TestRunFirstCycleImmediate(t *testing.T) {
	src := &stubSource{}
	p := New(src, &overlapTarget{t: t}, time.Hour, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	p.Run(ctx)

	if atomic.LoadInt32(&src.calls) != 1 {
		t.Errorf("Expected exactly one immediate cycle, got %d", src.calls)
	}
}

func TestNewDefaultInterval(t *testing.T) {
	p := New(&stubSource{}, &overlapTarget{t: t}, 0, nil)
	if p.interval != DefaultInterval {
		t.Errorf("Expected %v, got %v", DefaultInterval, p.interval)
	}
}

package resilience

import (
	"context"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	werrors "walletkit/core/errors"
)

func TestQueueIsFIFOAndSpaced(t *testing.T) {
	const interval = 20 * time.Millisecond
	q := NewQueue(interval)
	defer q.Close()

	var mu sync.Mutex
	var order []int
	var starts []time.Time
	futures := make([]*Future, 0, 4)
	for i := 0; i < 4; i++ {
		i := i
		futures = append(futures, q.Enqueue(context.Background(), func(ctx context.Context) error {
			mu.Lock()
			order = append(order, i)
			starts = append(starts, time.Now())
			mu.Unlock()
			return nil
		}))
	}
	for _, f := range futures {
		if err := f.Wait(context.Background()); err != nil {
			t.Fatalf("wait: %v", err)
		}
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("expected FIFO order, got %v", order)
		}
	}
	for i := 1; i < len(starts); i++ {
		if gap := starts[i].Sub(starts[i-1]); gap < interval-2*time.Millisecond {
			t.Fatalf("tasks %d and %d started %s apart", i-1, i, gap)
		}
	}
}

func TestQueueSpacesConcurrentBursts(t *testing.T) {
	const (
		interval = 15 * time.Millisecond
		workers  = 8
	)
	q := NewQueue(interval)
	defer q.Close()

	var (
		mu     sync.Mutex
		starts []time.Time
		wg     sync.WaitGroup
	)
	start := make(chan struct{})
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			errs <- q.Enqueue(context.Background(), func(ctx context.Context) error {
				mu.Lock()
				starts = append(starts, time.Now())
				mu.Unlock()
				return nil
			}).Wait(context.Background())
		}()
	}
	close(start)
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("wait: %v", err)
		}
	}
	if len(starts) != workers {
		t.Fatalf("expected %d tasks to run, got %d", workers, len(starts))
	}
	for i := 1; i < len(starts); i++ {
		if gap := starts[i].Sub(starts[i-1]); gap < interval-2*time.Millisecond {
			t.Fatalf("tasks %d and %d started %s apart under concurrent enqueue", i-1, i, gap)
		}
	}
}

func TestQueueSkipsCancelledWork(t *testing.T) {
	q := NewQueue(0)
	defer q.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var ran int32
	err := q.Enqueue(ctx, func(context.Context) error {
		atomic.AddInt32(&ran, 1)
		return nil
	}).Wait(context.Background())
	if !stderrors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if ran != 0 {
		t.Fatalf("cancelled task must not run")
	}
}

func TestQueueRejectsAfterClose(t *testing.T) {
	q := NewQueue(0)
	q.Close()
	if err := q.Enqueue(context.Background(), func(context.Context) error { return nil }).Wait(context.Background()); !stderrors.Is(err, ErrQueueClosed) {
		t.Fatalf("expected closed queue error, got %v", err)
	}
}

func TestFailoverRemembersLastSuccess(t *testing.T) {
	var downHits int32
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&downHits, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer down.Close()
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer up.Close()

	c := NewCaller(Config{Policy: Policy{MaxAttempts: 2, BaseDelay: time.Millisecond}}, WithSleep(noSleep))
	defer c.Close()
	fo, err := NewFailover(c, "node", []string{down.URL, up.URL})
	if err != nil {
		t.Fatalf("new failover: %v", err)
	}
	get := func(ctx context.Context, url string) error {
		req, _ := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			return &StatusError{Code: resp.StatusCode}
		}
		return nil
	}
	if err := fo.Do(context.Background(), "/ping", get); err != nil {
		t.Fatalf("first call: %v", err)
	}
	if fo.Preferred() != up.URL {
		t.Fatalf("expected preferred endpoint to move to %s, got %s", up.URL, fo.Preferred())
	}
	before := atomic.LoadInt32(&downHits)
	if err := fo.Do(context.Background(), "/ping", get); err != nil {
		t.Fatalf("second call: %v", err)
	}
	if atomic.LoadInt32(&downHits) != before {
		t.Fatalf("second call should start at the remembered endpoint")
	}
}

func TestFailoverAggregatesFailures(t *testing.T) {
	c := NewCaller(Config{Policy: Policy{MaxAttempts: 1}}, WithSleep(noSleep))
	defer c.Close()
	fo, _ := NewFailover(c, "node", []string{"http://a", "http://b"})
	err := fo.Do(context.Background(), "/x", func(ctx context.Context, url string) error {
		return &StatusError{Code: 503}
	})
	var agg *FailoverError
	if !stderrors.As(err, &agg) {
		t.Fatalf("expected FailoverError, got %v", err)
	}
	if len(agg.Failures) != 2 {
		t.Fatalf("expected one failure per endpoint, got %d", len(agg.Failures))
	}
	if !stderrors.Is(err, werrors.ErrTransientNetwork) {
		t.Fatalf("aggregate should carry transient category, got %s", werrors.CategoryOf(err))
	}
}

func TestFailoverStopsOnDefinitiveAnswer(t *testing.T) {
	c := NewCaller(Config{Policy: Policy{MaxAttempts: 1}}, WithSleep(noSleep))
	defer c.Close()
	fo, _ := NewFailover(c, "node", []string{"http://a", "http://b"})
	var calls int32
	err := fo.Do(context.Background(), "/x", func(ctx context.Context, url string) error {
		atomic.AddInt32(&calls, 1)
		return werrors.Rejected("seqno mismatch", nil)
	})
	if !stderrors.Is(err, werrors.ErrRejected) || calls != 1 {
		t.Fatalf("expected single rejected call, got %v after %d calls", err, calls)
	}
}

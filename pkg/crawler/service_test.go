package crawler_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tdex-network/escrowd/pkg/crawler"
	"golang.org/x/time/rate"
)

type counterObservable struct {
	key      string
	polls    atomic.Int32
	doneAt   int32
	failAt   int32
	interval time.Duration
}

func (o *counterObservable) Key() string {
	return o.key
}

func (o *counterObservable) Observe(context.Context) (time.Duration, bool, error) {
	n := o.polls.Add(1)
	if n == o.failAt {
		return 0, false, errors.New("poll failed")
	}
	return o.interval, o.doneAt > 0 && n >= o.doneAt, nil
}

func TestCrawler(t *testing.T) {
	t.Parallel()

	var (
		lock sync.Mutex
		errs []error
	)
	svc := crawler.NewService(crawler.Opts{
		Interval:  10 * time.Millisecond,
		RateLimit: rate.Inf,
		ErrorHandler: func(err error) {
			lock.Lock()
			defer lock.Unlock()
			errs = append(errs, err)
		},
	})
	go svc.Start()

	finite := &counterObservable{key: "finite", doneAt: 3, failAt: 2}
	endless := &counterObservable{key: "endless", interval: 5 * time.Millisecond}

	svc.AddObservable(finite)
	svc.AddObservable(endless)
	// Observables are unique by key.
	svc.AddObservable(&counterObservable{key: "endless"})
	require.True(t, svc.IsObserving("endless"))

	events := svc.GetEventChannel()
	var failed, done bool
	timeout := time.After(5 * time.Second)
	for !failed || !done {
		select {
		case ev := <-events:
			e, ok := ev.(crawler.ObservableEvent)
			require.True(t, ok)
			require.Equal(t, "finite", e.Key)
			switch e.Type() {
			case crawler.ObservationFailed:
				failed = true
				require.Error(t, e.Err)
			case crawler.ObservationDone:
				done = true
			}
		case <-timeout:
			t.Fatal("timeout waiting for crawler events")
		}
	}

	require.Eventually(t, func() bool {
		return !svc.IsObserving("finite")
	}, time.Second, 10*time.Millisecond)
	require.Equal(t, int32(3), finite.polls.Load())
	require.Eventually(t, func() bool {
		lock.Lock()
		defer lock.Unlock()
		return len(errs) == 1
	}, time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return endless.polls.Load() >= 3
	}, time.Second, 5*time.Millisecond)
	svc.RemoveObservable("endless")
	require.False(t, svc.IsObserving("endless"))
	polls := endless.polls.Load()
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, polls, endless.polls.Load())

	svc.Stop()
	svc.AddObservable(&counterObservable{key: "late"})
	require.False(t, svc.IsObserving("late"))
}

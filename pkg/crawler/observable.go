package crawler

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	New       Status = "NEW"
	Waiting   Status = "WAITING"
	Processed Status = "PROCESSED"
)

type Status string

type observableStatus struct {
	sync.RWMutex
	status Status
}

func NewObservableStatus() *observableStatus {
	return &observableStatus{
		status: New,
	}
}

func (o *observableStatus) Get() Status {
	o.RLock()
	defer o.RUnlock()
	return o.status
}

func (o *observableStatus) Set(status Status) {
	o.Lock()
	defer o.Unlock()
	o.status = status
}

type observableHandler struct {
	observable       Observable
	interval         time.Duration
	eventChan        chan Event
	errChan          chan error
	observableStatus *observableStatus
	rateLimiter      *rate.Limiter
	onDone           func(h *observableHandler)

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func newObservableHandler(
	observable Observable,
	interval time.Duration,
	eventChan chan Event,
	errChan chan error,
	rateLimiter *rate.Limiter,
	onDone func(h *observableHandler),
) *observableHandler {
	ctx, cancel := context.WithCancel(context.Background())
	return &observableHandler{
		observable:       observable,
		interval:         interval,
		eventChan:        eventChan,
		errChan:          errChan,
		observableStatus: NewObservableStatus(),
		rateLimiter:      rateLimiter,
		onDone:           onDone,
		ctx:              ctx,
		cancel:           cancel,
		done:             make(chan struct{}),
	}
}

func (oh *observableHandler) start() {
	oh.logAction("start")
	defer close(oh.done)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-oh.ctx.Done():
			return
		case <-timer.C:
			next, done := oh.observe()
			if done {
				oh.logAction("done")
				oh.emit(ObservableEvent{EventType: ObservationDone, Key: oh.observable.Key()})
				oh.onDone(oh)
				return
			}
			if next <= 0 {
				next = oh.interval
			}
			timer.Reset(next)
		}
	}
}

func (oh *observableHandler) observe() (time.Duration, bool) {
	oh.observableStatus.Set(Waiting)
	defer oh.observableStatus.Set(Processed)

	if err := oh.rateLimiter.Wait(oh.ctx); err != nil {
		return 0, false
	}
	next, done, err := oh.observable.Observe(oh.ctx)
	if err != nil {
		if oh.ctx.Err() != nil {
			return 0, false
		}
		oh.emit(ObservableEvent{
			EventType: ObservationFailed, Key: oh.observable.Key(), Err: err,
		})
		select {
		case oh.errChan <- err:
		default:
			log.WithError(err).Warnf("failed to observe %s", oh.observable.Key())
		}
		return oh.interval, false
	}
	return next, done
}

// emit never blocks the observation if nobody is listening for events.
func (oh *observableHandler) emit(event Event) {
	select {
	case oh.eventChan <- event:
	default:
	}
}

func (oh *observableHandler) stop() {
	oh.logAction("stop")
	oh.cancel()
	<-oh.done
}

func (oh *observableHandler) logAction(action string) {
	log.Debugf("%s observing %s", action, oh.observable.Key())
}

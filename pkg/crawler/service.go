package crawler

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	eventQueueMaxSize = 100
	errorQueueMaxSize = 10

	DefaultInterval  = 10 * time.Second
	DefaultRateLimit = rate.Limit(10)
)

type crawler struct {
	interval     time.Duration
	rateLimiter  *rate.Limiter
	errChan      chan error
	eventChan    chan Event
	observables  map[string]*observableHandler
	errorHandler func(err error)
	mutex        *sync.RWMutex
	quit         chan struct{}
	stopOnce     sync.Once
}

// Opts defines the parameters needed for creating a crawler service with
// NewService method. The rate limit is shared by all the observables.
type Opts struct {
	Interval     time.Duration
	RateLimit    rate.Limit
	Burst        int
	ErrorHandler func(err error)
}

// NewService returns a crawler ready to poll observables. Use Start and Stop
// methods to manage it.
func NewService(opts Opts) Service {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = DefaultRateLimit
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	if opts.ErrorHandler == nil {
		opts.ErrorHandler = func(error) {}
	}
	return &crawler{
		interval:     opts.Interval,
		rateLimiter:  rate.NewLimiter(opts.RateLimit, opts.Burst),
		errChan:      make(chan error, errorQueueMaxSize),
		eventChan:    make(chan Event, eventQueueMaxSize),
		observables:  map[string]*observableHandler{},
		errorHandler: opts.ErrorHandler,
		mutex:        &sync.RWMutex{},
		quit:         make(chan struct{}),
	}
}

// Start dispatches the observation errors to the error handler until the
// crawler is stopped. It blocks, so it's meant to be run in a goroutine.
func (c *crawler) Start() {
	for {
		select {
		case err := <-c.errChan:
			c.errorHandler(err)
		case <-c.quit:
			return
		}
	}
}

// Stop stops all the observations and the crawler.
func (c *crawler) Stop() {
	c.stopOnce.Do(func() {
		c.mutex.Lock()
		handlers := make([]*observableHandler, 0, len(c.observables))
		for key, h := range c.observables {
			handlers = append(handlers, h)
			delete(c.observables, key)
		}
		c.mutex.Unlock()

		for _, h := range handlers {
			h.stop()
		}
		close(c.quit)
		select {
		case c.eventChan <- QuitEvent{}:
		default:
		}
	})
}

// GetEventChannel returns Event channel which can be used to listen to
// the end of observations.
func (c *crawler) GetEventChannel() <-chan Event {
	return c.eventChan
}

// AddObservable starts polling the given observable, only if another one
// with the same key is not already observed.
func (c *crawler) AddObservable(observable Observable) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	select {
	case <-c.quit:
		return
	default:
	}

	if _, ok := c.observables[observable.Key()]; ok {
		return
	}
	h := newObservableHandler(
		observable, c.interval, c.eventChan, c.errChan, c.rateLimiter,
		c.forget,
	)
	c.observables[observable.Key()] = h
	go h.start()
}

// RemoveObservable stops observing the observable with the given key. It
// must not be called from within Observe.
func (c *crawler) RemoveObservable(key string) {
	c.mutex.Lock()
	h, ok := c.observables[key]
	delete(c.observables, key)
	c.mutex.Unlock()

	if ok {
		h.stop()
	}
}

func (c *crawler) IsObserving(key string) bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	_, ok := c.observables[key]
	return ok
}

// forget is called by a handler whose observation is over.
func (c *crawler) forget(h *observableHandler) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	key := h.observable.Key()
	if c.observables[key] == h {
		delete(c.observables, key)
	}
}

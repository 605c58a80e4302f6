// Package crawler periodically polls a set of observables, sharing a rate
// limiter among all of them.
package crawler

import (
	"context"
	"time"
)

// Event are emitted through a channel during observation.
type Event interface {
	Type() EventType
}

// Observable represents something that is polled until its observation is
// over. Observe returns the delay before the next poll, and done=true once
// there's nothing more to observe.
type Observable interface {
	Key() string
	Observe(ctx context.Context) (next time.Duration, done bool, err error)
}

// Service is the interface for Crawler
type Service interface {
	Start()
	Stop()
	AddObservable(observable Observable)
	RemoveObservable(key string)
	IsObserving(key string) bool
	GetEventChannel() <-chan Event
}

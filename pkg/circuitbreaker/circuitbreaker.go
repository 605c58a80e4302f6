package circuitbreaker

import (
	"time"

	"github.com/sony/gobreaker"
)

var (
	// MaxNumOfFailingRequests is the number of requests after which the
	// breaker can trip.
	MaxNumOfFailingRequests = 10
	// FailingRatio is the ratio of failed requests that trips the breaker.
	FailingRatio = 0.6
	// OpenTimeout is how long the breaker stays open before letting a trial
	// request through.
	OpenTimeout = 30 * time.Second
)

// NewCircuitBreaker returns a *gobreaker.CircuitBreaker that trips once more
// than MaxNumOfFailingRequests requests were made and the ratio of failures
// reached FailingRatio. The name identifies the breaker in state change
// logs.
func NewCircuitBreaker(
	name string, onStateChange func(name string, from, to gobreaker.State),
) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return int(counts.Requests) > MaxNumOfFailingRequests && ratio >= FailingRatio
		},
		OnStateChange: onStateChange,
	})
}

package protocol

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/escrowd/internal/core/domain"
)

// Task is a single step of a protocol pipeline.
type Task struct {
	Name string
	Run  func(ctx context.Context, tc *TradeContext) error
}

// When returns a task that runs the given tasks in order only if cond holds
// at the time the task is reached.
func When(cond func(tc *TradeContext) bool, tasks ...Task) Task {
	return Task{
		Name: "when",
		Run: func(ctx context.Context, tc *TradeContext) error {
			if !cond(tc) {
				return nil
			}
			for _, task := range tasks {
				if err := runTask(ctx, tc, task); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

// EventType is the kind of a trade event.
type EventType int

const (
	EventStateChanged EventType = iota
	EventPayoutStateChanged
	EventDisputeStateChanged
	EventStepFailed
)

// TradeEvent is emitted for every transition applied to a trade and for
// every failed pipeline.
type TradeEvent struct {
	Type         EventType
	TradeId      string
	State        domain.State
	PayoutState  domain.PayoutState
	DisputeState domain.DisputeState
	Task         string
	Err          error
}

// TradeStore persists the trades updated by the pipelines and dispatches
// their events.
type TradeStore interface {
	SaveTrade(ctx context.Context, trade *domain.Trade) error
	PublishEvent(trade *domain.Trade, event TradeEvent)
}

// TaskRunner executes an ordered list of tasks against one trade. The first
// failing task aborts the pipeline; the failure is recorded in the trade
// that stays at its last good state.
type TaskRunner struct {
	name    string
	tc      *TradeContext
	tasks   []Task
	store   TradeStore
	timeout time.Duration
}

func newTaskRunner(
	name string, tc *TradeContext, store TradeStore, timeout time.Duration,
	tasks ...Task,
) *TaskRunner {
	return &TaskRunner{name, tc, tasks, store, timeout}
}

// Run executes the pipeline. The returned error, if any, is a *TaskError.
func (r *TaskRunner) Run(ctx context.Context) error {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	trade := r.tc.trade
	logger := log.WithFields(log.Fields{
		"trade":    trade.ShortId(),
		"role":     trade.Role,
		"pipeline": r.name,
	})

	for _, task := range r.tasks {
		before := snapshotOf(trade)
		err := runTask(ctx, r.tc, task)
		if err == nil && ctx.Err() != nil {
			err = ctx.Err()
		}
		if err != nil {
			taskErr := toTaskError(task.Name, err)
			trade.AddError(taskErr.Error())
			logger.WithError(taskErr).Warn("pipeline failed")
			r.persist(ctx, trade, before)
			r.store.PublishEvent(trade, TradeEvent{
				Type:    EventStepFailed,
				TradeId: trade.Id,
				State:   trade.State,
				Task:    taskErr.Task,
				Err:     taskErr,
			})
			return taskErr
		}
		logger.Debugf("completed task %s", task.Name)
		r.persist(ctx, trade, before)
	}
	return nil
}

func (r *TaskRunner) persist(ctx context.Context, trade *domain.Trade, before snapshot) {
	// The pipeline context might be expired, the trade must be saved anyway.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := r.store.SaveTrade(saveCtx, trade); err != nil {
		log.WithError(err).Warnf("failed to persist trade %s", trade.ShortId())
	}
	for _, ev := range before.diff(trade) {
		r.store.PublishEvent(trade, ev)
	}
}

func runTask(ctx context.Context, tc *TradeContext, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", task.Name, r)
		}
	}()
	if err := ctx.Err(); err != nil {
		return transportFault(err)
	}
	if err := task.Run(ctx, tc); err != nil {
		var taskErr *TaskError
		if errors.As(err, &taskErr) {
			return err
		}
		return &TaskError{classify(err), task.Name, err}
	}
	return nil
}

func toTaskError(name string, err error) *TaskError {
	var taskErr *TaskError
	if errors.As(err, &taskErr) {
		return taskErr
	}
	return &TaskError{classify(err), name, err}
}

func classify(err error) ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return TransportFault
	}
	return kindOf(err)
}

type snapshot struct {
	state        domain.State
	payoutState  domain.PayoutState
	disputeState domain.DisputeState
}

func snapshotOf(t *domain.Trade) snapshot {
	return snapshot{t.State, t.PayoutState, t.DisputeState}
}

func (s snapshot) diff(t *domain.Trade) []TradeEvent {
	events := make([]TradeEvent, 0)
	newEvent := func(evType EventType) TradeEvent {
		return TradeEvent{
			Type:         evType,
			TradeId:      t.Id,
			State:        t.State,
			PayoutState:  t.PayoutState,
			DisputeState: t.DisputeState,
		}
	}
	if s.state != t.State {
		events = append(events, newEvent(EventStateChanged))
	}
	if s.payoutState != t.PayoutState {
		events = append(events, newEvent(EventPayoutStateChanged))
	}
	if s.disputeState != t.DisputeState {
		events = append(events, newEvent(EventDisputeStateChanged))
	}
	return events
}

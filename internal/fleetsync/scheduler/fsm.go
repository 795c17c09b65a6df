package scheduler

import (
	"context"
	"math"
	"time"

	"github.com/looplab/fsm"

	"github.com/autopeer-io/fleetsync/internal/fleetsync/core/model"
	"github.com/autopeer-io/fleetsync/internal/pkg/metrics"
	fsmutil "github.com/autopeer-io/fleetsync/internal/pkg/util/fsm"
)

const (
	// EventStart (re)arms polling from any state.
	EventStart = "event_start"
	// EventFail moves into backoff after a failed pass.
	EventFail = "event_fail"
	// EventRecover returns to running after a successful pass.
	EventRecover = "event_recover"
	// EventDisable gives up after too many consecutive failures.
	EventDisable = "event_disable"
	// EventStop cancels all timers.
	EventStop = "event_stop"
)

var allStates = []model.PollState{model.PollStopped, model.PollRunning, model.PollBackoff, model.PollDisabled}

type stateMachine struct {
	*fsm.FSM
}

func newStateMachine() *stateMachine {
	m := &stateMachine{}

	var (
		stopped  = string(model.PollStopped)
		running  = string(model.PollRunning)
		backoff  = string(model.PollBackoff)
		disabled = string(model.PollDisabled)
	)

	events := fsm.Events{
		{Name: EventStart, Src: []string{stopped, running, backoff, disabled}, Dst: running},
		{Name: EventFail, Src: []string{running, backoff}, Dst: backoff},
		{Name: EventRecover, Src: []string{running, backoff}, Dst: running},
		{Name: EventDisable, Src: []string{running, backoff}, Dst: disabled},
		{Name: EventStop, Src: []string{stopped, running, backoff, disabled}, Dst: stopped},
	}

	callbacks := fsm.Callbacks{
		"enter_state": fsmutil.WrapEvent(m.actionEnterState),
	}

	m.FSM = fsm.NewFSM(stopped, events, callbacks)
	exportState(model.PollStopped)
	return m
}

// fire runs an event, treating a transition into the current state as success.
func (m *stateMachine) fire(event string) error {
	if err := m.Event(context.Background(), event); fsmutil.IsRealError(err) {
		return err
	}
	return nil
}

func (m *stateMachine) state() model.PollState {
	return model.PollState(m.Current())
}

func (m *stateMachine) actionEnterState(_ context.Context, e *fsm.Event) error {
	exportState(model.PollState(e.Dst))
	return nil
}

func exportState(current model.PollState) {
	for _, s := range allStates {
		v := 0.0
		if s == current {
			v = 1
		}
		metrics.PollerState.WithLabelValues(string(s)).Set(v)
	}
}

// RetryDelay returns the delay before retry number retry (1-based):
// interval * multiplier^retry.
func RetryDelay(interval time.Duration, multiplier float64, retry int) time.Duration {
	if multiplier < 1 {
		multiplier = 1
	}
	return time.Duration(float64(interval) * math.Pow(multiplier, float64(retry)))
}

// NextAfterFailure decides what follows the retry-th consecutive failure:
// either a retry after delay, or disabling once retry exceeds maxRetries.
func NextAfterFailure(interval time.Duration, multiplier float64, retry, maxRetries int) (delay time.Duration, disable bool) {
	if retry > maxRetries {
		return 0, true
	}
	return RetryDelay(interval, multiplier, retry), false
}

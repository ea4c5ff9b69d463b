package orchestrator

import (
	"context"
	"time"

	"github.com/looplab/fsm"

	"github.com/palisade-ai/palisade/engine/core"
	"github.com/palisade-ai/palisade/pkg/logger"
)

const (
	StateReceived    = "received"
	StateAuthorizing = "authorizing"
	StateDenied      = "denied"
	StateRetrieving  = "retrieving"
	StateRedacting   = "redacting"
	StateRouting     = "routing"
	StateCompleted   = "completed"
	StateFailed      = "failed"
)

const (
	EventBegin          = "begin"
	EventAuthorized     = "authorized"
	EventDeny           = "deny"
	EventRetrieved      = "retrieved"
	EventRedacted       = "redacted"
	EventRouteSucceeded = "route_succeeded"
	EventFailure        = "failure"
)

type pipelineDeps interface {
	OnEnterAuthorizing(ctx context.Context, state *queryState) transitionResult
	OnEnterDenied(ctx context.Context, state *queryState) transitionResult
	OnEnterRetrieving(ctx context.Context, state *queryState) transitionResult
	OnEnterRedacting(ctx context.Context, state *queryState) transitionResult
	OnEnterRouting(ctx context.Context, state *queryState) transitionResult
	OnEnterCompleted(ctx context.Context, state *queryState) transitionResult
	OnEnterFailed(ctx context.Context, state *queryState) transitionResult
}

type transitionResult struct {
	Event string
	Err   error
}

func newPipelineFSM(ctx context.Context, deps pipelineDeps) *fsm.FSM {
	observer := &transitionObserver{now: time.Now, baseCtx: ctx}
	return fsm.NewFSM(
		StateReceived,
		pipelineEvents(),
		pipelineCallbacks(observer, deps),
	)
}

func pipelineEvents() fsm.Events {
	return fsm.Events{
		{Name: EventBegin, Src: []string{StateReceived}, Dst: StateAuthorizing},
		{Name: EventAuthorized, Src: []string{StateAuthorizing}, Dst: StateRetrieving},
		{Name: EventDeny, Src: []string{StateAuthorizing}, Dst: StateDenied},
		{Name: EventRetrieved, Src: []string{StateRetrieving}, Dst: StateRedacting},
		{Name: EventRedacted, Src: []string{StateRedacting}, Dst: StateRouting},
		{Name: EventRouteSucceeded, Src: []string{StateRouting}, Dst: StateCompleted},
		{
			Name: EventFailure,
			Src: []string{
				StateAuthorizing,
				StateRetrieving,
				StateRedacting,
				StateRouting,
			},
			Dst: StateFailed,
		},
	}
}

func pipelineCallbacks(observer *transitionObserver, deps pipelineDeps) fsm.Callbacks {
	callbacks := fsm.Callbacks{
		"before_event": func(cbCtx context.Context, e *fsm.Event) { observer.BeforeEvent(cbCtx, e) },
		"after_event":  func(cbCtx context.Context, e *fsm.Event) { observer.AfterEvent(cbCtx, e) },
	}
	enter := func(handler func(pipelineDeps, context.Context, *queryState) transitionResult) fsm.Callback {
		return makeEnterCallback(observer, deps, handler)
	}
	callbacks["enter_"+StateAuthorizing] = enter(func(d pipelineDeps, cbCtx context.Context, s *queryState) transitionResult {
		return d.OnEnterAuthorizing(cbCtx, s)
	})
	callbacks["enter_"+StateDenied] = enter(func(d pipelineDeps, cbCtx context.Context, s *queryState) transitionResult {
		return d.OnEnterDenied(cbCtx, s)
	})
	callbacks["enter_"+StateRetrieving] = enter(func(d pipelineDeps, cbCtx context.Context, s *queryState) transitionResult {
		return d.OnEnterRetrieving(cbCtx, s)
	})
	callbacks["enter_"+StateRedacting] = enter(func(d pipelineDeps, cbCtx context.Context, s *queryState) transitionResult {
		return d.OnEnterRedacting(cbCtx, s)
	})
	callbacks["enter_"+StateRouting] = enter(func(d pipelineDeps, cbCtx context.Context, s *queryState) transitionResult {
		return d.OnEnterRouting(cbCtx, s)
	})
	callbacks["enter_"+StateCompleted] = enter(func(d pipelineDeps, cbCtx context.Context, s *queryState) transitionResult {
		return d.OnEnterCompleted(cbCtx, s)
	})
	callbacks["enter_"+StateFailed] = enter(func(d pipelineDeps, cbCtx context.Context, s *queryState) transitionResult {
		return d.OnEnterFailed(cbCtx, s)
	})
	return callbacks
}

func makeEnterCallback(
	observer *transitionObserver,
	deps pipelineDeps,
	handler func(pipelineDeps, context.Context, *queryState) transitionResult,
) fsm.Callback {
	return func(cbCtx context.Context, e *fsm.Event) {
		callCtx := observer.resolveContext(cbCtx)
		state := stateFromEvent(callCtx, e)
		if deps == nil {
			return
		}
		applyTransitionResult(callCtx, e, handler(deps, callCtx, state))
	}
}

func applyTransitionResult(ctx context.Context, e *fsm.Event, result transitionResult) {
	if result.Event == "" && result.Err == nil {
		return
	}
	state := stateFromEvent(ctx, e)
	if result.Err != nil {
		state.err = result.Err
		if result.Event == "" {
			result.Event = EventFailure
		}
	}
	if err := e.FSM.Event(ctx, result.Event, state); err != nil && state.err == nil {
		state.err = err
	}
}

func stateFromEvent(ctx context.Context, e *fsm.Event) *queryState {
	if e != nil && len(e.Args) > 0 {
		if state, ok := e.Args[0].(*queryState); ok && state != nil {
			return state
		}
	}
	logger.FromContext(ctx).Error("pipeline state missing from event args", "event", eventName(e))
	return &queryState{}
}

func eventName(e *fsm.Event) string {
	if e == nil {
		return ""
	}
	return e.Event
}

type transitionObserver struct {
	now     func() time.Time
	baseCtx context.Context
}

func (o *transitionObserver) resolveContext(cbCtx context.Context) context.Context {
	if cbCtx != nil {
		return cbCtx
	}
	if o != nil && o.baseCtx != nil {
		return o.baseCtx
	}
	return context.TODO()
}

func (o *transitionObserver) BeforeEvent(cbCtx context.Context, e *fsm.Event) {
	resolvedCtx := o.resolveContext(cbCtx)
	state := stateFromEvent(resolvedCtx, e)
	state.eventStartedAt = o.now()
	logger.FromContext(resolvedCtx).Debug(
		"pipeline transition start",
		"event", e.Event,
		"from_state", e.Src,
		"to_state", e.Dst,
	)
}

func (o *transitionObserver) AfterEvent(cbCtx context.Context, e *fsm.Event) {
	resolvedCtx := o.resolveContext(cbCtx)
	state := stateFromEvent(resolvedCtx, e)
	keyvals := []any{
		"event", e.Event,
		"from_state", e.Src,
		"to_state", e.Dst,
	}
	if !state.eventStartedAt.IsZero() {
		keyvals = append(keyvals, "duration_ms", o.now().Sub(state.eventStartedAt).Milliseconds())
	}
	if state.err != nil {
		keyvals = append(keyvals, "error", core.RedactError(state.err))
	}
	logger.FromContext(resolvedCtx).Debug("pipeline transition complete", keyvals...)
}

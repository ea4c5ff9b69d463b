package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/palisade-ai/palisade/engine/audit"
	"github.com/palisade-ai/palisade/engine/auth"
	"github.com/palisade-ai/palisade/engine/billing"
	"github.com/palisade-ai/palisade/engine/core"
	"github.com/palisade-ai/palisade/engine/model"
	"github.com/palisade-ai/palisade/engine/pii"
	"github.com/palisade-ai/palisade/engine/retrieval"
	"github.com/palisade-ai/palisade/engine/router"
	"github.com/palisade-ai/palisade/engine/router/adapter"
	"github.com/palisade-ai/palisade/pkg/logger"
)

// Retriever is the retrieval collaborator the pipeline fans context out to.
type Retriever interface {
	Retrieve(ctx context.Context, queryText string, scope core.Scope, topK int) (*retrieval.Result, error)
}

// ModelRouter is the generation collaborator.
type ModelRouter interface {
	Route(ctx context.Context, persona *model.Persona, requestedID string, params adapter.Params) (*router.Outcome, error)
	RouteStream(ctx context.Context, persona *model.Persona, requestedID string, params adapter.Params, fn adapter.StreamFunc) (*router.Outcome, error)
}

// Request is one user query entering the pipeline.
type Request struct {
	Principal      core.Principal
	PersonaID      string
	ModelID        string
	ConversationID string
	Query          string
	TargetScope    *core.Scope
	TopK           int
}

// Result is the terminal output of a completed query.
type Result struct {
	RequestID     string
	Text          string
	ModelUsed     string
	TokensUsed    int
	Cost          decimal.Decimal
	RedactedKinds []string
	ContextItems  int
	Degraded      bool
	Duration      time.Duration
}

// Options tunes generation defaults applied to every request.
type Options struct {
	MaxTokens   int
	Temperature float64
	DefaultTopK int
}

// Orchestrator drives one query through authorization, retrieval, redaction,
// and routing as an explicit state machine. Collaborator failures map to
// well-defined terminal states; audit and billing effects fire exactly once
// per request.
type Orchestrator struct {
	gate      *auth.Gate
	scanner   *pii.Scanner
	retriever Retriever
	router    ModelRouter
	personas  *model.PersonaRegistry
	auditor   audit.Recorder
	ledger    billing.Ledger
	opts      Options
}

func New(
	gate *auth.Gate,
	scanner *pii.Scanner,
	retriever Retriever,
	modelRouter ModelRouter,
	personas *model.PersonaRegistry,
	auditor audit.Recorder,
	ledger billing.Ledger,
	opts Options,
) (*Orchestrator, error) {
	if gate == nil {
		return nil, errors.New("orchestrator: authorization gate is required")
	}
	if scanner == nil {
		return nil, errors.New("orchestrator: pii scanner is required")
	}
	if modelRouter == nil {
		return nil, errors.New("orchestrator: model router is required")
	}
	return &Orchestrator{
		gate:      gate,
		scanner:   scanner,
		retriever: retriever,
		router:    modelRouter,
		personas:  personas,
		auditor:   auditor,
		ledger:    ledger,
		opts:      opts,
	}, nil
}

// queryState is the mutable context one request carries through the machine.
type queryState struct {
	query    core.QueryContext
	rawQuery string
	topK     int

	persona   *model.Persona
	decision  auth.Decision
	retrieval *retrieval.Result

	redactedQuery   string
	redactedContext []string
	findings        []pii.Finding

	streamFn adapter.StreamFunc
	outcome  *router.Outcome
	result   *Result

	startedAt      time.Time
	eventStartedAt time.Time
	err            error
}

// Process runs one query end to end and returns its terminal result. A nil
// error means the machine reached the completed state; every other terminal
// state surfaces a structured error.
func (o *Orchestrator) Process(ctx context.Context, req Request) (*Result, error) {
	return o.run(ctx, req, nil)
}

// ProcessStream is Process with incremental chunk delivery. If the consumer
// aborts mid-stream the request fails, but tokens already delivered are still
// billed.
func (o *Orchestrator) ProcessStream(ctx context.Context, req Request, fn adapter.StreamFunc) (*Result, error) {
	if fn == nil {
		return nil, core.NewError(errors.New("orchestrator: stream func is required"), core.ErrCodeInternal, nil)
	}
	return o.run(ctx, req, fn)
}

func (o *Orchestrator) run(ctx context.Context, req Request, fn adapter.StreamFunc) (*Result, error) {
	queryCtx := core.NewQueryContext(req.Principal, req.PersonaID, req.ModelID, req.ConversationID)
	queryCtx.TargetScope = req.TargetScope
	log := logger.FromContext(ctx).With(
		"request_id", queryCtx.RequestID,
		"user_id", req.Principal.UserID,
	)
	ctx = logger.ContextWithLogger(ctx, log)

	state := &queryState{
		query:     queryCtx,
		rawQuery:  req.Query,
		topK:      req.TopK,
		streamFn:  fn,
		startedAt: time.Now(),
	}
	if state.topK <= 0 {
		state.topK = o.opts.DefaultTopK
	}

	machine := newPipelineFSM(ctx, o)
	if err := machine.Event(ctx, EventBegin, state); err != nil && state.err == nil {
		state.err = err
	}

	switch machine.Current() {
	case StateCompleted:
		return state.result, nil
	case StateDenied, StateFailed:
		return state.result, o.ensureStructured(state.err)
	default:
		log.Error("pipeline halted in non-terminal state", "state", machine.Current())
		return nil, core.NewError(
			fmt.Errorf("orchestrator: pipeline halted in state %s", machine.Current()),
			core.ErrCodeInternal, nil,
		)
	}
}

func (o *Orchestrator) ensureStructured(err error) error {
	if err == nil {
		return core.NewError(errors.New("orchestrator: request did not complete"), core.ErrCodeInternal, nil)
	}
	var structured *core.Error
	if errors.As(err, &structured) {
		return err
	}
	return core.NewError(err, core.ErrCodeInternal, nil)
}

func (o *Orchestrator) OnEnterAuthorizing(ctx context.Context, state *queryState) transitionResult {
	state.decision = o.gate.Authorize(ctx, state.query.Principal, auth.ActionQuery, state.query.EffectiveTarget())
	if !state.decision.Allowed {
		return transitionResult{Event: EventDeny}
	}
	if state.query.PersonaID != "" {
		if o.personas == nil {
			return transitionResult{Err: core.NewError(
				fmt.Errorf("orchestrator: persona %q requested but no registry configured", state.query.PersonaID),
				core.ErrCodeInternal, nil,
			)}
		}
		persona, ok := o.personas.Lookup(state.query.PersonaID)
		if !ok {
			return transitionResult{Err: core.NewError(
				fmt.Errorf("orchestrator: unknown persona %q", state.query.PersonaID),
				core.ErrCodeInternal,
				map[string]any{"persona": state.query.PersonaID},
			)}
		}
		state.persona = persona
	}
	return transitionResult{Event: EventAuthorized}
}

func (o *Orchestrator) OnEnterDenied(ctx context.Context, state *queryState) transitionResult {
	code := core.ErrCodePermissionDenied
	if state.decision.Reason == auth.ReasonScopeViolation {
		code = core.ErrCodeScopeViolation
	}
	state.err = core.NewError(
		fmt.Errorf("orchestrator: request denied (%s)", state.decision.Reason),
		code,
		map[string]any{"reason": state.decision.Reason},
	)
	o.record(ctx, state, audit.EventQueryDenied, map[string]string{
		"reason": state.decision.Reason,
	})
	return transitionResult{}
}

func (o *Orchestrator) OnEnterRetrieving(ctx context.Context, state *queryState) transitionResult {
	if o.retriever == nil {
		state.retrieval = &retrieval.Result{}
		return transitionResult{Event: EventRetrieved}
	}
	result, err := o.retriever.Retrieve(ctx, state.rawQuery, state.decision.EffectiveScope, state.topK)
	if err != nil || result == nil {
		// Retrieval is best effort; the request proceeds without context.
		logger.FromContext(ctx).Warn("retrieval unavailable, proceeding without context",
			"error", core.RedactError(err))
		state.retrieval = &retrieval.Result{Degraded: true}
		return transitionResult{Event: EventRetrieved}
	}
	state.retrieval = result
	if result.Degraded {
		logger.FromContext(ctx).Warn("retrieval degraded, answering with partial context",
			"code", core.ErrCodeRetrievalDegraded, "items", len(result.Items))
	}
	return transitionResult{Event: EventRetrieved}
}

func (o *Orchestrator) OnEnterRedacting(ctx context.Context, state *queryState) transitionResult {
	redacted, findings := o.scanner.Scan(state.rawQuery)
	state.redactedQuery = redacted
	state.findings = findings
	for _, item := range state.retrieval.Items {
		cleanContent, contentFindings := o.scanner.Scan(item.Content)
		state.redactedContext = append(state.redactedContext, cleanContent)
		state.findings = append(state.findings, contentFindings...)
	}
	if len(state.findings) > 0 {
		o.record(ctx, state, audit.EventPIIRedacted, map[string]string{
			"kinds": strings.Join(findingKinds(state.findings), ","),
			"count": strconv.Itoa(len(state.findings)),
		})
	}
	return transitionResult{Event: EventRedacted}
}

func (o *Orchestrator) OnEnterRouting(ctx context.Context, state *queryState) transitionResult {
	params := adapter.Params{
		Prompt:      buildPrompt(state.redactedContext, state.redactedQuery),
		MaxTokens:   o.opts.MaxTokens,
		Temperature: o.opts.Temperature,
	}
	if state.persona != nil {
		params.SystemPrompt = state.persona.SystemPrompt
	}
	var outcome *router.Outcome
	var err error
	if state.streamFn != nil {
		outcome, err = o.router.RouteStream(ctx, state.persona, state.query.RequestedModelID, params, state.streamFn)
	} else {
		outcome, err = o.router.Route(ctx, state.persona, state.query.RequestedModelID, params)
	}
	state.outcome = outcome
	if err != nil {
		return transitionResult{Err: err}
	}
	return transitionResult{Event: EventRouteSucceeded}
}

func (o *Orchestrator) OnEnterCompleted(ctx context.Context, state *queryState) transitionResult {
	response := state.outcome.Response
	state.result = &Result{
		RequestID:     state.query.RequestID,
		Text:          response.Text,
		ModelUsed:     state.outcome.ModelUsed,
		TokensUsed:    response.Tokens,
		Cost:          response.Cost,
		RedactedKinds: findingKinds(state.findings),
		ContextItems:  len(state.retrieval.Items),
		Degraded:      state.outcome.Degraded || state.retrieval.Degraded,
		Duration:      time.Since(state.startedAt),
	}
	o.bill(ctx, state, response)
	o.record(ctx, state, audit.EventQueryCompleted, map[string]string{
		"model":         state.outcome.ModelUsed,
		"tokens":        strconv.Itoa(response.Tokens),
		"cost":          response.Cost.String(),
		"degraded":      strconv.FormatBool(state.result.Degraded),
		"context_items": strconv.Itoa(state.result.ContextItems),
	})
	return transitionResult{}
}

func (o *Orchestrator) OnEnterFailed(ctx context.Context, state *queryState) transitionResult {
	details := map[string]string{}
	var structured *core.Error
	if errors.As(state.err, &structured) {
		details["code"] = structured.Code
	}
	// A stream the consumer abandoned still consumed tokens; bill those,
	// and only those.
	if state.outcome != nil && state.outcome.Response != nil && state.outcome.Response.Tokens > 0 {
		o.bill(ctx, state, state.outcome.Response)
		details["consumed_tokens"] = strconv.Itoa(state.outcome.Response.Tokens)
	}
	o.record(ctx, state, audit.EventQueryFailed, details)
	return transitionResult{}
}

func (o *Orchestrator) bill(ctx context.Context, state *queryState, response *adapter.Response) {
	if o.ledger == nil {
		return
	}
	entry := billing.Entry{
		RequestID: state.query.RequestID,
		UserID:    state.query.Principal.UserID,
		Scope:     state.query.Principal.Scope,
		ModelID:   state.outcome.ModelUsed,
		Tokens:    response.Tokens,
		Cost:      response.Cost,
	}
	if err := o.ledger.Record(ctx, entry); err != nil {
		logger.FromContext(ctx).Error("billing record failed",
			"request_id", state.query.RequestID, "error", core.RedactError(err))
	}
}

func (o *Orchestrator) record(ctx context.Context, state *queryState, eventType string, details map[string]string) {
	if o.auditor == nil {
		return
	}
	o.auditor.Record(ctx, audit.NewEvent(
		eventType,
		state.query.RequestID,
		state.query.Principal.UserID,
		state.query.Principal.Scope,
		details,
	))
}

// buildPrompt renders the fixed generation template: retrieved context first,
// then the redacted question. Context and question are both already redacted.
func buildPrompt(contextItems []string, question string) string {
	if len(contextItems) == 0 {
		return question
	}
	var b strings.Builder
	b.WriteString("Use the following context to answer the question.\n\nContext:\n")
	for _, item := range contextItems {
		b.WriteString("- ")
		b.WriteString(item)
		b.WriteString("\n")
	}
	b.WriteString("\nQuestion: ")
	b.WriteString(question)
	return b.String()
}

func findingKinds(findings []pii.Finding) []string {
	seen := make(map[string]bool, len(findings))
	var kinds []string
	for _, finding := range findings {
		if !seen[finding.Kind] {
			seen[finding.Kind] = true
			kinds = append(kinds, finding.Kind)
		}
	}
	return kinds
}

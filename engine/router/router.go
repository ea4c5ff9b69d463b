package router

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/palisade-ai/palisade/engine/core"
	"github.com/palisade-ai/palisade/engine/model"
	"github.com/palisade-ai/palisade/engine/router/adapter"
	"github.com/palisade-ai/palisade/pkg/logger"
)

// Config tunes per-candidate invocation behavior.
type Config struct {
	AttemptTimeout time.Duration
	MaxRetries     uint64
	RetryBackoff   time.Duration
}

func (c *Config) withDefaults() Config {
	out := Config{AttemptTimeout: 30 * time.Second, MaxRetries: 2, RetryBackoff: 250 * time.Millisecond}
	if c == nil {
		return out
	}
	if c.AttemptTimeout > 0 {
		out.AttemptTimeout = c.AttemptTimeout
	}
	if c.MaxRetries > 0 {
		out.MaxRetries = c.MaxRetries
	}
	if c.RetryBackoff > 0 {
		out.RetryBackoff = c.RetryBackoff
	}
	return out
}

// Outcome is the result of one routed generation, annotated with which model
// actually served it. Degraded is set when that model is not the one the
// request asked for.
type Outcome struct {
	Response  *adapter.Response
	ModelUsed string
	Degraded  bool
}

// Router walks a deterministic candidate chain per request: the requested
// model, then same-capability fallbacks in tier order, ending at the noop
// model. Persona permission is checked before any provider spend.
type Router struct {
	catalog *model.Catalog
	factory adapter.Factory

	clientsMu sync.Mutex
	clients   map[string]adapter.Client

	cfg Config
}

func New(catalog *model.Catalog, factory adapter.Factory, cfg *Config) (*Router, error) {
	if catalog == nil {
		return nil, errors.New("router: catalog is required")
	}
	if factory == nil {
		factory = adapter.DefaultFactory{}
	}
	return &Router{
		catalog: catalog,
		factory: factory,
		clients: make(map[string]adapter.Client),
		cfg:     cfg.withDefaults(),
	}, nil
}

// Route serves params through the first healthy candidate for requestedID.
func (r *Router) Route(ctx context.Context, persona *model.Persona, requestedID string, params adapter.Params) (*Outcome, error) {
	return r.route(ctx, persona, requestedID, params, nil)
}

// RouteStream is Route with chunk delivery. A consumer abort is terminal and
// returns the partial outcome alongside the error so consumed tokens can
// still be accounted for; unconsumed tokens never are.
func (r *Router) RouteStream(ctx context.Context, persona *model.Persona, requestedID string, params adapter.Params, fn adapter.StreamFunc) (*Outcome, error) {
	if fn == nil {
		return nil, core.NewError(errors.New("router: stream func is required"), core.ErrCodeInternal, nil)
	}
	return r.route(ctx, persona, requestedID, params, fn)
}

func (r *Router) route(ctx context.Context, persona *model.Persona, requestedID string, params adapter.Params, fn adapter.StreamFunc) (*Outcome, error) {
	log := logger.FromContext(ctx)
	requestedID = r.resolveRequested(persona, requestedID)
	if persona != nil && !persona.Allows(requestedID) {
		return nil, core.NewError(
			fmt.Errorf("router: persona %q may not use model %q", persona.ID, requestedID),
			core.ErrCodeModelNotPermitted,
			map[string]any{"persona": persona.ID, "model": requestedID},
		)
	}
	if _, ok := r.catalog.Lookup(requestedID); !ok {
		return nil, core.NewError(
			fmt.Errorf("router: model %q is not in the catalog", requestedID),
			core.ErrCodeModelNotPermitted,
			map[string]any{"model": requestedID},
		)
	}

	var lastErr error
	for _, candidate := range r.catalog.FallbackChain(requestedID) {
		if persona != nil && !persona.Allows(candidate.ModelID) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, core.NewError(err, core.ErrCodeProviderUnavailable, map[string]any{"model": requestedID})
		}
		response, err := r.invoke(ctx, candidate, params, fn)
		if err == nil {
			if candidate.ModelID != requestedID {
				log.Info("request served by fallback model",
					"requested", requestedID, "served_by", candidate.ModelID)
				recordFallback(ctx, requestedID, candidate.ModelID)
			}
			return &Outcome{
				Response:  response,
				ModelUsed: candidate.ModelID,
				Degraded:  candidate.ModelID != requestedID,
			}, nil
		}
		if response != nil {
			// Stream aborted by the consumer after chunks were delivered:
			// terminal, with consumed usage preserved.
			return &Outcome{
				Response:  response,
				ModelUsed: candidate.ModelID,
				Degraded:  candidate.ModelID != requestedID,
			}, err
		}
		if ctx.Err() != nil {
			return nil, core.NewError(err, core.ErrCodeProviderUnavailable, map[string]any{"model": candidate.ModelID})
		}
		lastErr = err
		log.Warn("model candidate unavailable, advancing",
			"model", candidate.ModelID, "error", core.RedactError(err))
	}
	return nil, core.NewError(lastErr, core.ErrCodeProviderUnavailable, map[string]any{"model": requestedID})
}

func (r *Router) resolveRequested(persona *model.Persona, requestedID string) string {
	if requestedID != "" {
		return requestedID
	}
	if persona != nil && persona.DefaultModel != "" {
		return persona.DefaultModel
	}
	return model.NoopModelID
}

// invoke runs one candidate with per-attempt timeout and bounded exponential
// retry. A non-nil response on error means chunks were already consumed and
// the failure is terminal for the whole route.
func (r *Router) invoke(ctx context.Context, candidate model.Descriptor, params adapter.Params, fn adapter.StreamFunc) (*adapter.Response, error) {
	client, err := r.client(candidate)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	var response *adapter.Response
	var consumed bool
	backoff := retry.WithMaxRetries(r.cfg.MaxRetries, retry.NewExponential(r.cfg.RetryBackoff))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(ctx, r.cfg.AttemptTimeout)
		defer cancel()
		var attemptErr error
		if fn == nil {
			response, attemptErr = client.Generate(attemptCtx, params)
		} else {
			response, attemptErr = client.GenerateStream(attemptCtx, params, fn)
			if attemptErr != nil && response != nil && response.Tokens > 0 {
				consumed = true
			}
		}
		if attemptErr == nil {
			return nil
		}
		if ctx.Err() != nil || consumed {
			return attemptErr
		}
		response = nil
		return retry.RetryableError(attemptErr)
	})
	recordInvocation(ctx, candidate.ModelID, time.Since(start), err == nil)
	if err != nil && !consumed {
		return nil, err
	}
	return response, err
}

func (r *Router) client(candidate model.Descriptor) (adapter.Client, error) {
	r.clientsMu.Lock()
	defer r.clientsMu.Unlock()
	if client, ok := r.clients[candidate.ModelID]; ok {
		return client, nil
	}
	client, err := r.factory.NewClient(candidate)
	if err != nil {
		return nil, fmt.Errorf("router: build client for %q: %w", candidate.ModelID, err)
	}
	r.clients[candidate.ModelID] = client
	return client, nil
}

// Close releases every cached provider client.
func (r *Router) Close() error {
	r.clientsMu.Lock()
	defer r.clientsMu.Unlock()
	var errs []error
	for id, client := range r.clients {
		if err := client.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", id, err))
		}
	}
	r.clients = make(map[string]adapter.Client)
	return errors.Join(errs...)
}

// Package coordinator wires the routing engine, cost ledger and model
// backend into the terminal handler of the request
// pipeline (spec component K). Grounded on the teacher's proxy
// handler flow (route -> call provider -> meter -> respond) with retry
// added via cenkalti/backoff, matching spec §4.K's "retry the backend
// call up to twice with 100ms/400ms backoff before giving up".
package coordinator

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/alfred-ai/signalhub/internal/backend"
	"github.com/alfred-ai/signalhub/internal/cost"
	"github.com/alfred-ai/signalhub/internal/middleware"
	"github.com/alfred-ai/signalhub/internal/routing"
)

// Coordinator is the terminal Handler of the middleware chain: it
// routes, calls the backend with retry, records cost, and returns the
// response for the response-cache middleware to store.
type Coordinator struct {
	engine  *routing.Engine
	backend backend.ModelBackend
	ledger  *cost.Ledger
	logger  zerolog.Logger
}

// New creates a Coordinator.
func New(engine *routing.Engine, be backend.ModelBackend, ledger *cost.Ledger, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		engine:  engine,
		backend: be,
		ledger:  ledger,
		logger:  logger.With().Str("component", "coordinator").Logger(),
	}
}

// Handle implements middleware.Handler. On context cancellation it
// returns a Cancelled response with zero cost, which the metrics
// middleware must not count as an error (spec §4.K).
func (c *Coordinator) Handle(ctx context.Context, req *middleware.Request) (*middleware.Response, error) {
	selection, cleanedQuery := c.engine.Route(ctx, routing.RouteInput{
		Method:        req.Method,
		QueryText:     req.QueryText,
		ContextTokens: req.ContextTokens,
		PreferredTier: req.PreferredTier,
		SessionID:     req.SessionID,
	})

	callReq := backend.CallRequest{Tier: selection.Tier, Method: req.Method, QueryText: cleanedQuery}

	result, err := c.callWithRetry(ctx, callReq)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			c.ledger.Record(cost.Record{
				ID:        uuid.NewString(),
				Tier:      selection.Tier,
				SessionID: req.SessionID,
				ClientID:  req.ClientID,
				Cancelled: true,
			})
			return &middleware.Response{Tier: selection.Tier, Cancelled: true}, nil
		}
		return nil, err
	}

	recordCost := c.ledger.Calculate(selection.Tier, cost.Usage{InputTokens: result.InputTokens, OutputTokens: result.OutputTokens})
	c.ledger.Record(cost.Record{
		ID:            uuid.NewString(),
		Tier:          selection.Tier,
		InputTokens:   result.InputTokens,
		OutputTokens:  result.OutputTokens,
		Cost:          recordCost,
		RoutingReason: selection.Decision.Reason,
		ToolName:      req.ToolName,
		SessionID:     req.SessionID,
		ClientID:      req.ClientID,
	})

	return &middleware.Response{Tier: selection.Tier, Body: result.Body}, nil
}

// callWithRetry retries a transient backend failure twice with
// 100ms/400ms backoff, matching the original's retry policy for
// provider timeouts and 5xx responses.
func (c *Coordinator) callWithRetry(ctx context.Context, req backend.CallRequest) (backend.CallResponse, error) {
	var result backend.CallResponse

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 400 * time.Millisecond
	b.Multiplier = 4
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, 2), ctx)

	err := backoff.Retry(func() error {
		var callErr error
		result, callErr = c.backend.Call(ctx, req)
		if callErr != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(callErr)
			}
			c.logger.Warn().Err(callErr).Msg("backend call failed, retrying")
			return callErr
		}
		return nil
	}, policy)

	return result, err
}

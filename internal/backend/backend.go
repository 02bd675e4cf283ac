// Package backend defines the ModelBackend boundary spec §1 marks out
// of scope (no real provider credentials ship with this repo), grounded
// on the teacher's provider.Provider interface (name/chat/health shape)
// but narrowed to the one call Signal Hub's coordinator needs.
package backend

import (
	"context"
	"time"

	"github.com/alfred-ai/signalhub/internal/tiers"
)

// CallRequest is everything a backend needs to answer one tool call.
type CallRequest struct {
	Tier      tiers.Tier
	Method    string
	QueryText string
	Context   string
}

// CallResponse is a backend's answer plus the usage it must be billed for.
type CallResponse struct {
	Body         interface{}
	InputTokens  int
	OutputTokens int
}

// ModelBackend is the out-of-scope boundary to an actual model
// provider. A production deployment wires this to the teacher's
// provider.Provider connectors (OpenAI, Anthropic, ...); this package
// ships only Mock, for tests and for running the coordinator without
// credentials.
type ModelBackend interface {
	Call(ctx context.Context, req CallRequest) (CallResponse, error)
}

// Mock is a deterministic ModelBackend for tests and local runs. It
// never makes a network call.
type Mock struct {
	Latency  time.Duration
	FailWith error
	Reply    func(CallRequest) CallResponse
}

// NewMock creates a Mock that echoes the query text back as the body
// and estimates tokens at one per four characters, rounded down.
func NewMock() *Mock {
	return &Mock{
		Reply: func(req CallRequest) CallResponse {
			input := len(req.QueryText)/4 + len(req.Context)/4
			output := input / 2
			if output < 1 {
				output = 1
			}
			return CallResponse{
				Body:         map[string]string{"answer": "mock response for: " + req.QueryText},
				InputTokens:  input,
				OutputTokens: output,
			}
		},
	}
}

// Call implements ModelBackend.
func (m *Mock) Call(ctx context.Context, req CallRequest) (CallResponse, error) {
	if m.FailWith != nil {
		return CallResponse{}, m.FailWith
	}
	if m.Latency > 0 {
		select {
		case <-time.After(m.Latency):
		case <-ctx.Done():
			return CallResponse{}, ctx.Err()
		}
	}
	return m.Reply(req), nil
}

package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/alfred-ai/signalhub/internal/metrics"
	"github.com/alfred-ai/signalhub/internal/middleware"
	"github.com/alfred-ai/signalhub/internal/tiers"
)

// Tool describes one callable tool and its input schema, mirroring the
// original's tool registry (get_server_info/list_tools) entries.
type Tool struct {
	Name        string
	Description string
	InputSchema json.RawMessage
	schema      *gojsonschema.Schema
}

// compileSchema lazily compiles the tool's JSON schema for validation.
func (t *Tool) compileSchema() (*gojsonschema.Schema, error) {
	if t.schema != nil {
		return t.schema, nil
	}
	loader := gojsonschema.NewBytesLoader(t.InputSchema)
	schema, err := gojsonschema.NewSchema(loader)
	if err != nil {
		return nil, err
	}
	t.schema = schema
	return schema, nil
}

// Registry is the fixed surface of tools Signal Hub exposes: the
// coding-assistant-facing operations of spec §1 (search_code,
// explain_code, find_similar, get_context) plus the operational tools
// supplemented from the original (get_server_info, signal_hub_health,
// signal_hub_metrics, signal_hub_system_info).
type Registry struct {
	tools map[string]*Tool
}

// NewRegistry builds the fixed tool registry.
func NewRegistry() *Registry {
	r := &Registry{tools: make(map[string]*Tool)}
	for _, t := range defaultTools() {
		r.tools[t.Name] = t
	}
	return r
}

func defaultTools() []*Tool {
	queryParam := func(extra string) json.RawMessage {
		return json.RawMessage(fmt.Sprintf(`{
			"type": "object",
			"properties": {
				"query": {"type": "string"},
				"preferred_tier": {"type": "string", "enum": ["small", "medium", "large"]},
				"context_key": {"type": "string"},
				"client_id": {"type": "string"}
				%s
			},
			"required": ["query"]
		}`, extra))
	}
	return []*Tool{
		{Name: "search_code", Description: "Search the indexed codebase for matching symbols or text.", InputSchema: queryParam("")},
		{Name: "explain_code", Description: "Explain a code snippet or symbol in natural language.", InputSchema: queryParam("")},
		{Name: "find_similar", Description: "Find code similar to a given snippet.", InputSchema: queryParam("")},
		{Name: "get_context", Description: "Retrieve relevant context for a query from the index.", InputSchema: queryParam(`, "context_size": {"type": "integer", "minimum": 0}`)},
		{Name: "get_server_info", Description: "Return server version and capability info.", InputSchema: json.RawMessage(`{"type": "object", "properties": {}}`)},
		{Name: "signal_hub_health", Description: "Return liveness/readiness of routing, cache, and ledger subsystems.", InputSchema: json.RawMessage(`{"type": "object", "properties": {}}`)},
		{Name: "signal_hub_metrics", Description: "Return routing, cache, and cost metrics snapshots.", InputSchema: json.RawMessage(`{"type": "object", "properties": {"format": {"type": "string", "enum": ["prometheus", "json"]}}}`)},
		{Name: "signal_hub_system_info", Description: "Return configuration and build info for diagnostics.", InputSchema: json.RawMessage(`{"type": "object", "properties": {}}`)},
	}
}

// List returns every registered tool, for the tools/list method.
func (r *Registry) List() []*Tool {
	out := make([]*Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	return out
}

// Validate checks args against tool's input schema.
func (r *Registry) Validate(toolName string, args json.RawMessage) (*Tool, *Error) {
	tool, ok := r.tools[toolName]
	if !ok {
		return nil, NewError(ErrToolNotFound, "unknown tool: "+toolName)
	}
	schema, err := tool.compileSchema()
	if err != nil {
		return nil, NewError(ErrInternalError, "tool schema compile error: "+err.Error())
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(args))
	if err != nil {
		return nil, NewError(ErrInvalidParams, "params did not parse as JSON: "+err.Error())
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, NewError(ErrInvalidParams, strings.Join(msgs, "; "))
	}
	return tool, nil
}

// CallParams is the parsed payload of a tools/call request.
type CallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolArgs is the common shape of the coding-assistant tool arguments.
type ToolArgs struct {
	Query         string  `json:"query"`
	PreferredTier *string `json:"preferred_tier,omitempty"`
	ContextSize   int     `json:"context_size,omitempty"`
	SessionID     string  `json:"session_id,omitempty"`
	ContextKey    string  `json:"context_key,omitempty"`
	ClientID      string  `json:"client_id,omitempty"`
	Format        string  `json:"format,omitempty"`
}

// ToRequest converts validated tool arguments into a middleware.Request.
// RateLimitKey is left unset here: middleware.RateLimit resolves the
// client_id/anonymous fallback itself (spec §4.I).
func (a ToolArgs) ToRequest(toolName string) (*middleware.Request, *Error) {
	req := &middleware.Request{
		Method:        toolName,
		QueryText:     a.Query,
		ContextTokens: a.ContextSize,
		ToolName:      toolName,
		SessionID:     a.SessionID,
		ClientID:      a.ClientID,
		ContextKey:    a.ContextKey,
	}
	if a.PreferredTier != nil {
		tier, err := tiers.Parse(*a.PreferredTier)
		if err != nil {
			return nil, NewError(ErrInvalidParams, err.Error())
		}
		req.PreferredTier = &tier
	}
	return req, nil
}

// HealthReport is the result shape of the signal_hub_health tool.
type HealthReport struct {
	Status    string          `json:"status"`
	Ready     bool            `json:"ready"`
	Uptime    time.Duration   `json:"uptime_ns"`
	Timestamp time.Time       `json:"timestamp"`
	Version   string          `json:"version"`
	Checks    map[string]bool `json:"checks"`
}

// SystemInfo is the result shape of the signal_hub_system_info tool.
type SystemInfo struct {
	Version     string          `json:"version"`
	Env         string          `json:"env"`
	DefaultTier string          `json:"default_tier"`
	Uptime      time.Duration   `json:"uptime_ns"`
	Components  map[string]bool `json:"components"`
}

// ServerInfo identifies this server, used both by get_server_info and
// the initialize handshake result.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Diagnostics holds the introspection data and closures the diagnostic
// tools (get_server_info, signal_hub_health, signal_hub_metrics,
// signal_hub_system_info) read directly, bypassing the LLM
// routing/cache/backend pipeline entirely (spec §6).
type Diagnostics struct {
	Metrics    *metrics.Registry
	ServerInfo func() ServerInfo
	Health     func() HealthReport
	SystemInfo func() SystemInfo
}

// dispatchDiagnostic handles the operational tools that answer from
// local state instead of the routing/cache/backend pipeline. The bool
// return reports whether name named a diagnostic tool at all.
func dispatchDiagnostic(diag *Diagnostics, params CallParams) (interface{}, bool, *Error) {
	if diag == nil {
		return nil, false, nil
	}
	switch params.Name {
	case "get_server_info":
		return diag.ServerInfo(), true, nil
	case "signal_hub_health":
		return diag.Health(), true, nil
	case "signal_hub_system_info":
		return diag.SystemInfo(), true, nil
	case "signal_hub_metrics":
		var args ToolArgs
		if len(params.Arguments) > 0 {
			if err := json.Unmarshal(params.Arguments, &args); err != nil {
				return nil, true, NewError(ErrInvalidParams, "could not decode arguments: "+err.Error())
			}
		}
		format := args.Format
		if format == "" {
			format = "prometheus"
		}
		switch format {
		case "json":
			body, err := diag.Metrics.WriteJSON()
			if err != nil {
				return nil, true, NewError(ErrInternalError, "metrics export failed: "+err.Error())
			}
			var samples interface{}
			if err := json.Unmarshal(body, &samples); err != nil {
				return nil, true, NewError(ErrInternalError, "metrics export decode failed: "+err.Error())
			}
			return samples, true, nil
		case "prometheus":
			return diag.Metrics.WritePrometheus(), true, nil
		default:
			return nil, true, NewError(ErrInvalidParams, "unknown metrics format: "+format)
		}
	default:
		return nil, false, nil
	}
}

// Dispatch validates and routes a tools/call request through handle,
// translating a cancelled context into the ToolError code rather than
// leaking context.Canceled onto the wire. Diagnostic tools (diag
// non-nil and the tool name is one of them) bypass handle entirely and
// answer directly from registry/health state.
func Dispatch(ctx context.Context, registry *Registry, diag *Diagnostics, params CallParams, handle func(context.Context, *middleware.Request) (*middleware.Response, error)) (interface{}, *Error) {
	if _, err := registry.Validate(params.Name, params.Arguments); err != nil {
		return nil, err
	}

	if result, handled, err := dispatchDiagnostic(diag, params); handled {
		return result, err
	}

	var args ToolArgs
	if err := json.Unmarshal(params.Arguments, &args); err != nil {
		return nil, NewError(ErrInvalidParams, "could not decode arguments: "+err.Error())
	}

	req, perr := args.ToRequest(params.Name)
	if perr != nil {
		return nil, perr
	}

	resp, err := handle(ctx, req)
	if err != nil {
		if rlErr, ok := asRateLimitError(err); ok {
			return nil, NewError(ErrRateLimitExceeded, rlErr.Error())
		}
		return nil, NewError(ErrToolError, err.Error())
	}
	return resp, nil
}

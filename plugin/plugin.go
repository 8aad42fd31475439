// Package plugin defines the hook points around the gateway generation
// pipeline. A plugin runs at one of three stages: before the request is
// routed (where it may rewrite or reject it), after a successful
// response, or on failure.
//
// Plugins are constructed by name through the factory registry and
// initialised from config. Built-in plugins live under
// internal/plugins/* and register themselves via blank import.
package plugin

import (
	"context"

	"github.com/relay-labs/agent-router/providers"
)

// Plugin is one hook in a stage chain.
type Plugin interface {
	Name() string
	Type() Type
	// Init configures the plugin from its config map before first use.
	Init(config map[string]any) error
	// Execute runs the plugin against the current request context.
	Execute(ctx context.Context, pctx *Context) error
}

// Type labels what a plugin is for; it is informational only.
type Type string

const (
	TypeGuardrail Type = "guardrail"
	TypeLogging   Type = "logging"
	TypeTransform Type = "transform"
)

// Stage names a point in the request lifecycle. Config plugin entries
// reference stages by these strings.
type Stage string

const (
	StageBeforeRequest Stage = "before_request"
	StageAfterRequest  Stage = "after_request"
	StageOnError       Stage = "on_error"
)

// Context is the mutable state a plugin chain operates on. Before-request
// plugins may rewrite Request, set Reject (with Reason) to abort the
// call, or set Skip to stop the rest of the chain. Response and Error
// are populated for the after-request and on-error stages.
type Context struct {
	Request  *providers.Request
	Response *providers.Response
	Metadata map[string]any
	Error    error
	Skip     bool
	Reject   bool
	Reason   string
}

// NewContext starts a plugin context for one generation request.
func NewContext(req *providers.Request) *Context {
	return &Context{
		Request:  req,
		Metadata: make(map[string]any),
	}
}

// Package plugin defines the tool contract agents and the orchestrator call through,
// and the registry that resolves a tool call by name.
package plugin

import (
	"context"

	"github.com/GoCodeAlone/agency/provider"
)

// Tool is a named group of operations exposed to agents and the HTTP API. The
// "operation" argument selects what runs; the remaining arguments are per operation.
//
// Operation failures (unknown task, missing field, bad operation name) are not Go
// errors: Execute reports them in its result, which for the built-in tools is a
// tools.Result whose Success field discriminates the outcome and whose Message
// carries the text shown to the caller. A non-nil error means the tool could not run
// at all, and the registry adds ErrUnknownTool for names it cannot resolve.
type Tool interface {
	Name() string
	Description() string

	// Definition is the JSON-schema function definition handed to chat providers.
	Definition() provider.ToolDef

	Execute(ctx context.Context, args map[string]any) (any, error)
}

// Package adapters defines the downstream tool-execution surfaces an
// approved action is dispatched to, and a registry enforcing per-adapter
// serialization.
package adapters

import (
	"context"

	"switchboard/internal/model"
)

// AdapterResult is what an adapter returns for a dispatched action.
// AdapterFailure (Success=false) is surfaced as a normal result, not an
// error: the router doesn't treat downstream business failures as
// 5xx-worthy — only a transport-level error from Execute itself is.
type AdapterResult struct {
	Success  bool
	Detail   string
	Response map[string]any
}

// Adapter executes a single approved action against a downstream tool
// surface (an MCP server, an ACP peer, Bedrock AgentCore, Vertex Agent
// Engine...).
type Adapter interface {
	Name() string
	Execute(ctx context.Context, req model.ActionRequest) (AdapterResult, error)
}

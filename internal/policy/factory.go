package policy

import (
	"os"
	"strings"
)

// NewEngineFromEnv builds the engine the router should use: a
// RemoteEngine wrapping local as its fallback, unless SWITCHBOARD_USE_OPA
// is explicitly set to "false". Remote is on by default, mirroring the
// Python original's PolicyEngine construction gate.
func NewEngineFromEnv(local *LocalEngine) Engine {
	if strings.EqualFold(os.Getenv("SWITCHBOARD_USE_OPA"), "false") {
		return local
	}
	opaURL := os.Getenv("OPA_URL")
	return NewRemoteEngine(NewOPAClient(opaURL), local)
}

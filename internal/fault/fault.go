// Package fault implements the decision table that turns a registry lookup
// into a FaultDecision. It is a pure function of (command, registry state):
// all side effects (sleeping, writing the synthetic error, closing sockets)
// are carried out by the proxy session, which owns the sockets.
package fault

import (
	"time"

	"github.com/Toyota-Connected-India/red-monkey/internal/registry"
)

// Kind identifies which of the four FaultDecision variants was chosen.
type Kind int

const (
	PassThrough Kind = iota
	DelayThenPass
	ReplyErrorAndDiscard
	Drop
)

// Decision is the ephemeral result computed for one client request.
type Decision struct {
	Kind     Kind
	Delay    time.Duration
	ErrorMsg string
}

// Decide resolves the FaultDecision for cmdUpper against reg: a specific
// command plan wins over a wildcard plan, and no match means PassThrough.
func Decide(cmdUpper string, reg *registry.Registry) Decision {
	plan, ok := reg.LookupForCommand(cmdUpper)
	if !ok {
		return Decision{Kind: PassThrough}
	}

	switch plan.FaultType {
	case registry.Delay:
		return Decision{Kind: DelayThenPass, Delay: time.Duration(plan.DurationMs) * time.Millisecond}
	case registry.Error:
		return Decision{Kind: ReplyErrorAndDiscard, ErrorMsg: plan.ErrorMsg}
	case registry.DropConn:
		return Decision{Kind: Drop}
	default:
		// Unreachable: the registry never stores a plan with an unknown
		// FaultType (Create validates it), so an unrecognized type here
		// means the registry accepted invalid state elsewhere.
		return Decision{Kind: PassThrough}
	}
}

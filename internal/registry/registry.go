// Package registry implements the fault registry: a concurrent, in-memory
// map from Redis command names to fault plans, shared read-mostly by every
// proxy session and mutated by the control plane.
package registry

import (
	"strings"
	"sync"

	"github.com/gravitational/trace"
)

// FaultType identifies the behavior a FaultPlan injects. Modeled on redkit's
// CommandType typed-string-constant pattern.
type FaultType string

const (
	Delay    FaultType = "Delay"
	Error    FaultType = "Error"
	DropConn FaultType = "DropConn"
)

// Wildcard is the sentinel command key matched when no command-specific plan
// exists.
const Wildcard = "*"

// FaultPlan is one configured fault behavior, keyed by Name for CRUD and by
// Command for data-plane lookup.
type FaultPlan struct {
	Name        string
	Description string
	FaultType   FaultType
	DurationMs  uint64
	ErrorMsg    string
	Command     string
}

// Registry is the authoritative fault-plan store. Many concurrent readers,
// serialized writers, exactly like redkit.Server guards its handler map with
// a sync.RWMutex.
type Registry struct {
	mu        sync.RWMutex
	byCommand map[string]*FaultPlan
	byName    map[string]*FaultPlan
}

// New returns an empty registry, which is pure pass-through by construction.
func New() *Registry {
	return &Registry{
		byCommand: make(map[string]*FaultPlan),
		byName:    make(map[string]*FaultPlan),
	}
}

// Create validates and inserts a new plan. It normalizes Command to
// upper-case (except the wildcard) and rejects duplicate names, commands
// already claimed by another plan, and structurally invalid plans.
func (r *Registry) Create(plan FaultPlan) (*FaultPlan, error) {
	normalized, err := normalize(plan)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[normalized.Name]; exists {
		return nil, trace.AlreadyExists("fault plan %q already exists", normalized.Name)
	}
	if _, exists := r.byCommand[normalized.Command]; exists {
		return nil, trace.AlreadyExists("command %q already has a fault plan", normalized.Command)
	}

	r.byName[normalized.Name] = &normalized
	r.byCommand[normalized.Command] = &normalized
	return &normalized, nil
}

// GetByName returns the plan stored under name, if any.
func (r *Registry) GetByName(name string) (*FaultPlan, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	plan, ok := r.byName[name]
	return plan, ok
}

// List returns a snapshot of every configured plan, order unspecified.
func (r *Registry) List() []*FaultPlan {
	r.mu.RLock()
	defer r.mu.RUnlock()
	plans := make([]*FaultPlan, 0, len(r.byName))
	for _, plan := range r.byName {
		plans = append(plans, plan)
	}
	return plans
}

// DeleteByName removes the named plan from both indices atomically.
func (r *Registry) DeleteByName(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	plan, ok := r.byName[name]
	if !ok {
		return trace.NotFound("fault plan %q not found", name)
	}
	delete(r.byName, name)
	delete(r.byCommand, plan.Command)
	return nil
}

// DeleteAll clears both indices, restoring pure pass-through.
func (r *Registry) DeleteAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byCommand = make(map[string]*FaultPlan)
	r.byName = make(map[string]*FaultPlan)
}

// LookupForCommand resolves the plan that applies to an upper-cased command
// token: an exact command match wins, otherwise the wildcard plan, otherwise
// none.
func (r *Registry) LookupForCommand(cmdUpper string) (*FaultPlan, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if plan, ok := r.byCommand[cmdUpper]; ok {
		return plan, true
	}
	if plan, ok := r.byCommand[Wildcard]; ok {
		return plan, true
	}
	return nil, false
}

func normalize(plan FaultPlan) (FaultPlan, error) {
	if strings.TrimSpace(plan.Name) == "" {
		return FaultPlan{}, trace.BadParameter("name is required")
	}
	if strings.TrimSpace(plan.Command) == "" {
		return FaultPlan{}, trace.BadParameter("command is required")
	}

	if plan.Command != Wildcard {
		plan.Command = strings.ToUpper(plan.Command)
	}

	switch plan.FaultType {
	case Delay:
		if plan.DurationMs == 0 {
			return FaultPlan{}, trace.BadParameter("duration must be > 0 for a Delay fault")
		}
	case Error:
		if plan.ErrorMsg == "" {
			return FaultPlan{}, trace.BadParameter("error_msg is required for an Error fault")
		}
		if strings.ContainsAny(plan.ErrorMsg, "\r\n") {
			return FaultPlan{}, trace.BadParameter("error_msg must not contain CR or LF")
		}
	case DropConn:
		// no additional fields required
	default:
		return FaultPlan{}, trace.BadParameter("unknown fault_type %q", plan.FaultType)
	}

	return plan, nil
}

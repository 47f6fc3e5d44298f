package domain

import "fmt"

// ExecutionContext tells the processors whether they run for an interactive
// client or while rendering on a server
type ExecutionContext string

const (
	ExecutionInteractive  ExecutionContext = "interactive"
	ExecutionServerRender ExecutionContext = "server"
)

func ParseExecutionContext(raw string) (ExecutionContext, error) {
	switch ExecutionContext(raw) {
	case ExecutionInteractive, ExecutionServerRender:
		return ExecutionContext(raw), nil
	}
	return "", fmt.Errorf("unknown execution context %q", raw)
}

// Phase is the hydration phase of a query processor.
//
// A processor starts in PhaseHydrating and moves to PhaseSteady exactly once.
type Phase int

const (
	PhaseHydrating Phase = iota
	PhaseSteady
)

func (p Phase) String() string {
	switch p {
	case PhaseHydrating:
		return "hydrating"
	case PhaseSteady:
		return "steady"
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

// Category labels work submitted to the request queue
type Category string

const (
	CategoryQuery    Category = "query"
	CategoryMutation Category = "mutation"
)

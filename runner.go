package weave

import (
	"github.com/mlahtinen/weave/internal/engine"
	"github.com/mlahtinen/weave/pkg/api"
)

// Runner couples an Engine with the graph features it supports. Running
// a graph that needs a feature the runner lacks fails before any node
// executes, so callers learn about the mismatch at submission, not
// halfway through a workflow.
type Runner interface {
	Engine

	// Capabilities reports the features this runner accepts.
	Capabilities() Capabilities
}

type runner struct {
	Engine
	caps api.Capabilities
}

func (r *runner) Capabilities() Capabilities { return r.caps }

// NewLocalRunner returns a Runner backed by an in-memory engine that
// accepts every graph feature. Intended for development and tests.
func NewLocalRunner() Runner {
	return newRunner(api.FullCapabilities(), nil)
}

// NewLocalRunnerWithObserver is NewLocalRunner with an Observer.
func NewLocalRunnerWithObserver(obs Observer) Runner {
	return newRunner(api.FullCapabilities(), obs)
}

// NewDAGRunner returns a Runner that only accepts acyclic graphs
// without gates or interrupts. Async fan-out is still allowed. Useful
// when graphs come from untrusted definitions and a bounded execution
// shape must be guaranteed up front.
func NewDAGRunner() Runner {
	return newRunner(api.Capabilities{AsyncNodes: true}, nil)
}

// NewDAGRunnerWithObserver is NewDAGRunner with an Observer.
func NewDAGRunnerWithObserver(obs Observer) Runner {
	return newRunner(api.Capabilities{AsyncNodes: true}, obs)
}

func newRunner(caps api.Capabilities, obs Observer) Runner {
	return &runner{
		Engine: engine.NewEngineWithConfig(engine.Config{
			Observer:     obs,
			Capabilities: caps,
		}),
		caps: caps,
	}
}

package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/mlahtinen/weave/pkg/api"
)

// restore rebuilds the run from the workflow's checkpoint: the state
// snapshot first, then the outputs of every step completed after that
// checkpoint, replayed through Apply instead of re-invoking nodes. A
// step without durably recorded outputs is never skippable: anything
// still RUNNING at the crash re-executes through normal scheduling.
func (r *run) restore(ctx context.Context, inputs map[string]any) error {
	cp, err := r.eng.cp.LoadCheckpoint(ctx, r.workflowID, r.cfg.CheckpointID)
	if err != nil {
		if errors.Is(err, api.ErrCheckpointNotFound) {
			return fmt.Errorf("cannot resume workflow %q: %w", r.workflowID, err)
		}
		return err
	}

	r.state = api.RestoreState(cp.State)
	r.iteration = cp.Iteration

	if err := r.replaySteps(ctx, cp); err != nil {
		return err
	}

	rest := make(map[string]any, len(inputs))
	for k, v := range inputs {
		rest[k] = v
	}

	// An interrupted run expects the interrupt node's response output
	// among the inputs; it is applied as that node's production so
	// downstream consumers wake up normally.
	if cp.Status == api.RunInterrupted && cp.InterruptNode != "" {
		spec, ok := r.graph.Node(cp.InterruptNode)
		if !ok {
			return fmt.Errorf("checkpoint names interrupt node %q which this graph does not have", cp.InterruptNode)
		}
		respName := spec.Outputs[0]
		if v, ok := rest[respName]; ok {
			r.state.Apply(map[string]any{respName: v}, cp.InterruptNode)
			r.state.MarkRan(cp.InterruptNode)
			r.state.ClearControl(cp.InterruptNode)
			delete(rest, respName)
		}
	}

	// Explicit inputs win over restored values.
	if len(rest) > 0 {
		r.state.Merge(rest)
	}
	return nil
}

// replaySteps re-applies outputs recorded after the checkpoint, batched
// per generation so consumed versions match what the original execution
// observed.
func (r *run) replaySteps(ctx context.Context, cp *api.Checkpoint) error {
	steps, err := r.eng.cp.ListSteps(ctx, cp.RunID)
	if err != nil {
		return err
	}

	byGen := make(map[int][]api.StepSnapshot)
	var gens []int
	for _, st := range steps {
		if st.Status != api.StepCompleted || st.Generation < cp.Iteration {
			continue
		}
		// Nested-graph steps replay through their parent's outputs.
		if api.StepDepth(st.ID) > 1 {
			continue
		}
		if _, seen := byGen[st.Generation]; !seen {
			gens = append(gens, st.Generation)
		}
		byGen[st.Generation] = append(byGen[st.Generation], st)
	}

	for _, gen := range gens {
		batch := byGen[gen]
		for _, st := range batch {
			spec, ok := r.graph.Node(st.Node)
			if !ok {
				return fmt.Errorf("recorded step for node %q which this graph does not have; resume with the graph the run started with", st.Node)
			}
			r.state.Consume(st.Node, spec.Inputs)
			r.state.MarkRan(st.Node)
			r.state.ClearControl(st.Node)
		}
		for _, st := range batch {
			if len(st.Outputs) > 0 {
				r.state.Apply(st.Outputs, st.Node)
			}
			if st.Decision != "" && st.Decision != api.End {
				r.state.SetControl(st.Decision)
			}
		}
		if gen+1 > r.iteration {
			r.iteration = gen + 1
		}
	}
	return nil
}

package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mlahtinen/weave/pkg/api"
)

// run is the state of one execution attempt. The loop is cooperative
// and single-writer: within a generation async node bodies may run
// concurrently, but nothing touches the State until the whole
// generation has finished.
type run struct {
	eng   *engineImpl
	graph *api.Graph
	state *api.State
	cfg   api.RunConfig

	workflowID string
	runID      string
	iteration  int

	// pathPrefix is non-empty for nested graphs: the parent step's id,
	// prefixed onto every child step id.
	pathPrefix string

	// nested runs record steps but never write checkpoints; the parent
	// owns the workflow's checkpoint stream.
	nested bool

	writer *durableWriter

	// nodeFails collects failures under ContinueOnError.
	nodeFails []error
}

// execResult is the outcome of one node invocation within a generation.
type execResult struct {
	node     string
	stepID   string
	ran      bool
	outputs  map[string]any
	decision string
	err      error
}

func (r *run) loop(ctx context.Context) (*api.RunResult, error) {
	for {
		if err := ctx.Err(); err != nil {
			return r.fail(ctx, err)
		}

		ready := r.state.ReadySet(r.graph)
		r.eng.observer.OnGeneration(ctx, r.runID, r.iteration, ready)

		if len(ready) == 0 {
			if err := r.checkStarved(); err != nil {
				return r.fail(ctx, err)
			}
			return r.complete(ctx)
		}
		if r.iteration >= r.cfg.MaxIterations {
			return r.fail(ctx, &api.InfiniteLoopError{Iterations: r.cfg.MaxIterations})
		}
		if err := checkConflicts(r.graph, ready); err != nil {
			return r.fail(ctx, err)
		}

		var interrupts, exec []string
		for _, name := range ready {
			spec, _ := r.graph.Node(name)
			if spec.Kind == api.KindInterrupt {
				interrupts = append(interrupts, name)
			} else {
				exec = append(exec, name)
			}
		}

		results, err := r.executeGeneration(ctx, exec)
		if err != nil {
			return r.fail(ctx, err)
		}
		r.applyGeneration(results)

		if len(interrupts) > 0 {
			// Every other ready node has run; now surface the pause.
			return r.interrupt(ctx, interrupts[0], len(exec))
		}

		r.iteration++
		if !r.nested {
			if err := r.writer.saveCheckpoint(ctx, r.buildCheckpoint(api.RunRunning)); err != nil {
				return r.fail(ctx, err)
			}
		}
	}
}

// checkStarved distinguishes "done" from "never started": a fresh run
// where no node could ever fire means an uninitialized value, typically
// a cyclic seed the caller forgot to supply.
func (r *run) checkStarved() error {
	nodes := r.graph.Nodes()
	if len(nodes) == 0 {
		return nil
	}
	for i := range nodes {
		if r.state.HasRun(nodes[i].Name) {
			return nil
		}
	}
	for i := range nodes {
		n := &nodes[i]
		for _, in := range n.Inputs {
			if _, _, ok := r.state.Get(in); !ok {
				return &api.MissingInputError{Node: n.Name, Value: in}
			}
		}
	}
	return nil
}

// checkConflicts rejects a generation in which two ready nodes claim
// the same output name. Build-time partitioning makes gate-exclusive
// producers safe; anything that still collides here would corrupt the
// store, so it fails before either node executes.
func checkConflicts(g *api.Graph, ready []string) error {
	claimed := make(map[string]string)
	for _, name := range ready {
		spec, _ := g.Node(name)
		for _, out := range spec.Outputs {
			if prev, ok := claimed[out]; ok {
				return &api.ConflictError{Value: out, Nodes: []string{prev, name}}
			}
			claimed[out] = name
		}
	}
	return nil
}

func (r *run) executeGeneration(ctx context.Context, names []string) ([]*execResult, error) {
	results := make([]*execResult, len(names))
	for i, name := range names {
		results[i] = &execResult{
			node:   name,
			stepID: api.StepID(r.pathPrefix, r.iteration, i),
		}
		step := &api.StepSnapshot{
			ID:         results[i].stepID,
			RunID:      r.runID,
			Node:       name,
			Status:     api.StepRunning,
			Generation: r.iteration,
			StartedAt:  time.Now(),
		}
		if err := r.writer.beginStep(ctx, step); err != nil {
			return nil, err
		}
	}

	var asyncIdx, syncIdx []int
	for i, name := range names {
		spec, _ := r.graph.Node(name)
		if spec.Async {
			asyncIdx = append(asyncIdx, i)
		} else {
			syncIdx = append(syncIdx, i)
		}
	}

	// Fan out the async members; no implicit pool, one goroutine each.
	var wg sync.WaitGroup
	for _, i := range asyncIdx {
		wg.Add(1)
		go func(res *execResult) {
			defer wg.Done()
			r.invoke(ctx, res)
		}(results[i])
	}
	wg.Wait()

	// Synchronous members run sequentially after, on this goroutine.
	aborted := !r.cfg.ContinueOnError && firstError(results) != nil
	for _, i := range syncIdx {
		if aborted {
			break
		}
		r.invoke(ctx, results[i])
		if results[i].err != nil && !r.cfg.ContinueOnError {
			aborted = true
		}
	}

	// Seal the step records. Steps that never ran stay RUNNING and are
	// re-invoked on resume; a completed record always carries its
	// outputs in the same atomic write.
	for _, res := range results {
		if !res.ran {
			continue
		}
		if res.err != nil {
			if err := r.writer.completeStep(ctx, r.runID, res.stepID, api.StepFailed, nil, "", res.err.Error()); err != nil {
				return nil, err
			}
			continue
		}
		if err := r.writer.completeStep(ctx, r.runID, res.stepID, api.StepCompleted, res.outputs, res.decision, ""); err != nil {
			return nil, err
		}
	}

	// Structural errors abort regardless of ContinueOnError.
	for _, res := range results {
		if res.err == nil {
			continue
		}
		if _, structural := api.IsInvalidRoute(res.err); structural {
			return nil, res.err
		}
		if !r.cfg.ContinueOnError {
			return nil, res.err
		}
		r.nodeFails = append(r.nodeFails, res.err)
	}
	return results, nil
}

func firstError(results []*execResult) error {
	for _, res := range results {
		if res.err != nil {
			return res.err
		}
	}
	return nil
}

// invoke runs one node body, drains streaming returns, and shapes the
// value into outputs (and a routing decision for gates). It reads the
// pre-generation state only; results are applied later as one batch.
func (r *run) invoke(ctx context.Context, res *execResult) {
	res.ran = true
	spec, _ := r.graph.Node(res.node)
	args := r.state.Args(spec)

	nodeCtx := api.WithSubgraphRunner(ctx, &subgraphRunner{parent: r, parentStep: res.stepID})

	start := time.Now()
	r.eng.observer.OnNodeStart(ctx, r.runID, res.node, res.stepID)

	val, err := r.invokeWithRetry(nodeCtx, spec, args)
	if err == nil {
		val, err = r.drainStream(nodeCtx, spec, val)
	}

	r.eng.observer.OnNodeFinished(ctx, r.runID, res.node, res.stepID, err, time.Since(start))

	if err != nil {
		res.err = &api.NodeError{Node: res.node, Err: err}
		return
	}
	res.outputs, res.decision, res.err = shapeResult(spec, val)
}

func (r *run) invokeWithRetry(ctx context.Context, spec *api.NodeSpec, args map[string]any) (any, error) {
	maxAttempts := 1
	var backoff time.Duration
	if spec.Retry != nil {
		if spec.Retry.MaxAttempts > 0 {
			maxAttempts = spec.Retry.MaxAttempts
		}
		backoff = spec.Retry.Backoff
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		val, err := spec.Fn(ctx, args)
		if err == nil {
			return val, nil
		}
		lastErr = err

		if attempt < maxAttempts && backoff > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	return nil, lastErr
}

// drainStream accumulates a Stream or channel return into one final
// value, forwarding each chunk to the observer side channel. Chunks
// that are all strings concatenate; anything else becomes a []any.
func (r *run) drainStream(ctx context.Context, spec *api.NodeSpec, val any) (any, error) {
	switch src := val.(type) {
	case api.Stream:
		var chunks []any
		for {
			chunk, ok, err := src.Next(ctx)
			if err != nil {
				return nil, err
			}
			if !ok {
				return joinChunks(chunks), nil
			}
			r.eng.observer.OnChunk(ctx, r.runID, spec.Name, chunk)
			chunks = append(chunks, chunk)
		}
	case <-chan any:
		return r.drainChannel(ctx, spec, src)
	case chan any:
		return r.drainChannel(ctx, spec, src)
	default:
		return val, nil
	}
}

func (r *run) drainChannel(ctx context.Context, spec *api.NodeSpec, ch <-chan any) (any, error) {
	var chunks []any
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case chunk, ok := <-ch:
			if !ok {
				return joinChunks(chunks), nil
			}
			r.eng.observer.OnChunk(ctx, r.runID, spec.Name, chunk)
			chunks = append(chunks, chunk)
		}
	}
}

func joinChunks(chunks []any) any {
	if len(chunks) == 0 {
		return nil
	}
	var sb strings.Builder
	for _, c := range chunks {
		s, ok := c.(string)
		if !ok {
			return chunks
		}
		sb.WriteString(s)
	}
	return sb.String()
}

// shapeResult turns a node's return value into the output map applied
// to state, plus the routing decision for gates.
func shapeResult(spec *api.NodeSpec, val any) (map[string]any, string, error) {
	var (
		decision string
		outputs  map[string]any
	)

	if spec.IsGate() {
		var err error
		decision, outputs, err = gateDecision(spec, val)
		if err != nil {
			return nil, "", err
		}
	} else {
		switch len(spec.Outputs) {
		case 0:
			// Leaf node; the value, if any, is discarded.
		case 1:
			outputs = map[string]any{spec.Outputs[0]: val}
		default:
			m, ok := val.(map[string]any)
			if !ok {
				return nil, "", fmt.Errorf("node %q declares %d outputs but returned %T; return a map[string]any keyed by output name",
					spec.Name, len(spec.Outputs), val)
			}
			outputs = make(map[string]any, len(spec.Outputs))
			for _, out := range spec.Outputs {
				v, ok := m[out]
				if !ok {
					return nil, "", fmt.Errorf("node %q did not return declared output %q", spec.Name, out)
				}
				outputs[out] = v
			}
		}
	}
	return outputs, decision, nil
}

// gateDecision interprets a gate's return value: a bare target name for
// routes, a bool for branches, or a Decision carrying data outputs
// alongside the target. The target must be a member of the declared
// set; anything else raises InvalidRouteError before the decision has
// any effect.
func gateDecision(spec *api.NodeSpec, val any) (string, map[string]any, error) {
	var (
		target string
		data   map[string]any
	)
	switch v := val.(type) {
	case string:
		target = v
	case bool:
		// Only branches give bool a meaning; a route returning one is a
		// contract violation, not a pick of Targets[0].
		if spec.Kind != api.KindBranch {
			return "", nil, &api.InvalidRouteError{Node: spec.Name, Target: fmt.Sprintf("(%T)", val), Legal: spec.Targets}
		}
		if v {
			target = spec.Targets[0]
		} else {
			target = spec.Targets[1]
		}
	case api.Decision:
		target, data = v.Target, v.Outputs
	case *api.Decision:
		target, data = v.Target, v.Outputs
	default:
		return "", nil, &api.InvalidRouteError{Node: spec.Name, Target: fmt.Sprintf("(%T)", val), Legal: spec.Targets}
	}

	legal := false
	for _, t := range spec.Targets {
		if t == target {
			legal = true
			break
		}
	}
	if !legal {
		return "", nil, &api.InvalidRouteError{Node: spec.Name, Target: target, Legal: spec.Targets}
	}

	var outputs map[string]any
	if len(data) > 0 {
		outputs = make(map[string]any, len(data))
		for name, v := range data {
			if !specProduces(spec, name) {
				return "", nil, fmt.Errorf("gate %q returned undeclared output %q", spec.Name, name)
			}
			outputs[name] = v
		}
	}
	return target, outputs, nil
}

func specProduces(spec *api.NodeSpec, name string) bool {
	for _, out := range spec.Outputs {
		if out == name {
			return true
		}
	}
	return false
}

// applyGeneration makes the generation's outputs visible as one batch:
// consumed versions are recorded against the pre-generation state
// first, then outputs apply, then gate decisions arm their targets.
func (r *run) applyGeneration(results []*execResult) {
	for _, res := range results {
		if !res.ran {
			continue
		}
		spec, _ := r.graph.Node(res.node)
		r.state.Consume(res.node, spec.Inputs)
		r.state.MarkRan(res.node)
		r.state.ClearControl(res.node)
	}
	for _, res := range results {
		if !res.ran || res.err != nil {
			continue
		}
		if len(res.outputs) > 0 {
			r.state.Apply(res.outputs, res.node)
		}
		if res.decision != "" && res.decision != api.End {
			r.state.SetControl(res.decision)
		}
	}
}

// interrupt seals the pause: the interrupt node's step is recorded, the
// checkpoint is flushed synchronously, and the prompt surfaces to the
// caller.
func (r *run) interrupt(ctx context.Context, name string, slot int) (*api.RunResult, error) {
	if r.nested {
		return nil, fmt.Errorf("interrupt node %q fired inside a nested graph; interrupts are only supported at the top level", name)
	}

	spec, _ := r.graph.Node(name)
	prompt, _, _ := r.state.Get(spec.Inputs[0])
	stepID := api.StepID(r.pathPrefix, r.iteration, slot)

	step := &api.StepSnapshot{
		ID:         stepID,
		RunID:      r.runID,
		Node:       name,
		Status:     api.StepRunning,
		Generation: r.iteration,
		StartedAt:  time.Now(),
	}
	if err := r.writer.beginStep(ctx, step); err != nil {
		return nil, err
	}
	if err := r.writer.completeStep(ctx, r.runID, stepID, api.StepInterrupted, nil, "", ""); err != nil {
		return nil, err
	}

	// The interrupt node consumes its prompt now, so it will not
	// re-fire on resume unless the prompt goes stale again.
	r.state.Consume(name, spec.Inputs)
	r.iteration++

	cp := r.buildCheckpoint(api.RunInterrupted)
	cp.InterruptNode = name
	cp.InterruptValue = prompt

	id, err := r.writer.saveCheckpointSync(ctx, cp)
	if err != nil {
		return nil, err
	}
	cp.ID = id

	r.eng.observer.OnRunFinished(ctx, r.workflowID, r.runID, api.RunInterrupted, nil)
	return &api.RunResult{
		Status:     api.RunInterrupted,
		Values:     r.state.Values(),
		Pause:      &api.Pause{Node: name, Value: prompt, Checkpoint: cp},
		WorkflowID: r.workflowID,
		RunID:      r.runID,
	}, nil
}

func (r *run) complete(ctx context.Context) (*api.RunResult, error) {
	if len(r.nodeFails) > 0 {
		return r.fail(ctx, errors.Join(r.nodeFails...))
	}

	res := &api.RunResult{
		Status:     api.RunCompleted,
		Values:     r.state.Values(),
		WorkflowID: r.workflowID,
		RunID:      r.runID,
	}
	if !r.nested {
		if _, err := r.writer.saveCheckpointSync(ctx, r.buildCheckpoint(api.RunCompleted)); err != nil {
			return nil, err
		}
	}
	r.eng.observer.OnRunFinished(ctx, r.workflowID, r.runID, api.RunCompleted, nil)
	return res, nil
}

func (r *run) fail(ctx context.Context, runErr error) (*api.RunResult, error) {
	if !r.nested {
		cp := r.buildCheckpoint(api.RunFailed)
		cp.Error = runErr.Error()
		// Best effort: the failure itself stays authoritative even when
		// the store write also fails.
		_, _ = r.writer.saveCheckpointSync(ctx, cp)
	}
	r.eng.observer.OnRunFinished(ctx, r.workflowID, r.runID, api.RunFailed, runErr)
	return &api.RunResult{
		Status:     api.RunFailed,
		Values:     r.state.Values(),
		WorkflowID: r.workflowID,
		RunID:      r.runID,
		Err:        runErr,
	}, runErr
}

func (r *run) buildCheckpoint(status api.RunStatus) *api.Checkpoint {
	return &api.Checkpoint{
		WorkflowID: r.workflowID,
		RunID:      r.runID,
		GraphName:  r.graph.Name(),
		Iteration:  r.iteration,
		Status:     status,
		State:      r.state.Snapshot(),
	}
}

// subgraphRunner runs a child graph inside the parent run: shared
// checkpointer and run id, step ids under the parent step's path.
type subgraphRunner struct {
	parent     *run
	parentStep string
}

func (s *subgraphRunner) RunSubgraph(ctx context.Context, g *api.Graph, inputs map[string]any) (map[string]any, error) {
	child := &run{
		eng:        s.parent.eng,
		graph:      g,
		state:      api.NewState(g, inputs),
		cfg:        s.parent.cfg,
		workflowID: s.parent.workflowID,
		runID:      s.parent.runID,
		pathPrefix: s.parentStep,
		nested:     true,
		writer:     s.parent.writer,
	}
	res, err := child.loop(ctx)
	if err != nil {
		return nil, err
	}
	return res.Values, nil
}

package engine

import (
	"context"
	"sync"

	"github.com/mlahtinen/weave/internal/persistence"
	"github.com/mlahtinen/weave/pkg/api"
)

// durableWriter applies the run's durability mode to Checkpointer
// writes. Sync blocks the loop on every write; async performs writes in
// the background; exit buffers them until flush. Terminal and interrupt
// checkpoints always go through flush followed by a synchronous save,
// so the checkpoint handed back to the caller is really on disk.
//
// Async writes are chained: each one starts only after the previous one
// has landed, so the store sees the same order the scheduler produced.
// A step's BeginStep can never be overtaken by its CompleteStep.
type durableWriter struct {
	cp   persistence.Checkpointer
	mode api.DurabilityMode

	mu      sync.Mutex
	pending []func(context.Context) error // exit mode, in write order
	tail    chan struct{}                 // async mode, closed when the latest write lands
	wg      sync.WaitGroup                // async mode, in-flight writes
	err     error                         // first background/buffered failure
}

func newDurableWriter(cp persistence.Checkpointer, mode api.DurabilityMode) *durableWriter {
	if mode == "" {
		mode = api.DurabilitySync
	}
	return &durableWriter{cp: cp, mode: mode}
}

func (w *durableWriter) beginStep(ctx context.Context, step *api.StepSnapshot) error {
	snap := *step
	return w.write(ctx, func(ctx context.Context) error {
		return w.cp.BeginStep(ctx, &snap)
	})
}

func (w *durableWriter) completeStep(ctx context.Context, runID, stepID string, status api.StepStatus, outputs map[string]any, decision, errText string) error {
	return w.write(ctx, func(ctx context.Context) error {
		return w.cp.CompleteStep(ctx, runID, stepID, status, outputs, decision, errText)
	})
}

func (w *durableWriter) saveCheckpoint(ctx context.Context, cp *api.Checkpoint) error {
	snap := *cp
	return w.write(ctx, func(ctx context.Context) error {
		_, err := w.cp.SaveCheckpoint(ctx, &snap)
		return err
	})
}

// saveCheckpointSync flushes everything pending and then writes cp
// synchronously regardless of mode, returning the stored id.
func (w *durableWriter) saveCheckpointSync(ctx context.Context, cp *api.Checkpoint) (string, error) {
	if err := w.flush(ctx); err != nil {
		return "", err
	}
	return w.cp.SaveCheckpoint(ctx, cp)
}

func (w *durableWriter) write(ctx context.Context, fn func(context.Context) error) error {
	switch w.mode {
	case api.DurabilityAsync:
		w.mu.Lock()
		prev := w.tail
		done := make(chan struct{})
		w.tail = done
		w.mu.Unlock()

		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			defer close(done)
			if prev != nil {
				<-prev
			}
			if err := fn(context.WithoutCancel(ctx)); err != nil {
				w.recordErr(err)
			}
		}()
		return nil
	case api.DurabilityExit:
		w.mu.Lock()
		w.pending = append(w.pending, fn)
		w.mu.Unlock()
		return nil
	default:
		return fn(ctx)
	}
}

// flush drains async writes and replays the exit-mode buffer in order.
func (w *durableWriter) flush(ctx context.Context) error {
	w.wg.Wait()

	w.mu.Lock()
	pending := w.pending
	w.pending = nil
	firstErr := w.err
	w.err = nil
	w.mu.Unlock()

	if firstErr != nil {
		return firstErr
	}
	for _, fn := range pending {
		if err := fn(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (w *durableWriter) recordErr(err error) {
	w.mu.Lock()
	if w.err == nil {
		w.err = err
	}
	w.mu.Unlock()
}

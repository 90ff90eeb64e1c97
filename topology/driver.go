package topology

import (
	"context"
	stderrors "errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360/eventflow/component"
	"github.com/c360/eventflow/errors"
	"github.com/c360/eventflow/event"
	"github.com/c360/eventflow/pkg/retry"
	"github.com/c360/eventflow/pkg/worker"
)

const (
	// functionWorkers and functionQueue size the pool driving
	// Function-flavor transforms.
	functionWorkers = 4
	functionQueue   = 64

	poolStopTimeout = 5 * time.Second
)

// supervise runs the node's driver, restarting it with backoff on failure
// until the node's context is cancelled or the driver exits cleanly.
func (t *Topology) supervise(n *node) {
	defer close(n.done)

	err := retry.Do(n.ctx, retry.Restart(), func() error {
		runErr := normalizeRunErr(t.runNode(n))
		if runErr != nil {
			t.metrics.recordRestart(n.id)
			t.logger.Error("component failed, restarting",
				"component", n.id, "kind", n.kind.String(), "error", runErr)
		}
		return runErr
	})
	if err != nil && n.ctx.Err() == nil {
		t.logger.Error("component gave up after repeated failures",
			"component", n.id, "kind", n.kind.String(), "error", err)
	}
}

func (t *Topology) runNode(n *node) error {
	switch n.kind {
	case component.KindSource:
		return t.runSource(n)
	case component.KindTransform:
		return t.runTransform(n)
	case component.KindSink:
		return t.runSink(n)
	default:
		return errors.WrapInternal(errors.ErrUnknownComponent,
			"Topology", "runNode", "unknown component kind")
	}
}

// normalizeRunErr maps the ways a driver exits during an orderly shutdown
// onto a clean return, so the supervisor does not restart it.
func normalizeRunErr(err error) error {
	switch {
	case err == nil:
		return nil
	case stderrors.Is(err, context.Canceled), stderrors.Is(err, context.DeadlineExceeded):
		return nil
	case stderrors.Is(err, errors.ErrBufferClosed):
		return nil
	case stderrors.Is(err, errors.ErrShuttingDown):
		return nil
	default:
		return err
	}
}

func (t *Topology) runSource(n *node) error {
	outs := make(map[string]component.EventSender, len(n.outputs))
	for name, f := range n.outputs {
		outs[name] = fanoutSender{f}
	}
	err := n.source.Run(n.ctx, component.NewSourceSender(outs), n.shutdown)
	if normalizeRunErr(err) == nil {
		n.shutdown.Complete()
	}
	return err
}

// runTransform picks the driver matching the shape the transform
// implements. A transform implementing several shapes runs as the most
// capable one.
func (t *Topology) runTransform(n *node) error {
	switch impl := n.transform.(type) {
	case component.Task:
		return t.runTaskTransform(n, impl)
	case component.Synchronous:
		return t.runSyncTransform(n, impl)
	case component.Function:
		return t.runFunctionTransform(n, impl)
	default:
		return errors.WrapConfiguration(errors.ErrInvalidConfig,
			"Topology", "runTransform",
			"transform implements none of Function, Synchronous, Task")
	}
}

func (t *Topology) runFunctionTransform(n *node, impl component.Function) error {
	pool := worker.NewPool(functionWorkers, functionQueue,
		func(ctx context.Context, e event.Event) error {
			return t.applyFunction(ctx, n, impl, e)
		},
		worker.WithMetricsRegistry[event.Event](t.opts.Metrics, "transform_"+n.id))
	if err := pool.Start(n.ctx); err != nil {
		return err
	}
	defer func() {
		if err := pool.Stop(poolStopTimeout); err != nil {
			t.logger.Warn("transform pool did not drain",
				"component", n.id, "error", err)
		}
	}()

	for {
		e, err := n.input.Recv(n.ctx)
		if err != nil {
			return err
		}
		if err := pool.SubmitWait(n.ctx, e); err != nil {
			e.Finalize(event.StatusErrored)
			return err
		}
	}
}

func (t *Topology) applyFunction(ctx context.Context, n *node, impl component.Function, e event.Event) error {
	out := make([]event.Event, 0, 1)
	if err := impl.Transform(e, &out); err != nil {
		t.logger.Warn("transform rejected event",
			"component", n.id, "error", err)
		e.Finalize(event.StatusRejected)
		return nil
	}
	forwardFinalizers(e, out)
	f := n.outputs[component.PrimaryOutput]
	for _, oe := range out {
		if err := f.Send(ctx, oe); err != nil {
			return err
		}
	}
	return nil
}

func (t *Topology) runSyncTransform(n *node, impl component.Synchronous) error {
	buf := component.NewOutputsBuf(n.transform.Outputs()...)
	for {
		e, err := n.input.Recv(n.ctx)
		if err != nil {
			return err
		}
		if err := impl.TransformSync(e, buf); err != nil {
			t.logger.Warn("transform rejected event",
				"component", n.id, "error", err)
			e.Finalize(event.StatusRejected)
			continue
		}
		if buf.Len() == 0 {
			e.Finalize(event.StatusDropped)
			continue
		}

		fins := e.Metadata().TakeFinalizers()
		first := true
		err = buf.Drain(func(output string, events []event.Event) error {
			f, ok := n.outputs[output]
			if !ok {
				return errors.WrapInternal(errors.ErrUnknownOutput,
					"Topology", "runSyncTransform", "output "+output)
			}
			for _, oe := range events {
				set := fins
				if !first {
					set = fins.Clone()
				}
				first = false
				for _, fin := range set {
					oe.Metadata().AddFinalizer(fin)
				}
				if err := f.Send(n.ctx, oe); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
}

func (t *Topology) runTaskTransform(n *node, impl component.Task) error {
	in := make(chan event.Event)
	out := make(chan event.Event)

	g, gctx := errgroup.WithContext(n.ctx)
	g.Go(func() error {
		defer close(in)
		for {
			e, err := n.input.Recv(gctx)
			if err != nil {
				if stderrors.Is(err, errors.ErrBufferClosed) {
					return nil
				}
				return err
			}
			select {
			case in <- e:
			case <-gctx.Done():
				e.Finalize(event.StatusErrored)
				return gctx.Err()
			}
		}
	})
	g.Go(func() error {
		return impl.RunTask(gctx, in, out)
	})
	g.Go(func() error {
		f := n.outputs[component.PrimaryOutput]
		for oe := range out {
			if err := f.Send(gctx, oe); err != nil {
				return err
			}
		}
		return nil
	})
	return g.Wait()
}

func (t *Topology) runSink(n *node) error {
	in := make(chan event.Event)

	g, gctx := errgroup.WithContext(n.ctx)
	g.Go(func() error {
		defer close(in)
		for {
			e, err := n.input.Recv(gctx)
			if err != nil {
				if stderrors.Is(err, errors.ErrBufferClosed) {
					return nil
				}
				return err
			}
			select {
			case in <- e:
			case <-gctx.Done():
				e.Finalize(event.StatusErrored)
				return gctx.Err()
			}
		}
	})
	g.Go(func() error {
		return n.sink.Run(gctx, in)
	})

	err := g.Wait()
	if err != nil && !stderrors.Is(err, errors.ErrBufferClosed) {
		t.resolveAborted(n)
	}
	return err
}

// resolveAborted drains whatever an aborted sink left in its buffer and
// resolves the finalizers Errored, so upstream acknowledgements are not
// stranded by the abort.
func (t *Topology) resolveAborted(n *node) {
	count := 0
	for {
		e, ok := n.input.TryRecv()
		if !ok {
			break
		}
		e.Finalize(event.StatusErrored)
		count++
	}
	if count > 0 {
		t.logger.Warn("aborted sink abandoned buffered events",
			"component", n.id, "events", count)
	}
}

// forwardFinalizers moves the input event's finalizers onto the produced
// events. With no outputs the input resolves Dropped. The first output
// takes the originals; later outputs take clones, which acquire their own
// notifier references.
func forwardFinalizers(in event.Event, outs []event.Event) {
	if len(outs) == 0 {
		in.Finalize(event.StatusDropped)
		return
	}
	fins := in.Metadata().TakeFinalizers()
	for i, oe := range outs {
		set := fins
		if i > 0 {
			set = fins.Clone()
		}
		for _, fin := range set {
			oe.Metadata().AddFinalizer(fin)
		}
	}
}

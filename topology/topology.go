package topology

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/c360/eventflow/component"
	"github.com/c360/eventflow/config"
	"github.com/c360/eventflow/errors"
	"github.com/c360/eventflow/metric"
)

const (
	// DefaultShutdownTimeout bounds each stage of the staged shutdown.
	DefaultShutdownTimeout = 30 * time.Second

	healthcheckTimeout = 10 * time.Second
)

// Options configures a topology.
type Options struct {
	Logger   *slog.Logger
	Metrics  *metric.Registry
	Registry *component.Registry

	// ShutdownTimeout bounds each drain stage during Shutdown and the
	// teardown of individual components during Reload.
	ShutdownTimeout time.Duration

	// RequireHealthy makes Start fail when any sink healthcheck fails.
	// Otherwise failures are logged and the sink starts anyway.
	RequireHealthy bool
}

// Topology is the running component graph.
type Topology struct {
	opts    Options
	logger  *slog.Logger
	metrics *topologyMetrics

	schema   config.ResolvedSchema
	timezone *time.Location

	mu       sync.Mutex
	cfg      *config.Config
	nodes    map[string]*node
	fanouts  map[string]*Fanout
	order    []string // producers before consumers
	runCtx   context.Context
	cancel   context.CancelFunc
	started  bool
	watchers []chan struct{}
}

// New builds a topology from a configuration: it validates the
// configuration, instantiates every component through the factory
// registry, constructs the buffer for every edge, and wires consumers
// onto producer fanouts. Nothing runs until Start.
func New(cfg *config.Config, opts Options) (*Topology, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Registry == nil {
		opts.Registry = component.DefaultRegistry
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = DefaultShutdownTimeout
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	tz, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	metrics, err := newTopologyMetrics(opts.Metrics)
	if err != nil {
		opts.Logger.Warn("topology metrics disabled", "error", err)
	}

	t := &Topology{
		opts:     opts,
		logger:   opts.Logger,
		metrics:  metrics,
		schema:   cfg.LogSchema.Resolve(),
		timezone: tz,
		cfg:      cfg,
		nodes:    make(map[string]*node),
		fanouts:  make(map[string]*Fanout),
	}

	if err := t.buildAll(cfg); err != nil {
		return nil, err
	}
	t.order = t.topoOrder()
	t.updateComponentGauges()
	return t, nil
}

func (t *Topology) buildAll(cfg *config.Config) error {
	for id, sc := range cfg.Sources {
		n, err := t.buildSource(id, sc)
		if err != nil {
			return err
		}
		t.nodes[id] = n
	}
	for id, tc := range cfg.Transforms {
		n, err := t.buildTransform(id, tc)
		if err != nil {
			return err
		}
		t.nodes[id] = n
	}
	for id, sc := range cfg.Sinks {
		n, err := t.buildSink(id, sc)
		if err != nil {
			return err
		}
		t.nodes[id] = n
	}

	// Producers get their fanouts before any consumer wires onto them.
	for _, n := range t.nodes {
		if n.kind != component.KindSink {
			t.createFanouts(n)
		}
	}
	for _, n := range t.nodes {
		if n.kind == component.KindSource {
			continue
		}
		if err := t.attachInputs(n); err != nil {
			return err
		}
	}
	return nil
}

// topoOrder returns component ids with every producer before its
// consumers. The configuration is validated acyclic, so the DFS
// terminates.
func (t *Topology) topoOrder() []string {
	ids := make([]string, 0, len(t.nodes))
	for id := range t.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	visited := make(map[string]bool, len(ids))
	order := make([]string, 0, len(ids))

	var visit func(id string)
	visit = func(id string) {
		if visited[id] {
			return
		}
		visited[id] = true
		for _, ref := range t.nodes[id].inputs {
			if _, ok := t.nodes[ref.Component]; ok {
				visit(ref.Component)
			}
		}
		order = append(order, id)
	}
	for _, id := range ids {
		visit(id)
	}
	return order
}

// Start spawns every component driver. Sinks and transforms start before
// their upstream sources, so no source's first event lands on a consumer
// that is not yet listening. Sink healthchecks are probed first.
func (t *Topology) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		return errors.WrapInternal(errors.ErrAlreadyStarted, "Topology", "Start", "topology")
	}

	if err := t.probeSinks(ctx); err != nil {
		return err
	}

	t.runCtx, t.cancel = context.WithCancel(context.WithoutCancel(ctx))
	for i := len(t.order) - 1; i >= 0; i-- {
		t.startNode(t.nodes[t.order[i]])
	}
	t.started = true
	t.logger.Info("topology started",
		"sources", len(t.cfg.Sources),
		"transforms", len(t.cfg.Transforms),
		"sinks", len(t.cfg.Sinks))
	return nil
}

func (t *Topology) probeSinks(ctx context.Context) error {
	for _, id := range t.order {
		n := t.nodes[id]
		if n.kind != component.KindSink {
			continue
		}
		probeCtx, cancel := context.WithTimeout(ctx, healthcheckTimeout)
		err := n.sink.Healthcheck(probeCtx)
		cancel()
		if err == nil {
			continue
		}
		if t.opts.RequireHealthy {
			return errors.WrapTransport(fmt.Errorf("%w: %w", errors.ErrUnhealthy, err),
				"Topology", "Start", fmt.Sprintf("sink %q healthcheck", id))
		}
		t.logger.Warn("sink healthcheck failed, starting anyway",
			"component", id, "error", err)
	}
	return nil
}

func (t *Topology) startNode(n *node) {
	n.ctx, n.cancel = context.WithCancel(t.runCtx)
	go t.supervise(n)
}

// Reload applies a new configuration to the running graph. Unchanged
// components and their buffers are left alone. Changed components are
// replaced add-before-remove on their upstream fanouts, so there is a
// brief window in which both incarnations see events.
func (t *Topology) Reload(ctx context.Context, newCfg *config.Config) error {
	if err := newCfg.Validate(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.started {
		return errors.WrapInternal(errors.ErrNotStarted, "Topology", "Reload", "topology")
	}

	diff := ComputeDiff(t.cfg, newCfg)
	if diff.Empty() {
		t.logger.Info("reload: no component changes")
		t.cfg = newCfg
		return nil
	}
	t.logger.Info("reloading topology",
		"added", diff.Added, "removed", diff.Removed, "changed", diff.Changed)

	var errs error

	for _, id := range diff.Removed {
		errs = multierr.Append(errs, t.removeComponent(ctx, id))
	}

	// Swap t.cfg early: added and changed components build against the
	// new definitions.
	t.cfg = newCfg

	for _, id := range diff.Added {
		if err := t.addComponent(ctx, id, newCfg); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	for _, id := range diff.Changed {
		if err := t.replaceComponent(ctx, id, newCfg); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	t.order = t.topoOrder()
	t.updateComponentGauges()
	t.metrics.recordReload()
	t.notifyWatchers()
	return errs
}

// addComponent builds, wires, and starts one component from the new
// configuration.
func (t *Topology) addComponent(ctx context.Context, id string, cfg *config.Config) error {
	n, err := t.buildFromConfig(id, cfg)
	if err != nil {
		return err
	}
	t.nodes[id] = n
	if n.kind != component.KindSink {
		t.createFanouts(n)
	}
	if n.kind != component.KindSource {
		if err := t.attachInputs(n); err != nil {
			return err
		}
	}
	if n.kind == component.KindSink {
		probeCtx, cancel := context.WithTimeout(ctx, healthcheckTimeout)
		err := n.sink.Healthcheck(probeCtx)
		cancel()
		if err != nil {
			t.logger.Warn("sink healthcheck failed, starting anyway",
				"component", id, "error", err)
		}
	}
	t.startNode(n)
	return nil
}

// replaceComponent builds the new incarnation, registers it on the
// upstream fanouts, and only then removes and drains the old one.
func (t *Topology) replaceComponent(ctx context.Context, id string, cfg *config.Config) error {
	old, ok := t.nodes[id]
	if !ok {
		return t.addComponent(ctx, id, cfg)
	}

	n, err := t.buildFromConfig(id, cfg)
	if err != nil {
		return err
	}

	// Producers reuse the topology's fanouts, so downstream consumers
	// stay attached across the swap.
	t.nodes[id] = n
	if n.kind != component.KindSink {
		t.createFanouts(n)
	}
	if n.kind != component.KindSource {
		if err := t.attachInputs(n); err != nil {
			return err
		}
	}
	t.startNode(n)

	return t.teardownNode(ctx, old)
}

func (t *Topology) buildFromConfig(id string, cfg *config.Config) (*node, error) {
	switch {
	case cfg.Sources[id] != nil:
		return t.buildSource(id, cfg.Sources[id])
	case cfg.Transforms[id] != nil:
		return t.buildTransform(id, cfg.Transforms[id])
	case cfg.Sinks[id] != nil:
		return t.buildSink(id, cfg.Sinks[id])
	default:
		return nil, errors.WrapConfiguration(errors.ErrUnknownComponent,
			"Topology", "buildFromConfig", fmt.Sprintf("component %q", id))
	}
}

func (t *Topology) removeComponent(ctx context.Context, id string) error {
	n, ok := t.nodes[id]
	if !ok {
		return nil
	}
	delete(t.nodes, id)
	if n.kind != component.KindSink {
		for _, ref := range n.outputRefs() {
			delete(t.fanouts, ref)
		}
	}
	return t.teardownNode(ctx, n)
}

// teardownNode detaches a node from its upstream fanouts, drains it, and
// waits for the driver to return, aborting at the timeout.
func (t *Topology) teardownNode(ctx context.Context, n *node) error {
	t.detachInputs(n)

	if n.kind == component.KindSource {
		n.shutdown.Signal()
		n.shutdown.AwaitCompletion(ctx, t.opts.ShutdownTimeout)
	}
	if n.input != nil {
		if err := n.input.Close(); err != nil {
			t.logger.Warn("closing input buffer", "component", n.id, "error", err)
		}
	}

	timer := time.NewTimer(t.opts.ShutdownTimeout)
	defer timer.Stop()
	select {
	case <-n.done:
		n.cancel()
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}

	n.cancel()
	<-n.done
	return errors.WrapInternal(errors.ErrShuttingDown, "Topology", "teardownNode",
		fmt.Sprintf("component %q aborted after drain timeout", n.id))
}

// Shutdown stops the graph in stages: sources drain first, then
// transforms in producer-to-consumer order, then sinks. Each stage is
// bounded by the shutdown timeout; components that overrun are aborted,
// and aborted sinks resolve their outstanding finalizers Errored.
func (t *Topology) Shutdown(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.started {
		return nil
	}
	t.started = false
	start := time.Now()

	var errs error
	errs = multierr.Append(errs, t.drainSources(ctx))
	for _, id := range t.order {
		n := t.nodes[id]
		if n.kind == component.KindTransform {
			errs = multierr.Append(errs, t.drainConsumer(ctx, n))
		}
	}
	for _, id := range t.order {
		n := t.nodes[id]
		if n.kind == component.KindSink {
			errs = multierr.Append(errs, t.drainConsumer(ctx, n))
		}
	}

	t.cancel()
	for _, ch := range t.watchers {
		close(ch)
	}
	t.watchers = nil

	t.logger.Info("topology stopped", "elapsed", time.Since(start))
	return errs
}

func (t *Topology) drainSources(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, id := range t.order {
		n := t.nodes[id]
		if n.kind != component.KindSource {
			continue
		}
		n.shutdown.Signal()
		g.Go(func() error {
			if !n.shutdown.AwaitCompletion(gctx, t.opts.ShutdownTimeout) {
				n.cancel()
				return errors.WrapInternal(errors.ErrShuttingDown,
					"Topology", "Shutdown",
					fmt.Sprintf("source %q aborted after drain timeout", n.id))
			}
			n.cancel()
			<-n.done
			return nil
		})
	}
	return g.Wait()
}

// drainConsumer closes the node's input buffer so the driver drains and
// exits, then waits up to the timeout before aborting.
func (t *Topology) drainConsumer(ctx context.Context, n *node) error {
	if err := n.input.Close(); err != nil {
		t.logger.Warn("closing input buffer", "component", n.id, "error", err)
	}

	timer := time.NewTimer(t.opts.ShutdownTimeout)
	defer timer.Stop()
	select {
	case <-n.done:
		n.cancel()
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}

	n.cancel()
	<-n.done
	return errors.WrapInternal(errors.ErrShuttingDown, "Topology", "Shutdown",
		fmt.Sprintf("component %q aborted after drain timeout", n.id))
}

// Watch returns a channel that receives a tick after every applied reload
// and is closed on shutdown. Used by the tap to track topology changes.
func (t *Topology) Watch() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch := make(chan struct{}, 1)
	t.watchers = append(t.watchers, ch)
	return ch
}

func (t *Topology) notifyWatchers() {
	for _, ch := range t.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Outputs lists the producer outputs currently live in the graph.
func (t *Topology) Outputs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	outs := make([]string, 0, len(t.fanouts))
	for ref := range t.fanouts {
		outs = append(outs, ref)
	}
	sort.Strings(outs)
	return outs
}

// Config returns the configuration the graph currently runs.
func (t *Topology) Config() *config.Config {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cfg
}

// AttachObserver registers an extra consumer on a producer output. The
// tap uses this to splice in its non-blocking sinks.
func (t *Topology) AttachObserver(output, name string, sender component.EventSender) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	f, ok := t.fanouts[output]
	if !ok {
		return errors.Wrap(errors.ErrUnknownOutput, "Topology", "AttachObserver", output)
	}
	f.Add(name, sender)
	return nil
}

// DetachObserver removes a consumer registered with AttachObserver.
func (t *Topology) DetachObserver(output, name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	f, ok := t.fanouts[output]
	if !ok {
		return false
	}
	return f.Remove(name)
}

func (t *Topology) updateComponentGauges() {
	counts := map[string]int{"source": 0, "transform": 0, "sink": 0}
	for _, n := range t.nodes {
		counts[n.kind.String()]++
	}
	for kind, n := range counts {
		t.metrics.setComponents(kind, n)
	}
}

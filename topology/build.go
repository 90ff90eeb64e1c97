package topology

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/c360/eventflow/buffer"
	"github.com/c360/eventflow/buffer/disk"
	"github.com/c360/eventflow/component"
	"github.com/c360/eventflow/config"
	"github.com/c360/eventflow/errors"
	"github.com/c360/eventflow/event"
)

// node is one running component: its implementation, its input buffer
// (transforms and sinks), its output fanouts (sources and transforms), and
// its lifecycle handles.
type node struct {
	id       string
	instance string
	kind     component.Kind

	source    component.Source
	transform component.Transform
	sink      component.Sink

	inputs  []config.InputRef
	input   buffer.Buffer[event.Event]
	outputs map[string]*Fanout

	shutdown *component.ShutdownSignal
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
}

// instanceName distinguishes successive incarnations of the same component
// id, so a reload can register the replacement on a fanout before removing
// the original.
func instanceName(id string) string {
	return id + "/" + uuid.NewString()[:8]
}

func (t *Topology) dependenciesFor(id string, ack bool) component.Dependencies {
	return component.Dependencies{
		Logger:           t.logger.With("component", id),
		Metrics:          t.opts.Metrics,
		Schema:           t.schema,
		Timezone:         t.timezone,
		DataDir:          t.cfg.DataDir,
		Acknowledgements: ack,
	}
}

func (t *Topology) buildSource(id string, sc *config.SourceConfig) (*node, error) {
	deps := t.dependenciesFor(id, sc.Acknowledgements.Enabled)
	src, err := t.opts.Registry.NewSource(sc.Type, &sc.Options, deps)
	if err != nil {
		return nil, errors.Wrap(err, "Topology", "buildSource", fmt.Sprintf("source %q", id))
	}
	return &node{
		id:       id,
		instance: instanceName(id),
		kind:     component.KindSource,
		source:   src,
		outputs:  map[string]*Fanout{},
		shutdown: component.NewShutdownSignal(),
		done:     make(chan struct{}),
	}, nil
}

func (t *Topology) buildTransform(id string, tc *config.TransformConfig) (*node, error) {
	deps := t.dependenciesFor(id, false)
	tr, err := t.opts.Registry.NewTransform(tc.Type, &tc.Options, deps)
	if err != nil {
		return nil, errors.Wrap(err, "Topology", "buildTransform", fmt.Sprintf("transform %q", id))
	}
	inputs, err := parseInputs(tc.Inputs)
	if err != nil {
		return nil, err
	}
	buf, err := t.buildBuffer(id, tc.Buffer)
	if err != nil {
		return nil, err
	}
	return &node{
		id:        id,
		instance:  instanceName(id),
		kind:      component.KindTransform,
		transform: tr,
		inputs:    inputs,
		input:     buf,
		outputs:   map[string]*Fanout{},
		done:      make(chan struct{}),
	}, nil
}

func (t *Topology) buildSink(id string, sc *config.SinkConfig) (*node, error) {
	deps := t.dependenciesFor(id, sc.Acknowledgements.Enabled)
	sk, err := t.opts.Registry.NewSink(sc.Type, &sc.Options, deps)
	if err != nil {
		return nil, errors.Wrap(err, "Topology", "buildSink", fmt.Sprintf("sink %q", id))
	}
	inputs, err := parseInputs(sc.Inputs)
	if err != nil {
		return nil, err
	}
	buf, err := t.buildBuffer(id, sc.Buffer)
	if err != nil {
		return nil, err
	}
	return &node{
		id:       id,
		instance: instanceName(id),
		kind:     component.KindSink,
		sink:     sk,
		inputs:   inputs,
		input:    buf,
		done:     make(chan struct{}),
	}, nil
}

func parseInputs(raw []string) ([]config.InputRef, error) {
	refs := make([]config.InputRef, 0, len(raw))
	for _, s := range raw {
		ref, err := config.ParseInputRef(s)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// buildBuffer constructs the input buffer for one consumer from its edge
// configuration. The overflow policy becomes a chain: a memory primary
// spilling into a disk secondary under the data directory.
func (t *Topology) buildBuffer(id string, bc config.BufferConfig) (buffer.Buffer[event.Event], error) {
	maxEvents := bc.MaxEvents
	if maxEvents <= 0 {
		maxEvents = config.DefaultBufferMaxEvents
	}

	switch bc.Type {
	case config.BufferTypeDisk:
		return t.buildDiskBuffer(id, bc.MaxSize)

	case "", config.BufferTypeMemory:
		switch bc.WhenFull {
		case "", config.WhenFullBlock:
			return buffer.NewMemory(maxEvents,
				buffer.WithMetrics[event.Event](t.opts.Metrics, id))
		case config.WhenFullDropNewest:
			return buffer.NewMemory(maxEvents,
				buffer.WithPolicy[event.Event](buffer.DropNewest),
				buffer.WithMetrics[event.Event](t.opts.Metrics, id))
		case config.WhenFullOverflow:
			primary, err := buffer.NewMemory[event.Event](maxEvents)
			if err != nil {
				return nil, err
			}
			secondary, err := t.buildDiskBuffer(id, bc.MaxSize)
			if err != nil {
				return nil, err
			}
			return buffer.NewChain(primary, secondary,
				buffer.WithChainMetrics[event.Event](t.opts.Metrics, id))
		default:
			return nil, errors.WrapConfiguration(errors.ErrInvalidConfig,
				"Topology", "buildBuffer",
				fmt.Sprintf("component %q: unknown when_full %q", id, bc.WhenFull))
		}

	default:
		return nil, errors.WrapConfiguration(errors.ErrInvalidConfig,
			"Topology", "buildBuffer",
			fmt.Sprintf("component %q: unknown buffer type %q", id, bc.Type))
	}
}

func (t *Topology) buildDiskBuffer(id string, maxSize uint64) (buffer.Buffer[event.Event], error) {
	return disk.New[event.Event](disk.Config{
		Dir:           filepath.Join(t.cfg.DataDir, "buffers", id),
		MaxBufferSize: maxSize,
		Logger:        t.logger.With("component", id, "buffer", "disk"),
	}, disk.EventCodec{})
}

// outputRefs lists the output keys a node produces, primary first.
func (n *node) outputRefs() []string {
	refs := []string{n.id}
	if n.kind == component.KindTransform {
		for _, name := range n.transform.Outputs() {
			refs = append(refs, n.id+"."+name)
		}
	}
	return refs
}

// createFanouts ensures a fanout exists in the topology for every output
// the node produces and points the node at them, keyed by output name.
func (t *Topology) createFanouts(n *node) {
	for _, ref := range n.outputRefs() {
		f, ok := t.fanouts[ref]
		if !ok {
			f = NewFanout(ref,
				WithFanoutLogger(t.logger),
				WithFanoutMetrics(t.opts.Metrics))
			t.fanouts[ref] = f
		}
		name := component.PrimaryOutput
		if ref != n.id {
			name = ref[len(n.id)+1:]
		}
		n.outputs[name] = f
	}
}

// attachInputs registers the node's input buffer on every upstream fanout
// it reads from.
func (t *Topology) attachInputs(n *node) error {
	for _, ref := range n.inputs {
		f, ok := t.fanouts[ref.String()]
		if !ok {
			return errors.WrapConfiguration(errors.ErrUnknownOutput,
				"Topology", "attachInputs",
				fmt.Sprintf("component %q reads from unknown output %q", n.id, ref))
		}
		f.Add(n.instance, bufferSender{n.input})
	}
	return nil
}

// detachInputs removes the node from every upstream fanout so no new items
// reach its buffer.
func (t *Topology) detachInputs(n *node) {
	for _, ref := range n.inputs {
		if f, ok := t.fanouts[ref.String()]; ok {
			f.Remove(n.instance)
		}
	}
}

// bufferSender adapts a buffer's send side to the fanout consumer
// contract.
type bufferSender struct {
	buf buffer.Buffer[event.Event]
}

func (s bufferSender) Send(ctx context.Context, e event.Event) error {
	return s.buf.Send(ctx, e)
}

// fanoutSender adapts a fanout to the sender handed to sources.
type fanoutSender struct {
	fanout *Fanout
}

func (s fanoutSender) Send(ctx context.Context, e event.Event) error {
	return s.fanout.Send(ctx, e)
}

// Package tap provides live introspection of events flowing through the
// pipeline. Clients subscribe with glob patterns over producer outputs
// and consumer inputs; the tap splices a synthetic non-blocking consumer
// onto every matching edge and streams copies to the subscriber. A slow
// subscriber never back-pressures the pipeline: copies are dropped and
// counted instead.
package tap

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/gobwas/glob"
	"github.com/google/uuid"

	"github.com/c360/eventflow/component"
	"github.com/c360/eventflow/config"
	"github.com/c360/eventflow/errors"
	"github.com/c360/eventflow/event"
)

// NotificationKind classifies pattern-resolution outcomes reported to the
// subscriber.
type NotificationKind string

const (
	// Matched: the pattern resolved to at least one live edge.
	Matched NotificationKind = "matched"
	// NotMatched: the pattern resolved to nothing.
	NotMatched NotificationKind = "not_matched"
	// InvalidMatch: the pattern named something that cannot be tapped,
	// such as an input pattern matching a source, which has no inputs.
	InvalidMatch NotificationKind = "invalid_match"
)

// Notification reports how one pattern resolved against the topology.
type Notification struct {
	Kind    NotificationKind `json:"kind"`
	Pattern string           `json:"pattern"`
}

// TapEvent is one observed event and the producer output it was copied
// from.
type TapEvent struct {
	Output string
	Event  event.Event
}

// Patterns selects the edges a subscription observes.
type Patterns struct {
	// Outputs are matched against producer output names.
	Outputs []string
	// Inputs are matched against consumer component ids and expand to
	// the outputs those consumers read from.
	Inputs []string
}

// Graph is the view of the topology the tap needs. *topology.Topology
// satisfies it.
type Graph interface {
	Outputs() []string
	Config() *config.Config
	Watch() <-chan struct{}
	AttachObserver(output, name string, sender component.EventSender) error
	DetachObserver(output, name string) bool
}

// DefaultEventBuffer is the per-subscription queue size for observed
// events.
const DefaultEventBuffer = 128

// Controller manages tap subscriptions against one topology.
type Controller struct {
	graph  Graph
	logger *slog.Logger

	mu   sync.Mutex
	subs map[string]*Subscription
}

// NewController creates a controller over the given topology view.
func NewController(graph Graph, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		graph:  graph,
		logger: logger,
		subs:   make(map[string]*Subscription),
	}
}

// Subscription is one client's live view. Events and Notifications must
// be consumed; the event queue drops when full.
type Subscription struct {
	id       string
	ctrl     *Controller
	patterns compiledPatterns

	events        chan TapEvent
	notifications chan Notification
	done          chan struct{}
	dropped       atomic.Uint64

	mu       sync.Mutex
	attached map[string]struct{} // outputs currently observed
	reported map[string]NotificationKind

	cancel context.CancelFunc
	closed atomic.Bool
}

type compiledPatterns struct {
	outputs []compiledPattern
	inputs  []compiledPattern
}

type compiledPattern struct {
	raw  string
	glob glob.Glob
}

func compilePatterns(raw []string) ([]compiledPattern, error) {
	compiled := make([]compiledPattern, 0, len(raw))
	for _, p := range raw {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, errors.WrapConfiguration(err, "Tap", "Subscribe",
				fmt.Sprintf("pattern %q", p))
		}
		compiled = append(compiled, compiledPattern{raw: p, glob: g})
	}
	return compiled, nil
}

// Subscribe creates a subscription, resolves its patterns against the
// current topology, and tracks topology changes until Close or context
// cancellation.
func (c *Controller) Subscribe(ctx context.Context, patterns Patterns) (*Subscription, error) {
	outputs, err := compilePatterns(patterns.Outputs)
	if err != nil {
		return nil, err
	}
	inputs, err := compilePatterns(patterns.Inputs)
	if err != nil {
		return nil, err
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		id:            uuid.NewString(),
		ctrl:          c,
		patterns:      compiledPatterns{outputs: outputs, inputs: inputs},
		events:        make(chan TapEvent, DefaultEventBuffer),
		notifications: make(chan Notification, 16),
		done:          make(chan struct{}),
		attached:      make(map[string]struct{}),
		reported:      make(map[string]NotificationKind),
		cancel:        cancel,
	}

	c.mu.Lock()
	c.subs[sub.id] = sub
	c.mu.Unlock()

	sub.resync()
	go sub.watch(subCtx)
	return sub, nil
}

// ID returns the subscription id.
func (s *Subscription) ID() string { return s.id }

// Events returns the stream of observed event copies.
func (s *Subscription) Events() <-chan TapEvent { return s.events }

// Notifications returns pattern-resolution updates.
func (s *Subscription) Notifications() <-chan Notification { return s.notifications }

// Done is closed when the subscription has been closed. The event
// channel is never closed; consumers select on both.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Dropped returns how many observed events were discarded because the
// subscriber was slow.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Close detaches the subscription from every observed edge.
func (s *Subscription) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.cancel()

	s.mu.Lock()
	outputs := make([]string, 0, len(s.attached))
	for output := range s.attached {
		outputs = append(outputs, output)
	}
	s.attached = make(map[string]struct{})
	s.mu.Unlock()

	for _, output := range outputs {
		s.ctrl.graph.DetachObserver(output, s.observerName())
	}

	s.ctrl.mu.Lock()
	delete(s.ctrl.subs, s.id)
	s.ctrl.mu.Unlock()

	close(s.done)
}

func (s *Subscription) observerName() string {
	return "tap/" + s.id
}

// watch re-resolves the patterns after every topology change.
func (s *Subscription) watch(ctx context.Context) {
	changes := s.ctrl.graph.Watch()
	for {
		select {
		case <-ctx.Done():
			s.Close()
			return
		case _, ok := <-changes:
			if !ok {
				s.Close()
				return
			}
			s.resync()
		}
	}
}

// resync computes the set of outputs the patterns select, attaches the
// new ones, detaches the stale ones, and reports per-pattern transitions.
func (s *Subscription) resync() {
	if s.closed.Load() {
		return
	}

	desired, notes := s.resolve()

	s.mu.Lock()
	toAttach := make([]string, 0)
	for output := range desired {
		if _, ok := s.attached[output]; !ok {
			toAttach = append(toAttach, output)
		}
	}
	toDetach := make([]string, 0)
	for output := range s.attached {
		if _, ok := desired[output]; !ok {
			toDetach = append(toDetach, output)
		}
	}
	for _, output := range toAttach {
		s.attached[output] = struct{}{}
	}
	for _, output := range toDetach {
		delete(s.attached, output)
	}
	s.mu.Unlock()

	sort.Strings(toAttach)
	for _, output := range toAttach {
		sink := &observerSink{sub: s, output: output}
		if err := s.ctrl.graph.AttachObserver(output, s.observerName(), sink); err != nil {
			s.ctrl.logger.Warn("tap attach failed",
				"subscription", s.id, "output", output, "error", err)
		}
	}
	for _, output := range toDetach {
		s.ctrl.graph.DetachObserver(output, s.observerName())
	}

	for _, note := range notes {
		if s.reported[string(note.Kind)+"|"+note.Pattern] == note.Kind {
			continue
		}
		s.reported[string(note.Kind)+"|"+note.Pattern] = note.Kind
		select {
		case s.notifications <- note:
		default:
		}
	}
}

// resolve matches the patterns against the current topology. Output
// patterns match producer outputs directly. Input patterns match consumer
// component ids and expand to the outputs those consumers read; an input
// pattern matching nothing reports NotMatched, and additionally
// InvalidMatch when it matches a source, which has no inputs to tap.
func (s *Subscription) resolve() (map[string]struct{}, []Notification) {
	outputs := s.ctrl.graph.Outputs()
	cfg := s.ctrl.graph.Config()

	desired := make(map[string]struct{})
	notes := make([]Notification, 0)

	for _, p := range s.patterns.outputs {
		matched := false
		for _, output := range outputs {
			if p.glob.Match(output) {
				desired[output] = struct{}{}
				matched = true
			}
		}
		if matched {
			notes = append(notes, Notification{Kind: Matched, Pattern: p.raw})
		} else {
			notes = append(notes, Notification{Kind: NotMatched, Pattern: p.raw})
		}
	}

	for _, p := range s.patterns.inputs {
		matched := false
		for id, tc := range cfg.Transforms {
			if p.glob.Match(id) {
				matched = s.expandInputs(desired, tc.Inputs) || matched
			}
		}
		for id, sc := range cfg.Sinks {
			if p.glob.Match(id) {
				matched = s.expandInputs(desired, sc.Inputs) || matched
			}
		}
		if matched {
			notes = append(notes, Notification{Kind: Matched, Pattern: p.raw})
			continue
		}
		notes = append(notes, Notification{Kind: NotMatched, Pattern: p.raw})
		for id := range cfg.Sources {
			if p.glob.Match(id) {
				notes = append(notes, Notification{Kind: InvalidMatch, Pattern: p.raw})
				break
			}
		}
	}

	return desired, notes
}

func (s *Subscription) expandInputs(desired map[string]struct{}, inputs []string) bool {
	matched := false
	for _, raw := range inputs {
		ref, err := config.ParseInputRef(raw)
		if err != nil {
			continue
		}
		desired[ref.String()] = struct{}{}
		matched = true
	}
	return matched
}

// observerSink is the synthetic consumer spliced onto a tapped edge. It
// resolves its copy's finalizers immediately with Dropped, the lattice
// identity, so observation never alters the batch status the producer
// sees, and it never blocks: a full subscriber queue discards the copy.
type observerSink struct {
	sub    *Subscription
	output string
}

func (o *observerSink) Send(_ context.Context, e event.Event) error {
	e.Finalize(event.StatusDropped)
	if o.sub.closed.Load() {
		return nil
	}
	select {
	case o.sub.events <- TapEvent{Output: o.output, Event: e}:
	default:
		o.sub.dropped.Add(1)
	}
	return nil
}

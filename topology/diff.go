package topology

import (
	"bytes"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/c360/eventflow/config"
)

// Diff describes what a reload has to do, as three disjoint sets of
// component ids.
type Diff struct {
	Added   []string
	Removed []string
	Changed []string
}

// Empty reports whether the reload is a no-op for the component graph.
func (d Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// ComputeDiff compares two configurations component by component. A
// component whose kind or serialized definition differs is Changed; ids
// present on only one side are Added or Removed. Results are sorted for
// deterministic application order.
func ComputeDiff(oldCfg, newCfg *config.Config) Diff {
	var d Diff

	oldIDs := componentSpecs(oldCfg)
	newIDs := componentSpecs(newCfg)

	for id, oldSpec := range oldIDs {
		newSpec, ok := newIDs[id]
		switch {
		case !ok:
			d.Removed = append(d.Removed, id)
		case oldSpec.kind != newSpec.kind,
			oldSpec.doc == nil || newSpec.doc == nil,
			!bytes.Equal(oldSpec.doc, newSpec.doc):
			d.Changed = append(d.Changed, id)
		}
	}
	for id := range newIDs {
		if _, ok := oldIDs[id]; !ok {
			d.Added = append(d.Added, id)
		}
	}

	sort.Strings(d.Added)
	sort.Strings(d.Removed)
	sort.Strings(d.Changed)
	return d
}

type componentSpec struct {
	kind string
	doc  []byte
}

func componentSpecs(cfg *config.Config) map[string]componentSpec {
	specs := make(map[string]componentSpec)
	for id, sc := range cfg.Sources {
		specs[id] = componentSpec{kind: "source", doc: marshalNode(&sc.Options)}
	}
	for id, tc := range cfg.Transforms {
		specs[id] = componentSpec{kind: "transform", doc: marshalNode(&tc.Options)}
	}
	for id, sc := range cfg.Sinks {
		specs[id] = componentSpec{kind: "sink", doc: marshalNode(&sc.Options)}
	}
	return specs
}

// marshalNode re-serializes the component's full YAML definition for
// byte comparison. A marshal failure yields nil, which the diff treats as
// changed.
func marshalNode(node *yaml.Node) []byte {
	data, err := yaml.Marshal(node)
	if err != nil {
		return nil
	}
	return data
}

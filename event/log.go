package event

import (
	"fmt"

	"github.com/c360/eventflow/event/path"
)

// LogEvent is an ordered mapping from field paths to values, plus metadata.
type LogEvent struct {
	fields *Object
	meta   *Metadata
}

// NewLogEvent creates an empty log event.
func NewLogEvent() *LogEvent {
	return &LogEvent{fields: NewObject(), meta: NewMetadata()}
}

// LogFromObject creates a log event with the given root object.
func LogFromObject(o *Object) *LogEvent {
	if o == nil {
		o = NewObject()
	}
	return &LogEvent{fields: o, meta: NewMetadata()}
}

// Fields returns the root object.
func (l *LogEvent) Fields() *Object {
	return l.fields
}

// Metadata returns the event metadata.
func (l *LogEvent) Metadata() *Metadata {
	return l.meta
}

// Get resolves a parsed path against the event.
func (l *LogEvent) Get(p path.Path) (Value, bool) {
	root := ObjectValue(l.fields)
	if p.IsRoot() {
		return root, true
	}
	return lookupValue(root, p.Segments())
}

// GetString resolves a path and returns its byte-string payload as a string.
func (l *LogEvent) GetString(p path.Path) (string, bool) {
	v, ok := l.Get(p)
	if !ok {
		return "", false
	}
	return v.AsString()
}

// Insert writes a value at a path, creating intermediate objects and
// extending arrays with nulls as needed. Coalesce segments insert at their
// first alternative.
func (l *LogEvent) Insert(p path.Path, v Value) error {
	if p.IsRoot() {
		obj, ok := v.AsObject()
		if !ok {
			return fmt.Errorf("cannot insert %s at event root, object required", v.Kind())
		}
		l.fields = obj
		return nil
	}
	root := ObjectValue(l.fields)
	out, err := insertValue(root, p.Segments(), v)
	if err != nil {
		return err
	}
	obj, _ := out.AsObject()
	l.fields = obj
	return nil
}

// Remove deletes the value at a path and returns it.
func (l *LogEvent) Remove(p path.Path) (Value, bool) {
	if p.IsRoot() {
		old := ObjectValue(l.fields)
		l.fields = NewObject()
		return old, true
	}
	return removeValue(ObjectValue(l.fields), p.Segments())
}

// Clone deep-copies the event. Finalizers on the clone reference the same
// batch notifiers, incrementing their outstanding counts.
func (l *LogEvent) Clone() *LogEvent {
	return &LogEvent{fields: l.fields.Clone(), meta: l.meta.Clone()}
}

// Equal reports field equality. Metadata is not compared.
func (l *LogEvent) Equal(other *LogEvent) bool {
	return l.fields.Equal(other.fields)
}

// resolveField resolves one field-ish segment against an object, handling
// coalescing.
func resolveField(obj *Object, seg path.Segment) (Value, bool) {
	switch seg.Kind {
	case path.SegmentField:
		return obj.Get(seg.Field)
	case path.SegmentCoalesce:
		for _, alt := range seg.Coalesce {
			if v, ok := obj.Get(alt); ok {
				return v, true
			}
		}
		return Value{}, false
	default:
		return Value{}, false
	}
}

func lookupValue(v Value, segs []path.Segment) (Value, bool) {
	cur := v
	for _, seg := range segs {
		switch seg.Kind {
		case path.SegmentField, path.SegmentCoalesce:
			obj, ok := cur.AsObject()
			if !ok {
				return Value{}, false
			}
			next, ok := resolveField(obj, seg)
			if !ok {
				return Value{}, false
			}
			cur = next
		case path.SegmentIndex:
			arr, ok := cur.AsArray()
			if !ok {
				return Value{}, false
			}
			idx := seg.Index
			if idx < 0 {
				idx += len(arr)
			}
			if idx < 0 || idx >= len(arr) {
				return Value{}, false
			}
			cur = arr[idx]
		}
	}
	return cur, true
}

func insertValue(v Value, segs []path.Segment, newVal Value) (Value, error) {
	if len(segs) == 0 {
		return newVal, nil
	}
	seg := segs[0]
	rest := segs[1:]

	switch seg.Kind {
	case path.SegmentField, path.SegmentCoalesce:
		field := seg.Field
		if seg.Kind == path.SegmentCoalesce {
			field = seg.Coalesce[0]
			for _, alt := range seg.Coalesce {
				if obj, ok := v.AsObject(); ok {
					if _, exists := obj.Get(alt); exists {
						field = alt
						break
					}
				}
			}
		}
		obj, ok := v.AsObject()
		if !ok {
			obj = NewObject()
		}
		child, _ := obj.Get(field)
		updated, err := insertValue(child, rest, newVal)
		if err != nil {
			return Value{}, err
		}
		obj.Set(field, updated)
		return ObjectValue(obj), nil

	case path.SegmentIndex:
		arr, ok := v.AsArray()
		if !ok {
			arr = nil
		}
		idx := seg.Index
		if idx < 0 {
			idx += len(arr)
			if idx < 0 {
				return Value{}, fmt.Errorf("negative index %d out of range for array of %d", seg.Index, len(arr))
			}
		}
		for len(arr) <= idx {
			arr = append(arr, Null())
		}
		updated, err := insertValue(arr[idx], rest, newVal)
		if err != nil {
			return Value{}, err
		}
		arr[idx] = updated
		return Array(arr), nil

	default:
		return Value{}, fmt.Errorf("unsupported segment kind %d", seg.Kind)
	}
}

func removeValue(v Value, segs []path.Segment) (Value, bool) {
	if len(segs) == 1 {
		seg := segs[0]
		switch seg.Kind {
		case path.SegmentField:
			obj, ok := v.AsObject()
			if !ok {
				return Value{}, false
			}
			return obj.Delete(seg.Field)
		case path.SegmentCoalesce:
			obj, ok := v.AsObject()
			if !ok {
				return Value{}, false
			}
			for _, alt := range seg.Coalesce {
				if old, ok := obj.Delete(alt); ok {
					return old, true
				}
			}
			return Value{}, false
		case path.SegmentIndex:
			// Removing from arrays would shift sibling indices; treat as
			// overwrite with null like the original does.
			arr, ok := v.AsArray()
			if !ok {
				return Value{}, false
			}
			idx := seg.Index
			if idx < 0 {
				idx += len(arr)
			}
			if idx < 0 || idx >= len(arr) {
				return Value{}, false
			}
			old := arr[idx]
			arr[idx] = Null()
			return old, true
		}
		return Value{}, false
	}

	seg := segs[0]
	switch seg.Kind {
	case path.SegmentField, path.SegmentCoalesce:
		obj, ok := v.AsObject()
		if !ok {
			return Value{}, false
		}
		child, ok := resolveField(obj, seg)
		if !ok {
			return Value{}, false
		}
		return removeValue(child, segs[1:])
	case path.SegmentIndex:
		arr, ok := v.AsArray()
		if !ok {
			return Value{}, false
		}
		idx := seg.Index
		if idx < 0 {
			idx += len(arr)
		}
		if idx < 0 || idx >= len(arr) {
			return Value{}, false
		}
		return removeValue(arr[idx], segs[1:])
	}
	return Value{}, false
}

// Package path implements the field path language used to address values
// inside log events. Paths are dotted, support quoted segments for keys that
// contain dots, bracket indexing with negative indices counting from the end
// of an array, and coalescing between alternative segments:
//
//	.message
//	.a.b[0]."c.d"
//	.(host | hostname).name
package path

import (
	"fmt"
	"strconv"
	"strings"
)

// SegmentKind identifies a path segment variant.
type SegmentKind int

const (
	// SegmentField addresses an object key.
	SegmentField SegmentKind = iota
	// SegmentIndex addresses an array element.
	SegmentIndex
	// SegmentCoalesce resolves to the first of several keys that exists.
	SegmentCoalesce
)

// Segment is one step of a path.
type Segment struct {
	Kind     SegmentKind
	Field    string   // SegmentField
	Index    int      // SegmentIndex; negative counts from the end
	Coalesce []string // SegmentCoalesce, in priority order
}

// Path is a parsed field path.
type Path struct {
	segments []Segment
	raw      string
}

// Segments returns the path's segments in order.
func (p Path) Segments() []Segment {
	return p.segments
}

// String returns the original path text.
func (p Path) String() string {
	return p.raw
}

// IsRoot reports whether the path has no segments (addresses the event root).
func (p Path) IsRoot() bool {
	return len(p.segments) == 0
}

// Parse parses a path. The leading dot is required; "." alone addresses the
// root.
func Parse(s string) (Path, error) {
	if s == "" {
		return Path{}, fmt.Errorf("empty path")
	}
	if s[0] != '.' {
		return Path{}, fmt.Errorf("path must start with '.': %q", s)
	}

	p := &parser{input: s, pos: 1}
	segments, err := p.parseSegments()
	if err != nil {
		return Path{}, fmt.Errorf("parse path %q: %w", s, err)
	}
	return Path{segments: segments, raw: s}, nil
}

// MustParse parses a path and panics on error. For literals in tests and
// built-in schema paths.
func MustParse(s string) Path {
	p, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return p
}

type parser struct {
	input string
	pos   int
}

func (p *parser) parseSegments() ([]Segment, error) {
	var segments []Segment
	for p.pos < len(p.input) {
		switch c := p.input[p.pos]; {
		case c == '.':
			if len(segments) == 0 {
				return nil, fmt.Errorf("unexpected '.' at position %d", p.pos)
			}
			p.pos++
			seg, err := p.parseSegment()
			if err != nil {
				return nil, err
			}
			segments = append(segments, seg)
		case c == '[':
			idx, err := p.parseIndex()
			if err != nil {
				return nil, err
			}
			segments = append(segments, Segment{Kind: SegmentIndex, Index: idx})
		default:
			if len(segments) > 0 {
				return nil, fmt.Errorf("expected '.' or '[' at position %d, got %q", p.pos, c)
			}
			seg, err := p.parseSegment()
			if err != nil {
				return nil, err
			}
			segments = append(segments, seg)
		}
	}
	return segments, nil
}

func (p *parser) parseSegment() (Segment, error) {
	if p.pos >= len(p.input) {
		return Segment{}, fmt.Errorf("unexpected end of path")
	}
	switch p.input[p.pos] {
	case '"':
		field, err := p.parseQuoted()
		if err != nil {
			return Segment{}, err
		}
		return Segment{Kind: SegmentField, Field: field}, nil
	case '(':
		return p.parseCoalesce()
	default:
		field, err := p.parseIdent()
		if err != nil {
			return Segment{}, err
		}
		return Segment{Kind: SegmentField, Field: field}, nil
	}
}

func (p *parser) parseIdent() (string, error) {
	start := p.pos
	for p.pos < len(p.input) {
		c := p.input[p.pos]
		if c == '.' || c == '[' || c == ')' || c == '|' {
			break
		}
		p.pos++
	}
	ident := strings.TrimSpace(p.input[start:p.pos])
	if ident == "" {
		return "", fmt.Errorf("empty segment at position %d", start)
	}
	return ident, nil
}

func (p *parser) parseQuoted() (string, error) {
	p.pos++ // opening quote
	var sb strings.Builder
	for p.pos < len(p.input) {
		c := p.input[p.pos]
		switch c {
		case '\\':
			if p.pos+1 >= len(p.input) {
				return "", fmt.Errorf("dangling escape at position %d", p.pos)
			}
			p.pos++
			sb.WriteByte(p.input[p.pos])
			p.pos++
		case '"':
			p.pos++
			return sb.String(), nil
		default:
			sb.WriteByte(c)
			p.pos++
		}
	}
	return "", fmt.Errorf("unterminated quoted segment")
}

func (p *parser) parseCoalesce() (Segment, error) {
	p.pos++ // opening paren
	var alts []string
	for {
		if p.pos >= len(p.input) {
			return Segment{}, fmt.Errorf("unterminated coalesce")
		}
		p.skipSpaces()
		var (
			alt string
			err error
		)
		if p.pos < len(p.input) && p.input[p.pos] == '"' {
			alt, err = p.parseQuoted()
		} else {
			alt, err = p.parseIdent()
		}
		if err != nil {
			return Segment{}, err
		}
		alts = append(alts, alt)
		p.skipSpaces()
		if p.pos >= len(p.input) {
			return Segment{}, fmt.Errorf("unterminated coalesce")
		}
		switch p.input[p.pos] {
		case '|':
			p.pos++
		case ')':
			p.pos++
			if len(alts) < 2 {
				return Segment{}, fmt.Errorf("coalesce requires at least two alternatives")
			}
			return Segment{Kind: SegmentCoalesce, Coalesce: alts}, nil
		default:
			return Segment{}, fmt.Errorf("expected '|' or ')' at position %d", p.pos)
		}
	}
}

func (p *parser) parseIndex() (int, error) {
	p.pos++ // opening bracket
	start := p.pos
	for p.pos < len(p.input) && p.input[p.pos] != ']' {
		p.pos++
	}
	if p.pos >= len(p.input) {
		return 0, fmt.Errorf("unterminated index")
	}
	idx, err := strconv.Atoi(p.input[start:p.pos])
	if err != nil {
		return 0, fmt.Errorf("invalid index %q: %w", p.input[start:p.pos], err)
	}
	p.pos++ // closing bracket
	return idx, nil
}

func (p *parser) skipSpaces() {
	for p.pos < len(p.input) && p.input[p.pos] == ' ' {
		p.pos++
	}
}

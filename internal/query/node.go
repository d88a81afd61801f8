package query

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"shx-go/internal/model"
)

// Node is one element of a parsed predicate.
type Node interface {
	eval(s *subject) bool
	String() string
}

type matchAll struct{}

func (matchAll) eval(*subject) bool { return true }
func (matchAll) String() string     { return "true" }

type andNode struct{ children []Node }

func (n *andNode) eval(s *subject) bool {
	for _, c := range n.children {
		if !c.eval(s) {
			return false
		}
	}
	return true
}

func (n *andNode) String() string { return combine("and", n.children) }

type orNode struct{ children []Node }

func (n *orNode) eval(s *subject) bool {
	for _, c := range n.children {
		if c.eval(s) {
			return true
		}
	}
	return false
}

func (n *orNode) String() string { return combine("or", n.children) }

type notNode struct{ child Node }

func (n *notNode) eval(s *subject) bool { return !n.child.eval(s) }
func (n *notNode) String() string        { return "not(" + n.child.String() + ")" }

func combine(name string, children []Node) string {
	parts := make([]string, len(children))
	for i, c := range children {
		parts[i] = c.String()
	}
	return name + "(" + strings.Join(parts, ", ") + ")"
}

func needsMetadata(n Node) bool {
	switch n := n.(type) {
	case *andNode:
		return slices.ContainsFunc(n.children, needsMetadata)
	case *orNode:
		return slices.ContainsFunc(n.children, needsMetadata)
	case *notNode:
		return needsMetadata(n.child)
	case *tagLeaf, *moodLeaf:
		return true
	}
	return false
}

func compareInt(op Op, got, want int64) bool {
	switch op {
	case OpEq:
		return got == want
	case OpGt:
		return got > want
	case OpLt:
		return got < want
	case OpGte:
		return got >= want
	case OpLte:
		return got <= want
	}
	return false
}

type typeLeaf struct {
	op    Op
	value string
}

// eval matches the value against both the kind and the extension.
func (l *typeLeaf) eval(s *subject) bool {
	ext := s.id.Ext()
	kind := model.KindOf(ext)
	if l.op == OpContains {
		return strings.Contains(kind, l.value) || (ext != "" && strings.Contains(ext, l.value))
	}
	return kind == l.value || ext == l.value
}

func (l *typeLeaf) String() string { return fmt.Sprintf("type %s %q", l.op, l.value) }

type sizeLeaf struct {
	op    Op
	value int64
}

func (l *sizeLeaf) eval(s *subject) bool { return compareInt(l.op, s.id.Size, l.value) }
func (l *sizeLeaf) String() string       { return fmt.Sprintf("size %s %d", l.op, l.value) }

// dateLeaf compares modification time. Whole-day values order against the
// day's bounds; eq always means inside [dayStart, dayEnd).
type dateLeaf struct {
	op       Op
	at       time.Time
	dayStart time.Time
	dayEnd   time.Time
	wholeDay bool
	text     string
}

func (l *dateLeaf) eval(s *subject) bool {
	m := s.id.ModTime
	switch l.op {
	case OpEq:
		return !m.Before(l.dayStart) && m.Before(l.dayEnd)
	case OpGt:
		if l.wholeDay {
			return !m.Before(l.dayEnd)
		}
		return m.After(l.at)
	case OpGte:
		if l.wholeDay {
			return !m.Before(l.dayStart)
		}
		return !m.Before(l.at)
	case OpLt:
		if l.wholeDay {
			return m.Before(l.dayStart)
		}
		return m.Before(l.at)
	case OpLte:
		if l.wholeDay {
			return m.Before(l.dayEnd)
		}
		return !m.After(l.at)
	}
	return false
}

func (l *dateLeaf) String() string { return fmt.Sprintf("date %s %q", l.op, l.text) }

// ageLeaf compares whole days elapsed since modification.
type ageLeaf struct {
	op   Op
	days int64
}

func (l *ageLeaf) eval(s *subject) bool {
	age := int64(s.now.Sub(s.id.ModTime) / (24 * time.Hour))
	return compareInt(l.op, age, l.days)
}

func (l *ageLeaf) String() string { return fmt.Sprintf("age %s %d", l.op, l.days) }

// tagLeaf requires every value: eq as an exact tag, contains as a substring
// of some tag.
type tagLeaf struct {
	op     Op
	values []string
}

func (l *tagLeaf) eval(s *subject) bool {
	tags := s.getTags()
	for _, v := range l.values {
		if l.op == OpEq {
			if !slices.Contains(tags, v) {
				return false
			}
			continue
		}
		if !slices.ContainsFunc(tags, func(t string) bool { return strings.Contains(t, v) }) {
			return false
		}
	}
	return true
}

func (l *tagLeaf) String() string {
	return fmt.Sprintf("tag %s %q", l.op, strings.Join(l.values, ","))
}

// moodLeaf matches the effective mood case-insensitively. contains looks at
// both value and name unless nameOnly is set.
type moodLeaf struct {
	op       Op
	value    string
	nameOnly bool
}

func (l *moodLeaf) eval(s *subject) bool {
	mood, ok := s.getMood()
	if !ok {
		return false
	}
	value := strings.ToLower(mood.Value)
	name := strings.ToLower(mood.Name)
	if l.nameOnly {
		if l.op == OpContains {
			return strings.Contains(name, l.value)
		}
		return name == l.value
	}
	if l.op == OpContains {
		return strings.Contains(value, l.value) || strings.Contains(name, l.value)
	}
	return value == l.value
}

func (l *moodLeaf) String() string {
	field := "mood"
	if l.nameOnly {
		field = "mood_name"
	}
	return fmt.Sprintf("%s %s %q", field, l.op, l.value)
}

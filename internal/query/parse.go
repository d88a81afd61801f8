package query

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/tidwall/gjson"

	"shx-go/internal/metastore"
	"shx-go/internal/model"
)

// Op is a comparison operator.
type Op string

const (
	OpEq       Op = "eq"
	OpGt       Op = "gt"
	OpLt       Op = "lt"
	OpGte      Op = "gte"
	OpLte      Op = "lte"
	OpContains Op = "contains"
)

var (
	orderedOps = []Op{OpEq, OpGt, OpLt, OpGte, OpLte}
	stringOps  = []Op{OpEq, OpContains}
)

// fieldSpec describes how one field parses.
type fieldSpec struct {
	ops       []Op
	defaultOp Op
	leaf      func(p *parser, op Op, v gjson.Result, path string) (Node, error)
}

var fields map[string]fieldSpec

// aliases accept the key spellings of older query documents.
var aliases = map[string]string{
	"tags":    "tag",
	"ageDays": "age",
}

func init() {
	fields = map[string]fieldSpec{
		"type":      {ops: stringOps, defaultOp: OpEq, leaf: (*parser).typeLeaf},
		"size":      {ops: orderedOps, defaultOp: OpEq, leaf: (*parser).sizeLeaf},
		"date":      {ops: orderedOps, defaultOp: OpEq, leaf: (*parser).dateLeaf},
		"age":       {ops: orderedOps, defaultOp: OpGte, leaf: (*parser).ageLeaf},
		"tag":       {ops: stringOps, defaultOp: OpEq, leaf: (*parser).tagLeaf},
		"mood":      {ops: stringOps, defaultOp: OpEq, leaf: (*parser).moodLeaf},
		"mood_name": {ops: stringOps, defaultOp: OpEq, leaf: (*parser).moodNameLeaf},
	}
}

type parser struct {
	now time.Time
}

func fail(path, format string, args ...any) error {
	return &model.QueryParseError{Path: path, Msg: fmt.Sprintf(format, args...)}
}

func join(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

// object parses an implicit conjunction. An empty object matches everything.
func (p *parser) object(obj gjson.Result, path string) (Node, error) {
	var nodes []Node
	var err error
	obj.ForEach(func(k, v gjson.Result) bool {
		var n Node
		n, err = p.member(k.String(), v, join(path, k.String()))
		if err != nil {
			return false
		}
		nodes = append(nodes, n)
		return true
	})
	if err != nil {
		return nil, err
	}
	switch len(nodes) {
	case 0:
		return matchAll{}, nil
	case 1:
		return nodes[0], nil
	}
	return &andNode{children: nodes}, nil
}

func (p *parser) member(key string, v gjson.Result, path string) (Node, error) {
	switch key {
	case "and", "or":
		if !v.IsArray() {
			return nil, fail(path, "%s expects an array of queries", key)
		}
		items := v.Array()
		if len(items) == 0 {
			return nil, fail(path, "%s must not be empty", key)
		}
		children := make([]Node, 0, len(items))
		for i, item := range items {
			itemPath := fmt.Sprintf("%s[%d]", path, i)
			if !item.IsObject() {
				return nil, fail(itemPath, "expected a query object")
			}
			n, err := p.object(item, itemPath)
			if err != nil {
				return nil, err
			}
			children = append(children, n)
		}
		if key == "and" {
			return &andNode{children: children}, nil
		}
		return &orNode{children: children}, nil
	case "not":
		if !v.IsObject() {
			return nil, fail(path, "not expects a query object")
		}
		n, err := p.object(v, path)
		if err != nil {
			return nil, err
		}
		return &notNode{child: n}, nil
	}

	name := key
	if alias, ok := aliases[key]; ok {
		name = alias
	}
	spec, ok := fields[name]
	if !ok {
		return nil, fail(path, "unknown field %q", key)
	}
	return p.field(spec, v, path)
}

func (p *parser) field(spec fieldSpec, v gjson.Result, path string) (Node, error) {
	if !v.IsObject() {
		return spec.leaf(p, spec.defaultOp, v, path)
	}

	var nodes []Node
	var err error
	v.ForEach(func(k, val gjson.Result) bool {
		op := Op(k.String())
		opPath := join(path, k.String())
		if !containsOp(spec.ops, op) {
			err = fail(opPath, "unsupported operator %q", k.String())
			return false
		}
		var n Node
		n, err = spec.leaf(p, op, val, opPath)
		if err != nil {
			return false
		}
		nodes = append(nodes, n)
		return true
	})
	if err != nil {
		return nil, err
	}
	switch len(nodes) {
	case 0:
		return nil, fail(path, "empty operator object")
	case 1:
		return nodes[0], nil
	}
	return &andNode{children: nodes}, nil
}

func containsOp(ops []Op, op Op) bool {
	for _, o := range ops {
		if o == op {
			return true
		}
	}
	return false
}

func (p *parser) typeLeaf(op Op, v gjson.Result, path string) (Node, error) {
	s, err := str(v, path, "type")
	if err != nil {
		return nil, err
	}
	s = strings.TrimPrefix(strings.ToLower(s), ".")
	if s == "" {
		return nil, fail(path, "type must not be empty")
	}
	return &typeLeaf{op: op, value: s}, nil
}

func (p *parser) sizeLeaf(op Op, v gjson.Result, path string) (Node, error) {
	switch v.Type {
	case gjson.Number:
		n, err := integral(v, path, "size")
		if err != nil {
			return nil, err
		}
		return &sizeLeaf{op: op, value: n}, nil
	case gjson.String:
		n, err := humanize.ParseBytes(v.Str)
		if err != nil {
			return nil, fail(path, "size %q is not a byte count", v.Str)
		}
		if n > math.MaxInt64 {
			return nil, fail(path, "size %q is too large", v.Str)
		}
		return &sizeLeaf{op: op, value: int64(n)}, nil
	}
	return nil, fail(path, "size expects a number or a byte string, got %s", kindOf(v))
}

var relativeRE = regexp.MustCompile(`^(\d+)([hdw])$`)

func (p *parser) dateLeaf(op Op, v gjson.Result, path string) (Node, error) {
	s, err := str(v, path, "date")
	if err != nil {
		return nil, err
	}
	s = strings.TrimSpace(s)

	if m := relativeRE.FindStringSubmatch(s); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return nil, fail(path, "relative date %q out of range", s)
		}
		unit := map[string]time.Duration{"h": time.Hour, "d": 24 * time.Hour, "w": 7 * 24 * time.Hour}[m[2]]
		if int64(n) > int64(math.MaxInt64/unit) {
			return nil, fail(path, "relative date %q out of range", s)
		}
		at := p.now.Add(-time.Duration(n) * unit)
		return &dateLeaf{op: op, at: at, dayStart: startOfDay(at), dayEnd: startOfDay(at).AddDate(0, 0, 1), text: s}, nil
	}
	if t, err := time.ParseInLocation(time.DateOnly, s, p.now.Location()); err == nil {
		return &dateLeaf{op: op, at: t, dayStart: t, dayEnd: t.AddDate(0, 0, 1), wholeDay: true, text: s}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		sec := t.Truncate(time.Second)
		return &dateLeaf{op: op, at: t, dayStart: sec, dayEnd: sec.Add(time.Second), text: s}, nil
	}
	return nil, fail(path, "date %q is not RFC3339, YYYY-MM-DD or a relative age like 30d", s)
}

func (p *parser) ageLeaf(op Op, v gjson.Result, path string) (Node, error) {
	if v.Type != gjson.Number {
		return nil, fail(path, "age expects a number of days, got %s", kindOf(v))
	}
	n, err := integral(v, path, "age")
	if err != nil {
		return nil, err
	}
	return &ageLeaf{op: op, days: n}, nil
}

func (p *parser) tagLeaf(op Op, v gjson.Result, path string) (Node, error) {
	var values []string
	if v.IsArray() {
		items := v.Array()
		if len(items) == 0 {
			return nil, fail(path, "tag list must not be empty")
		}
		for i, item := range items {
			s, err := str(item, fmt.Sprintf("%s[%d]", path, i), "tag")
			if err != nil {
				return nil, err
			}
			values = append(values, s)
		}
	} else {
		s, err := str(v, path, "tag")
		if err != nil {
			return nil, err
		}
		values = []string{s}
	}

	normalized := make([]string, 0, len(values))
	for _, s := range values {
		s = metastore.NormalizeTag(s)
		if s == "" {
			return nil, fail(path, "tag must not be empty")
		}
		normalized = append(normalized, s)
	}
	return &tagLeaf{op: op, values: normalized}, nil
}

func (p *parser) moodLeaf(op Op, v gjson.Result, path string) (Node, error) {
	s, err := nonEmpty(v, path, "mood")
	if err != nil {
		return nil, err
	}
	return &moodLeaf{op: op, value: s}, nil
}

func (p *parser) moodNameLeaf(op Op, v gjson.Result, path string) (Node, error) {
	s, err := nonEmpty(v, path, "mood_name")
	if err != nil {
		return nil, err
	}
	return &moodLeaf{op: op, value: s, nameOnly: true}, nil
}

func str(v gjson.Result, path, field string) (string, error) {
	if v.Type != gjson.String {
		return "", fail(path, "%s expects a string, got %s", field, kindOf(v))
	}
	return v.Str, nil
}

func nonEmpty(v gjson.Result, path, field string) (string, error) {
	s, err := str(v, path, field)
	if err != nil {
		return "", err
	}
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "", fail(path, "%s must not be empty", field)
	}
	return s, nil
}

func integral(v gjson.Result, path, field string) (int64, error) {
	f := v.Num
	// float64(math.MaxInt64) rounds up to 2^63, which int64 cannot hold.
	if f < 0 || f != math.Trunc(f) || f >= math.MaxInt64 {
		return 0, fail(path, "%s expects a non-negative whole number, got %s", field, v.Raw)
	}
	return int64(f), nil
}

func kindOf(v gjson.Result) string {
	switch {
	case v.IsArray():
		return "array"
	case v.IsObject():
		return "object"
	}
	switch v.Type {
	case gjson.String:
		return "string"
	case gjson.Number:
		return "number"
	case gjson.True, gjson.False:
		return "boolean"
	}
	return "null"
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// Package selector compiles boolean expressions that pick JSON items, e.g.
//
//	priority > 3 && kind == 'mail'
//
// Variables resolve to the top-level fields of a JSON object. Nested
// fields use govaluate's bracket form, [meta.owner]. Items that are not
// objects expose their whole value as "value".
//
// A missing field resolves to NaN: it is never equal to anything and every
// ordered comparison with it is false, so
//
//	priority > 3 || kind == 'mail'
//
// matches {"kind":"mail"}.
package selector

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/Knetic/govaluate"
)

type Selector struct {
	src  string
	expr *govaluate.EvaluableExpression
}

func Compile(src string) (*Selector, error) {
	expr, err := govaluate.NewEvaluableExpression(src)
	if err != nil {
		return nil, fmt.Errorf("invalid expression %q, %w", src, err)
	}
	return &Selector{src: src, expr: expr}, nil
}

func (s *Selector) String() string {
	return s.src
}

// Match evaluates the expression against v. Non-boolean results count as
// no match.
func (s *Selector) Match(v any) (bool, error) {
	res, err := s.expr.Eval(params{v: v})
	if err != nil {
		return false, err
	}
	b, ok := res.(bool)
	return ok && b, nil
}

// MatchJSON decodes raw and calls Match.
func (s *Selector) MatchJSON(raw []byte) (bool, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return false, fmt.Errorf("failed to decode item, %w", err)
	}
	return s.Match(v)
}

type params struct {
	v any
}

func (p params) Get(name string) (interface{}, error) {
	obj, ok := p.v.(map[string]any)
	if !ok {
		if name == "value" {
			return p.v, nil
		}
		return missing, nil
	}

	var cur any = obj
	for _, part := range strings.Split(name, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return missing, nil
		}
		if cur, ok = m[part]; !ok {
			return missing, nil
		}
	}
	return cur, nil
}

var missing = math.NaN()

package catalog

import (
	"fmt"
	"strings"
)

// Predicate is a named test over a scene's scalar properties.
type Predicate struct {
	Name string
	Test func(props map[string]float64) bool
}

// Op is a comparison operator usable in configuration files.
type Op string

const (
	OpLt  Op = "lt"
	OpLte Op = "lte"
	OpGt  Op = "gt"
	OpGte Op = "gte"
	OpEq  Op = "eq"
)

var opSymbols = map[Op]string{OpLt: "<", OpLte: "<=", OpGt: ">", OpGte: ">=", OpEq: "=="}

// Compare builds the predicate "property op value". A scene without the
// property never matches.
func Compare(property string, op Op, value float64) (Predicate, error) {
	sym, ok := opSymbols[op]
	if !ok {
		return Predicate{}, fmt.Errorf("unknown filter operator %q", op)
	}
	cmp := func(v float64) bool {
		switch op {
		case OpLt:
			return v < value
		case OpLte:
			return v <= value
		case OpGt:
			return v > value
		case OpGte:
			return v >= value
		default:
			return v == value
		}
	}
	return Predicate{
		Name: fmt.Sprintf("%s %s %g", property, sym, value),
		Test: func(props map[string]float64) bool {
			v, ok := props[property]
			return ok && cmp(v)
		},
	}, nil
}

func mustCompare(property string, op Op, value float64) Predicate {
	p, err := Compare(property, op, value)
	if err != nil {
		panic(err)
	}
	return p
}

func Lt(property string, value float64) Predicate  { return mustCompare(property, OpLt, value) }
func Lte(property string, value float64) Predicate { return mustCompare(property, OpLte, value) }
func Gt(property string, value float64) Predicate  { return mustCompare(property, OpGt, value) }
func Gte(property string, value float64) Predicate { return mustCompare(property, OpGte, value) }
func Eq(property string, value float64) Predicate  { return mustCompare(property, OpEq, value) }

// And is the conjunction of ps. The empty conjunction is always true.
func And(ps ...Predicate) Predicate {
	names := make([]string, len(ps))
	for i, p := range ps {
		names[i] = p.Name
	}
	return Predicate{
		Name: strings.Join(names, " AND "),
		Test: func(props map[string]float64) bool {
			for _, p := range ps {
				if !p.Test(props) {
					return false
				}
			}
			return true
		},
	}
}

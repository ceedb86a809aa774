package rules

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Supported condition operators.
const (
	OpEq       = "eq"
	OpNe       = "ne"
	OpGt       = "gt"
	OpGte      = "gte"
	OpLt       = "lt"
	OpLte      = "lte"
	OpContains = "contains"
	OpIn       = "in"
	OpExists   = "exists"
)

// ValidOperator reports whether op is a supported condition operator.
func ValidOperator(op string) bool {
	switch op {
	case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte, OpContains, OpIn, OpExists:
		return true
	}
	return false
}

// Condition is one comparison against a fact path. Numeric comparisons use
// exact decimal arithmetic; whatever threshold semantics a rule wants
// (inclusive bounds, windows) is expressed here as configuration, not engine
// logic.
type Condition struct {
	Fact  string
	Op    string
	Value interface{}
}

// NewCondition validates and builds a condition.
func NewCondition(fact, op string, value interface{}) (Condition, error) {
	if fact == "" {
		return Condition{}, fmt.Errorf("condition fact must not be empty")
	}
	if !ValidOperator(op) {
		return Condition{}, fmt.Errorf("unsupported operator %q", op)
	}
	if op == OpIn {
		if _, ok := value.([]interface{}); !ok {
			return Condition{}, fmt.Errorf("operator %q requires a list value", op)
		}
	}
	return Condition{Fact: fact, Op: op, Value: value}, nil
}

// Holds evaluates the condition against a resolved fact value. present is
// whether the fact exists in the bag.
func (c Condition) Holds(factValue interface{}, present bool) bool {
	switch c.Op {
	case OpExists:
		want, isBool := c.Value.(bool)
		if !isBool {
			want = true
		}
		return present == want
	case OpEq:
		return present && equal(factValue, c.Value)
	case OpNe:
		return present && !equal(factValue, c.Value)
	case OpGt, OpGte, OpLt, OpLte:
		if !present {
			return false
		}
		left, lok := toDecimal(factValue)
		right, rok := toDecimal(c.Value)
		if !lok || !rok {
			return false
		}
		cmp := left.Cmp(right)
		switch c.Op {
		case OpGt:
			return cmp > 0
		case OpGte:
			return cmp >= 0
		case OpLt:
			return cmp < 0
		default:
			return cmp <= 0
		}
	case OpContains:
		if !present {
			return false
		}
		switch fv := factValue.(type) {
		case string:
			needle, ok := c.Value.(string)
			return ok && strings.Contains(fv, needle)
		case []interface{}:
			for _, item := range fv {
				if equal(item, c.Value) {
					return true
				}
			}
		}
		return false
	case OpIn:
		if !present {
			return false
		}
		list, ok := c.Value.([]interface{})
		if !ok {
			return false
		}
		for _, item := range list {
			if equal(factValue, item) {
				return true
			}
		}
		return false
	}
	return false
}

// equal compares two values: numerically when both sides coerce to decimal,
// otherwise by direct comparison of comparable values.
func equal(a, b interface{}) bool {
	da, aok := toDecimal(a)
	db, bok := toDecimal(b)
	if aok && bok {
		return da.Equal(db)
	}
	return a == b
}

// toDecimal coerces the numeric shapes YAML and JSON produce into an exact
// decimal. Strings are not coerced: "5" stays a string.
func toDecimal(v interface{}) (decimal.Decimal, bool) {
	switch n := v.(type) {
	case int:
		return decimal.NewFromInt(int64(n)), true
	case int32:
		return decimal.NewFromInt(int64(n)), true
	case int64:
		return decimal.NewFromInt(n), true
	case uint64:
		return decimal.NewFromUint64(n), true
	case float32:
		return decimal.NewFromFloat32(n), true
	case float64:
		return decimal.NewFromFloat(n), true
	case decimal.Decimal:
		return n, true
	}
	return decimal.Decimal{}, false
}

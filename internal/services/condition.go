package services

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"autoflow/internal/models"
)

// Condition operators.
const (
	OpEquals      = "equals"
	OpNotEquals   = "not_equals"
	OpGreaterThan = "greater_than"
	OpLessThan    = "less_than"
	OpContains    = "contains"
)

// ValidOperators lists the operators the condition evaluator understands,
// in the order they are presented to users.
var ValidOperators = []string{OpEquals, OpNotEquals, OpGreaterThan, OpLessThan, OpContains}

// IsValidOperator reports whether op is one of ValidOperators.
func IsValidOperator(op string) bool {
	for _, v := range ValidOperators {
		if v == op {
			return true
		}
	}
	return false
}

// NormalizeOperator maps the symbolic spellings used by catalog data onto
// the evaluator's operator names. Unknown operators are returned unchanged.
func NormalizeOperator(op string) string {
	switch strings.TrimSpace(op) {
	case "=", "==", "eq":
		return OpEquals
	case "!=", "neq":
		return OpNotEquals
	case ">", "gt":
		return OpGreaterThan
	case "<", "lt":
		return OpLessThan
	default:
		return op
	}
}

// ConditionText renders a condition as "field operator expected".
func ConditionText(c models.ConditionSpec) string {
	return fmt.Sprintf("%s %s %v", c.Field, c.Operator, c.Expected)
}

// EvaluateConditions checks every condition against the snapshot. All
// conditions are evaluated so the audit trail is complete.
func EvaluateConditions(conds []models.ConditionSpec, snapshot map[string]interface{}) ([]models.ConditionResult, bool) {
	results := make([]models.ConditionResult, 0, len(conds))
	for _, c := range conds {
		actual, ok := LookupField(snapshot, c.Field)
		passed := false
		if ok {
			passed = CompareValues(actual, c.Operator, c.Expected)
		} else {
			actual = nil
		}
		results = append(results, models.ConditionResult{
			Condition:   ConditionText(c),
			Passed:      passed,
			ActualValue: actual,
			Expected:    c.Expected,
		})
	}
	return results, models.AllPassed(results)
}

// LookupField resolves field in the snapshot, first as a literal key and
// then as a dotted path through nested maps. A nil value counts as missing.
func LookupField(snapshot map[string]interface{}, field string) (interface{}, bool) {
	if snapshot == nil || field == "" {
		return nil, false
	}
	if v, ok := snapshot[field]; ok {
		return v, v != nil
	}
	if !strings.Contains(field, ".") {
		return nil, false
	}
	var cur interface{} = snapshot
	for _, part := range strings.Split(field, ".") {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, cur != nil
}

// CompareValues applies operator to actual and expected. Unknown operators
// and values that cannot be compared yield false.
func CompareValues(actual interface{}, operator string, expected interface{}) bool {
	switch operator {
	case OpEquals:
		return deepEqual(actual, expected)
	case OpNotEquals:
		return !deepEqual(actual, expected)
	case OpGreaterThan, OpLessThan:
		a, ok := toFloat(actual)
		if !ok {
			return false
		}
		e, ok := toFloat(expected)
		if !ok {
			return false
		}
		if operator == OpGreaterThan {
			return a > e
		}
		return a < e
	case OpContains:
		return containsValue(actual, expected)
	default:
		return false
	}
}

func containsValue(actual, expected interface{}) bool {
	switch a := actual.(type) {
	case string:
		return strings.Contains(a, fmt.Sprintf("%v", expected))
	case []interface{}:
		for _, item := range a {
			if deepEqual(item, expected) {
				return true
			}
		}
		return false
	case []string:
		for _, item := range a {
			if deepEqual(item, expected) {
				return true
			}
		}
		return false
	case map[string]interface{}:
		key, ok := expected.(string)
		if !ok {
			return false
		}
		_, found := a[key]
		return found
	default:
		return false
	}
}

// deepEqual compares values by their JSON shape, so 3 and 3.0 are equal and
// typed slices compare equal to their generic form.
func deepEqual(a, b interface{}) bool {
	if af, ok := numeric(a); ok {
		if bf, ok := numeric(b); ok {
			return af == bf
		}
		return false
	}
	na, errA := normalize(a)
	nb, errB := normalize(b)
	if errA != nil || errB != nil {
		return reflect.DeepEqual(a, b)
	}
	return reflect.DeepEqual(na, nb)
}

func normalize(v interface{}) (interface{}, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out interface{}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// numeric converts Go number types without parsing strings.
func numeric(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// toFloat is numeric plus numeric strings.
func toFloat(v interface{}) (float64, bool) {
	if f, ok := numeric(v); ok {
		return f, true
	}
	if s, ok := v.(string); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		return f, err == nil
	}
	return 0, false
}

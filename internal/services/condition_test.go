package services

import (
	"testing"

	"autoflow/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompareValues(t *testing.T) {
	tests := []struct {
		name     string
		actual   interface{}
		op       string
		expected interface{}
		want     bool
	}{
		{"equals numbers across types", 3, OpEquals, 3.0, true},
		{"equals strings", "vip", OpEquals, "vip", true},
		{"equals mismatched kinds", "3", OpEquals, 3, false},
		{"not equals", "a", OpNotEquals, "b", true},
		{"greater than", 12.5, OpGreaterThan, 10, true},
		{"greater than numeric string", "15", OpGreaterThan, 10, true},
		{"greater than not comparable", "abc", OpGreaterThan, 10, false},
		{"less than", 4, OpLessThan, 5, true},
		{"less than equal boundary", 5, OpLessThan, 5, false},
		{"contains substring", "summer sale", OpContains, "sale", true},
		{"contains list item", []interface{}{"a", "b"}, OpContains, "b", true},
		{"contains typed list", []string{"x"}, OpContains, "y", false},
		{"contains map key", map[string]interface{}{"k": 1}, OpContains, "k", true},
		{"contains on number", 10, OpContains, 1, false},
		{"unknown operator", 1, "between", 1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CompareValues(tt.actual, tt.op, tt.expected))
		})
	}
}

func TestEvaluateConditions_AllEvaluated(t *testing.T) {
	conds := []models.ConditionSpec{
		{Field: "inventory", Operator: OpLessThan, Expected: 10},
		{Field: "status", Operator: OpEquals, Expected: "active"},
		{Field: "missing", Operator: OpEquals, Expected: 1},
	}
	snapshot := map[string]interface{}{"inventory": 5, "status": "paused"}

	results, all := EvaluateConditions(conds, snapshot)
	require.Len(t, results, 3)
	assert.False(t, all)

	assert.True(t, results[0].Passed)
	assert.Equal(t, "inventory less_than 10", results[0].Condition)
	assert.Equal(t, 5, results[0].ActualValue)

	assert.False(t, results[1].Passed)
	assert.Equal(t, "paused", results[1].ActualValue)

	// 缺失字段：不通过，实际值为空
	assert.False(t, results[2].Passed)
	assert.Nil(t, results[2].ActualValue)
}

func TestEvaluateConditions_EmptyPasses(t *testing.T) {
	results, all := EvaluateConditions(nil, map[string]interface{}{"x": 1})
	assert.Empty(t, results)
	assert.True(t, all)
}

func TestLookupField(t *testing.T) {
	snapshot := map[string]interface{}{
		"order.total": 99,
		"customer":    map[string]interface{}{"tier": "gold", "meta": nil},
		"empty":       nil,
	}

	v, ok := LookupField(snapshot, "order.total")
	assert.True(t, ok)
	assert.Equal(t, 99, v)

	v, ok = LookupField(snapshot, "customer.tier")
	assert.True(t, ok)
	assert.Equal(t, "gold", v)

	_, ok = LookupField(snapshot, "customer.meta")
	assert.False(t, ok)
	_, ok = LookupField(snapshot, "empty")
	assert.False(t, ok)
	_, ok = LookupField(snapshot, "customer.tier.name")
	assert.False(t, ok)
	_, ok = LookupField(nil, "x")
	assert.False(t, ok)
}

func TestNormalizeOperator(t *testing.T) {
	assert.Equal(t, OpLessThan, NormalizeOperator("<"))
	assert.Equal(t, OpGreaterThan, NormalizeOperator(">"))
	assert.Equal(t, OpEquals, NormalizeOperator("=="))
	assert.Equal(t, OpNotEquals, NormalizeOperator("!="))
	assert.Equal(t, "between", NormalizeOperator("between"))
	assert.True(t, IsValidOperator(OpContains))
	assert.False(t, IsValidOperator("<"))
}

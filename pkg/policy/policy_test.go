package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluate_HighestPriorityMatchWins(t *testing.T) {
	set := &Set{
		ID:      "s1",
		Enabled: true,
		DefaultAction: ActionAllow,
		Rules: []Rule{
			{ID: "low", Priority: 10, Enabled: true, Action: ActionLog,
				Conditions: []Condition{{Field: "operation", Operator: OpEq, Value: "send"}}, Combine: CombineAND},
			{ID: "high", Priority: 50, Enabled: true, Action: ActionRestrict,
				Conditions: []Condition{{Field: "operation", Operator: OpEq, Value: "send"}}, Combine: CombineAND},
		},
	}
	ctx := Context{Data: map[string]interface{}{"operation": "send"}}
	d := Evaluate(set, ctx)
	assert.Equal(t, ActionRestrict, d.Action)
	assert.Equal(t, "high", d.MatchedRule)
}

func TestEvaluate_DenyAtHighPriorityShortCircuits(t *testing.T) {
	set := &Set{
		ID:      "s2",
		Enabled: true,
		DefaultAction: ActionAllow,
		Rules: []Rule{
			{ID: "deny", Priority: 200, Enabled: true, Action: ActionDeny,
				Conditions: []Condition{{Field: "operation", Operator: OpEq, Value: "send"}}, Combine: CombineAND},
			{ID: "allow-everything", Priority: 999, Enabled: true, Action: ActionAllow,
				Conditions: nil},
		},
	}
	ctx := Context{Data: map[string]interface{}{"operation": "send"}}
	d := Evaluate(set, ctx)
	assert.Equal(t, ActionDeny, d.Action)
	assert.Equal(t, "deny", d.MatchedRule)
}

func TestEvaluate_DefaultActionWhenNothingMatches(t *testing.T) {
	set := &Set{ID: "s3", Enabled: true, DefaultAction: ActionDeny}
	d := Evaluate(set, Context{Data: map[string]interface{}{}})
	assert.Equal(t, ActionDeny, d.Action)
	assert.Empty(t, d.MatchedRule)
}

func TestConditionMatches_TypeMismatchIsFalseNotError(t *testing.T) {
	c := Condition{Field: "size", Operator: OpGt, Value: 10}
	ctx := Context{Data: map[string]interface{}{"size": "not-a-number"}}
	assert.False(t, conditionMatches(c, ctx))
}

func TestEngine_CacheHitMatchesFreshEvaluation(t *testing.T) {
	e := NewEngine(time.Minute, 100)
	set := &Set{
		ID: "cached", Enabled: true, DefaultAction: ActionDeny,
		Rules: []Rule{{ID: "r1", Priority: 10, Enabled: true, Action: ActionAllow,
			Conditions: []Condition{{Field: "op", Operator: OpEq, Value: "read"}}, Combine: CombineAND}},
	}
	e.AddSet(set)
	ctx := Context{Data: map[string]interface{}{"op": "read"}}

	first, err := e.Evaluate("cached", ctx)
	require.NoError(t, err)
	assert.False(t, first.FromCache)

	second, err := e.Evaluate("cached", ctx)
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, first.Action, second.Action)
	assert.Equal(t, first.MatchedRule, second.MatchedRule)
}

func TestEngine_MutationInvalidatesCache(t *testing.T) {
	e := NewEngine(time.Minute, 100)
	set := &Set{ID: "mut", Enabled: true, DefaultAction: ActionAllow}
	e.AddSet(set)
	ctx := Context{Data: map[string]interface{}{"x": 1}}

	_, err := e.Evaluate("mut", ctx)
	require.NoError(t, err)

	e.SetEnabled("mut", false)
	d, err := e.Evaluate("mut", ctx)
	require.NoError(t, err)
	assert.False(t, d.FromCache)
	assert.Equal(t, ActionDeny, d.Action)
}

func TestEngine_UnknownSetReturnsError(t *testing.T) {
	e := NewEngine(time.Minute, 100)
	_, err := e.Evaluate("missing", Context{})
	assert.Error(t, err)
}

func TestEngine_StatsTrackEvaluations(t *testing.T) {
	e := NewEngine(time.Minute, 100)
	e.AddSet(&Set{ID: "s", Enabled: true, DefaultAction: ActionAllow})
	for i := 0; i < 5; i++ {
		_, err := e.Evaluate("s", Context{Data: map[string]interface{}{"i": i}})
		require.NoError(t, err)
	}
	assert.Equal(t, int64(5), e.Stats().TotalEvaluations)
}

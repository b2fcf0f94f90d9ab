package policy

import (
	"fmt"
	"regexp"
	"sort"
)

// Evaluate applies ctx against set per spec.md §4.F: rules are tried in
// priority-descending order, a Deny at priority >= 100 short-circuits, and
// otherwise the highest-priority match wins; falling through to
// set.DefaultAction if nothing matches.
func Evaluate(set *Set, ctx Context) Decision {
	sorted := make([]Rule, len(set.Rules))
	copy(sorted, set.Rules)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority > sorted[j].Priority })

	var best *Rule
	for i := range sorted {
		rule := &sorted[i]
		if !rule.Enabled {
			continue
		}
		if !ruleMatches(rule, ctx) {
			continue
		}
		if rule.Action == ActionDeny && rule.Priority >= 100 {
			return Decision{Action: ActionDeny, MatchedRule: rule.ID}
		}
		if best == nil || rule.Priority > best.Priority {
			best = rule
		}
	}

	if best != nil {
		return Decision{Action: best.Action, MatchedRule: best.ID}
	}
	return Decision{Action: set.DefaultAction}
}

func ruleMatches(rule *Rule, ctx Context) bool {
	if len(rule.Conditions) == 0 {
		return true
	}
	switch rule.Combine {
	case CombineOR:
		for _, c := range rule.Conditions {
			if conditionMatches(c, ctx) {
				return true
			}
		}
		return false
	default: // CombineAND, and the zero value
		for _, c := range rule.Conditions {
			if !conditionMatches(c, ctx) {
				return false
			}
		}
		return true
	}
}

// conditionMatches never errors: a type mismatch (e.g. Gt on a non-numeric
// field) evaluates to false, per spec.md §4.F.
func conditionMatches(c Condition, ctx Context) bool {
	actual, ok := ctx.Data[c.Field]
	if !ok {
		return false
	}

	switch c.Operator {
	case OpEq:
		return fmt.Sprint(actual) == fmt.Sprint(c.Value)
	case OpNeq:
		return fmt.Sprint(actual) != fmt.Sprint(c.Value)
	case OpGt, OpGe, OpLt, OpLe:
		a, aok := toFloat(actual)
		b, bok := toFloat(c.Value)
		if !aok || !bok {
			return false
		}
		switch c.Operator {
		case OpGt:
			return a > b
		case OpGe:
			return a >= b
		case OpLt:
			return a < b
		case OpLe:
			return a <= b
		}
		return false
	case OpContains:
		return stringContains(actual, c.Value)
	case OpNotContain:
		return !stringContains(actual, c.Value)
	case OpRegex:
		pattern, ok := c.Value.(string)
		if !ok {
			return false
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false
		}
		return re.MatchString(fmt.Sprint(actual))
	case OpIn:
		return inSlice(actual, c.Value)
	case OpNotIn:
		return !inSlice(actual, c.Value)
	default:
		return false
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func stringContains(actual, value interface{}) bool {
	a, aok := actual.(string)
	b, bok := value.(string)
	if !aok || !bok {
		return false
	}
	return len(a) >= len(b) && indexOf(a, b) >= 0
}

func indexOf(haystack, needle string) int {
	if needle == "" {
		return 0
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}

func inSlice(actual, set interface{}) bool {
	items, ok := set.([]interface{})
	if !ok {
		return false
	}
	for _, item := range items {
		if fmt.Sprint(item) == fmt.Sprint(actual) {
			return true
		}
	}
	return false
}

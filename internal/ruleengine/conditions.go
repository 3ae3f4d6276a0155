package ruleengine

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
)

// EvaluateCondition checks one primitive condition against a request context.
// Unknown types and operators, missing context values and broken regex
// patterns all evaluate to false (except "ne", which a missing value
// satisfies by strict inequality). No error ever escapes this function.
func EvaluateCondition(cond Condition, rc *RequestContext) bool {
	value, ok := contextValue(cond.Type, rc)
	if !ok {
		// Unknown condition type.
		return false
	}
	return applyOperator(cond.Operator, value, cond.Value)
}

// contextValue extracts the attribute a condition type inspects. The bool
// return distinguishes "unknown type" from a legitimately empty value.
func contextValue(condType string, rc *RequestContext) (any, bool) {
	switch condType {
	case CondAppVersion:
		return stringOrNil(rc.AppVersion), true
	case CondOS:
		return stringOrNil(rc.EffectiveOS()), true
	case CondDevice:
		return stringOrNil(rc.EffectiveDevice()), true
	case CondGeoCountry:
		return stringOrNil(rc.EffectiveCountry()), true
	case CondGeoRegion:
		return stringOrNil(rc.EffectiveRegion()), true
	case CondTimeAfter, CondTimeBefore:
		if rc.Timestamp.IsZero() {
			return nil, true
		}
		return float64(rc.Timestamp.UnixMilli()), true
	case CondUserAgentMatch:
		return stringOrNil(rc.UserAgent), true
	default:
		return nil, false
	}
}

func stringOrNil(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// applyOperator applies a comparison operator. A nil context value fails
// every operator except ne.
func applyOperator(op string, contextVal, condVal any) bool {
	switch op {
	case OpEq:
		return looseEqual(contextVal, condVal)
	case OpNe:
		return !looseEqual(contextVal, condVal)
	case OpGt:
		c, ok := compareValues(contextVal, condVal)
		return ok && c > 0
	case OpLt:
		c, ok := compareValues(contextVal, condVal)
		return ok && c < 0
	case OpGte:
		c, ok := compareValues(contextVal, condVal)
		return ok && c >= 0
	case OpLte:
		c, ok := compareValues(contextVal, condVal)
		return ok && c <= 0
	case OpIn:
		items, ok := condVal.([]any)
		if !ok {
			return false
		}
		for _, item := range items {
			if looseEqual(contextVal, item) {
				return true
			}
		}
		return false
	case OpRegex:
		pattern, ok := condVal.(string)
		if !ok || contextVal == nil {
			return false
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false
		}
		return re.MatchString(fmt.Sprint(contextVal))
	default:
		return false
	}
}

// looseEqual compares two JSON values: numbers numerically regardless of
// concrete type, everything else by deep equality.
func looseEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if fa, aok := toFloat(a); aok {
		fb, bok := toFloat(b)
		return bok && fa == fb
	}
	return reflect.DeepEqual(a, b)
}

// compareValues orders two values: numbers numerically, strings
// lexicographically. Anything else (including nil) is not comparable.
func compareValues(a, b any) (int, bool) {
	if a == nil || b == nil {
		return 0, false
	}
	if fa, aok := toFloat(a); aok {
		if fb, bok := toFloat(b); bok {
			switch {
			case fa < fb:
				return -1, true
			case fa > fb:
				return 1, true
			default:
				return 0, true
			}
		}
		return 0, false
	}
	sa, aok := a.(string)
	sb, bok := b.(string)
	if aok && bok {
		return strings.Compare(sa, sb), true
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint:
		return float64(t), true
	case uint32:
		return float64(t), true
	case uint64:
		return float64(t), true
	default:
		return 0, false
	}
}

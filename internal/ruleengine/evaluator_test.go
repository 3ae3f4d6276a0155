package ruleengine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func boolPtr(b bool) *bool { return &b }
func intPtr(i int) *int    { return &i }

func TestEvaluator_Evaluate(t *testing.T) {
	t.Parallel()

	rc := &RequestContext{
		ParsedUA: ParsedUA{
			OS:     ParsedOS{Name: "iOS"},
			Device: ParsedDevice{Type: "mobile"},
		},
	}

	tests := []struct {
		name        string
		rule        *Rule
		others      []*Rule
		matched     map[string]bool
		wantMatched bool
		wantReason  string
	}{
		{
			name: "Should match when all conditions pass",
			rule: &Rule{
				ID:         "ios-rule",
				Conditions: []Condition{{Type: CondOS, Operator: OpEq, Value: "iOS"}},
			},
			wantMatched: true,
			wantReason:  ReasonConditionsMet,
		},
		{
			name: "Should match a rule with no conditions at all",
			rule: &Rule{
				ID: "unconditional",
			},
			wantMatched: true,
			wantReason:  ReasonConditionsMet,
		},
		{
			name: "Should not match when a condition fails",
			rule: &Rule{
				ID:         "android-rule",
				Conditions: []Condition{{Type: CondOS, Operator: OpEq, Value: "Android"}},
			},
			wantMatched: false,
			wantReason:  ReasonNoMatch,
		},
		{
			name: "Should report a disabled rule before anything else",
			rule: &Rule{
				ID:         "off",
				Enabled:    boolPtr(false),
				Exclusions: []string{"winner"},
				Conditions: []Condition{{Type: CondOS, Operator: OpEq, Value: "iOS"}},
			},
			matched:     map[string]bool{"winner": true},
			wantMatched: false,
			wantReason:  ReasonDisabled,
		},
		{
			name: "Should report exclusion before missing dependencies",
			rule: &Rule{
				ID:           "excluded",
				Exclusions:   []string{"winner"},
				Dependencies: []string{"never-matched"},
			},
			matched:     map[string]bool{"winner": true},
			wantMatched: false,
			wantReason:  ReasonExcluded,
		},
		{
			name: "Should report missing dependencies before the chain",
			rule: &Rule{
				ID:           "needs-dep",
				Dependencies: []string{"not-yet"},
				Chain:        &Chain{Operator: ChainAnd, Rules: []ChainItem{{RuleID: "no-such"}}},
			},
			wantMatched: false,
			wantReason:  ReasonMissingDeps,
		},
		{
			name: "Should match when every dependency already matched",
			rule: &Rule{
				ID:           "dependent",
				Dependencies: []string{"base"},
			},
			matched:     map[string]bool{"base": true},
			wantMatched: true,
			wantReason:  ReasonConditionsMet,
		},
		{
			name: "Should report a failed chain before the conditions",
			rule: &Rule{
				ID:         "chained",
				Chain:      &Chain{Operator: ChainAnd, Rules: []ChainItem{{RuleID: "is-android"}}},
				Conditions: []Condition{{Type: CondOS, Operator: OpEq, Value: "iOS"}},
			},
			others: []*Rule{{
				ID:         "is-android",
				Conditions: []Condition{{Type: CondOS, Operator: OpEq, Value: "Android"}},
			}},
			wantMatched: false,
			wantReason:  ReasonChainFailed,
		},
		{
			name: "Should match when the chain and the conditions pass",
			rule: &Rule{
				ID:         "chained-ok",
				Chain:      &Chain{Operator: ChainAnd, Rules: []ChainItem{{RuleID: "is-ios"}}},
				Conditions: []Condition{{Type: CondDevice, Operator: OpEq, Value: "mobile"}},
			},
			others: []*Rule{{
				ID:         "is-ios",
				Conditions: []Condition{{Type: CondOS, Operator: OpEq, Value: "iOS"}},
			}},
			wantMatched: true,
			wantReason:  ReasonConditionsMet,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			// Arrange
			rules := append([]*Rule{tt.rule}, tt.others...)
			e := NewEvaluator(rules, nil)
			matched := tt.matched
			if matched == nil {
				matched = map[string]bool{}
			}

			// Act
			result := e.Evaluate(tt.rule, rc, matched)

			// Assert
			assert.Equal(t, tt.wantMatched, result.Matched)
			assert.Equal(t, tt.wantReason, result.Reason)
			assert.Same(t, tt.rule, result.Rule)
		})
	}
}

func TestEvaluator_BasicEvaluateMemoization(t *testing.T) {
	t.Parallel()

	// A rule referenced twice through chains only hits the condition walk
	// once; the second lookup comes from the memo.
	rule := &Rule{
		ID:         "shared",
		Conditions: []Condition{{Type: CondOS, Operator: OpEq, Value: "iOS"}},
	}
	e := NewEvaluator([]*Rule{rule}, nil)
	rc := &RequestContext{OS: "iOS"}

	assert.True(t, e.basicEvaluate(rule, rc))

	// Mutating the rule after the first evaluation must not change the
	// memoized answer.
	rule.Conditions[0].Value = "Android"
	assert.True(t, e.basicEvaluate(rule, rc))
}

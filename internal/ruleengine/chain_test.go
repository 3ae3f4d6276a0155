package ruleengine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chainFixtureRules() []*Rule {
	return []*Rule{
		{
			ID:         "is-ios",
			Conditions: []Condition{{Type: CondOS, Operator: OpEq, Value: "iOS"}},
		},
		{
			ID:         "is-mobile",
			Conditions: []Condition{{Type: CondDevice, Operator: OpEq, Value: "mobile"}},
		},
		{
			ID:         "is-us",
			Conditions: []Condition{{Type: CondGeoCountry, Operator: OpEq, Value: "US"}},
		},
		{
			ID:         "disabled-rule",
			Enabled:    boolPtr(false),
			Conditions: []Condition{{Type: CondOS, Operator: OpEq, Value: "iOS"}},
		},
	}
}

func TestEvaluator_EvaluateChain(t *testing.T) {
	t.Parallel()

	// iOS mobile client outside the US.
	rc := &RequestContext{
		ParsedUA: ParsedUA{
			OS:     ParsedOS{Name: "iOS"},
			Device: ParsedDevice{Type: "mobile"},
		},
		GeoCountry: "DE",
	}

	tests := []struct {
		name  string
		chain *Chain
		want  bool
	}{
		{
			name: "Should require every item for AND",
			chain: &Chain{Operator: ChainAnd, Rules: []ChainItem{
				{RuleID: "is-ios"}, {RuleID: "is-mobile"},
			}},
			want: true,
		},
		{
			name: "Should fail AND when one item fails",
			chain: &Chain{Operator: ChainAnd, Rules: []ChainItem{
				{RuleID: "is-ios"}, {RuleID: "is-us"},
			}},
			want: false,
		},
		{
			name: "Should pass OR when any item passes",
			chain: &Chain{Operator: ChainOr, Rules: []ChainItem{
				{RuleID: "is-us"}, {RuleID: "is-mobile"},
			}},
			want: true,
		},
		{
			name: "Should fail OR when every item fails",
			chain: &Chain{Operator: ChainOr, Rules: []ChainItem{
				{RuleID: "is-us"}, {RuleID: "disabled-rule"},
			}},
			want: false,
		},
		{
			name: "Should negate only the first item for NOT",
			chain: &Chain{Operator: ChainNot, Rules: []ChainItem{
				{RuleID: "is-us"}, {RuleID: "is-ios"},
			}},
			want: true,
		},
		{
			name: "Should fail NOT when the first item passes",
			chain: &Chain{Operator: ChainNot, Rules: []ChainItem{
				{RuleID: "is-ios"},
			}},
			want: false,
		},
		{
			name: "Should pass XOR with exactly one true item",
			chain: &Chain{Operator: ChainXor, Rules: []ChainItem{
				{RuleID: "is-ios"}, {RuleID: "is-us"},
			}},
			want: true,
		},
		{
			name: "Should fail XOR with two true items",
			chain: &Chain{Operator: ChainXor, Rules: []ChainItem{
				{RuleID: "is-ios"}, {RuleID: "is-mobile"},
			}},
			want: false,
		},
		{
			name: "Should fail XOR with zero true items",
			chain: &Chain{Operator: ChainXor, Rules: []ChainItem{
				{RuleID: "is-us"}, {RuleID: "no-such-rule"},
			}},
			want: false,
		},
		{
			name: "Should treat an unknown rule id as false",
			chain: &Chain{Operator: ChainAnd, Rules: []ChainItem{
				{RuleID: "is-ios"}, {RuleID: "no-such-rule"},
			}},
			want: false,
		},
		{
			name: "Should use basic evaluation, so disabled referenced rules are false",
			chain: &Chain{Operator: ChainOr, Rules: []ChainItem{
				{RuleID: "disabled-rule"},
			}},
			want: false,
		},
		{
			name: "Should recurse into nested chains",
			chain: &Chain{Operator: ChainAnd, Rules: []ChainItem{
				{RuleID: "is-ios"},
				{Nested: &Chain{Operator: ChainOr, Rules: []ChainItem{
					{RuleID: "is-us"}, {RuleID: "is-mobile"},
				}}},
			}},
			want: true,
		},
		{
			name:  "Should treat an empty chain as false",
			chain: &Chain{Operator: ChainAnd},
			want:  false,
		},
		{
			name: "Should treat an unknown operator as false",
			chain: &Chain{Operator: "NAND", Rules: []ChainItem{
				{RuleID: "is-ios"},
			}},
			want: false,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			e := NewEvaluator(chainFixtureRules(), nil)

			assert.Equal(t, tt.want, e.evaluateChain(tt.chain, rc))
		})
	}
}

func TestChainItem_JSON(t *testing.T) {
	t.Parallel()

	t.Run("Should unmarshal a bare string as a rule id", func(t *testing.T) {
		t.Parallel()

		var item ChainItem
		require.NoError(t, item.UnmarshalJSON([]byte(`"rule-a"`)))

		assert.Equal(t, "rule-a", item.RuleID)
		assert.Nil(t, item.Nested)
	})

	t.Run("Should unmarshal an object as a nested chain", func(t *testing.T) {
		t.Parallel()

		var item ChainItem
		require.NoError(t, item.UnmarshalJSON([]byte(`{"operator":"OR","rules":["a","b"]}`)))

		require.NotNil(t, item.Nested)
		assert.Equal(t, ChainOr, item.Nested.Operator)
		require.Len(t, item.Nested.Rules, 2)
		assert.Equal(t, "a", item.Nested.Rules[0].RuleID)
	})

	t.Run("Should reject a number", func(t *testing.T) {
		t.Parallel()

		var item ChainItem
		assert.Error(t, item.UnmarshalJSON([]byte(`42`)))
	})

	t.Run("Should round-trip both forms", func(t *testing.T) {
		t.Parallel()

		id, err := ChainItem{RuleID: "rule-a"}.MarshalJSON()
		require.NoError(t, err)
		assert.JSONEq(t, `"rule-a"`, string(id))

		nested, err := ChainItem{Nested: &Chain{Operator: ChainNot, Rules: []ChainItem{{RuleID: "x"}}}}.MarshalJSON()
		require.NoError(t, err)
		assert.JSONEq(t, `{"operator":"NOT","rules":["x"]}`, string(nested))
	})
}

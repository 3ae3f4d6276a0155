package ruleengine

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/norns-io/norns/internal/configdoc"
)

func newTestLoader(t *testing.T) *Loader {
	t.Helper()
	l, err := NewLoader(128, time.Minute, nil)
	require.NoError(t, err)
	t.Cleanup(l.Close)
	return l
}

func loaderSpec() *Specification {
	disabled := false
	return &Specification{
		ID:          "spec-1",
		AppID:       "my-app",
		Version:     "1.0.0",
		Environment: EnvStaging,
		FeatureFlags: map[string]bool{
			"newCheckout": true,
		},
		RolloutPercentages: map[string]int{},
		Rules: []Rule{
			{
				ID:      "gated-rule",
				Name:    "Gated",
				Enabled: &disabled,
				Config:  configdoc.Document{"feature": true},
			},
			{
				ID:     "flagged-rule",
				Name:   "Flagged",
				Config: configdoc.Document{"checkout": "v2"},
			},
		},
		UpdatedAt: time.Unix(1_700_000_000, 0),
	}
}

func rawCondition(t *testing.T, condType string, value any) LoadCondition {
	t.Helper()
	raw, err := json.Marshal(value)
	require.NoError(t, err)
	return LoadCondition{Type: condType, Value: raw}
}

func TestLoader_EvaluateLoadCondition(t *testing.T) {
	t.Parallel()

	spec := loaderSpec()

	tests := []struct {
		name string
		cond LoadCondition
		rc   *RequestContext
		want bool
	}{
		{
			name: "Should match the specification's environment",
			cond: LoadCondition{Type: LoadEnvironment, Value: json.RawMessage(`"staging"`)},
			rc:   &RequestContext{},
			want: true,
		},
		{
			name: "Should not match a different environment",
			cond: LoadCondition{Type: LoadEnvironment, Value: json.RawMessage(`"production"`)},
			rc:   &RequestContext{},
			want: false,
		},
		{
			name: "Should read feature flags from the specification",
			cond: LoadCondition{Type: LoadFeatureFlag, Value: json.RawMessage(`{"flagName":"newCheckout","expectedValue":true}`)},
			rc:   &RequestContext{},
			want: true,
		},
		{
			name: "Should let request flags shadow specification flags",
			cond: LoadCondition{Type: LoadFeatureFlag, Value: json.RawMessage(`{"flagName":"newCheckout","expectedValue":true}`)},
			rc:   &RequestContext{FeatureFlags: map[string]bool{"newCheckout": false}},
			want: false,
		},
		{
			name: "Should fail when the flag exists nowhere",
			cond: LoadCondition{Type: LoadFeatureFlag, Value: json.RawMessage(`{"flagName":"ghostFlag","expectedValue":false}`)},
			rc:   &RequestContext{},
			want: false,
		},
		{
			name: "Should fail percentage rollout without a user id",
			cond: LoadCondition{Type: LoadPercentageRollout, Value: json.RawMessage(`{"percentage":100,"ruleId":"gated-rule"}`)},
			rc:   &RequestContext{},
			want: false,
		},
		{
			name: "Should include everyone at 100 percent",
			cond: LoadCondition{Type: LoadPercentageRollout, Value: json.RawMessage(`{"percentage":100,"ruleId":"gated-rule"}`)},
			rc:   &RequestContext{UserID: "user055"},
			want: true,
		},
		{
			name: "Should include no one at 0 percent",
			cond: LoadCondition{Type: LoadPercentageRollout, Value: json.RawMessage(`{"percentage":0,"ruleId":"gated-rule"}`)},
			rc:   &RequestContext{UserID: "user055"},
			want: false,
		},
		{
			name: "Should fail without a percentage anywhere",
			cond: LoadCondition{Type: LoadPercentageRollout, Value: json.RawMessage(`{"ruleId":"gated-rule"}`)},
			rc:   &RequestContext{UserID: "user055"},
			want: false,
		},
		{
			name: "Should compare custom context with the condition operators",
			cond: LoadCondition{Type: LoadCustom, Value: json.RawMessage(`{"key":"tier","operator":"eq","value":"premium"}`)},
			rc:   &RequestContext{Custom: map[string]any{"tier": "premium"}},
			want: true,
		},
		{
			name: "Should compare custom numbers numerically",
			cond: LoadCondition{Type: LoadCustom, Value: json.RawMessage(`{"key":"sessions","operator":"gte","value":5}`)},
			rc:   &RequestContext{Custom: map[string]any{"sessions": float64(7)}},
			want: true,
		},
		{
			name: "Should satisfy custom ne on a missing key",
			cond: LoadCondition{Type: LoadCustom, Value: json.RawMessage(`{"key":"tier","operator":"ne","value":"premium"}`)},
			rc:   &RequestContext{},
			want: true,
		},
		{
			name: "Should treat an unknown load condition type as false",
			cond: LoadCondition{Type: "moon_phase", Value: json.RawMessage(`"full"`)},
			rc:   &RequestContext{},
			want: false,
		},
		{
			name: "Should treat a malformed value as false",
			cond: LoadCondition{Type: LoadEnvironment, Value: json.RawMessage(`{"not":"a string"}`)},
			rc:   &RequestContext{},
			want: false,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			l := newTestLoader(t)

			assert.Equal(t, tt.want, l.EvaluateLoadCondition(spec, tt.rc, tt.cond))
		})
	}
}

func TestLoader_EvaluateLoadCondition_RolloutFallback(t *testing.T) {
	t.Parallel()

	// Without an inline percentage the loader falls back to the
	// specification's rolloutPercentages entry for the rule.
	l := newTestLoader(t)
	spec := loaderSpec()
	userBucket := Bucket("gated-rule", "user055")
	spec.RolloutPercentages["gated-rule"] = userBucket

	cond := rawCondition(t, LoadPercentageRollout, map[string]any{"ruleId": "gated-rule"})
	assert.True(t, l.EvaluateLoadCondition(spec, &RequestContext{UserID: "user055"}, cond))

	spec.RolloutPercentages["gated-rule"] = userBucket - 1
	assert.False(t, l.EvaluateLoadCondition(spec, &RequestContext{UserID: "user055"}, cond))
}

func TestLoader_Load(t *testing.T) {
	t.Parallel()

	t.Run("Should load a rule whose conditions all hold, forced enabled", func(t *testing.T) {
		t.Parallel()

		l := newTestLoader(t)
		spec := loaderSpec()
		spec.ConditionalRules = []ConditionalRule{{
			RuleID: "gated-rule",
			LoadConditions: []LoadCondition{
				rawCondition(t, LoadEnvironment, "staging"),
				rawCondition(t, LoadFeatureFlag, map[string]any{"flagName": "newCheckout", "expectedValue": true}),
			},
		}}

		loaded := l.Load(spec, &RequestContext{})

		require.Len(t, loaded, 1)
		assert.Equal(t, "gated-rule", loaded[0].ID)
		// Stored disabled, loaded enabled.
		assert.True(t, loaded[0].IsEnabled())
		assert.False(t, spec.Rules[0].IsEnabled())
	})

	t.Run("Should load nothing when any condition fails", func(t *testing.T) {
		t.Parallel()

		l := newTestLoader(t)
		spec := loaderSpec()
		spec.ConditionalRules = []ConditionalRule{{
			RuleID: "gated-rule",
			LoadConditions: []LoadCondition{
				rawCondition(t, LoadEnvironment, "staging"),
				rawCondition(t, LoadEnvironment, "production"),
			},
		}}

		assert.Empty(t, l.Load(spec, &RequestContext{}))
	})

	t.Run("Should skip gates that reference unknown rule ids", func(t *testing.T) {
		t.Parallel()

		l := newTestLoader(t)
		spec := loaderSpec()
		spec.ConditionalRules = []ConditionalRule{{
			RuleID:         "no-such-rule",
			LoadConditions: []LoadCondition{rawCondition(t, LoadEnvironment, "staging")},
		}}

		assert.Empty(t, l.Load(spec, &RequestContext{}))
	})

	t.Run("Should return independent copies across calls", func(t *testing.T) {
		t.Parallel()

		l := newTestLoader(t)
		spec := loaderSpec()
		spec.ConditionalRules = []ConditionalRule{{
			RuleID:         "gated-rule",
			LoadConditions: []LoadCondition{rawCondition(t, LoadEnvironment, "staging")},
		}}
		rc := &RequestContext{UserID: "user-1"}

		first := l.Load(spec, rc)
		require.Len(t, first, 1)
		first[0].Config["feature"] = false
		first[0].Name = "tampered"

		second := l.Load(spec, rc)
		require.Len(t, second, 1)
		assert.Equal(t, "Gated", second[0].Name)
		assert.Equal(t, true, second[0].Config["feature"])
	})

	t.Run("Should report hits and misses to the observer", func(t *testing.T) {
		t.Parallel()

		l := newTestLoader(t)
		var hits, misses int
		l.OnCacheResult(func(hit bool) {
			if hit {
				hits++
			} else {
				misses++
			}
		})
		spec := loaderSpec()
		rc := &RequestContext{UserID: "user-1"}

		l.Load(spec, rc)
		l.Load(spec, rc)

		assert.Equal(t, 1, misses)
		assert.GreaterOrEqual(t, hits+misses, 2)
	})

	t.Run("Should key the cache on the user, not just the spec", func(t *testing.T) {
		t.Parallel()

		l := newTestLoader(t)
		spec := loaderSpec()
		bucket := Bucket("gated-rule", "user-in")
		spec.ConditionalRules = []ConditionalRule{{
			RuleID: "gated-rule",
			LoadConditions: []LoadCondition{
				rawCondition(t, LoadPercentageRollout, map[string]any{"percentage": bucket, "ruleId": "gated-rule"}),
			},
		}}

		inside := l.Load(spec, &RequestContext{UserID: "user-in"})
		assert.Len(t, inside, 1)

		// Find a user outside the rollout and check the cached set for the
		// first user does not leak to them.
		for i := 0; i < 1000; i++ {
			candidate := fmt.Sprintf("user-out-%d", i)
			if Bucket("gated-rule", candidate) > bucket {
				outside := l.Load(spec, &RequestContext{UserID: candidate})
				assert.Empty(t, outside)
				return
			}
		}
		t.Fatal("no user outside the rollout found")
	})

	t.Run("Should miss after a spec update bumps UpdatedAt", func(t *testing.T) {
		t.Parallel()

		l := newTestLoader(t)
		spec := loaderSpec()
		spec.ConditionalRules = []ConditionalRule{{
			RuleID:         "gated-rule",
			LoadConditions: []LoadCondition{rawCondition(t, LoadEnvironment, "staging")},
		}}
		rc := &RequestContext{UserID: "user-1"}

		require.Len(t, l.Load(spec, rc), 1)

		// Replace the gated rule and bump the timestamp, as a PUT would.
		spec.ConditionalRules = nil
		spec.UpdatedAt = spec.UpdatedAt.Add(time.Second)

		assert.Empty(t, l.Load(spec, rc))
	})

	t.Run("Should re-evaluate after Invalidate", func(t *testing.T) {
		t.Parallel()

		l := newTestLoader(t)
		spec := loaderSpec()
		spec.ConditionalRules = []ConditionalRule{{
			RuleID:         "gated-rule",
			LoadConditions: []LoadCondition{rawCondition(t, LoadEnvironment, "staging")},
		}}
		rc := &RequestContext{UserID: "user-1"}

		require.Len(t, l.Load(spec, rc), 1)

		// Same UpdatedAt, changed contents; only Invalidate saves us here.
		spec.ConditionalRules = nil
		l.Invalidate()

		assert.Empty(t, l.Load(spec, rc))
	})
}

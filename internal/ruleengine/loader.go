package ruleengine

import (
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/maypok86/otter"
	"github.com/spaolacci/murmur3"
)

// Loader decides which conditionally-gated rules join the evaluation set.
// Loaded sets are cached across requests in an otter cache keyed by a
// fingerprint of every input the loader reads, so identical contexts skip
// re-evaluating the gates.
type Loader struct {
	cache  otter.Cache[string, []*Rule]
	logger *slog.Logger

	// onCacheResult reports hits/misses; wired to metrics by the caller.
	onCacheResult func(hit bool)
}

// NewLoader builds a loader with a bounded, TTL'd cross-request cache.
func NewLoader(capacity int, ttl time.Duration, logger *slog.Logger) (*Loader, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cache, err := otter.MustBuilder[string, []*Rule](capacity).
		WithTTL(ttl).
		Build()
	if err != nil {
		return nil, err
	}
	return &Loader{cache: cache, logger: logger, onCacheResult: func(bool) {}}, nil
}

// OnCacheResult registers a hit/miss observer (e.g. prometheus counters).
func (l *Loader) OnCacheResult(fn func(hit bool)) {
	if fn != nil {
		l.onCacheResult = fn
	}
}

// Load returns the rules whose load conditions all hold for this context.
// Rules referenced by a gate but missing from the specification are skipped;
// every loaded rule is a copy with enabled forced to true, since gated rules
// are typically stored disabled so they stay inert without their gate.
func (l *Loader) Load(spec *Specification, rc *RequestContext) []*Rule {
	key := l.fingerprint(spec, rc)

	if cached, ok := l.cache.Get(key); ok {
		l.onCacheResult(true)
		return cloneRules(cached)
	}
	l.onCacheResult(false)

	var loaded []*Rule
	for i := range spec.ConditionalRules {
		cr := &spec.ConditionalRules[i]
		if !l.conditionsHold(spec, rc, cr.LoadConditions) {
			continue
		}
		rule := spec.RuleByID(cr.RuleID)
		if rule == nil {
			l.logger.Warn("conditional rule references unknown rule id",
				slog.String("rule_id", cr.RuleID),
				slog.String("app_id", spec.AppID),
				slog.String("version", spec.Version),
			)
			continue
		}
		m := rule.Clone()
		enabled := true
		m.Enabled = &enabled
		loaded = append(loaded, m)
	}

	l.cache.Set(key, loaded)
	return cloneRules(loaded)
}

// Invalidate drops every cached loaded-rule set. Called when specifications
// change underneath us (syncer events, local saves).
func (l *Loader) Invalidate() {
	l.cache.Clear()
}

// Close releases the cache's background resources.
func (l *Loader) Close() {
	l.cache.Close()
}

// conditionsHold AND-composes the load conditions of one gate.
func (l *Loader) conditionsHold(spec *Specification, rc *RequestContext, conds []LoadCondition) bool {
	for i := range conds {
		if !l.EvaluateLoadCondition(spec, rc, conds[i]) {
			return false
		}
	}
	return true
}

// EvaluateLoadCondition evaluates a single load condition. Malformed values
// and unknown types degrade to false; nothing here returns an error.
func (l *Loader) EvaluateLoadCondition(spec *Specification, rc *RequestContext, cond LoadCondition) bool {
	switch cond.Type {
	case LoadEnvironment:
		var env string
		if err := json.Unmarshal(cond.Value, &env); err != nil {
			return false
		}
		return spec.Environment == env

	case LoadFeatureFlag:
		var v struct {
			FlagName      string `json:"flagName"`
			ExpectedValue bool   `json:"expectedValue"`
		}
		if err := json.Unmarshal(cond.Value, &v); err != nil {
			return false
		}
		// The request context's flags shadow the specification's.
		flag, ok := rc.FeatureFlags[v.FlagName]
		if !ok {
			flag, ok = spec.FeatureFlags[v.FlagName]
		}
		return ok && flag == v.ExpectedValue

	case LoadPercentageRollout:
		var v struct {
			Percentage *int   `json:"percentage"`
			RuleID     string `json:"ruleId"`
		}
		if err := json.Unmarshal(cond.Value, &v); err != nil {
			return false
		}
		if rc.UserID == "" {
			return false
		}
		percentage, ok := 0, false
		if v.Percentage != nil {
			percentage, ok = *v.Percentage, true
		} else if p, found := spec.RolloutPercentages[v.RuleID]; found {
			percentage, ok = p, true
		}
		if !ok {
			return false
		}
		return Bucket(v.RuleID, rc.UserID) <= percentage

	case LoadCustom:
		var v struct {
			Key      string `json:"key"`
			Operator string `json:"operator"`
			Value    any    `json:"value"`
		}
		if err := json.Unmarshal(cond.Value, &v); err != nil {
			return false
		}
		return applyOperator(v.Operator, rc.Custom[v.Key], v.Value)

	default:
		return false
	}
}

// fingerprint hashes every field load conditions can read. The spec's
// UpdatedAt is part of the key because PUT replaces a specification in place
// under the same (appId, version). Client geo is deliberately absent: no
// load condition type reads it today. If one ever does, it must be added
// here or cached sets will alias across contexts.
func (l *Loader) fingerprint(spec *Specification, rc *RequestContext) string {
	payload := struct {
		SpecID      string          `json:"specId"`
		AppID       string          `json:"appId"`
		Version     string          `json:"version"`
		UpdatedAt   int64           `json:"updatedAt"`
		Environment string          `json:"environment"`
		SpecFlags   map[string]bool `json:"specFlags,omitempty"`
		Rollouts    map[string]int  `json:"rollouts,omitempty"`
		UserID      string          `json:"userId"`
		Flags       map[string]bool `json:"flags,omitempty"`
		Custom      map[string]any  `json:"custom,omitempty"`
	}{
		SpecID:      spec.ID,
		AppID:       spec.AppID,
		Version:     spec.Version,
		UpdatedAt:   spec.UpdatedAt.UnixNano(),
		Environment: spec.Environment,
		SpecFlags:   spec.FeatureFlags,
		Rollouts:    spec.RolloutPercentages,
		UserID:      rc.UserID,
		Flags:       rc.FeatureFlags,
		Custom:      rc.Custom,
	}

	// encoding/json sorts map keys, so identical inputs serialize
	// identically.
	b, err := json.Marshal(payload)
	if err != nil {
		// Unhashable custom context (e.g. a channel); fall back to a key
		// that is unique per call so we never serve someone else's set.
		return "nocache:" + strconv.FormatInt(time.Now().UnixNano(), 10)
	}
	return strconv.FormatUint(murmur3.Sum64(b), 16)
}

func cloneRules(rules []*Rule) []*Rule {
	out := make([]*Rule, len(rules))
	for i, r := range rules {
		out[i] = r.Clone()
	}
	return out
}

package ruleengine

import (
	"errors"
	"log/slog"

	"github.com/norns-io/norns/internal/configdoc"
)

// ErrSpecNotFound is returned when no specification exists for the
// requested (appId, version).
var ErrSpecNotFound = errors.New("specification not found")

// SpecSource is the resolver's view of the specification registry.
type SpecSource interface {
	Get(appID, version string) (*Specification, bool)
}

// Resolution is the outcome of one resolve request.
type Resolution struct {
	AppID      string
	Version    string
	Config     configdoc.Document
	Matched    []MatchedRule
	Validation ValidationResult
}

// Resolver orchestrates the pipeline: look up the specification,
// materialize composed rules, add conditionally-loaded ones, order the set,
// evaluate in order and fold matched configs into the default.
type Resolver struct {
	source SpecSource
	loader *Loader
	logger *slog.Logger
}

// NewResolver wires a resolver. The loader is shared across requests (its
// cache is designed for that); evaluators are created fresh per request.
func NewResolver(source SpecSource, loader *Loader, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{source: source, loader: loader, logger: logger}
}

// Resolve produces the effective configuration for one request context.
// It returns ErrSpecNotFound for unknown (appId, version) pairs and a
// composition error when a rule's composition block is malformed; no other
// failure mode exists; evaluation itself never errors.
func (r *Resolver) Resolve(appID, version string, rc *RequestContext) (*Resolution, error) {
	spec, ok := r.source.Get(appID, version)
	if !ok {
		return nil, ErrSpecNotFound
	}

	composer := NewComposer(spec.RuleTemplates)

	rules := make([]*Rule, 0, len(spec.Rules)+len(spec.ConditionalRules))
	position := make(map[string]int, len(spec.Rules))
	for i := range spec.Rules {
		m, err := composer.ProcessComposition(&spec.Rules[i], spec.Rules)
		if err != nil {
			return nil, err
		}
		position[m.ID] = len(rules)
		rules = append(rules, m)
	}

	// Gated rules are stored disabled so they stay inert without their gate.
	// A loaded rule therefore replaces its static counterpart; rules known
	// only to conditionalRules are appended.
	for _, loaded := range r.loader.Load(spec, rc) {
		if i, ok := position[loaded.ID]; ok {
			rules[i] = loaded
			continue
		}
		position[loaded.ID] = len(rules)
		rules = append(rules, loaded)
	}

	rules = SortRules(rules)

	evaluator := NewEvaluator(rules, r.logger)
	matchedSet := make(map[string]bool)
	var matched []*Rule

	for _, rule := range rules {
		result := evaluator.Evaluate(rule, rc, matchedSet)
		if !result.Matched {
			continue
		}
		matchedSet[rule.ID] = true
		matched = append(matched, rule)
		if rule.StopPropagation {
			break
		}
	}

	config := configdoc.Clone(spec.DefaultConfig)
	summaries := make([]MatchedRule, 0, len(matched))
	for _, rule := range matched {
		config = configdoc.Apply(rule.ResolutionStrategy, config, rule.Config)
		summaries = append(summaries, MatchedRule{
			ID:       rule.ID,
			Name:     rule.Name,
			Priority: rule.EffectivePriority(),
		})
	}

	// Validation findings ride along with the config; an invalid result
	// does not suppress the response.
	return &Resolution{
		AppID:      spec.AppID,
		Version:    spec.Version,
		Config:     config,
		Matched:    summaries,
		Validation: ValidateDocument(config, spec.Schema),
	}, nil
}

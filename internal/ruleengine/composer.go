package ruleengine

import (
	"fmt"
	"strings"

	"github.com/norns-io/norns/internal/configdoc"
)

// MetadataMixedTag is appended to a rule's tags whenever a mixin is applied.
const MetadataMixedTag = "mixed"

// Composer materializes rules: template instantiation, extend, compose and
// mixin. Composers are built per request with the specification's templates,
// so they hold no shared mutable state and are trivially safe to use from
// concurrent resolutions.
type Composer struct {
	templates map[string]Rule
}

// NewComposer builds a composer over a template registry. A nil map is fine.
func NewComposer(templates map[string]Rule) *Composer {
	return &Composer{templates: templates}
}

// CreateFromTemplate instantiates a registered template with overrides.
// overrides must carry the new rule's id; for every other attribute the
// override wins over the template, config is deep-merged and metadata
// records the originating template.
func (c *Composer) CreateFromTemplate(templateID string, overrides *Rule) (*Rule, error) {
	if overrides == nil || overrides.ID == "" {
		return nil, fmt.Errorf("template %q: %w", templateID, ErrTemplateMissingID)
	}
	tmpl, ok := c.templates[templateID]
	if !ok {
		return nil, fmt.Errorf("template %q: %w", templateID, ErrTemplateNotFound)
	}

	out := tmpl.Clone()
	out.ID = overrides.ID
	overlayRule(out, overrides)

	if out.Name == "" {
		out.Name = "Unnamed Rule"
	}
	if out.ResolutionStrategy == "" {
		out.ResolutionStrategy = configdoc.StrategyMerge
	}
	if out.Conditions == nil {
		out.Conditions = []Condition{}
	}

	out.Metadata = mergeMetadata(tmpl.Metadata, overrides.Metadata)
	out.Metadata["createdFromTemplate"] = templateID
	return out, nil
}

// ExtendRule produces a new rule from a base plus overrides: scalars come
// from the overrides where supplied, config is deep-merged (base then
// overrides), conditions are taken wholesale from the overrides when
// supplied, and metadata records the base rule. The base is not mutated.
func (c *Composer) ExtendRule(base, overrides *Rule) *Rule {
	out := base.Clone()
	out.ID = base.ID + "-extended"
	if overrides != nil {
		if overrides.ID != "" {
			out.ID = overrides.ID
		}
		overlayRule(out, overrides)
		out.Metadata = mergeMetadata(base.Metadata, overrides.Metadata)
	}
	if out.Metadata == nil {
		out.Metadata = map[string]any{}
	}
	out.Metadata["extendedFrom"] = base.ID
	out.Composition = nil
	return out
}

// ComposeRules combines several source rules into one. Conditions are
// concatenated (AND at evaluation time), priority is the maximum, configs
// fold left-to-right with the chosen strategy, id lists and tags union with
// first-occurrence order, and the result is enabled only when every source
// is.
func (c *Composer) ComposeRules(sources []*Rule, newID string, strategy configdoc.Strategy) (*Rule, error) {
	if len(sources) == 0 {
		return nil, ErrEmptyComposition
	}
	strategy = strategy.Normalize()

	names := make([]string, len(sources))
	ids := make([]string, len(sources))
	var conditions []Condition
	config := configdoc.Document{}
	var deps, exclusions, tags []string
	maxPriority := sources[0].EffectivePriority()
	enabled := true

	for i, src := range sources {
		names[i] = src.Name
		ids[i] = src.ID
		conditions = append(conditions, src.Conditions...)
		config = configdoc.Apply(strategy, config, src.Config)
		deps = appendUnique(deps, src.Dependencies...)
		exclusions = appendUnique(exclusions, src.Exclusions...)
		tags = appendUnique(tags, src.Tags...)
		if p := src.EffectivePriority(); p > maxPriority {
			maxPriority = p
		}
		enabled = enabled && src.IsEnabled()
	}

	return &Rule{
		ID:                 newID,
		Name:               "Composed: " + strings.Join(names, " + "),
		Description:        "Composed from: " + strings.Join(ids, ", "),
		Priority:           &maxPriority,
		Conditions:         conditions,
		Config:             config,
		ResolutionStrategy: strategy,
		Enabled:            &enabled,
		Dependencies:       deps,
		Exclusions:         exclusions,
		Tags:               tags,
		Metadata: map[string]any{
			"composedFrom":        ids,
			"compositionStrategy": string(strategy),
		},
	}, nil
}

// ApplyMixin folds a mixin into a target: config deep-merged in, conditions
// appended, tags unioned plus the "mixed" sentinel, and the mixin id
// recorded under metadata.mixins. Returns a new rule.
func (c *Composer) ApplyMixin(target, mixin *Rule) *Rule {
	out := target.Clone()
	out.Config = configdoc.Merge(out.Config, mixin.Config)
	out.Conditions = append(out.Conditions, mixin.Conditions...)
	out.Tags = appendUnique(out.Tags, mixin.Tags...)
	out.Tags = appendUnique(out.Tags, MetadataMixedTag)

	if out.Metadata == nil {
		out.Metadata = map[string]any{}
	}
	out.Metadata["mixins"] = append(metadataStringList(out.Metadata["mixins"]), mixin.ID)
	return out
}

// ProcessComposition materializes one rule according to its composition
// block. Rules without one (or with an unknown composition type) pass
// through unchanged. extend resolves and recursively materializes its base
// (cycles are reported, not followed); compose requires every source id to
// resolve; mixin silently skips unknown ids.
func (c *Composer) ProcessComposition(rule *Rule, all []Rule) (*Rule, error) {
	return c.processComposition(rule, all, map[string]bool{})
}

func (c *Composer) processComposition(rule *Rule, all []Rule, visited map[string]bool) (*Rule, error) {
	comp := rule.Composition
	if comp == nil {
		return rule.Clone(), nil
	}
	if visited[rule.ID] {
		return nil, fmt.Errorf("rule %q: %w", rule.ID, ErrCompositionCycle)
	}
	visited[rule.ID] = true

	switch comp.Type {
	case CompositionExtend:
		return c.processExtend(rule, comp, all, visited)
	case CompositionCompose:
		return c.processCompose(rule, comp, all)
	case CompositionMixin:
		return c.processMixin(rule, comp, all)
	default:
		return rule.Clone(), nil
	}
}

func (c *Composer) processExtend(rule *Rule, comp *Composition, all []Rule, visited map[string]bool) (*Rule, error) {
	if comp.BaseRuleID == "" {
		return nil, fmt.Errorf("rule %q: %w", rule.ID, ErrMissingBaseRuleID)
	}
	base := findRule(all, comp.BaseRuleID)
	if base == nil {
		return nil, fmt.Errorf("rule %q extends %q: %w", rule.ID, comp.BaseRuleID, ErrBaseRuleNotFound)
	}

	materializedBase, err := c.processComposition(base, all, visited)
	if err != nil {
		return nil, err
	}

	// The effective overrides are the declaring rule itself overlaid with
	// composition.overrides, keeping the declaring rule's id.
	effective := rule.Clone()
	effective.Composition = nil
	if comp.Overrides != nil {
		overlayRule(effective, comp.Overrides)
		effective.ID = rule.ID
		effective.Metadata = mergeMetadata(rule.Metadata, comp.Overrides.Metadata)
	}

	return c.ExtendRule(materializedBase, effective), nil
}

func (c *Composer) processCompose(rule *Rule, comp *Composition, all []Rule) (*Rule, error) {
	if len(comp.SourceRuleIDs) == 0 {
		return nil, fmt.Errorf("rule %q: %w", rule.ID, ErrMissingSourceRuleIDs)
	}
	sources := make([]*Rule, 0, len(comp.SourceRuleIDs))
	for _, id := range comp.SourceRuleIDs {
		src := findRule(all, id)
		if src == nil {
			return nil, fmt.Errorf("rule %q composes %q: %w", rule.ID, id, ErrSourceRuleNotFound)
		}
		sources = append(sources, src)
	}

	composed, err := c.ComposeRules(sources, rule.ID, rule.ResolutionStrategy)
	if err != nil {
		return nil, err
	}

	// The declaring rule's ordering constraints apply to the materialized
	// rule's position in the evaluation order.
	composed.ExecuteAfter = append([]string(nil), rule.ExecuteAfter...)
	composed.ExecuteBefore = append([]string(nil), rule.ExecuteBefore...)
	composed.StopPropagation = rule.StopPropagation
	composed.Chain = rule.Chain

	if comp.Overrides != nil {
		overlayRule(composed, comp.Overrides)
		composed.ID = rule.ID
	}
	return composed, nil
}

func (c *Composer) processMixin(rule *Rule, comp *Composition, all []Rule) (*Rule, error) {
	if len(comp.SourceRuleIDs) == 0 {
		return nil, fmt.Errorf("rule %q: %w", rule.ID, ErrMissingSourceRuleIDs)
	}
	out := rule.Clone()
	out.Composition = nil
	for _, id := range comp.SourceRuleIDs {
		mixin := findRule(all, id)
		if mixin == nil {
			// Unknown mixins are skipped, unlike compose which errors.
			continue
		}
		out = c.ApplyMixin(out, mixin)
	}
	return out, nil
}

// overlayRule copies every supplied attribute of ov onto dst. Config is
// deep-merged; all other attributes replace wholesale when present.
func overlayRule(dst, ov *Rule) {
	if ov.Name != "" {
		dst.Name = ov.Name
	}
	if ov.Description != "" {
		dst.Description = ov.Description
	}
	if ov.Priority != nil {
		dst.Priority = clonePtr(ov.Priority)
	}
	if ov.Conditions != nil {
		dst.Conditions = append([]Condition(nil), ov.Conditions...)
	}
	if ov.Config != nil {
		dst.Config = configdoc.Merge(dst.Config, ov.Config)
	}
	if ov.ResolutionStrategy != "" {
		dst.ResolutionStrategy = ov.ResolutionStrategy
	}
	if ov.Enabled != nil {
		dst.Enabled = clonePtr(ov.Enabled)
	}
	if ov.Dependencies != nil {
		dst.Dependencies = append([]string(nil), ov.Dependencies...)
	}
	if ov.Exclusions != nil {
		dst.Exclusions = append([]string(nil), ov.Exclusions...)
	}
	if ov.Chain != nil {
		dst.Chain = ov.Chain
	}
	if ov.ExecuteAfter != nil {
		dst.ExecuteAfter = append([]string(nil), ov.ExecuteAfter...)
	}
	if ov.ExecuteBefore != nil {
		dst.ExecuteBefore = append([]string(nil), ov.ExecuteBefore...)
	}
	if ov.StopPropagation {
		dst.StopPropagation = true
	}
	if ov.Tags != nil {
		dst.Tags = append([]string(nil), ov.Tags...)
	}
}

func mergeMetadata(base, overlay map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		out[k] = v
	}
	return out
}

// metadataStringList coerces a metadata value into a string list. JSON
// round-trips turn []string into []any, so both shapes occur.
func metadataStringList(v any) []string {
	switch t := v.(type) {
	case []string:
		return append([]string(nil), t...)
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func appendUnique(dst []string, items ...string) []string {
	for _, item := range items {
		seen := false
		for _, existing := range dst {
			if existing == item {
				seen = true
				break
			}
		}
		if !seen {
			dst = append(dst, item)
		}
	}
	return dst
}

func findRule(rules []Rule, id string) *Rule {
	for i := range rules {
		if rules[i].ID == id {
			return &rules[i]
		}
	}
	return nil
}

// Package ruleengine implements the resolution pipeline: rule composition,
// conditional loading, condition and chain evaluation, ordering, and the
// resolver that folds matched rule configs into an effective document.
//
// The package follows a fail-open policy throughout evaluation: unknown
// condition types, operators, chain operators and broken regexes all degrade
// to "no match" instead of failing the request. Only the composer's
// administrative operations return errors.
package ruleengine

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/norns-io/norns/internal/configdoc"
)

// Deployment environments a specification can target.
const (
	EnvDevelopment = "development"
	EnvStaging     = "staging"
	EnvProduction  = "production"
)

// Specification is the persistent unit of configuration for one
// (appId, version) pair. It mirrors the stored JSON document exactly.
type Specification struct {
	ID                 string             `json:"id"`
	AppID              string             `json:"appId"`
	Version            string             `json:"version"`
	Schema             *Schema            `json:"schema,omitempty"`
	DefaultConfig      configdoc.Document `json:"defaultConfig"`
	Rules              []Rule             `json:"rules"`
	ConditionalRules   []ConditionalRule  `json:"conditionalRules,omitempty"`
	RuleTemplates      map[string]Rule    `json:"ruleTemplates,omitempty"`
	Environment        string             `json:"environment"`
	FeatureFlags       map[string]bool    `json:"featureFlags,omitempty"`
	RolloutPercentages map[string]int     `json:"rolloutPercentages,omitempty"`
	CreatedAt          time.Time          `json:"createdAt"`
	UpdatedAt          time.Time          `json:"updatedAt"`
}

// RuleByID returns the rule with the given id, or nil. Ids referenced across
// a specification either resolve here or are treated as unsatisfiable.
func (s *Specification) RuleByID(id string) *Rule {
	for i := range s.Rules {
		if s.Rules[i].ID == id {
			return &s.Rules[i]
		}
	}
	return nil
}

// Schema declares the allowed top-level keys of a configuration document.
type Schema struct {
	Version        string   `json:"version,omitempty"`
	RequiredKeys   []string `json:"requiredKeys,omitempty"`
	OptionalKeys   []string `json:"optionalKeys,omitempty"`
	DeprecatedKeys []string `json:"deprecatedKeys,omitempty"`
}

// Rule is a conditional modification to the effective configuration.
//
// Enabled and Priority are pointers so a partial rule (template, override)
// can distinguish "not supplied" from an explicit false/zero; use IsEnabled
// and EffectivePriority for the resolved values.
type Rule struct {
	ID                 string             `json:"id"`
	Name               string             `json:"name,omitempty"`
	Description        string             `json:"description,omitempty"`
	Priority           *int               `json:"priority,omitempty"`
	Conditions         []Condition        `json:"conditions,omitempty"`
	Config             configdoc.Document `json:"config,omitempty"`
	ResolutionStrategy configdoc.Strategy `json:"resolutionStrategy,omitempty"`
	Enabled            *bool              `json:"enabled,omitempty"`
	Dependencies       []string           `json:"dependencies,omitempty"`
	Exclusions         []string           `json:"exclusions,omitempty"`
	Chain              *Chain             `json:"chain,omitempty"`
	ExecuteAfter       []string           `json:"executeAfter,omitempty"`
	ExecuteBefore      []string           `json:"executeBefore,omitempty"`
	StopPropagation    bool               `json:"stopPropagation,omitempty"`
	Composition        *Composition       `json:"composition,omitempty"`
	Tags               []string           `json:"tags,omitempty"`
	Metadata           map[string]any     `json:"metadata,omitempty"`
}

// IsEnabled resolves the enabled flag; an unset flag means enabled.
func (r *Rule) IsEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}

// EffectivePriority resolves the priority; an unset priority means 0.
func (r *Rule) EffectivePriority() int {
	if r.Priority == nil {
		return 0
	}
	return *r.Priority
}

// Clone returns a deep copy of the rule. Materialized rules are always
// clones so per-request mutation (forced enablement, composition) never
// touches the stored specification.
func (r *Rule) Clone() *Rule {
	out := *r
	out.Priority = clonePtr(r.Priority)
	out.Enabled = clonePtr(r.Enabled)
	out.Conditions = append([]Condition(nil), r.Conditions...)
	out.Config = configdoc.Clone(r.Config)
	out.Dependencies = append([]string(nil), r.Dependencies...)
	out.Exclusions = append([]string(nil), r.Exclusions...)
	out.ExecuteAfter = append([]string(nil), r.ExecuteAfter...)
	out.ExecuteBefore = append([]string(nil), r.ExecuteBefore...)
	out.Tags = append([]string(nil), r.Tags...)
	if r.Metadata != nil {
		out.Metadata = make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Condition types: the request-context attribute a condition inspects.
const (
	CondAppVersion     = "app_version"
	CondOS             = "os"
	CondDevice         = "device"
	CondGeoCountry     = "geo_country"
	CondGeoRegion      = "geo_region"
	CondTimeAfter      = "time_after"
	CondTimeBefore     = "time_before"
	CondUserAgentMatch = "user_agent_match"
)

// Condition operators.
const (
	OpEq    = "eq"
	OpNe    = "ne"
	OpGt    = "gt"
	OpLt    = "lt"
	OpGte   = "gte"
	OpLte   = "lte"
	OpIn    = "in"
	OpRegex = "regex"
)

// Condition is a primitive match predicate over one context attribute.
// Value holds the comparison value: an array for "in", a pattern string for
// "regex", a scalar otherwise.
type Condition struct {
	Type     string `json:"type"`
	Operator string `json:"operator"`
	Value    any    `json:"value"`
}

// Chain operators.
const (
	ChainAnd = "AND"
	ChainOr  = "OR"
	ChainNot = "NOT"
	ChainXor = "XOR"
)

// Chain is a recursive boolean expression over rule ids.
type Chain struct {
	Operator string      `json:"operator"`
	Rules    []ChainItem `json:"rules"`
}

// ChainItem is either a rule id or a nested chain. On the wire it is a bare
// JSON string or a chain object.
type ChainItem struct {
	RuleID string
	Nested *Chain
}

// UnmarshalJSON accepts either a string (rule id) or an object (nested chain).
func (c *ChainItem) UnmarshalJSON(data []byte) error {
	var id string
	if err := json.Unmarshal(data, &id); err == nil {
		c.RuleID = id
		c.Nested = nil
		return nil
	}
	var nested Chain
	if err := json.Unmarshal(data, &nested); err != nil {
		return fmt.Errorf("chain item must be a rule id or a nested chain: %w", err)
	}
	c.RuleID = ""
	c.Nested = &nested
	return nil
}

// MarshalJSON emits the wire form: a bare string or a chain object.
func (c ChainItem) MarshalJSON() ([]byte, error) {
	if c.Nested != nil {
		return json.Marshal(c.Nested)
	}
	return json.Marshal(c.RuleID)
}

// Composition types.
const (
	CompositionExtend  = "extend"
	CompositionCompose = "compose"
	CompositionMixin   = "mixin"
)

// Composition describes how a rule is materialized from other rules.
type Composition struct {
	Type          string   `json:"type"`
	BaseRuleID    string   `json:"baseRuleId,omitempty"`
	SourceRuleIDs []string `json:"sourceRuleIds,omitempty"`
	Overrides     *Rule    `json:"overrides,omitempty"`
}

// Load condition types.
const (
	LoadEnvironment       = "environment"
	LoadFeatureFlag       = "feature_flag"
	LoadPercentageRollout = "percentage_rollout"
	LoadCustom            = "custom"
)

// LoadCondition gates a conditional rule. Value is kept raw because its
// shape depends on Type; the loader decodes it on demand.
type LoadCondition struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

// ConditionalRule links a rule id to the load conditions (AND-composed) that
// must hold for the rule to join the evaluation set. LazyLoad is advisory
// and carried for round-tripping only.
type ConditionalRule struct {
	RuleID         string          `json:"ruleId"`
	LoadConditions []LoadCondition `json:"loadConditions"`
	LazyLoad       bool            `json:"lazyLoad,omitempty"`
}

// ParsedUA is the structured form of a User-Agent string, as produced by the
// external parser capability.
type ParsedUA struct {
	OS     ParsedOS     `json:"os"`
	Device ParsedDevice `json:"device"`
}

// ParsedOS holds the operating system portion of a parsed User-Agent.
type ParsedOS struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// ParsedDevice holds the device portion of a parsed User-Agent.
type ParsedDevice struct {
	Type string `json:"type"`
}

// ClientGeo is geolocation supplied explicitly by the client; it takes
// precedence over IP-derived geolocation.
type ClientGeo struct {
	Country string `json:"country,omitempty"`
	Region  string `json:"region,omitempty"`
}

// RequestContext carries everything about one resolution request that rules
// may match on. Contexts are built per request and discarded.
type RequestContext struct {
	UserAgent    string          `json:"userAgent,omitempty"`
	ParsedUA     ParsedUA        `json:"parsedUA,omitempty"`
	AppVersion   string          `json:"appVersion,omitempty"`
	OS           string          `json:"os,omitempty"`
	Device       string          `json:"device,omitempty"`
	GeoCountry   string          `json:"geoCountry,omitempty"`
	GeoRegion    string          `json:"geoRegion,omitempty"`
	ClientGeo    *ClientGeo      `json:"clientProvidedGeo,omitempty"`
	Timestamp    time.Time       `json:"timestamp,omitempty"`
	Environment  string          `json:"environment,omitempty"`
	FeatureFlags map[string]bool `json:"featureFlags,omitempty"`
	UserID       string          `json:"userId,omitempty"`
	Custom       map[string]any  `json:"customContext,omitempty"`
}

// EffectiveOS resolves the OS with nullish semantics: the explicit context
// field when set, else the parsed User-Agent.
func (c *RequestContext) EffectiveOS() string {
	if c.OS != "" {
		return c.OS
	}
	return c.ParsedUA.OS.Name
}

// EffectiveDevice resolves the device type, context field first.
func (c *RequestContext) EffectiveDevice() string {
	if c.Device != "" {
		return c.Device
	}
	return c.ParsedUA.Device.Type
}

// EffectiveCountry resolves the country; client-provided geo wins over the
// IP-derived value.
func (c *RequestContext) EffectiveCountry() string {
	if c.ClientGeo != nil && c.ClientGeo.Country != "" {
		return c.ClientGeo.Country
	}
	return c.GeoCountry
}

// EffectiveRegion resolves the region, client-provided geo first.
func (c *RequestContext) EffectiveRegion() string {
	if c.ClientGeo != nil && c.ClientGeo.Region != "" {
		return c.ClientGeo.Region
	}
	return c.GeoRegion
}

// MatchedRule is the externally visible summary of one matched rule.
type MatchedRule struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Priority int    `json:"priority"`
}

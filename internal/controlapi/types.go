package controlapi

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/norns-io/norns/internal/configdoc"
	"github.com/norns-io/norns/internal/ruleengine"
)

// appIDRegex ensures application ids are URL-safe slugs.
var appIDRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

// versionRegex accepts semver-style versions (1.2.3, 2.0.0-beta.1).
var versionRegex = regexp.MustCompile(`^[0-9]+\.[0-9]+\.[0-9]+(?:[-+][0-9A-Za-z.-]+)?$`)

// SaveSpecRequest is the payload for POST /config and PUT /config/{...}.
// The id and timestamps are server-assigned and ignored on input.
type SaveSpecRequest struct {
	AppID              string                       `json:"appId"`
	Version            string                       `json:"version"`
	Schema             *ruleengine.Schema           `json:"schema,omitempty"`
	DefaultConfig      configdoc.Document           `json:"defaultConfig"`
	Rules              []ruleengine.Rule            `json:"rules,omitempty"`
	ConditionalRules   []ruleengine.ConditionalRule `json:"conditionalRules,omitempty"`
	RuleTemplates      map[string]ruleengine.Rule   `json:"ruleTemplates,omitempty"`
	Environment        string                       `json:"environment,omitempty"`
	FeatureFlags       map[string]bool              `json:"featureFlags,omitempty"`
	RolloutPercentages map[string]int               `json:"rolloutPercentages,omitempty"`
}

// Sanitize cleans up input data by trimming whitespace and normalizing case.
func (r *SaveSpecRequest) Sanitize() {
	r.AppID = strings.ToLower(strings.TrimSpace(r.AppID))
	r.Version = strings.TrimSpace(r.Version)
	r.Environment = strings.TrimSpace(r.Environment)
}

// Validate checks the request against business rules. It returns a
// structured *ErrorResponse if validation fails, or nil if valid.
func (r *SaveSpecRequest) Validate() *ErrorResponse {
	if r.AppID == "" {
		return invalidInput("appId is required")
	}
	if !appIDRegex.MatchString(r.AppID) {
		return invalidInput("appId must contain only lowercase letters, numbers, and hyphens (slug format)")
	}
	if r.Version == "" {
		return invalidInput("version is required")
	}
	if !versionRegex.MatchString(r.Version) {
		return invalidInput("version must be a semver string (e.g. 2.1.0)")
	}

	switch r.Environment {
	case "", ruleengine.EnvDevelopment, ruleengine.EnvStaging, ruleengine.EnvProduction:
	default:
		return invalidInput("environment must be one of development, staging, production")
	}

	if r.DefaultConfig == nil {
		return invalidInput("defaultConfig is required")
	}

	seen := make(map[string]bool, len(r.Rules))
	for _, rule := range r.Rules {
		if rule.ID == "" {
			return invalidInput("every rule needs an id")
		}
		if seen[rule.ID] {
			return invalidInput(fmt.Sprintf("duplicate rule id: %s", rule.ID))
		}
		seen[rule.ID] = true
	}

	for ruleID, pct := range r.RolloutPercentages {
		if pct < 0 || pct > 100 {
			return invalidInput(fmt.Sprintf("rolloutPercentages[%s] must be between 0 and 100", ruleID))
		}
	}

	return nil
}

// ToSpecification maps the DTO onto the domain model. Identity fields are
// left zero for the handler to fill in.
func (r *SaveSpecRequest) ToSpecification() *ruleengine.Specification {
	env := r.Environment
	if env == "" {
		env = ruleengine.EnvDevelopment
	}
	return &ruleengine.Specification{
		AppID:              r.AppID,
		Version:            r.Version,
		Schema:             r.Schema,
		DefaultConfig:      r.DefaultConfig,
		Rules:              r.Rules,
		ConditionalRules:   r.ConditionalRules,
		RuleTemplates:      r.RuleTemplates,
		Environment:        env,
		FeatureFlags:       r.FeatureFlags,
		RolloutPercentages: r.RolloutPercentages,
	}
}

// ComposeRulesRequest is the payload for POST /rules/compose. The rule pool
// carries the source rules; ids in sourceRuleIds must resolve within it.
type ComposeRulesRequest struct {
	Rules         []ruleengine.Rule  `json:"rules"`
	NewID         string             `json:"newId"`
	SourceRuleIDs []string           `json:"sourceRuleIds"`
	Strategy      configdoc.Strategy `json:"strategy,omitempty"`
}

// Validate checks the compose request shape; resolution of the source ids
// happens in the handler.
func (r *ComposeRulesRequest) Validate() *ErrorResponse {
	if r.NewID == "" {
		return invalidInput("newId is required")
	}
	if len(r.SourceRuleIDs) == 0 {
		return invalidInput("sourceRuleIds must name at least one rule")
	}
	return nil
}

// FromTemplateRequest is the payload for POST /rules/from-template.
type FromTemplateRequest struct {
	RuleTemplates map[string]ruleengine.Rule `json:"ruleTemplates"`
	TemplateID    string                     `json:"templateId"`
	Overrides     ruleengine.Rule            `json:"overrides"`
}

// Validate checks the template request shape.
func (r *FromTemplateRequest) Validate() *ErrorResponse {
	if r.TemplateID == "" {
		return invalidInput("templateId is required")
	}
	return nil
}

// TestConditionsRequest is the payload for POST /rules/test-conditions: a
// set of rules plus the request context to evaluate them against. The
// optional gating fields (conditionalRules, environment, featureFlags,
// rolloutPercentages) mirror the corresponding specification fields so that
// load conditions can be diagnosed too.
type TestConditionsRequest struct {
	Rules              []ruleengine.Rule            `json:"rules"`
	ConditionalRules   []ruleengine.ConditionalRule `json:"conditionalRules,omitempty"`
	Environment        string                       `json:"environment,omitempty"`
	FeatureFlags       map[string]bool              `json:"featureFlags,omitempty"`
	RolloutPercentages map[string]int               `json:"rolloutPercentages,omitempty"`
	Context            ruleengine.RequestContext    `json:"context"`
}

// ConditionDiagnostic reports the outcome of one condition of one rule.
type ConditionDiagnostic struct {
	Type     string `json:"type"`
	Operator string `json:"operator"`
	Passed   bool   `json:"passed"`
}

// RuleDiagnostic reports the evaluation outcome of one rule, including the
// per-condition breakdown and the caller's rollout bucket when a userId was
// supplied.
type RuleDiagnostic struct {
	RuleID     string                `json:"ruleId"`
	Matched    bool                  `json:"matched"`
	Reason     string                `json:"reason"`
	Conditions []ConditionDiagnostic `json:"conditions"`
	Bucket     int                   `json:"bucket,omitempty"`
}

// LoadConditionDiagnostic reports the outcome of one load condition gating a
// conditional rule.
type LoadConditionDiagnostic struct {
	Type   string `json:"type"`
	Passed bool   `json:"passed"`
}

// ConditionalRuleDiagnostic reports whether a gated rule would join the
// evaluation set for the supplied context, with the per-gate breakdown.
type ConditionalRuleDiagnostic struct {
	RuleID         string                    `json:"ruleId"`
	WouldLoad      bool                      `json:"wouldLoad"`
	LoadConditions []LoadConditionDiagnostic `json:"loadConditions"`
}

// ListSpecsResponse wraps the list endpoint payload.
type ListSpecsResponse struct {
	Data  any `json:"data"`
	Count int `json:"count"`
}

// ErrorResponse represents a standard structured API error.
type ErrorResponse struct {
	// Code is a machine-readable error code (e.g. "ERR_INVALID_INPUT").
	Code string `json:"code"`

	// Message is a human-readable description of the error.
	Message string `json:"message"`

	// Details provides optional granular validation errors.
	Details []ErrorDetail `json:"details,omitempty"`
}

// ErrorDetail provides context about specific field validation failures.
type ErrorDetail struct {
	Field string `json:"field"`
	Issue string `json:"issue"`
}

func invalidInput(message string) *ErrorResponse {
	return &ErrorResponse{
		Code:    "ERR_INVALID_INPUT",
		Message: message,
	}
}

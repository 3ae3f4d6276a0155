package ruleengine

import (
	"log/slog"
)

// Evaluation reasons, surfaced verbatim through diagnostics.
const (
	ReasonDisabled      = "Rule disabled"
	ReasonExcluded      = "Excluded by another rule"
	ReasonMissingDeps   = "Missing dependencies"
	ReasonChainFailed   = "Chain evaluation failed"
	ReasonConditionsMet = "All conditions met"
	ReasonNoMatch       = "Conditions not met"
)

// EvalResult is the outcome of evaluating one rule.
type EvalResult struct {
	Matched bool
	Rule    *Rule
	Reason  string
}

// Evaluator holds the per-request rule registry and the basic-evaluation
// memoization cache. Evaluators are request-scoped: the registry and cache
// key off the single context served, so sharing one across requests would
// leak matches between users. Build a fresh one per request.
type Evaluator struct {
	registry map[string]*Rule
	memo     map[string]bool
	logger   *slog.Logger
}

// NewEvaluator builds an evaluator over the given rule set. A nil logger
// falls back to slog.Default().
func NewEvaluator(rules []*Rule, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	registry := make(map[string]*Rule, len(rules))
	for _, r := range rules {
		registry[r.ID] = r
	}
	return &Evaluator{
		registry: registry,
		memo:     make(map[string]bool, len(rules)),
		logger:   logger,
	}
}

// Evaluate decides whether one rule matches, given the set of rule ids that
// have already matched. Checks short-circuit in precedence order: disabled,
// excluded, missing dependencies, chain, then the primitive conditions.
func (e *Evaluator) Evaluate(rule *Rule, rc *RequestContext, matched map[string]bool) EvalResult {
	if !rule.IsEnabled() {
		return EvalResult{Rule: rule, Reason: ReasonDisabled}
	}

	for _, id := range rule.Exclusions {
		if matched[id] {
			return EvalResult{Rule: rule, Reason: ReasonExcluded}
		}
	}

	for _, id := range rule.Dependencies {
		if !matched[id] {
			return EvalResult{Rule: rule, Reason: ReasonMissingDeps}
		}
	}

	if rule.Chain != nil && !e.evaluateChain(rule.Chain, rc) {
		return EvalResult{Rule: rule, Reason: ReasonChainFailed}
	}

	if e.basicEvaluate(rule, rc) {
		return EvalResult{Matched: true, Rule: rule, Reason: ReasonConditionsMet}
	}
	return EvalResult{Rule: rule, Reason: ReasonNoMatch}
}

// basicEvaluate is the dependency-free core: enabled and every primitive
// condition passes. It is memoized per rule id; the context is constant for
// the evaluator's lifetime so the id alone identifies the computation.
func (e *Evaluator) basicEvaluate(rule *Rule, rc *RequestContext) bool {
	if v, ok := e.memo[rule.ID]; ok {
		return v
	}

	result := rule.IsEnabled()
	if result {
		for _, cond := range rule.Conditions {
			if !EvaluateCondition(cond, rc) {
				result = false
				break
			}
		}
	}

	e.memo[rule.ID] = result
	return result
}

package controlapi

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	"github.com/norns-io/norns/internal/logger"
	"github.com/norns-io/norns/internal/ruleengine"
)

// handleComposeRules processes POST /api/v1/rules/compose: it combines the
// named source rules from the supplied pool into one new rule.
func (a *API) handleComposeRules(w http.ResponseWriter, r *http.Request) {
	var req ComposeRulesRequest
	if !a.decodeRuleRequest(w, r, &req) {
		return
	}
	if errResp := req.Validate(); errResp != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errResp)
		return
	}

	sources := make([]*ruleengine.Rule, 0, len(req.SourceRuleIDs))
	for _, id := range req.SourceRuleIDs {
		src := findRule(req.Rules, id)
		if src == nil {
			a.renderCompositionError(w, r, ruleengine.ErrSourceRuleNotFound)
			return
		}
		sources = append(sources, src)
	}

	composer := ruleengine.NewComposer(nil)
	rule, err := composer.ComposeRules(sources, req.NewID, req.Strategy.Normalize())
	if err != nil {
		a.renderCompositionError(w, r, err)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, rule)
}

// handleRuleFromTemplate processes POST /api/v1/rules/from-template: it
// instantiates a registered template with the supplied overrides.
func (a *API) handleRuleFromTemplate(w http.ResponseWriter, r *http.Request) {
	var req FromTemplateRequest
	if !a.decodeRuleRequest(w, r, &req) {
		return
	}
	if errResp := req.Validate(); errResp != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errResp)
		return
	}

	composer := ruleengine.NewComposer(req.RuleTemplates)
	rule, err := composer.CreateFromTemplate(req.TemplateID, &req.Overrides)
	if err != nil {
		a.renderCompositionError(w, r, err)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, rule)
}

// handleTestConditions processes POST /api/v1/rules/test-conditions. The
// rules are evaluated against the supplied context exactly as the resolver
// would (sorted order, matched-set accumulation), with a per-condition
// breakdown and the caller's rollout bucket as extra diagnostics. When the
// request carries conditionalRules, each of their load conditions is
// evaluated against the request's gating fields and reported per gate.
func (a *API) handleTestConditions(w http.ResponseWriter, r *http.Request) {
	var req TestConditionsRequest
	if !a.decodeRuleRequest(w, r, &req) {
		return
	}

	rules := make([]*ruleengine.Rule, len(req.Rules))
	for i := range req.Rules {
		rules[i] = req.Rules[i].Clone()
	}
	sorted := ruleengine.SortRules(rules)

	evaluator := ruleengine.NewEvaluator(sorted, a.logger)
	matched := make(map[string]bool, len(sorted))

	diagnostics := make([]RuleDiagnostic, 0, len(sorted))
	for _, rule := range sorted {
		result := evaluator.Evaluate(rule, &req.Context, matched)
		if result.Matched {
			matched[rule.ID] = true
		}

		conds := make([]ConditionDiagnostic, len(rule.Conditions))
		for i, cond := range rule.Conditions {
			conds[i] = ConditionDiagnostic{
				Type:     cond.Type,
				Operator: cond.Operator,
				Passed:   ruleengine.EvaluateCondition(cond, &req.Context),
			}
		}

		diag := RuleDiagnostic{
			RuleID:     rule.ID,
			Matched:    result.Matched,
			Reason:     result.Reason,
			Conditions: conds,
		}
		if req.Context.UserID != "" {
			diag.Bucket = ruleengine.Bucket(rule.ID, req.Context.UserID)
		}
		diagnostics = append(diagnostics, diag)
	}

	// Load conditions read spec-level fields, so the request's gating fields
	// stand in for the specification they would normally come from.
	specView := &ruleengine.Specification{
		Environment:        req.Environment,
		FeatureFlags:       req.FeatureFlags,
		RolloutPercentages: req.RolloutPercentages,
	}
	gateDiagnostics := make([]ConditionalRuleDiagnostic, 0, len(req.ConditionalRules))
	for _, cr := range req.ConditionalRules {
		gates := make([]LoadConditionDiagnostic, len(cr.LoadConditions))
		wouldLoad := true
		for i, cond := range cr.LoadConditions {
			passed := a.loader.EvaluateLoadCondition(specView, &req.Context, cond)
			gates[i] = LoadConditionDiagnostic{Type: cond.Type, Passed: passed}
			wouldLoad = wouldLoad && passed
		}
		gateDiagnostics = append(gateDiagnostics, ConditionalRuleDiagnostic{
			RuleID:         cr.RuleID,
			WouldLoad:      wouldLoad,
			LoadConditions: gates,
		})
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, map[string]any{
		"results":          diagnostics,
		"conditionalRules": gateDiagnostics,
	})
}

// --- Private Helpers ---

func (a *API) decodeRuleRequest(w http.ResponseWriter, r *http.Request, dst any) bool {
	log := logger.FromContext(r.Context())

	if err := render.DecodeJSON(r.Body, dst); err != nil {
		log.Warn("invalid json payload", slog.String("error", err.Error()))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INVALID_JSON",
			Message: "Invalid JSON payload: " + err.Error(),
		})
		return false
	}
	return true
}

// renderCompositionError maps composition failures to 400 with the sentinel
// message; anything else is an internal error.
func (a *API) renderCompositionError(w http.ResponseWriter, r *http.Request, err error) {
	if ruleengine.IsCompositionError(err) {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_COMPOSITION",
			Message: err.Error(),
		})
		return
	}

	logger.FromContext(r.Context()).Error("rule operation failed", slog.String("error", err.Error()))
	render.Status(r, http.StatusInternalServerError)
	render.JSON(w, r, ErrorResponse{
		Code:    "ERR_INTERNAL",
		Message: "Rule operation failed",
	})
}

// findRule returns the rule with the given id from the pool, or nil.
func findRule(rules []ruleengine.Rule, id string) *ruleengine.Rule {
	for i := range rules {
		if rules[i].ID == id {
			return &rules[i]
		}
	}
	return nil
}

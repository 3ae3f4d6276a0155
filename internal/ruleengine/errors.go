package ruleengine

import "errors"

// Composition error taxonomy. These are the only errors the pipeline ever
// raises: they come from the composer's administrative operations. During a
// resolve they abort the request; the stored specification is never touched.
var (
	ErrEmptyComposition     = errors.New("cannot compose an empty rule list")
	ErrTemplateNotFound     = errors.New("rule template not found")
	ErrTemplateMissingID    = errors.New("template overrides must provide a rule id")
	ErrMissingBaseRuleID    = errors.New("extend composition requires baseRuleId")
	ErrBaseRuleNotFound     = errors.New("base rule not found")
	ErrMissingSourceRuleIDs = errors.New("composition requires sourceRuleIds")
	ErrSourceRuleNotFound   = errors.New("source rule not found")
	ErrCompositionCycle     = errors.New("cyclic rule composition")
)

var compositionErrors = []error{
	ErrEmptyComposition,
	ErrTemplateNotFound,
	ErrTemplateMissingID,
	ErrMissingBaseRuleID,
	ErrBaseRuleNotFound,
	ErrMissingSourceRuleIDs,
	ErrSourceRuleNotFound,
	ErrCompositionCycle,
}

// IsCompositionError reports whether err belongs to the composition
// taxonomy. Admin endpoints surface these as 400; the resolve path as 500.
func IsCompositionError(err error) bool {
	for _, e := range compositionErrors {
		if errors.Is(err, e) {
			return true
		}
	}
	return false
}

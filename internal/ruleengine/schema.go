package ruleengine

import (
	"sort"

	"github.com/norns-io/norns/internal/configdoc"
)

// ValidationResult reports schema validation findings. Deprecated-key usage
// is reported through the same errors list; callers treat it as advisory.
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

// ValidateDocument checks a configuration document's top-level keys against
// a schema: required keys must be present, keys outside the
// required/optional/deprecated union are unknown, and deprecated keys are
// flagged. Validation is shallow. A nil schema accepts everything.
func ValidateDocument(doc configdoc.Document, schema *Schema) ValidationResult {
	if schema == nil {
		return ValidationResult{Valid: true, Errors: []string{}}
	}

	errs := []string{}

	for _, key := range schema.RequiredKeys {
		if _, ok := doc[key]; !ok {
			errs = append(errs, "Missing required key: "+key)
		}
	}

	allowed := make(map[string]bool, len(schema.RequiredKeys)+len(schema.OptionalKeys)+len(schema.DeprecatedKeys))
	deprecated := make(map[string]bool, len(schema.DeprecatedKeys))
	for _, k := range schema.RequiredKeys {
		allowed[k] = true
	}
	for _, k := range schema.OptionalKeys {
		allowed[k] = true
	}
	for _, k := range schema.DeprecatedKeys {
		allowed[k] = true
		deprecated[k] = true
	}

	// Document keys in sorted order so findings are deterministic.
	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		switch {
		case deprecated[k]:
			errs = append(errs, "Using deprecated key: "+k)
		case !allowed[k]:
			errs = append(errs, "Unknown key: "+k)
		}
	}

	return ValidationResult{Valid: len(errs) == 0, Errors: errs}
}

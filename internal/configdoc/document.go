// Package configdoc models the open-ended configuration documents that flow
// through the resolution pipeline. A Document is an arbitrary JSON object;
// the three combination strategies (merge, override, inherit) defined here
// are the only ways documents are ever combined, both by the resolver fold
// and by rule composition.
package configdoc

// Document is an arbitrary nested configuration object, as produced by
// encoding/json when decoding into map[string]any.
type Document map[string]any

// Strategy names how a matched rule's config folds into the evolving result.
type Strategy string

const (
	// StrategyMerge deep-merges the right document into the left one.
	StrategyMerge Strategy = "merge"
	// StrategyOverride discards the left document entirely.
	StrategyOverride Strategy = "override"
	// StrategyInherit overlays left keys onto right, shallowly.
	StrategyInherit Strategy = "inherit"
)

// Normalize returns the strategy itself, or StrategyMerge when empty or
// unknown. Unknown strategies degrade rather than fail; the pipeline never
// aborts a request over a bad strategy string.
func (s Strategy) Normalize() Strategy {
	switch s {
	case StrategyMerge, StrategyOverride, StrategyInherit:
		return s
	default:
		return StrategyMerge
	}
}

// Clone returns a deep copy of the document. Nested objects and arrays are
// copied; scalar values are shared (they are immutable).
func Clone(d Document) Document {
	if d == nil {
		return Document{}
	}
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case Document:
		return Clone(t)
	case map[string]any:
		return Clone(Document(t))
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// asObject reports whether v is a JSON object (not an array, not a scalar)
// and returns it as a Document.
func asObject(v any) (Document, bool) {
	switch t := v.(type) {
	case Document:
		return t, true
	case map[string]any:
		return Document(t), true
	default:
		return nil, false
	}
}

// Merge deep-merges right into left and returns a new document. For each key
// in right: when both sides hold objects the merge recurses, otherwise the
// right value replaces the left one. Arrays are replaced atomically, never
// concatenated. Keys present only in left are retained. Neither input is
// mutated.
func Merge(left, right Document) Document {
	out := Clone(left)
	for k, rv := range right {
		if lv, ok := out[k]; ok {
			lo, lok := asObject(lv)
			ro, rok := asObject(rv)
			if lok && rok {
				out[k] = Merge(lo, ro)
				continue
			}
		}
		out[k] = cloneValue(rv)
	}
	return out
}

// Override returns a copy of right; left is discarded.
func Override(_, right Document) Document {
	return Clone(right)
}

// Inherit starts from right and overlays left at the top level, so keys
// already present in left win. This strategy is intentionally shallow:
// nested objects are not recursed into.
func Inherit(left, right Document) Document {
	out := Clone(right)
	for k, v := range left {
		out[k] = cloneValue(v)
	}
	return out
}

// Apply combines left and right using the given strategy. Empty or unknown
// strategies fall back to merge.
func Apply(s Strategy, left, right Document) Document {
	switch s.Normalize() {
	case StrategyOverride:
		return Override(left, right)
	case StrategyInherit:
		return Inherit(left, right)
	default:
		return Merge(left, right)
	}
}

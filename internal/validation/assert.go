// Package validation provides helpers for contract enforcement during
// wiring: constructor arguments that must not be nil fail fast here.
package validation

import "fmt"

// AssertNotNil panics if the provided pointer is nil. Intended for
// constructors and composition-root wiring where a dependency is mandatory;
// a nil there is a programmer error, not a runtime condition.
//
// Usage:
//
//	validation.AssertNotNil(registry, "specification registry")
func AssertNotNil[T any](ptr *T, name string) {
	if ptr == nil {
		panic(fmt.Sprintf("critical error: %s cannot be nil", name))
	}
}

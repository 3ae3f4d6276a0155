package observability

import "context"

// Checker is the contract for any component that reports health status in
// the readiness probe. Implementations must be safe for concurrent use and
// respect the context deadline.
type Checker interface {
	// Name returns the unique identifier of the component (e.g. "postgres").
	Name() string
	// Check returns nil when healthy.
	Check(ctx context.Context) error
}

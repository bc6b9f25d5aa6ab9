package dxmem

import "github.com/coeit/dxmem/internal/errs"

// Error wraps a setup-time failure (Open, config load) with the operation
// that produced it. Hot-path operations (Get/Put/Resize/...) never return
// an Error: they return a Status, since lock contention and resource
// exhaustion are expected outcomes there, not exceptional ones (§7).
//
// Grounded on the teacher's H5Error/WrapError convention.
type Error = errs.OpError

// wrap is a package-local alias kept for readability at call sites.
func wrap(op string, err error) error { return errs.Wrap(op, err) }

// Package scope provides structured-concurrency primitives for Go.
// Scopes own the task nodes they launch, keep them in a flat table keyed by
// id, provide a join point (Close/Wait), and propagate cancellation and
// failures predictably according to a policy.
//
// Cancellation always travels from a node to its descendants, children
// before parents, and is cooperative: work observes it through its token.
package scope

// Package cancel provides the cancellation token shared by scopes, task
// nodes and broadcasters. A token only ever moves from live to cancelled,
// fans the transition out to linked child tokens before running its own
// callbacks, and exposes a read-only Signal for work that must observe it.
package cancel

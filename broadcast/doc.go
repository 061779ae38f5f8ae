// Package broadcast shares values produced inside a scope with independent
// subscribers.
//
// A Broadcaster runs one producer node and keeps the latest emitted value.
// Its Policy decides when the producer runs: Eager from creation until the
// owning scope ends, Lazily from the first subscription on, or
// WhileSubscribed, which stops the producer once nobody has been subscribed
// for a grace period and starts it again on the next subscription.
//
// Subscribers consume with ConsumeLatest, which cancels a delivery still in
// progress when a newer value arrives. State is a producer-less holder and
// Cold restarts its producer for every collector.
package broadcast

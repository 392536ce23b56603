// Package gateway routes inbound commands to the aggregate configuration
// that owns them, rehydrates aggregate state from the event store, applies
// the command, and appends the resulting events.
//
// Concurrency conflicts on append are retried by re-reading, re-folding and
// re-applying the whole dispatch a bounded number of times with a fixed
// inter-attempt delay; every other failure surfaces immediately. Aggregate
// state is never persisted, it is folded from the event history on every
// dispatch.
package gateway

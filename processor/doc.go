// Package processor contains the polling side of the runtime: the generic
// exponential-backoff driver that powers every polling loop, and the batched
// async event processor that polls the event store, upcasts and dispatches
// events to a handler, and advances its bookmark one event at a time.
//
// Delivery is at-least-once: a crash between "handler executed" and
// "bookmark persisted" redelivers exactly that in-flight event, so handlers
// must be idempotent or make their processing transactional with the
// checkpoint write.
package processor

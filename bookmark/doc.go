// Package bookmark provides durable per-consumer checkpoints (name to last
// processed global sequence) and the cross-process lock that guarantees a
// named consumer is advanced by at most one worker instance at a time.
//
// The Store and Lock ports are implemented in-process here (for tests and
// single-node deployments) and on Postgres in the postgresengine
// sub-package, where lock ownership is tied to a live database session and
// released automatically when that session dies.
package bookmark

// Package postgresengine provides the Postgres bookmark store and the
// advisory-lock implementation of the bookmark Lock port.
//
// The lock pins one pool connection per owned bookmark name and takes a
// session-scoped advisory lock on a hash of the name. Postgres releases
// session advisory locks when the holding connection dies, which is the
// failover property the async processors depend on: a crashed worker's
// bookmarks become lockable again without any operator action.
package postgresengine

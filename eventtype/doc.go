// Package eventtype maps domain-event types to and from their stored string
// tags and upgrades deprecated event representations at read time.
//
// Everything is explicit registration built once at startup: the Resolver is
// a table from tag to event factory, the UpcastRegistry a table from old
// event type to transform function. There is no reflection and no annotation
// scanning; a misconfigured registry fails at construction, not at runtime.
package eventtype

// Package eventstore defines the contracts of the event-sourcing runtime:
// the Event/Metadata data model, the EventStore port with its append and
// scan operations, synchronous listeners, and the shared error taxonomy.
//
// Storage engines live in the sub-packages postgresengine, sqliteengine and
// memoryengine. The command gateway, bookmark subsystem and async processors
// are built on top of this package and never depend on a concrete engine.
package eventstore

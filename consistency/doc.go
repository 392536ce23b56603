// Package consistency provides the observational side of asynchronous
// processing: a lag monitor that reports how far each processor's bookmark
// trails the log head, and a blocking waiter that lets a synchronous caller
// wait until the processors relevant to a just-written batch have caught up.
//
// Both components only read the event store head position and bookmark
// state; neither ever writes events.
package consistency

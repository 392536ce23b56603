// Package thing is the minimal reference aggregate used by the demo and the
// runtime's end-to-end tests: a thing is created once, tweaked with named
// adjustments, and bopped until it wears out. It also carries one deprecated
// event shape with a registered upcast, to exercise read-time upcasting.
package thing

package thing

// ThingCreated records that a thing came into existence.
type ThingCreated struct {
	ThingID string `json:"thingId"`
}

// EventType implements eventstore.DomainEvent.
func (e ThingCreated) EventType() string { return "ThingCreated" }

// Tweaked records one named adjustment.
type Tweaked struct {
	Adjustment string `json:"adjustment"`
}

// EventType implements eventstore.DomainEvent.
func (e Tweaked) EventType() string { return "Tweaked" }

// Bopped records one bop.
type Bopped struct{}

// EventType implements eventstore.DomainEvent.
func (e Bopped) EventType() string { return "Bopped" }

// Adjusted is the deprecated predecessor of Tweaked. Old rows keep this
// shape in storage; the registered upcast rewrites it to Tweaked at read
// time, so no handler outside this file ever sees it.
type Adjusted struct {
	Value string `json:"value"`
}

// EventType implements eventstore.DomainEvent.
func (e Adjusted) EventType() string { return "Adjusted" }

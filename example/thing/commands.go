package thing

// CreateThing starts a new thing.
type CreateThing struct {
	ThingID string
}

// CommandType implements gateway.Command.
func (c CreateThing) CommandType() string { return "CreateThing" }

// AggregateID implements gateway.Command.
func (c CreateThing) AggregateID() string { return c.ThingID }

// IsCreationCommand implements gateway.CreationCommand.
func (c CreateThing) IsCreationCommand() {}

// Tweak records a named adjustment on an existing thing.
type Tweak struct {
	ThingID    string
	Adjustment string
}

// CommandType implements gateway.Command.
func (c Tweak) CommandType() string { return "Tweak" }

// AggregateID implements gateway.Command.
func (c Tweak) AggregateID() string { return c.ThingID }

// IsUpdateCommand implements gateway.UpdateCommand.
func (c Tweak) IsUpdateCommand() {}

// Bop bops an existing thing. Things wear out after maxBops.
type Bop struct {
	ThingID string
}

// CommandType implements gateway.Command.
func (c Bop) CommandType() string { return "Bop" }

// AggregateID implements gateway.Command.
func (c Bop) AggregateID() string { return c.ThingID }

// IsUpdateCommand implements gateway.UpdateCommand.
func (c Bop) IsUpdateCommand() {}

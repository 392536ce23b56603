package gateway

// Command is an inbound request to change one aggregate.
type Command interface {
	// CommandType returns the string identifier for this command type.
	CommandType() string

	// AggregateID returns the identifier of the aggregate the command targets.
	AggregateID() string
}

// CreationCommand starts a new aggregate stream; dispatching it against an
// existing aggregate fails with ErrAggregateAlreadyExists.
type CreationCommand interface {
	Command
	IsCreationCommand()
}

// UpdateCommand advances an existing aggregate stream; dispatching it
// against an unknown aggregate fails with ErrAggregateNotFound.
type UpdateCommand interface {
	Command
	IsUpdateCommand()
}

// Outcome reports which dispatch path succeeded.
type Outcome int

const (
	// OutcomeCreated reports that a creation command started a new stream.
	OutcomeCreated Outcome = iota + 1

	// OutcomeUpdated reports that an update command advanced an existing stream.
	OutcomeUpdated
)

// String implements fmt.Stringer.
func (o Outcome) String() string {
	switch o {
	case OutcomeCreated:
		return "created"
	case OutcomeUpdated:
		return "updated"
	default:
		return "unknown"
	}
}

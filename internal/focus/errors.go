package focus

import "errors"

var (
	// ErrUnregisteredAgent: the agent handle is not in the agent registry.
	// Callers retry next tick.
	ErrUnregisteredAgent = errors.New("unregistered agent")

	// ErrInvalidForcedTarget: a forced assignment named a target that is not registered.
	ErrInvalidForcedTarget = errors.New("invalid forced target")

	// ErrEmptyRegistry: there is nothing to allocate. The agent stays unassigned.
	ErrEmptyRegistry = errors.New("no targets registered")

	// ErrNotIrritable: a stimulus reached an agent without the irritation capability.
	ErrNotIrritable = errors.New("agent has no irritation state")
)

package lifecycle

import "errors"

var (
	// ErrSubnetNotFound is returned when a named subnet is absent from the
	// chosen virtual network.
	ErrSubnetNotFound = errors.New("subnet not found")

	// ErrPollTimeout is returned when a scale set does not settle before the
	// poll timeout.
	ErrPollTimeout = errors.New("timed out waiting for scale set instances")
)

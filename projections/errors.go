package projections

import "errors"

var (
	// ErrUnregisteredEventType is returned when no action is registered for the event's type.
	ErrUnregisteredEventType = errors.New("unregistered event type")

	// ErrDuplicateRegistration is returned by On when the event type already has an action.
	ErrDuplicateRegistration = errors.New("duplicate registration")

	// ErrMissingFilter is returned when an Update or Remove has no filter values to target rows with.
	ErrMissingFilter = errors.New("missing filter for targeted operation")

	ErrMissingKeyField      = errors.New("missing key field")
	ErrDuplicateFilterField = errors.New("duplicate filter field")
	ErrInvalidAction        = errors.New("invalid action")

	// ErrLossyConversion is returned by FieldInjector when a value does not fit the target field.
	ErrLossyConversion = errors.New("lossy conversion")

	// ErrNoMatch is only returned when the denormalizer was built WithRequireMatch.
	ErrNoMatch = errors.New("no projection matched the filter")
)

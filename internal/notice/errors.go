package notice

import "errors"

// Sentinel errors surfaced by deserialization and classification. Kept as
// plain errors (rather than a typed hierarchy) so callers can compare with
// errors.Is after wrapping with context.
var (
	// ErrInvalidPayload covers an unrecognized wire format, a structural
	// error inside a matched format, or duplicate VOEvent Param names.
	ErrInvalidPayload = errors.New("invalid payload")

	// ErrInvalidNotice is raised by a variant constructor that rejects an
	// otherwise well-formed message; callers fall back to the base Notice.
	ErrInvalidNotice = errors.New("invalid notice")
)

package store

import "errors"

var (
	// ErrNotFound is returned when no watch or snapshot matches the query.
	ErrNotFound = errors.New("not found")

	// ErrAmbiguousReference is returned when a game name resolves to more
	// than one watch and the caller must disambiguate.
	ErrAmbiguousReference = errors.New("ambiguous reference")

	// ErrValidation is returned for malformed input: bad cron expression,
	// unknown platform or criteria type, missing target value.
	ErrValidation = errors.New("validation error")
)

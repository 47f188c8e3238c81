package region

import "errors"

var (
	// ErrInvalidSpace indicates a Space definition that cannot hold any Positions.
	ErrInvalidSpace = errors.New("region: invalid space")

	// ErrMissingRegion indicates a nil element passed to a sparse region constructor.
	ErrMissingRegion = errors.New("region: missing sub-region")

	// ErrSpaceMismatch indicates that a region belongs to a different Space.
	ErrSpaceMismatch = errors.New("region: space mismatch")
)

package filter

import "errors"

var (
	ErrInvalidDefinition = errors.New("filter: invalid definition")
	ErrMissingName       = errors.New("filter: missing name")
	ErrMalformedRecord   = errors.New("filter: malformed storage record")
)

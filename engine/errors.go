package engine

import "errors"

var (
	errNotObject   = errors.New("document body must be a JSON object")
	errTooLarge    = errors.New("document too large for page")
	errDocNotFound = errors.New("document not found")
)

package internalerr

import "errors"

// Sentinel errors for common cases
var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrInvalidConfig    = errors.New("invalid configuration")

	// Grammar compilation. Any of these aborts setup.
	ErrParse             = errors.New("unparseable rule text")
	ErrSignatureConflict = errors.New("relation signature conflict")
	ErrTypeConflict      = errors.New("type conflict")
	ErrUnresolvedType    = errors.New("unresolved type")
	ErrUnboundVariable   = errors.New("unbound head variable")

	// Fact construction and decoding.
	ErrUnknownRelation = errors.New("unknown relation")
	ErrInvalidValue    = errors.New("invalid node value")
	ErrGenerator       = errors.New("transition generator failed")
)

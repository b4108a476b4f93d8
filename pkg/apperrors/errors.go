package apperrors

import "errors"

var (
	ErrNotFound  = errors.New("not found")
	ErrConflict  = errors.New("conflict")
	ErrReadOnly  = errors.New("database is in read-only mode")
	ErrRowFatal  = errors.New("row cannot be imported")
	ErrNoTxScope = errors.New("no transaction scope in context")

	// Load-time failures of input files. Raised before any row is processed.
	ErrInvalidMapping    = errors.New("invalid column mapping")
	ErrInvalidDescriptor = errors.New("invalid dataset descriptor")

	ErrDatasetAlreadyImported = errors.New("dataset already has imported mixes")
	ErrReferenceNotRegistered = errors.New("reference key not registered in current row")

	// ErrCompositeForeignKey aborts canonicalization: the generic rewrite only handles
	// single-column foreign keys.
	ErrCompositeForeignKey = errors.New("composite foreign key references material")
)

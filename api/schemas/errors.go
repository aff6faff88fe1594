package schemas

import "errors"

var (
	// ErrTabTimeout is returned when a tab does not become ready in time.
	ErrTabTimeout = errors.New("tab did not become ready before the timeout")
	// ErrTabNotFound is returned for operations on an unknown tab.
	ErrTabNotFound = errors.New("tab not found")
	// ErrExtractionInjection is returned when the extraction script cannot run in the page.
	ErrExtractionInjection = errors.New("extraction script could not be injected")
	// ErrExtractionNoResult is returned when the extraction script produced nothing.
	ErrExtractionNoResult = errors.New("extraction script returned no result")
	// ErrDuplicateCheck is returned when two checks share an identifier.
	ErrDuplicateCheck = errors.New("duplicate check identifier")
	// ErrResultNotFound is returned by store lookups that found no live result.
	// ResultStore.Get folds it into (nil, nil).
	ErrResultNotFound = errors.New("scan result not found")
)

package core

import (
	"errors"
	"fmt"
)

// Engine errors - the taxonomy shared by training and serving
var (
	// Offline: a variable cannot be fitted and must be excluded from the catalogue
	ErrDataQuality = errors.New("data quality error")

	// Runtime query errors
	ErrUnknownVariable  = errors.New("unknown variable")
	ErrInvalidEvidence  = errors.New("invalid evidence")
	ErrEmptyEvidence    = errors.New("no usable evidence after filtering")
	ErrDegenerateQuery  = errors.New("degenerate query result")
	ErrTransformMissing = fmt.Errorf("%w: no transform registered", ErrUnknownVariable)
)

// NewDataQualityError reports a variable that cannot be fitted
func NewDataQualityError(varKey VariableKey, reason string) error {
	return fmt.Errorf("%w: variable %s: %s", ErrDataQuality, varKey, reason)
}

// NewUnknownVariableError reports a variable that is absent from the network
func NewUnknownVariableError(varKey VariableKey) error {
	return fmt.Errorf("%w: %s", ErrUnknownVariable, varKey)
}

// NewInvalidEvidenceError reports a state index outside a variable's range
func NewInvalidEvidenceError(varKey VariableKey, state, cardinality int) error {
	return fmt.Errorf("%w: %s=%d outside [0,%d)", ErrInvalidEvidence, varKey, state, cardinality)
}

// NewDegenerateQueryError reports a zero-mass posterior for a single target
func NewDegenerateQueryError(target VariableKey, mass float64) error {
	return fmt.Errorf("%w: posterior of %s has mass %g", ErrDegenerateQuery, target, mass)
}

// IsDataQualityError reports whether training must abort for this error
func IsDataQualityError(err error) bool {
	return errors.Is(err, ErrDataQuality)
}

// IsQueryError reports whether err is confined to a single inference query.
// Query errors become nulls in a simulation result; anything else aborts the call.
func IsQueryError(err error) bool {
	return errors.Is(err, ErrUnknownVariable) ||
		errors.Is(err, ErrInvalidEvidence) ||
		errors.Is(err, ErrDegenerateQuery)
}

// NewValidationError reports a malformed domain object
func NewValidationError(field string, reason string) error {
	return fmt.Errorf("validation failed for %s: %s", field, reason)
}

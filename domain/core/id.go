package core

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ID represents a domain identifier
type ID string

// NewID creates a new unique identifier using UUID v7 for time-ordered generation
func NewID() ID {
	id, err := uuid.NewV7()
	if err != nil {
		// Fallback to v4 if v7 fails
		id = uuid.New()
	}
	return ID(id.String())
}

// String returns the string representation
func (id ID) String() string {
	return string(id)
}

// IsEmpty checks if the ID is empty
func (id ID) IsEmpty() bool {
	return id == ""
}

// Domain-specific ID types
type (
	// ModelVersion ties the three persisted model pieces together
	ModelVersion ID
	// VariableKey identifies a catalogue variable
	VariableKey ID
)

// NewModelVersion creates a fresh, time-ordered model version
func NewModelVersion() ModelVersion {
	return ModelVersion(NewID())
}

func (v ModelVersion) String() string { return ID(v).String() }
func (k VariableKey) String() string  { return ID(k).String() }

// ParseVariableKey parses a string into VariableKey
func ParseVariableKey(s string) (VariableKey, error) {
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("variable key cannot be empty")
	}
	return VariableKey(strings.TrimSpace(s)), nil
}

// ParseModelVersion parses a string into ModelVersion
func ParseModelVersion(s string) (ModelVersion, error) {
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("model version cannot be empty")
	}
	if _, err := uuid.Parse(s); err != nil {
		return "", fmt.Errorf("model version %q is not a UUID: %w", s, err)
	}
	return ModelVersion(s), nil
}

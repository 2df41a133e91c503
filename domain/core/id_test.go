package core

import (
	"errors"
	"testing"
)

// TestNewIDUniqueness tests that NewID generates unique identifiers
func TestNewIDUniqueness(t *testing.T) {
	const numIDs = 10000

	ids := make(map[ID]bool, numIDs)
	for i := 0; i < numIDs; i++ {
		id := NewID()
		if id.IsEmpty() {
			t.Errorf("Generated empty ID at iteration %d", i)
		}
		if ids[id] {
			t.Errorf("Generated duplicate ID: %s", id)
		}
		ids[id] = true
	}
}

// TestParseModelVersion accepts generated versions and rejects junk
func TestParseModelVersion(t *testing.T) {
	v := NewModelVersion()
	parsed, err := ParseModelVersion(v.String())
	if err != nil {
		t.Fatalf("ParseModelVersion(%q): %v", v, err)
	}
	if parsed != v {
		t.Errorf("Expected %s, got %s", v, parsed)
	}

	for _, bad := range []string{"", "   ", "not-a-uuid"} {
		if _, err := ParseModelVersion(bad); err == nil {
			t.Errorf("Expected error for %q", bad)
		}
	}
}

// TestParseVariableKey trims whitespace and rejects empty keys
func TestParseVariableKey(t *testing.T) {
	key, err := ParseVariableKey("  Traffic ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key != "Traffic" {
		t.Errorf("Expected Traffic, got %q", key)
	}
	if _, err := ParseVariableKey(""); err == nil {
		t.Error("Expected error for empty key")
	}
}

// TestErrorTaxonomy checks the sentinel wrapping used across the engine
func TestErrorTaxonomy(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		sentinel  error
		queryOnly bool
	}{
		{"data quality", NewDataQualityError("Ozone", "no values"), ErrDataQuality, false},
		{"unknown variable", NewUnknownVariableError("Nope"), ErrUnknownVariable, true},
		{"invalid evidence", NewInvalidEvidenceError("Traffic", 7, 5), ErrInvalidEvidence, true},
		{"degenerate", NewDegenerateQueryError("Asthma", 0), ErrDegenerateQuery, true},
		{"transform missing", ErrTransformMissing, ErrUnknownVariable, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if !errors.Is(tc.err, tc.sentinel) {
				t.Errorf("expected %v to wrap %v", tc.err, tc.sentinel)
			}
			if IsQueryError(tc.err) != tc.queryOnly {
				t.Errorf("IsQueryError(%v) = %v, want %v", tc.err, !tc.queryOnly, tc.queryOnly)
			}
		})
	}

	if IsQueryError(ErrEmptyEvidence) {
		t.Error("empty evidence must abort the whole call, not a single query")
	}
	if !IsDataQualityError(NewDataQualityError("x", "y")) {
		t.Error("expected IsDataQualityError to match")
	}
}

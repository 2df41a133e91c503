package transform

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"ecosim/domain/catalogue"
	"ecosim/domain/core"
)

const (
	// OtherLabel is the synthetic bucket for rare categories
	OtherLabel = "Other"
	// rareFraction is the frequency below which a category is collapsed
	rareFraction = 0.05
	missingLabel = "UNKNOWN"
)

// Categorical maps labels to ordinal indices.
//
// Mapping is a bijection from the post-collapse categories, sorted, onto
// 0..k-1. Categories collapsed into Other during fitting keep encoding to
// Other. Encode policy: any other unseen label maps to state 0. This keeps
// free-text driven queries responsive at the cost of masking typos.
type Categorical struct {
	Mapping   map[string]int `json:"mapping"`
	Collapsed []string       `json:"collapsed,omitempty"`
	Fill      string         `json:"fill"`

	labels    []string
	collapsed map[string]bool
}

// NewCategorical validates a mapping and builds the reverse lookup
func NewCategorical(mapping map[string]int, collapsed []string, fill string) (*Categorical, error) {
	labels := make([]string, len(mapping))
	seen := make([]bool, len(mapping))
	for label, idx := range mapping {
		if idx < 0 || idx >= len(mapping) {
			return nil, fmt.Errorf("category %q has index %d outside [0,%d)", label, idx, len(mapping))
		}
		if seen[idx] {
			return nil, fmt.Errorf("index %d assigned to more than one category", idx)
		}
		seen[idx] = true
		labels[idx] = label
	}
	if len(mapping) == 0 {
		return nil, fmt.Errorf("categorical mapping is empty")
	}

	c := &Categorical{Mapping: mapping, Collapsed: collapsed, Fill: fill, labels: labels, collapsed: make(map[string]bool, len(collapsed))}
	for _, label := range collapsed {
		c.collapsed[label] = true
	}
	return c, nil
}

func (c *Categorical) Kind() catalogue.Kind { return catalogue.KindCategorical }
func (c *Categorical) Cardinality() int     { return len(c.Mapping) }
func (c *Categorical) isTransform()         {}

// Labels returns the categories in state order
func (c *Categorical) Labels() []string {
	out := make([]string, len(c.labels))
	copy(out, c.labels)
	return out
}

// FitCategorical fits a categorical transform. Empty cells are missing values.
func FitCategorical(name core.VariableKey, sample []string) (*Categorical, error) {
	counts := make(map[string]int)
	for _, s := range sample {
		if s = strings.TrimSpace(s); s != "" {
			counts[s]++
		}
	}
	if len(counts) == 0 {
		return nil, core.NewDataQualityError(name, "no non-missing categories")
	}

	fill := mode(counts)
	counts[fill] += len(sample) - sum(counts)

	threshold := rareFraction * float64(len(sample))
	kept := make(map[string]bool)
	var collapsed []string
	for label, n := range counts {
		if float64(n) < threshold {
			collapsed = append(collapsed, label)
			kept[OtherLabel] = true
		} else {
			kept[label] = true
		}
	}
	sort.Strings(collapsed)

	categories := make([]string, 0, len(kept))
	for label := range kept {
		categories = append(categories, label)
	}
	sort.Strings(categories)

	mapping := make(map[string]int, len(categories))
	for i, label := range categories {
		mapping[label] = i
	}
	if !kept[fill] {
		fill = OtherLabel
	}
	return NewCategorical(mapping, collapsed, fill)
}

// mode returns the most frequent label; ties go to the lexicographically smallest
func mode(counts map[string]int) string {
	best, bestN := missingLabel, -1
	for label, n := range counts {
		if n > bestN || (n == bestN && label < best) {
			best, bestN = label, n
		}
	}
	return best
}

func sum(counts map[string]int) int {
	total := 0
	for _, n := range counts {
		total += n
	}
	return total
}

func (c *Categorical) encode(v Value) int {
	label := strings.TrimSpace(v.AsLabel())
	if v.IsUnknown() || label == "" {
		label = c.Fill
	}
	if idx, ok := c.Mapping[label]; ok {
		return idx
	}
	if c.collapsed[label] {
		if idx, ok := c.Mapping[OtherLabel]; ok {
			return idx
		}
	}
	return 0
}

func (c *Categorical) decode(state int) Value {
	if state < 0 || state >= len(c.labels) {
		return Unknown
	}
	return Label(c.labels[state])
}

// UnmarshalJSON rebuilds and validates the reverse lookup
func (c *Categorical) UnmarshalJSON(data []byte) error {
	var raw struct {
		Mapping   map[string]int `json:"mapping"`
		Collapsed []string       `json:"collapsed"`
		Fill      string         `json:"fill"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	built, err := NewCategorical(raw.Mapping, raw.Collapsed, raw.Fill)
	if err != nil {
		return err
	}
	*c = *built
	return nil
}

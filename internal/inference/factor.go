package inference

import (
	"errors"
	"fmt"

	"ecosim/domain/core"
	"ecosim/internal/network"
)

// maxFactorSize bounds the number of entries of any intermediate factor
const maxFactorSize = 1 << 24

// ErrFactorTooLarge is returned when elimination would materialise a factor
// beyond maxFactorSize entries
var ErrFactorTooLarge = errors.New("intermediate factor too large")

// factor is a dense table over vars, laid out with the last variable fastest
type factor struct {
	vars   []core.VariableKey
	cards  []int
	values []float64
}

func (f *factor) size() int {
	return len(f.values)
}

func (f *factor) index(v core.VariableKey) int {
	for i, x := range f.vars {
		if x == v {
			return i
		}
	}
	return -1
}

func (f *factor) has(v core.VariableKey) bool {
	return f.index(v) >= 0
}

func strides(cards []int) []int {
	s := make([]int, len(cards))
	acc := 1
	for i := len(cards) - 1; i >= 0; i-- {
		s[i] = acc
		acc *= cards[i]
	}
	return s
}

func tableSize(cards []int) (int, error) {
	n := 1
	for _, c := range cards {
		if c > 0 && n > maxFactorSize/c {
			return 0, ErrFactorTooLarge
		}
		n *= c
	}
	return n, nil
}

// fromCPT materialises P(node | parents) reduced by the evidence: observed
// variables are fixed to their state and dropped from the factor scope.
func fromCPT(cpt *network.CPT, evidence Evidence) (*factor, error) {
	scope := append(append([]core.VariableKey(nil), cpt.Parents...), cpt.Variable)
	scopeCards := append(append([]int(nil), cpt.ParentCards...), cpt.Cardinality)

	f := &factor{}
	for i, v := range scope {
		if _, observed := evidence[v]; !observed {
			f.vars = append(f.vars, v)
			f.cards = append(f.cards, scopeCards[i])
		}
	}
	n, err := tableSize(f.cards)
	if err != nil {
		return nil, fmt.Errorf("cpt of %s: %w", cpt.Variable, err)
	}
	f.values = make([]float64, n)

	assignment := make([]int, len(scope))
	for i, v := range scope {
		if s, observed := evidence[v]; observed {
			assignment[i] = s
		}
	}
	free := make([]int, 0, len(f.vars))
	for i, v := range scope {
		if _, observed := evidence[v]; !observed {
			free = append(free, i)
		}
	}

	last := len(scope) - 1
	for idx := 0; idx < n; idx++ {
		rem := idx
		for k := len(free) - 1; k >= 0; k-- {
			c := f.cards[k]
			assignment[free[k]] = rem % c
			rem /= c
		}
		f.values[idx] = cpt.Prob(assignment[last], assignment[:last])
	}
	return f, nil
}

// product multiplies two factors over the union of their scopes
func product(a, b *factor) (*factor, error) {
	out := &factor{
		vars:  append([]core.VariableKey(nil), a.vars...),
		cards: append([]int(nil), a.cards...),
	}
	for i, v := range b.vars {
		if !a.has(v) {
			out.vars = append(out.vars, v)
			out.cards = append(out.cards, b.cards[i])
		}
	}
	n, err := tableSize(out.cards)
	if err != nil {
		return nil, err
	}
	out.values = make([]float64, n)

	aStrides, bStrides := strides(a.cards), strides(b.cards)
	// Stride of each output variable inside a and b; zero when absent
	sa := make([]int, len(out.vars))
	sb := make([]int, len(out.vars))
	for i, v := range out.vars {
		if j := a.index(v); j >= 0 {
			sa[i] = aStrides[j]
		}
		if j := b.index(v); j >= 0 {
			sb[i] = bStrides[j]
		}
	}

	assignment := make([]int, len(out.vars))
	ia, ib := 0, 0
	for idx := 0; idx < n; idx++ {
		out.values[idx] = a.values[ia] * b.values[ib]
		// Odometer increment, last variable fastest
		for k := len(out.vars) - 1; k >= 0; k-- {
			assignment[k]++
			ia += sa[k]
			ib += sb[k]
			if assignment[k] < out.cards[k] {
				break
			}
			ia -= sa[k] * out.cards[k]
			ib -= sb[k] * out.cards[k]
			assignment[k] = 0
		}
	}
	return out, nil
}

// sumOut marginalises one variable out of a factor
func sumOut(f *factor, v core.VariableKey) *factor {
	pos := f.index(v)
	if pos < 0 {
		return f
	}
	out := &factor{
		vars:  append(append([]core.VariableKey(nil), f.vars[:pos]...), f.vars[pos+1:]...),
		cards: append(append([]int(nil), f.cards[:pos]...), f.cards[pos+1:]...),
	}
	n := 1
	for _, c := range out.cards {
		n *= c
	}
	out.values = make([]float64, n)

	st := strides(f.cards)
	inner := st[pos]
	card := f.cards[pos]
	for idx := 0; idx < f.size(); idx++ {
		outer := idx / (inner * card)
		within := idx % inner
		out.values[outer*inner+within] += f.values[idx]
	}
	return out
}

package inference

import (
	"fmt"
	"strings"

	"ecosim/domain/core"
)

// Heuristic chooses the next variable to eliminate
type Heuristic string

const (
	// MinDegree eliminates the variable with the fewest neighbours
	MinDegree Heuristic = "min-degree"
	// MinFill eliminates the variable whose removal adds the fewest fill edges
	MinFill Heuristic = "min-fill"
	// MinWeight eliminates the variable with the smallest neighbourhood table
	MinWeight Heuristic = "min-weight"
)

// ParseHeuristic maps a config string to a heuristic
func ParseHeuristic(s string) (Heuristic, error) {
	switch h := Heuristic(strings.ToLower(strings.TrimSpace(s))); h {
	case MinDegree, MinFill, MinWeight:
		return h, nil
	case "":
		return MinDegree, nil
	default:
		return "", fmt.Errorf("unknown elimination heuristic %q", s)
	}
}

// interaction is the undirected graph of variables sharing a factor
type interaction struct {
	adj   map[core.VariableKey]map[core.VariableKey]bool
	cards map[core.VariableKey]int
}

func newInteraction(factors []*factor) *interaction {
	g := &interaction{
		adj:   make(map[core.VariableKey]map[core.VariableKey]bool),
		cards: make(map[core.VariableKey]int),
	}
	for _, f := range factors {
		for i, v := range f.vars {
			g.cards[v] = f.cards[i]
			if g.adj[v] == nil {
				g.adj[v] = make(map[core.VariableKey]bool)
			}
			for _, u := range f.vars {
				if u != v {
					g.adj[v][u] = true
				}
			}
		}
	}
	return g
}

func (g *interaction) score(h Heuristic, v core.VariableKey) int {
	neighbours := g.adj[v]
	switch h {
	case MinFill:
		fill := 0
		for a := range neighbours {
			for b := range neighbours {
				if a < b && !g.adj[a][b] {
					fill++
				}
			}
		}
		return fill
	case MinWeight:
		w := g.cards[v]
		for u := range neighbours {
			w *= g.cards[u]
			if w > maxFactorSize {
				return maxFactorSize + 1
			}
		}
		return w
	default:
		return len(neighbours)
	}
}

// eliminate removes v and connects its neighbours
func (g *interaction) eliminate(v core.VariableKey) {
	neighbours := g.adj[v]
	for a := range neighbours {
		delete(g.adj[a], v)
		for b := range neighbours {
			if a != b {
				g.adj[a][b] = true
			}
		}
	}
	delete(g.adj, v)
}

// eliminationOrder greedily orders hidden variables. Ties go to the variable
// that appears first in hidden, which callers pass in topological order.
func eliminationOrder(h Heuristic, factors []*factor, hidden []core.VariableKey) []core.VariableKey {
	g := newInteraction(factors)
	remaining := append([]core.VariableKey(nil), hidden...)
	order := make([]core.VariableKey, 0, len(hidden))

	for len(remaining) > 0 {
		best, bestScore := 0, -1
		for i, v := range remaining {
			s := g.score(h, v)
			if bestScore < 0 || s < bestScore {
				best, bestScore = i, s
			}
		}
		v := remaining[best]
		order = append(order, v)
		g.eliminate(v)
		remaining = append(remaining[:best], remaining[best+1:]...)
	}
	return order
}

// Package network builds the fixed-topology Bayesian network over the
// pressure, state and impact tiers and holds its fitted CPTs.
package network

import (
	"encoding/json"
	"fmt"

	"ecosim/domain/catalogue"
	"ecosim/domain/core"

	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// Node is one network variable
type Node struct {
	ID       core.VariableKey   `json:"id"`
	Tier     catalogue.Tier     `json:"tier"`
	Parents  []core.VariableKey `json:"parents"`
	Children []core.VariableKey `json:"-"`
}

// Edge is a directed parent -> child link
type Edge struct {
	From core.VariableKey `json:"from"`
	To   core.VariableKey `json:"to"`
}

// Network is a DAG whose edges run from a lower tier to a higher one.
// After fitting it is immutable and safe for concurrent reads.
type Network struct {
	order []core.VariableKey
	nodes map[core.VariableKey]*Node
	cpts  map[core.VariableKey]*CPT
}

// linked is the edge rule: every variable links to every variable of a later tier
func linked(from, to catalogue.Tier) bool {
	return from.Rank() >= 0 && from.Rank() < to.Rank()
}

// Build creates the tripartite network for a catalogue. Response and metadata
// variables are ignored. The result has no CPTs until the estimator fits them.
func Build(cat catalogue.Catalogue) (*Network, error) {
	if err := cat.Validate(); err != nil {
		return nil, err
	}

	n := &Network{
		nodes: make(map[core.VariableKey]*Node),
		cpts:  make(map[core.VariableKey]*CPT),
	}

	// Nodes in tier order; catalogue order within a tier
	for _, tier := range catalogue.NetworkTiers() {
		for _, id := range cat.Tier(tier) {
			n.order = append(n.order, id)
			n.nodes[id] = &Node{ID: id, Tier: tier}
		}
	}

	for _, from := range n.order {
		for _, to := range n.order {
			if linked(n.nodes[from].Tier, n.nodes[to].Tier) {
				n.nodes[to].Parents = append(n.nodes[to].Parents, from)
				n.nodes[from].Children = append(n.nodes[from].Children, to)
			}
		}
	}

	return n, nil
}

// Nodes returns the node IDs in topological (tier) order
func (n *Network) Nodes() []core.VariableKey {
	out := make([]core.VariableKey, len(n.order))
	copy(out, n.order)
	return out
}

// Has reports whether a variable is a network node
func (n *Network) Has(id core.VariableKey) bool {
	_, ok := n.nodes[id]
	return ok
}

// Tier returns a node's tier
func (n *Network) Tier(id core.VariableKey) (catalogue.Tier, bool) {
	node, ok := n.nodes[id]
	if !ok {
		return "", false
	}
	return node.Tier, true
}

// Parents returns a node's parents in topological order
func (n *Network) Parents(id core.VariableKey) []core.VariableKey {
	if node, ok := n.nodes[id]; ok {
		return append([]core.VariableKey(nil), node.Parents...)
	}
	return nil
}

// Children returns a node's direct children
func (n *Network) Children(id core.VariableKey) []core.VariableKey {
	if node, ok := n.nodes[id]; ok {
		return append([]core.VariableKey(nil), node.Children...)
	}
	return nil
}

// OutDegree returns the number of direct children of a node
func (n *Network) OutDegree(id core.VariableKey) int {
	if node, ok := n.nodes[id]; ok {
		return len(node.Children)
	}
	return 0
}

// Edges lists every edge, grouped by parent in topological order
func (n *Network) Edges() []Edge {
	var edges []Edge
	for _, from := range n.order {
		for _, to := range n.nodes[from].Children {
			edges = append(edges, Edge{From: from, To: to})
		}
	}
	return edges
}

// SetCPT attaches a fitted CPT; its parents must match the node's parents
func (n *Network) SetCPT(cpt *CPT) error {
	node, ok := n.nodes[cpt.Variable]
	if !ok {
		return core.NewUnknownVariableError(cpt.Variable)
	}
	if len(cpt.Parents) != len(node.Parents) {
		return fmt.Errorf("cpt %s has %d parents, node has %d", cpt.Variable, len(cpt.Parents), len(node.Parents))
	}
	for i, p := range node.Parents {
		if cpt.Parents[i] != p {
			return fmt.Errorf("cpt %s parent %d is %s, node expects %s", cpt.Variable, i, cpt.Parents[i], p)
		}
		if parent, ok := n.cpts[p]; ok && parent.Cardinality != cpt.ParentCards[i] {
			return fmt.Errorf("cpt %s sees %d states for %s, which has %d", cpt.Variable, cpt.ParentCards[i], p, parent.Cardinality)
		}
	}
	if err := cpt.Validate(); err != nil {
		return err
	}
	n.cpts[cpt.Variable] = cpt
	return nil
}

// CPT returns a node's fitted table
func (n *Network) CPT(id core.VariableKey) (*CPT, bool) {
	cpt, ok := n.cpts[id]
	return cpt, ok
}

// Cardinality returns the number of states of a fitted node
func (n *Network) Cardinality(id core.VariableKey) (int, bool) {
	cpt, ok := n.cpts[id]
	if !ok {
		return 0, false
	}
	return cpt.Cardinality, true
}

// Fitted reports whether every node has a CPT
func (n *Network) Fitted() bool {
	return len(n.cpts) == len(n.nodes)
}

// Validate checks a network, typically one loaded from disk: acyclic, edges
// only towards later tiers, and CPTs consistent with the structure.
func (n *Network) Validate() error {
	g := simple.NewDirectedGraph()
	ids := make(map[core.VariableKey]int64, len(n.order))
	for i, id := range n.order {
		ids[id] = int64(i)
		g.AddNode(simple.Node(int64(i)))
	}
	for _, e := range n.Edges() {
		from, to := n.nodes[e.From], n.nodes[e.To]
		if !linked(from.Tier, to.Tier) {
			return fmt.Errorf("edge %s -> %s runs from tier %s to %s", e.From, e.To, from.Tier, to.Tier)
		}
		g.SetEdge(g.NewEdge(simple.Node(ids[e.From]), simple.Node(ids[e.To])))
	}
	if _, err := topo.Sort(g); err != nil {
		return fmt.Errorf("network is not acyclic: %w", err)
	}

	for _, id := range n.order {
		cpt, ok := n.cpts[id]
		if !ok {
			continue
		}
		node := n.nodes[id]
		for i, p := range node.Parents {
			parent, ok := n.cpts[p]
			if ok && parent.Cardinality != cpt.ParentCards[i] {
				return fmt.Errorf("cpt %s sees %d states for %s, which has %d", id, cpt.ParentCards[i], p, parent.Cardinality)
			}
		}
	}
	return nil
}

type networkJSON struct {
	Nodes []*Node                   `json:"nodes"`
	CPTs  map[core.VariableKey]*CPT `json:"cpts"`
}

// MarshalJSON writes nodes in topological order plus every CPT
func (n *Network) MarshalJSON() ([]byte, error) {
	doc := networkJSON{CPTs: n.cpts}
	for _, id := range n.order {
		doc.Nodes = append(doc.Nodes, n.nodes[id])
	}
	return json.Marshal(doc)
}

// UnmarshalJSON rebuilds the network and validates it
func (n *Network) UnmarshalJSON(data []byte) error {
	var doc networkJSON
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}

	n.order = nil
	n.nodes = make(map[core.VariableKey]*Node, len(doc.Nodes))
	n.cpts = make(map[core.VariableKey]*CPT, len(doc.CPTs))
	for _, node := range doc.Nodes {
		if _, dup := n.nodes[node.ID]; dup {
			return fmt.Errorf("duplicate node %s", node.ID)
		}
		if !node.Tier.InNetwork() {
			return fmt.Errorf("node %s has non-network tier %q", node.ID, node.Tier)
		}
		n.order = append(n.order, node.ID)
		n.nodes[node.ID] = &Node{ID: node.ID, Tier: node.Tier, Parents: node.Parents}
	}
	for _, node := range doc.Nodes {
		for _, p := range node.Parents {
			parent, ok := n.nodes[p]
			if !ok {
				return fmt.Errorf("node %s has unknown parent %s", node.ID, p)
			}
			parent.Children = append(parent.Children, node.ID)
		}
	}
	if err := n.Validate(); err != nil {
		return err
	}

	for _, id := range n.order {
		cpt, ok := doc.CPTs[id]
		if !ok {
			return fmt.Errorf("node %s has no cpt", id)
		}
		if err := n.SetCPT(cpt); err != nil {
			return err
		}
	}
	if len(doc.CPTs) != len(n.order) {
		return fmt.Errorf("%d cpts for %d nodes", len(doc.CPTs), len(n.order))
	}
	return n.Validate()
}

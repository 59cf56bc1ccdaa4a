package conversation

import (
	"fmt"

	"github.com/Lynn-1221/Agents/types"
)

// TransitionGraph 发言人转移图：参与者 ID 到允许后继集合的有向图。
// 后继保持声明顺序，允许自环与环。
type TransitionGraph struct {
	nodes      map[string]int
	successors map[string][]string
}

// NewTransitionGraph validates the table against the participant ids.
// Participants absent from the table have no successors.
func NewTransitionGraph(participants []string, table map[string][]string) (*TransitionGraph, error) {
	g := &TransitionGraph{
		nodes:      make(map[string]int, len(participants)),
		successors: make(map[string][]string, len(table)),
	}
	for i, id := range participants {
		if id == "" {
			return nil, types.NewError(types.ErrInvalidGraph, "participant id must not be empty")
		}
		if id == ExternalSender {
			return nil, types.Errorf(types.ErrInvalidGraph, "participant id %q is reserved", id)
		}
		if _, dup := g.nodes[id]; dup {
			return nil, types.Errorf(types.ErrInvalidGraph, "duplicate participant %q", id)
		}
		g.nodes[id] = i
	}

	for from, tos := range table {
		if _, ok := g.nodes[from]; !ok {
			return nil, types.Errorf(types.ErrInvalidGraph, "transition source %q is not a participant", from)
		}
		seen := make(map[string]bool, len(tos))
		next := make([]string, 0, len(tos))
		for _, to := range tos {
			if _, ok := g.nodes[to]; !ok {
				return nil, types.Errorf(types.ErrInvalidGraph, "transition %s -> %s targets a non-participant", from, to)
			}
			if seen[to] {
				continue
			}
			seen[to] = true
			next = append(next, to)
		}
		g.successors[from] = next
	}
	return g, nil
}

// Successors returns the allowed next speakers of id in declaration order.
// The returned slice must not be modified.
func (g *TransitionGraph) Successors(id string) []string {
	return g.successors[id]
}

// Has reports whether id is a participant.
func (g *TransitionGraph) Has(id string) bool {
	_, ok := g.nodes[id]
	return ok
}

// Allowed reports whether to is an allowed successor of from.
func (g *TransitionGraph) Allowed(from, to string) bool {
	for _, s := range g.successors[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Reachable returns the participants reachable from start, start included.
func (g *TransitionGraph) Reachable(start string) []string {
	if !g.Has(start) {
		return nil
	}
	visited := map[string]bool{start: true}
	order := []string{start}
	for i := 0; i < len(order); i++ {
		for _, next := range g.successors[order[i]] {
			if !visited[next] {
				visited[next] = true
				order = append(order, next)
			}
		}
	}
	return order
}

func (g *TransitionGraph) String() string {
	return fmt.Sprintf("TransitionGraph(%d participants, %d sources)", len(g.nodes), len(g.successors))
}

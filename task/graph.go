package task

import "fmt"

// Lookup resolves a task by ID. Both store backends satisfy it, and tests can
// substitute a map-backed function.
type Lookup func(id string) (*Task, error)

// Graph validates dependency edges over the task set reachable through a
// Lookup. Edges point "depends on": a task is downstream of everything in its
// DependsOn set.
type Graph struct {
	lookup Lookup
}

// NewGraph creates a validator over the given lookup.
func NewGraph(lookup Lookup) *Graph {
	return &Graph{lookup: lookup}
}

// dfs node colors: a gray node is on the current recursion stack, a black
// node is fully explored. Revisiting gray means a cycle; revisiting black is
// a diamond and allowed.
const (
	colorWhite = 0
	colorGray  = 1
	colorBlack = 2
)

// Validate walks the dependency graph from id depth-first. It returns ok=false
// with one message per problem found: a cycle through the start task, or a
// dependency ID that does not resolve. Missing IDs are reported, never
// silently dropped.
func (g *Graph) Validate(id string) (bool, []string) {
	color := make(map[string]int)
	stack := []string{}
	var errs []string

	var visit func(cur string) bool
	visit = func(cur string) bool {
		color[cur] = colorGray
		stack = append(stack, cur)

		t, err := g.lookup(cur)
		if err != nil {
			errs = append(errs, fmt.Sprintf("dependency %s not found", cur))
			color[cur] = colorBlack
			stack = stack[:len(stack)-1]
			return false
		}
		for _, dep := range t.DependsOn {
			switch color[dep] {
			case colorWhite:
				if visit(dep) {
					return true
				}
			case colorGray:
				errs = append(errs, fmt.Sprintf("cycle: %s", cyclePath(stack, dep)))
				return true
			}
		}

		color[cur] = colorBlack
		stack = stack[:len(stack)-1]
		return false
	}

	visit(id)
	return len(errs) == 0, errs
}

// cyclePath renders the portion of the recursion stack from the revisited
// node onward, closing the loop for display.
func cyclePath(stack []string, start string) string {
	idx := 0
	for i, id := range stack {
		if id == start {
			idx = i
			break
		}
	}
	path := ""
	for _, id := range stack[idx:] {
		path += id + " -> "
	}
	return path + start
}

// CheckEdge reports whether adding "from depends on to" would close a cycle
// or reference a missing task. Nothing is persisted.
func (g *Graph) CheckEdge(from, to string) error {
	if from == to {
		return fmt.Errorf("%w: %s depends on itself", ErrCycle, from)
	}
	if _, err := g.lookup(to); err != nil {
		return fmt.Errorf("dependency %s: %w", to, ErrNotFound)
	}
	// A cycle exists iff "from" is reachable from "to" along existing edges.
	seen := map[string]bool{}
	var reach func(cur string) bool
	reach = func(cur string) bool {
		if cur == from {
			return true
		}
		if seen[cur] {
			return false
		}
		seen[cur] = true
		t, err := g.lookup(cur)
		if err != nil {
			return false
		}
		for _, dep := range t.DependsOn {
			if reach(dep) {
				return true
			}
		}
		return false
	}
	if reach(to) {
		return fmt.Errorf("%w: adding %s -> %s", ErrCycle, from, to)
	}
	return nil
}

// Ready reports whether every dependency of id is completed. When it is not
// ready, each unfinished dependency is listed as "Title (status)" for display.
func (g *Graph) Ready(id string) (bool, []string, error) {
	t, err := g.lookup(id)
	if err != nil {
		return false, nil, err
	}
	var blocking []string
	for _, dep := range t.DependsOn {
		d, err := g.lookup(dep)
		if err != nil {
			blocking = append(blocking, fmt.Sprintf("%s (missing)", dep))
			continue
		}
		if d.Status != StatusCompleted {
			blocking = append(blocking, fmt.Sprintf("%s (%s)", d.Title, d.Status))
		}
	}
	return len(blocking) == 0, blocking, nil
}

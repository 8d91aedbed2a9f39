package services

// visit states for the depth-first topological sort.
const (
	unvisited = iota
	onStack
	visited
)

// computeOrderLocked returns the memoized load order, computing it on first
// use. The order places every dependency strictly before its dependents and
// is deterministic for a fixed registration sequence: services are visited in
// registration order, dependencies in declaration order.
//
// Caller must hold c.mu.
func (c *Coordinator) computeOrderLocked() ([]string, error) {
	if c.order != nil {
		return c.order, nil
	}

	marks := make(map[string]int, len(c.descriptors))
	order := make([]string, 0, len(c.descriptors))
	var stack []string

	var visit func(name string) error
	visit = func(name string) error {
		switch marks[name] {
		case visited:
			return nil
		case onStack:
			// Revisiting a node still on the active recursion stack closes
			// a cycle; report it from its first occurrence.
			start := 0
			for i, s := range stack {
				if s == name {
					start = i
					break
				}
			}
			cycle := append(append([]string{}, stack[start:]...), name)
			return &CycleError{Path: cycle}
		}

		desc := c.descriptors[name]
		marks[name] = onStack
		stack = append(stack, name)

		for _, dep := range desc.dependencies {
			if _, ok := c.descriptors[dep]; !ok {
				return &UnknownDependencyError{Service: name, Dependency: dep}
			}
			if err := visit(dep); err != nil {
				return err
			}
		}

		stack = stack[:len(stack)-1]
		marks[name] = visited
		order = append(order, name)
		return nil
	}

	for _, name := range c.names {
		if err := visit(name); err != nil {
			return nil, err
		}
	}

	c.order = order
	return c.order, nil
}

// groupByTier buckets an already-computed order by priority tier, preserving
// the topological order within each bucket.
func (c *Coordinator) groupByTier(order []string) map[int][]string {
	grouped := make(map[int][]string)
	for _, name := range order {
		tier := int(c.descriptors[name].priority)
		grouped[tier] = append(grouped[tier], name)
	}
	return grouped
}

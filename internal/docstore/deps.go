package docstore

// findCycle reports a path from start back to start through graph, or nil.
// graph maps a node to the nodes it depends on.
func findCycle(graph map[string][]string, start string) []string {
	visited := make(map[string]bool)
	var path []string

	var visit func(node string) bool
	visit = func(node string) bool {
		path = append(path, node)
		for _, next := range graph[node] {
			if next == start {
				path = append(path, next)
				return true
			}
			if visited[next] {
				continue
			}
			visited[next] = true
			if visit(next) {
				return true
			}
		}
		path = path[:len(path)-1]
		return false
	}

	if visit(start) {
		return path
	}
	return nil
}

func taskGraph(tasks []Task) map[string][]string {
	g := make(map[string][]string, len(tasks))
	for _, t := range tasks {
		g[t.ID] = t.DependsOn
	}
	return g
}

// openDependencies returns the dependencies of the given tasks that are not
// done in spec's current state.
func openDependencies(spec *Specification, ids []string) []string {
	var open []string
	seen := make(map[string]bool)
	for _, id := range ids {
		t, ok := spec.Task(id)
		if !ok {
			continue
		}
		for _, dep := range t.DependsOn {
			d, ok := spec.Task(dep)
			if (!ok || !d.Done) && !seen[dep] {
				seen[dep] = true
				open = append(open, dep)
			}
		}
	}
	return open
}

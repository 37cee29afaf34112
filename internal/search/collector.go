package search

// PathCollector gathers the distinct document paths inside a scope. It is
// not safe for concurrent use.
type PathCollector struct {
	scope Scope
	paths map[string]struct{}
}

func NewPathCollector(scope Scope) *PathCollector {
	return &PathCollector{scope: scope, paths: make(map[string]struct{})}
}

// AcceptIndexMatch records path if the scope contains it.
func (c *PathCollector) AcceptIndexMatch(_, _ []byte, path string) {
	if !c.scope.Contains(path) {
		return
	}
	c.paths[path] = struct{}{}
}

// Paths returns the collected paths in no particular order.
func (c *PathCollector) Paths() []string {
	out := make([]string, 0, len(c.paths))
	for p := range c.paths {
		out = append(out, p)
	}
	return out
}

func (c *PathCollector) Len() int {
	return len(c.paths)
}

package guard

import (
	"fmt"
	"path"
	"sort"
	"strings"
)

// Route binds a path pattern to its Requirement. A pattern matches itself and
// everything below it on a segment boundary.
type Route struct {
	Pattern     string `yaml:"pattern" json:"pattern"`
	Requirement `yaml:",inline"`
}

// Table resolves paths to requirements by longest matching pattern.
type Table struct {
	routes []Route
}

// NewTable validates routes and returns a Table.
func NewTable(routes ...Route) (*Table, error) {
	seen := make(map[string]struct{}, len(routes))
	out := make([]Route, 0, len(routes))
	for _, r := range routes {
		p := normalize(r.Pattern)
		if !strings.HasPrefix(p, "/") {
			return nil, fmt.Errorf("guard: pattern %q must start with /", r.Pattern)
		}
		if _, dup := seen[p]; dup {
			return nil, fmt.Errorf("guard: duplicate pattern %q", r.Pattern)
		}
		if err := r.Requirement.Validate(); err != nil {
			return nil, fmt.Errorf("%w (pattern %q)", err, r.Pattern)
		}
		seen[p] = struct{}{}
		r.Pattern = p
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return len(out[i].Pattern) > len(out[j].Pattern)
	})
	return &Table{routes: out}, nil
}

// Lookup returns the requirement for target. Query and fragment are ignored
// and dot segments are resolved. Paths no pattern covers have no requirement.
func (t *Table) Lookup(target string) (Requirement, bool) {
	if t == nil {
		return Requirement{}, false
	}
	if i := strings.IndexAny(target, "?#"); i >= 0 {
		target = target[:i]
	}
	if target == "" {
		target = "/"
	}
	target = normalize(path.Clean(target))
	for _, r := range t.routes {
		if matches(r.Pattern, target) {
			return r.Requirement, true
		}
	}
	return Requirement{}, false
}

// Routes returns the table in match order.
func (t *Table) Routes() []Route {
	if t == nil {
		return nil
	}
	return append([]Route(nil), t.routes...)
}

func matches(pattern, path string) bool {
	if pattern == "/" {
		return true
	}
	if !strings.HasPrefix(path, pattern) {
		return false
	}
	return len(path) == len(pattern) || path[len(pattern)] == '/'
}

func normalize(p string) string {
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
		if p == "" {
			p = "/"
		}
	}
	return p
}

package driver

import (
	"fmt"
	"sort"

	"github.com/usedatabrew/klaviyo-source/internal/cerrors"
	"github.com/usedatabrew/klaviyo-source/internal/stream"
)

// resolve validates the requested stream names against the registry and
// returns them in dependency order (Kahn's algorithm), per §4.8 steps 1-2.
// A name the registry does not provide, or a dependency cycle, is fatal.
func (d *Driver) resolve(requested []string) ([]stream.Stream, error) {
	if len(requested) == 0 {
		requested = allNames(d.streams)
	}

	selected := make(map[string]stream.Stream, len(requested))
	for _, name := range requested {
		s, ok := d.streams[name]
		if !ok {
			return nil, &cerrors.FatalError{Err: fmt.Errorf("catalog references unknown stream %q", name)}
		}
		selected[name] = s
	}

	indegree := make(map[string]int, len(selected))
	dependents := make(map[string][]string, len(selected))
	for name, s := range selected {
		indegree[name] = 0
		for _, dep := range s.Dependencies() {
			if _, ok := selected[dep]; !ok {
				// A dependency outside the requested set is treated as
				// already satisfied: it has nothing to run here.
				continue
			}
			dependents[dep] = append(dependents[dep], name)
			indegree[name]++
		}
	}

	var ready []string
	for name, deg := range indegree {
		if deg == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	var ordered []stream.Stream
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		ordered = append(ordered, selected[name])

		var freed []string
		for _, dependent := range dependents[name] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				freed = append(freed, dependent)
			}
		}
		sort.Strings(freed)
		ready = append(ready, freed...)
	}

	if len(ordered) != len(selected) {
		return nil, &cerrors.FatalError{Err: fmt.Errorf("dependency cycle detected among requested streams")}
	}
	return ordered, nil
}

func allNames(streams map[string]stream.Stream) []string {
	out := make([]string, 0, len(streams))
	for name := range streams {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

package pipeline

import (
	"fmt"
	"sort"
	"strings"

	"loom/internal/model"
	"loom/internal/services"
)

// Levels partitions the requested models into dependency levels using Kahn's
// algorithm: each round removes every zero-indegree node, and one round is one
// level. Models within a level have no dependencies among themselves and may
// run concurrently; levels execute strictly in order.
//
// References to models outside the requested set are treated as already
// satisfied, since their latest persisted rows are readable as-is.
func Levels(defs []model.Definition) ([][]string, error) {
	inSet := make(map[string]model.Definition, len(defs))
	for _, def := range defs {
		inSet[def.Name] = def
	}

	indegree := make(map[string]int, len(defs))
	dependents := make(map[string][]string, len(defs))
	for _, def := range defs {
		indegree[def.Name] += 0
		for _, ref := range def.References {
			if _, ok := inSet[ref]; !ok {
				continue
			}
			indegree[def.Name]++
			dependents[ref] = append(dependents[ref], def.Name)
		}
	}

	var levels [][]string
	remaining := len(defs)
	for remaining > 0 {
		var level []string
		for name, deg := range indegree {
			if deg == 0 {
				level = append(level, name)
			}
		}
		if len(level) == 0 {
			stuck := make([]string, 0, len(indegree))
			for name := range indegree {
				stuck = append(stuck, name)
			}
			sort.Strings(stuck)
			return nil, services.Wrap(services.ErrConfiguration, "pipeline", "levels",
				fmt.Sprintf("dependency cycle among models: %s", strings.Join(stuck, ", ")), nil)
		}
		sort.Strings(level)
		for _, name := range level {
			delete(indegree, name)
			for _, dep := range dependents[name] {
				indegree[dep]--
			}
		}
		levels = append(levels, level)
		remaining -= len(level)
	}
	return levels, nil
}

// Dependencies returns the in-set upstream names per model, used by the
// scheduler to decide skip propagation when stop-on-error is off.
func Dependencies(defs []model.Definition) map[string][]string {
	inSet := make(map[string]struct{}, len(defs))
	for _, def := range defs {
		inSet[def.Name] = struct{}{}
	}
	deps := make(map[string][]string, len(defs))
	for _, def := range defs {
		for _, ref := range def.References {
			if _, ok := inSet[ref]; ok {
				deps[def.Name] = append(deps[def.Name], ref)
			}
		}
	}
	return deps
}

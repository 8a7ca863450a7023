package pipeline_test

import (
	"errors"
	"strings"
	"testing"

	"loom/internal/model"
	"loom/internal/pipeline"
	"loom/internal/services"
)

func def(name string, refs ...string) model.Definition {
	return model.Definition{
		Name:       name,
		PrimaryKey: []string{"entity_id"},
		References: refs,
	}
}

func TestLevelsSimpleChain(t *testing.T) {
	levels, err := pipeline.Levels([]model.Definition{
		def("p.c", "p.b"),
		def("p.b", "p.a"),
		def("p.a"),
	})
	if err != nil {
		t.Fatalf("Levels: %v", err)
	}
	want := [][]string{{"p.a"}, {"p.b"}, {"p.c"}}
	assertLevels(t, levels, want)
}

func TestLevelsDiamond(t *testing.T) {
	levels, err := pipeline.Levels([]model.Definition{
		def("p.a"),
		def("p.b", "p.a"),
		def("p.c", "p.a"),
		def("p.d", "p.b", "p.c"),
	})
	if err != nil {
		t.Fatalf("Levels: %v", err)
	}
	want := [][]string{{"p.a"}, {"p.b", "p.c"}, {"p.d"}}
	assertLevels(t, levels, want)
}

func TestLevelsPartitionProperty(t *testing.T) {
	defs := []model.Definition{
		def("p.a"),
		def("p.b", "p.a"),
		def("p.c", "p.a"),
		def("p.d", "p.b"),
		def("p.e"),
		def("p.f", "p.d", "p.e"),
	}
	levels, err := pipeline.Levels(defs)
	if err != nil {
		t.Fatalf("Levels: %v", err)
	}

	// Union of levels equals the input set, each model exactly once.
	seen := make(map[string]int)
	for _, level := range levels {
		for _, name := range level {
			seen[name] = seenLevel(levels, name)
		}
	}
	if len(seen) != len(defs) {
		t.Fatalf("levels cover %d models, want %d", len(seen), len(defs))
	}

	// Every in-set reference sits in a strictly earlier level.
	for _, d := range defs {
		for _, ref := range d.References {
			if seen[ref] >= seen[d.Name] {
				t.Fatalf("%s (level %d) must come after its reference %s (level %d)",
					d.Name, seen[d.Name], ref, seen[ref])
			}
		}
	}
}

func TestLevelsExternalReferenceIsSatisfied(t *testing.T) {
	// p.b references a model not in the requested set; it still levels
	// normally since external data is read as-is.
	levels, err := pipeline.Levels([]model.Definition{
		def("p.a"),
		def("p.b", "other.upstream"),
	})
	if err != nil {
		t.Fatalf("Levels: %v", err)
	}
	if len(levels) != 1 || len(levels[0]) != 2 {
		t.Fatalf("unexpected levels %v, want a single level of two", levels)
	}
}

func TestLevelsCycle(t *testing.T) {
	_, err := pipeline.Levels([]model.Definition{
		def("p.a", "p.c"),
		def("p.b", "p.a"),
		def("p.c", "p.b"),
	})
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	for _, name := range []string{"p.a", "p.b", "p.c"} {
		if !strings.Contains(err.Error(), name) {
			t.Fatalf("cycle error %q should name %s", err, name)
		}
	}
}

func TestLevelsPartialCycleNamesOnlyStuckNodes(t *testing.T) {
	_, err := pipeline.Levels([]model.Definition{
		def("p.root"),
		def("p.a", "p.root", "p.b"),
		def("p.b", "p.a"),
	})
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if strings.Contains(err.Error(), "p.root") {
		t.Fatalf("error %q should not name the resolvable root", err)
	}
}

func assertLevels(t *testing.T, got, want [][]string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("levels = %v, want %v", got, want)
	}
	for i := range want {
		if len(got[i]) != len(want[i]) {
			t.Fatalf("level %d = %v, want %v", i, got[i], want[i])
		}
		for j := range want[i] {
			if got[i][j] != want[i][j] {
				t.Fatalf("level %d = %v, want %v", i, got[i], want[i])
			}
		}
	}
}

func seenLevel(levels [][]string, name string) int {
	for i, level := range levels {
		for _, n := range level {
			if n == name {
				return i
			}
		}
	}
	return -1
}

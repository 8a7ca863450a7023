package model

import (
	"fmt"
	"regexp"
	"strings"
)

var namePattern = regexp.MustCompile(`^[a-z0-9_]+(\.[a-z0-9_]+)+$`)

// Definition is the static description of a processing unit.
type Definition struct {
	// Name is unique within a registry and uses a dotted namespace,
	// e.g. "indexing.sections".
	Name string
	// PrimaryKey is the ordered list of columns identifying an entity.
	PrimaryKey []string
	// Columns declares the writable column set. Writes carrying other keys
	// fail with a schema mismatch. Empty means unconstrained.
	Columns []string
	// References names the upstream models this model reads from.
	References []string
	// Config carries optional model-specific configuration passed verbatim
	// to the model function.
	Config map[string]any
}

// Validate checks structural invariants of a definition.
func (d Definition) Validate() error {
	if !namePattern.MatchString(d.Name) {
		return fmt.Errorf("model name %q must be a dotted lowercase namespace", d.Name)
	}
	if len(d.PrimaryKey) == 0 {
		return fmt.Errorf("model %s: primary key is required", d.Name)
	}
	seen := make(map[string]struct{}, len(d.References))
	for _, ref := range d.References {
		ref = strings.TrimSpace(ref)
		if ref == "" || ref == d.Name {
			return fmt.Errorf("model %s: invalid reference %q", d.Name, ref)
		}
		if _, dup := seen[ref]; dup {
			return fmt.Errorf("model %s: duplicate reference %q", d.Name, ref)
		}
		seen[ref] = struct{}{}
	}
	if len(d.Columns) > 0 {
		declared := make(map[string]struct{}, len(d.Columns))
		for _, col := range d.Columns {
			declared[col] = struct{}{}
		}
		for _, key := range d.PrimaryKey {
			if _, ok := declared[key]; !ok {
				return fmt.Errorf("model %s: primary key column %q not in declared columns", d.Name, key)
			}
		}
	}
	return nil
}

// TableName derives the versioned table name for this model.
func (d Definition) TableName() string {
	return "t_" + strings.ReplaceAll(d.Name, ".", "_")
}

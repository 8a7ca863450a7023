package tableio

import (
	"context"
	"fmt"
	"strings"

	"loom/internal/model"
	"loom/internal/services"
)

// reference is a lazy query handle over a model's latest view. Filter copies
// the handle, so a shared base reference is safe to narrow independently.
type reference struct {
	store      *Store
	def        model.Definition
	predicates []model.Predicate
	entityIDs  []string
}

// NewReference builds a reference over an upstream model, pre-scoped to the
// run's filters.
func (s *Store) NewReference(def model.Definition, filters model.Filters) model.Reference {
	ref := &reference{
		store:     s,
		def:       def,
		entityIDs: filters.EntityIDs,
	}
	ref.predicates = append(ref.predicates, filters.Where...)
	return ref
}

// BuildReferences resolves a model's declared references against the registry,
// scoped to the run's filters. Unknown reference names fail as configuration
// errors.
func (s *Store) BuildReferences(reg *model.Registry, def model.Definition, filters model.Filters) (map[string]model.Reference, error) {
	refs := make(map[string]model.Reference, len(def.References))
	for _, name := range def.References {
		upstream, ok := reg.Model(name)
		if !ok {
			return nil, services.Wrap(services.ErrConfiguration, "tableio", "build_references",
				fmt.Sprintf("model %s references unknown model %s", def.Name, name), nil)
		}
		refs[name] = s.NewReference(upstream.Definition, filters)
	}
	return refs, nil
}

func (r *reference) Model() string { return r.def.Name }

func (r *reference) Filter(p model.Predicate) model.Reference {
	clone := &reference{
		store:     r.store,
		def:       r.def,
		entityIDs: r.entityIDs,
	}
	clone.predicates = append(clone.predicates, r.predicates...)
	clone.predicates = append(clone.predicates, p)
	return clone
}

func (r *reference) Materialize(ctx context.Context) ([]model.StoredRow, error) {
	var (
		clauses []string
		args    []any
	)
	if scope, scopeArgs := entityScopeSQL(r.entityIDs); scope != "" {
		clauses = append(clauses, scope)
		args = append(args, scopeArgs...)
	}
	for _, p := range r.predicates {
		clause, arg, err := predicateSQL(p)
		if err != nil {
			return nil, services.Wrap(services.ErrValidation, "tableio", "materialize",
				fmt.Sprintf("reference to %s", r.def.Name), err)
		}
		clauses = append(clauses, clause)
		args = append(args, arg)
	}

	query := latestQuery(r.def.TableName())
	if len(clauses) > 0 {
		query = "SELECT * FROM (" + query + ") WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY entity_id"

	return r.store.queryLatest(ctx, r.def, query, args)
}

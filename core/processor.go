package core

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// AnonSuffix is appended to every column name the processor rewrote,
// including passthrough columns that carry registry metadata, so
// downstream consumers can tell governed columns from untouched ones.
const AnonSuffix = "_anon"

// Processor applies the resolved anonymization rule of every governed
// column across all rows of a table. It owns the output dataset it
// builds; the source dataset is never mutated.
type Processor struct {
	Registry *Registry

	// Salt for hash pseudonymization, supplied by an external secret
	// store. Never logged, never written into output.
	Salt string

	// Parallelism bounds the worker goroutines used for row
	// partitioning. Zero means one worker per CPU.
	Parallelism int
}

// NewProcessor creates a processor over a validated registry
func NewProcessor(registry *Registry, salt string) *Processor {
	return &Processor{
		Registry:    registry,
		Salt:        salt,
		Parallelism: runtime.NumCPU(),
	}
}

// columnPlan is one planned output column: a source column index (or
// none for generated columns), the resolved rule and the output name.
type columnPlan struct {
	srcIndex int // -1 when the column has no source (generated)
	name     string
	rule     Rule
}

// derivedPlan is one planned extraction column computed from the raw
// value of a source column before anonymization.
type derivedPlan struct {
	srcIndex  int
	pairIndex int // second source for geo buckets, -1 otherwise
	name      string
	kind      DeriveKind
	precision int
}

// Process anonymizes one table. All rules resolve before the first row
// is touched, so a fatal configuration error (notably an unsecured PII
// column) aborts the run with nothing published.
//
// Output column order is: untouched columns in original order, then
// anonymized columns, then derived extraction columns, then generated
// columns. The order carries no meaning but is stable so output
// comparison stays deterministic.
func (p *Processor) Process(ctx context.Context, ds *Dataset) (*Dataset, error) {
	if err := p.Registry.Validate(); err != nil {
		return nil, err
	}

	var untouched []int
	var anonPlans []columnPlan
	var derivedPlans []derivedPlan

	for i, col := range ds.Columns {
		meta, ok := p.Registry.Lookup(ds.Table, col.Name)
		if !ok {
			// No metadata means not PII: the column passes through
			// under its original name.
			untouched = append(untouched, i)
			continue
		}

		rule, err := Resolve(meta, p.Salt)
		if err != nil {
			return nil, err
		}

		anonPlans = append(anonPlans, columnPlan{
			srcIndex: i,
			name:     col.Name + AnonSuffix,
			rule:     rule,
		})

		plans, err := p.planDerived(ds, i, meta)
		if err != nil {
			return nil, err
		}
		derivedPlans = append(derivedPlans, plans...)
	}

	// Generated columns are declared in the registry without a source
	// column in the dataset.
	var generatedPlans []columnPlan
	for _, meta := range p.Registry.ColumnsFor(ds.Table) {
		if meta.Method != MethodGenerated {
			continue
		}
		if _, exists := ds.Column(meta.Column); exists {
			continue
		}
		rule, err := Resolve(meta, p.Salt)
		if err != nil {
			return nil, err
		}
		generatedPlans = append(generatedPlans, columnPlan{
			srcIndex: -1,
			name:     meta.Column,
			rule:     rule,
		})
	}

	out := NewDataset(ds.Table)
	rows := ds.Rows()

	for _, i := range untouched {
		values := make([]Value, rows)
		copy(values, ds.Columns[i].Values)
		out.Columns = append(out.Columns, Column{Name: ds.Columns[i].Name, Values: values})
	}

	for _, plan := range anonPlans {
		values, err := p.applyParallel(ctx, ds.Columns[plan.srcIndex].Values, plan.rule)
		if err != nil {
			return nil, err
		}
		out.Columns = append(out.Columns, Column{Name: plan.name, Values: values})
	}

	for _, plan := range derivedPlans {
		values := make([]Value, rows)
		for i := 0; i < rows; i++ {
			values[i] = applyDerived(ds, plan, i)
		}
		out.Columns = append(out.Columns, Column{Name: plan.name, Values: values})
	}

	for _, plan := range generatedPlans {
		// Evaluate the fixed expression once, materialize everywhere
		fixed := plan.rule.Apply(Null())
		values := make([]Value, rows)
		for i := range values {
			values[i] = fixed
		}
		out.Columns = append(out.Columns, Column{Name: plan.name, Values: values})
	}

	return out, nil
}

// planDerived expands the derive declarations of one column
func (p *Processor) planDerived(ds *Dataset, srcIndex int, meta ColumnMetadata) ([]derivedPlan, error) {
	var plans []derivedPlan
	for _, kind := range meta.Derive {
		switch kind {
		case DeriveEmailDomain:
			plans = append(plans, derivedPlan{
				srcIndex:  srcIndex,
				pairIndex: -1,
				name:      meta.Column + "_domain",
				kind:      kind,
			})

		case DerivePhoneCountryCode:
			plans = append(plans, derivedPlan{
				srcIndex:  srcIndex,
				pairIndex: -1,
				name:      meta.Column + "_country_code",
				kind:      kind,
			})

		case DeriveGeoBucket:
			pair, ok := stringParam(meta.Params, "pair_with")
			if !ok {
				return nil, &ConfigError{
					Table:  meta.Table,
					Column: meta.Column,
					Reason: "geo_bucket derivation needs a pair_with column",
				}
			}
			pairIndex := -1
			for i := range ds.Columns {
				if ds.Columns[i].Name == pair {
					pairIndex = i
					break
				}
			}
			if pairIndex == -1 {
				return nil, &ConfigError{
					Table:  meta.Table,
					Column: meta.Column,
					Reason: fmt.Sprintf("geo_bucket pair column %q is not in the dataset", pair),
				}
			}
			precision := DefaultPrecision
			if pr, ok := intParam(meta.Params, "precision"); ok && pr >= 0 {
				precision = pr
			}
			name := "location_grid"
			if n, ok := stringParam(meta.Params, "bucket_column"); ok && n != "" {
				name = n
			}
			plans = append(plans, derivedPlan{
				srcIndex:  srcIndex,
				pairIndex: pairIndex,
				name:      name,
				kind:      kind,
				precision: precision,
			})

		default:
			return nil, &ConfigError{
				Table:  meta.Table,
				Column: meta.Column,
				Reason: fmt.Sprintf("unknown derivation %q", kind),
			}
		}
	}
	return plans, nil
}

// applyDerived computes one derived cell from the raw source values
func applyDerived(ds *Dataset, plan derivedPlan, row int) Value {
	src := ds.Columns[plan.srcIndex].Values[row]
	switch plan.kind {
	case DeriveEmailDomain:
		return ExtractDomain(src)
	case DerivePhoneCountryCode:
		return ExtractCountryCode(src)
	case DeriveGeoBucket:
		return GeoBucket(src, ds.Columns[plan.pairIndex].Values[row], plan.precision)
	default:
		return Null()
	}
}

// applyParallel runs one rule over a column, partitioning rows across
// workers. Each worker writes a disjoint index range of the output
// slice, so no locking is needed and output content is independent of
// scheduling.
func (p *Processor) applyParallel(ctx context.Context, src []Value, rule Rule) ([]Value, error) {
	out := make([]Value, len(src))

	workers := p.Parallelism
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	chunk := (len(src) + workers - 1) / workers
	if chunk < 1 {
		chunk = 1
	}

	g, ctx := errgroup.WithContext(ctx)
	for start := 0; start < len(src); start += chunk {
		end := start + chunk
		if end > len(src) {
			end = len(src)
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			for i := start; i < end; i++ {
				out[i] = rule.Apply(src[i])
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

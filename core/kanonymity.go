package core

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"
)

// EquivalenceClass is a group of rows sharing identical values across
// the quasi-identifier columns. Only the shared values and the group
// size are exposed: member rows never leave the analyzer, so the
// analysis itself cannot become a re-identification vector.
type EquivalenceClass struct {
	Key  []string `json:"key"`
	Size int      `json:"size"`
}

// KAnonymityResult is the outcome of one analysis run. It is computed
// fresh from the dataset every time and never persisted as
// authoritative state.
type KAnonymityResult struct {
	K                int                `json:"k"`
	QuasiIdentifiers []string           `json:"quasi_identifiers"`
	TotalRows        int                `json:"total_rows"`
	TotalClasses     int                `json:"total_classes"`
	Classes          []EquivalenceClass `json:"classes"`
	Violations       []EquivalenceClass `json:"violations"`
	ComplianceRatio  float64            `json:"compliance_ratio"`
	Satisfied        bool               `json:"satisfied"`
}

// Analyzer measures re-identification risk on an anonymized dataset.
// It is domain-agnostic over which columns form the quasi-identifier
// key: when a dataset is too sparse for any k over location columns,
// the caller parameterizes with coarser organizational attributes
// instead — that choice lives in configuration, not here.
type Analyzer struct {
	QuasiIdentifiers []string
	K                int

	// Parallelism bounds the partial-aggregation workers. Zero means
	// one worker per CPU.
	Parallelism int
}

// NewAnalyzer creates an analyzer for a quasi-identifier set and
// threshold k
func NewAnalyzer(quasiIdentifiers []string, k int) *Analyzer {
	return &Analyzer{
		QuasiIdentifiers: quasiIdentifiers,
		K:                k,
		Parallelism:      runtime.NumCPU(),
	}
}

// partialCounts is one worker's group-count map plus the display form
// of each key seen
type partialCounts struct {
	counts map[string]int
	keys   map[string][]string
}

// Analyze groups rows by the tuple of quasi-identifier values (null is
// a distinct value, not a wildcard) and classifies each group against
// k. Grouping runs as parallel partial aggregation over row
// partitions; the per-partition maps are merged once all rows have
// been seen.
func (a *Analyzer) Analyze(ctx context.Context, ds *Dataset) (*KAnonymityResult, error) {
	if a.K < 1 {
		return nil, fmt.Errorf("k must be at least 1, got %d", a.K)
	}
	if len(a.QuasiIdentifiers) == 0 {
		return nil, fmt.Errorf("no quasi-identifier columns configured")
	}

	cols := make([]*Column, len(a.QuasiIdentifiers))
	for i, name := range a.QuasiIdentifiers {
		col, ok := ds.Column(name)
		if !ok {
			return nil, fmt.Errorf("quasi-identifier column %q not in dataset %q", name, ds.Table)
		}
		cols[i] = col
	}

	rows := ds.Rows()
	workers := a.Parallelism
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	chunk := (rows + workers - 1) / workers
	if chunk < 1 {
		chunk = 1
	}

	partials := make([]partialCounts, 0, workers)
	for start := 0; start < rows; start += chunk {
		partials = append(partials, partialCounts{
			counts: make(map[string]int),
			keys:   make(map[string][]string),
		})
	}

	g, ctx := errgroup.WithContext(ctx)
	for p, start := 0, 0; start < rows; p, start = p+1, start+chunk {
		end := start + chunk
		if end > rows {
			end = rows
		}
		partial := &partials[p]
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			for i := start; i < end; i++ {
				key, display := groupKey(cols, i)
				partial.counts[key]++
				if _, seen := partial.keys[key]; !seen {
					partial.keys[key] = display
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Merge of per-partition maps: addition commutes, so partition
	// boundaries and scheduling cannot change the result.
	counts := make(map[string]int)
	displays := make(map[string][]string)
	for _, partial := range partials {
		for key, n := range partial.counts {
			counts[key] += n
			if _, seen := displays[key]; !seen {
				displays[key] = partial.keys[key]
			}
		}
	}

	result := &KAnonymityResult{
		K:                a.K,
		QuasiIdentifiers: a.QuasiIdentifiers,
		TotalRows:        rows,
		TotalClasses:     len(counts),
	}

	compliantRows := 0
	for key, size := range counts {
		class := EquivalenceClass{Key: displays[key], Size: size}
		result.Classes = append(result.Classes, class)
		if size >= a.K {
			compliantRows += size
		} else {
			result.Violations = append(result.Violations, class)
		}
	}

	sortClasses(result.Classes, false)
	sortClasses(result.Violations, true)

	if rows > 0 {
		result.ComplianceRatio = float64(compliantRows) / float64(rows)
	}
	result.Satisfied = len(result.Violations) == 0

	return result, nil
}

// groupKey builds the internal grouping key and the display form of
// one row's quasi-identifier tuple. The internal key tags each cell
// with its kind so the text "3" and the number 3 group separately and
// null stays distinct from the empty string.
func groupKey(cols []*Column, row int) (string, []string) {
	var b strings.Builder
	display := make([]string, len(cols))
	for i, col := range cols {
		v := col.Values[row]
		switch {
		case v.IsNull():
			b.WriteString("\x00")
			display[i] = ""
		case v.Kind == KindNumber:
			b.WriteString("n\x1f")
			b.WriteString(v.String())
			display[i] = v.String()
		default:
			b.WriteString("t\x1f")
			b.WriteString(v.Text)
			display[i] = v.Text
		}
		b.WriteString("\x1e")
	}
	return b.String(), display
}

// sortClasses orders classes deterministically: smallest first for
// violation lists (worst offenders on top), largest first otherwise,
// with the key as tiebreaker.
func sortClasses(classes []EquivalenceClass, ascending bool) {
	sort.Slice(classes, func(i, j int) bool {
		if classes[i].Size != classes[j].Size {
			if ascending {
				return classes[i].Size < classes[j].Size
			}
			return classes[i].Size > classes[j].Size
		}
		return strings.Join(classes[i].Key, "\x1e") < strings.Join(classes[j].Key, "\x1e")
	})
}

// WriteJSON serializes the result as an indented JSON document
func (r *KAnonymityResult) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("failed to encode k-anonymity result: %w", err)
	}
	return nil
}

// WriteCSV serializes the per-class breakdown as a flat delimited
// document: one row per equivalence class, one column per
// quasi-identifier, plus group size and compliance.
func (r *KAnonymityResult) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)

	header := append(append([]string{}, r.QuasiIdentifiers...), "group_size", "compliant")
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write k-anonymity CSV header: %w", err)
	}

	for _, class := range r.Classes {
		record := append(append([]string{}, class.Key...),
			strconv.Itoa(class.Size),
			strconv.FormatBool(class.Size >= r.K))
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write k-anonymity CSV record: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

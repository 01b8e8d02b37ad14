// Package anonymize turns a table with personal data into one that is
// safe to publish, driven entirely by a declarative metadata registry:
// per-column anonymization rules, post-transform quality gates, a
// raw-PII leak sweep and a k-anonymity measurement on the result.
package anonymize

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/datagouv-tools/anonymize-go/core"
)

// DefaultK is the re-identification threshold used when the caller
// does not configure one
const DefaultK = 5

// Options configures one anonymization run
type Options struct {
	// Salt for hash pseudonymization, from the external secret store.
	// It is never stored or logged by the pipeline.
	Salt string

	// QuasiIdentifiers are the columns of the anonymized output to
	// group by for the k-anonymity measurement. Empty skips the
	// measurement.
	QuasiIdentifiers []string

	// K is the minimum acceptable equivalence class size. Zero means
	// DefaultK.
	K int
}

// Result is everything one run produced: the publishable dataset, the
// audit trail of what was excluded and why, and the compliance
// measurements.
type Result struct {
	RunID string

	// Data is the filtered, anonymized dataset: rows that failed a
	// quality gate are already excluded (fail-closed).
	Data *core.Dataset

	// Findings explains every excluded row and every detected leak
	Findings []core.Finding

	// Metrics aggregates quality outcomes per data type
	Metrics core.QualityMetrics

	// KAnonymity is nil when no quasi-identifiers were configured
	KAnonymity *core.KAnonymityResult

	// Report is the PII inventory of the registry
	Report *core.Report

	// Passed is the publication verdict: no raw-PII leaks and, when
	// measured, k-anonymity satisfied. Quality exclusions alone do not
	// fail a run; they shrink it.
	Passed bool
}

// Run loads a metadata registry from a YAML file and anonymizes the
// dataset with it. A registry that leaves a PII column unsecured fails
// here, before any row is touched.
func Run(ctx context.Context, ds *core.Dataset, registryPath string, opts Options) (*Result, error) {
	registry, err := core.LoadRegistry(registryPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load registry: %w", err)
	}

	return RunWithRegistry(ctx, ds, registry, opts)
}

// RunWithRegistry runs the full pipeline over an already-loaded
// registry: resolve rules, transform, quality-gate, sweep for leaks,
// measure k-anonymity, build the PII inventory.
func RunWithRegistry(ctx context.Context, ds *core.Dataset, registry *core.Registry, opts Options) (*Result, error) {
	runID := uuid.NewString()

	// Fatal configuration errors must surface before row processing
	if err := registry.Validate(); err != nil {
		core.LogRunEvent(runID, "run_aborted", core.SeverityError, ds.Table, map[string]string{
			"error": err.Error(),
		})
		return nil, core.NewRunError(core.ErrorCategoryConfig, runID, err)
	}

	core.LogRunEvent(runID, "run_started", core.SeverityInfo, ds.Table, map[string]string{
		"rows":             strconv.Itoa(ds.Rows()),
		"columns":          strconv.Itoa(len(ds.Columns)),
		"registry_version": registry.Metadata.Version,
	})

	processor := core.NewProcessor(registry, opts.Salt)
	anonymized, err := processor.Process(ctx, ds)
	if err != nil {
		core.LogRunEvent(runID, "run_aborted", core.SeverityError, ds.Table, map[string]string{
			"error": err.Error(),
		})
		return nil, core.NewRunError(core.ErrorCategoryConfig, runID, err)
	}

	validator := core.NewValidator(registry)
	filtered, findings, metrics, err := validator.Validate(ds, anonymized)
	if err != nil {
		return nil, core.NewRunError(core.ErrorCategoryValidation, runID, err)
	}
	if len(findings) > 0 {
		core.LogRunEvent(runID, "rows_excluded", core.SeverityWarning, ds.Table, map[string]string{
			"findings": strconv.Itoa(len(findings)),
			"rows_out": strconv.Itoa(filtered.Rows()),
		})
	}

	// Sweep what would actually be published, not the unfiltered output
	leaks := core.ScanForLeaks(filtered)
	if len(leaks) > 0 {
		core.LogRunEvent(runID, "raw_pii_detected", core.SeverityCritical, ds.Table, map[string]string{
			"matches": strconv.Itoa(len(leaks)),
		})
	}
	findings = append(findings, core.LeakFindings(ds.Table, leaks)...)

	result := &Result{
		RunID:    runID,
		Data:     filtered,
		Findings: findings,
		Metrics:  metrics,
		Report:   core.BuildReport(registry),
	}

	if len(opts.QuasiIdentifiers) > 0 {
		k := opts.K
		if k == 0 {
			k = DefaultK
		}
		analyzer := core.NewAnalyzer(opts.QuasiIdentifiers, k)
		result.KAnonymity, err = analyzer.Analyze(ctx, filtered)
		if err != nil {
			return nil, core.NewRunError(core.ErrorCategoryAnalysis, runID, err)
		}
		if !result.KAnonymity.Satisfied {
			core.LogRunEvent(runID, "k_anonymity_violated", core.SeverityWarning, ds.Table, map[string]string{
				"k":          strconv.Itoa(k),
				"violations": strconv.Itoa(len(result.KAnonymity.Violations)),
			})
		}
	}

	result.Passed = len(leaks) == 0 &&
		(result.KAnonymity == nil || result.KAnonymity.Satisfied)

	core.LogRunEvent(runID, "run_completed", core.SeverityInfo, ds.Table, map[string]string{
		"rows_published": strconv.Itoa(filtered.Rows()),
		"passed":         strconv.FormatBool(result.Passed),
	})

	return result, nil
}

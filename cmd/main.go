package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	anonymize "github.com/datagouv-tools/anonymize-go"
	"github.com/datagouv-tools/anonymize-go/core"
)

// saltEnvVar names the environment variable the external secret store
// injects the hashing salt through
const saltEnvVar = "ANONYMIZER_SALT"

func main() {
	var (
		registryPath = flag.String("metadata", "config/service_metadata.yaml", "path to the metadata registry YAML")
		inputPath    = flag.String("input", "", "path to the input CSV table")
		table        = flag.String("table", "services", "table name the metadata is registered under")
		outputDir    = flag.String("output", "reports", "directory for report exports")
		quasiIDs     = flag.String("qi", "", "comma-separated quasi-identifier columns for k-anonymity")
		k            = flag.Int("k", anonymize.DefaultK, "k-anonymity threshold")
		auditPath    = flag.String("audit", "anonymizer_audit.log", "path to the audit trail")
	)
	flag.Parse()

	if *inputPath == "" {
		fmt.Fprintln(os.Stderr, "Usage: anonymize -input table.csv [-metadata registry.yaml] [-qi col1,col2] [-k 5]")
		os.Exit(2)
	}

	if err := core.ConfigureLogger(*auditPath, core.AuditLogLevelStandard, false); err != nil {
		fmt.Fprintf(os.Stderr, "Error configuring audit log: %v\n", err)
		os.Exit(1)
	}

	ds, err := readCSVDataset(*inputPath, *table)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading input: %v\n", err)
		os.Exit(1)
	}

	opts := anonymize.Options{
		Salt: os.Getenv(saltEnvVar),
		K:    *k,
	}
	if *quasiIDs != "" {
		opts.QuasiIdentifiers = strings.Split(*quasiIDs, ",")
	}

	result, err := anonymize.Run(context.Background(), ds, *registryPath, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error running anonymization: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Run %s: %d rows in, %d rows published\n", result.RunID, ds.Rows(), result.Data.Rows())

	if len(result.Findings) > 0 {
		fmt.Println("\nFindings:")
		for _, f := range result.Findings {
			fmt.Printf(" - %s.%s row %d: %s\n", f.Table, f.Column, f.Row, f.Issue)
		}
	}

	fmt.Println("\nQuality metrics:")
	for label, entry := range result.Metrics {
		fmt.Printf(" - %-12s total=%d ok=%d rate=%.1f%%\n", label, entry.Total, entry.Passed, entry.SuccessRate)
	}

	if result.KAnonymity != nil {
		fmt.Printf("\nK-anonymity (k=%d over %s): ", result.KAnonymity.K, strings.Join(result.KAnonymity.QuasiIdentifiers, ", "))
		if result.KAnonymity.Satisfied {
			fmt.Println("satisfied")
		} else {
			fmt.Printf("NOT satisfied, %d violating groups\n", len(result.KAnonymity.Violations))
		}
	}

	if err := exportReports(result, *outputDir); err != nil {
		fmt.Fprintf(os.Stderr, "Error exporting reports: %v\n", err)
		os.Exit(1)
	}
	if err := writeCSVDataset(result.Data, filepath.Join(*outputDir, *table+"_anonymized.csv")); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing anonymized table: %v\n", err)
		os.Exit(1)
	}

	if !result.Passed {
		fmt.Println("\nValidation FAILED - output is not publishable")
		os.Exit(1)
	}
	fmt.Println("\nValidation PASSED")
}

// exportReports writes the PII inventory and the k-anonymity breakdown
// in both structured and delimited form
func exportReports(result *anonymize.Result, dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}

	writers := []struct {
		name  string
		write func(f *os.File) error
	}{
		{"pii_report.json", func(f *os.File) error { return result.Report.WriteJSON(f) }},
		{"pii_report.csv", func(f *os.File) error { return result.Report.WriteCSV(f) }},
	}
	if result.KAnonymity != nil {
		writers = append(writers,
			struct {
				name  string
				write func(f *os.File) error
			}{"k_anonymity.json", func(f *os.File) error { return result.KAnonymity.WriteJSON(f) }},
			struct {
				name  string
				write func(f *os.File) error
			}{"k_anonymity.csv", func(f *os.File) error { return result.KAnonymity.WriteCSV(f) }},
		)
	}

	for _, w := range writers {
		f, err := os.Create(filepath.Join(dir, w.name))
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", w.name, err)
		}
		if err := w.write(f); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
	}

	return nil
}

// readCSVDataset loads a CSV file into a dataset. A column whose
// non-empty cells all parse as numbers is loaded as numeric, which is
// what coordinate generalization needs.
func readCSVDataset(path, table string) (*core.Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if len(records) < 1 {
		return nil, fmt.Errorf("%s has no header row", path)
	}

	header := records[0]
	rows := records[1:]

	ds := core.NewDataset(table)
	for col, name := range header {
		numeric := true
		for _, row := range rows {
			cell := strings.TrimSpace(row[col])
			if cell == "" {
				continue
			}
			if _, err := strconv.ParseFloat(cell, 64); err != nil {
				numeric = false
				break
			}
		}

		values := make([]core.Value, len(rows))
		for i, row := range rows {
			cell := strings.TrimSpace(row[col])
			switch {
			case cell == "":
				values[i] = core.Null()
			case numeric:
				f, _ := strconv.ParseFloat(cell, 64)
				values[i] = core.Number(f)
			default:
				values[i] = core.Text(row[col])
			}
		}
		if err := ds.AddColumn(name, values); err != nil {
			return nil, err
		}
	}

	return ds, nil
}

// writeCSVDataset writes the published dataset as CSV
func writeCSVDataset(ds *core.Dataset, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(ds.ColumnNames()); err != nil {
		return err
	}
	for i := 0; i < ds.Rows(); i++ {
		record := make([]string, len(ds.Columns))
		for c, col := range ds.Columns {
			record[c] = col.Values[i].String()
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

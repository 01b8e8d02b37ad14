package core

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// ReportEntry describes one PII column for the audit trail: what kind
// of data it is, how it is protected, and who answers for it.
type ReportEntry struct {
	Table            string  `json:"table"`
	Column           string  `json:"column"`
	Description      string  `json:"description,omitempty"`
	PIIType          PIIType `json:"pii_type"`
	Method           Method  `json:"anonymization_method"`
	DataOwner        string  `json:"data_owner"`
	LegalBasis       string  `json:"legal_basis"`
	RetentionDays    int     `json:"retention_days"`
	KAnonymityTarget *int    `json:"k_anonymity_target"`
}

// ReportSummary aggregates the inventory for a quick compliance read
type ReportSummary struct {
	TotalTables int            `json:"total_tables"`
	ByPIIType   map[string]int `json:"pii_by_type"`
	ByMethod    map[string]int `json:"pii_by_anonymization_method"`
	Tables      []string       `json:"tables_list"`
}

// Report is the full PII inventory, generated on demand by walking the
// metadata registry. It never touches row data.
type Report struct {
	ID              string        `json:"report_id"`
	GeneratedAt     time.Time     `json:"report_date"`
	RegistryVersion string        `json:"registry_version"`
	TotalPIIColumns int           `json:"total_pii_columns"`
	Entries         []ReportEntry `json:"pii_columns"`
	Summary         ReportSummary `json:"summary"`
}

// csvHeader is the flat serialization field set. JSON and CSV exports
// carry exactly these fields in exactly this order.
var csvHeader = []string{
	"table", "column", "description", "pii_type", "anonymization_method",
	"data_owner", "legal_basis", "retention_days", "k_anonymity_target",
}

// BuildReport walks the registry and emits one entry per PII column.
// When nothing is registered as PII it emits a single informational
// placeholder instead of an empty report, so downstream consumers can
// keep their at-least-one-row assumption.
func BuildReport(registry *Registry) *Report {
	report := &Report{
		ID:              uuid.NewString(),
		GeneratedAt:     time.Now(),
		RegistryVersion: registry.Metadata.Version,
		Summary: ReportSummary{
			ByPIIType: map[string]int{},
			ByMethod:  map[string]int{},
		},
	}

	tables := map[string]bool{}
	for _, meta := range registry.PIIColumns() {
		report.Entries = append(report.Entries, ReportEntry{
			Table:            meta.Table,
			Column:           meta.Column,
			Description:      meta.Description,
			PIIType:          meta.PIIType,
			Method:           meta.Method,
			DataOwner:        meta.DataOwner,
			LegalBasis:       meta.LegalBasis,
			RetentionDays:    meta.RetentionDays,
			KAnonymityTarget: meta.KAnonymityTarget,
		})
		tables[meta.Table] = true
		report.Summary.ByPIIType[string(meta.PIIType)]++
		report.Summary.ByMethod[string(meta.Method)]++
	}

	report.TotalPIIColumns = len(report.Entries)

	if len(report.Entries) == 0 {
		report.Entries = append(report.Entries, ReportEntry{
			Table:       "-",
			Column:      "-",
			Description: "no PII columns registered",
			PIIType:     PIITypeOther,
			Method:      MethodPassthrough,
		})
	}

	for table := range tables {
		report.Summary.Tables = append(report.Summary.Tables, table)
	}
	sort.Strings(report.Summary.Tables)
	report.Summary.TotalTables = len(report.Summary.Tables)

	return report
}

// WriteJSON serializes the full report, summary included
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("failed to encode PII report: %w", err)
	}
	return nil
}

// WriteCSV serializes the entries as a flat delimited document with
// the same field set and ordering as the JSON entries
func (r *Report) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("failed to write PII report header: %w", err)
	}

	for _, e := range r.Entries {
		target := ""
		if e.KAnonymityTarget != nil {
			target = strconv.Itoa(*e.KAnonymityTarget)
		}
		record := []string{
			e.Table, e.Column, e.Description, string(e.PIIType), string(e.Method),
			e.DataOwner, e.LegalBasis, strconv.Itoa(e.RetentionDays), target,
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write PII report record: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

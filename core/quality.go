package core

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/datagouv-tools/anonymize-go/utils"
)

// IssueType classifies why an anonymized value failed its
// post-condition or why a published value looks like raw PII
type IssueType string

const (
	// IssueUnmaskedEmail: a hashed email column still carries a value
	// outside the synthetic output domain
	IssueUnmaskedEmail IssueType = "unmasked_email"

	// IssueUnmaskedPhone: a partially-masked phone is missing the mask
	// token
	IssueUnmaskedPhone IssueType = "unmasked_phone"

	// IssueOutOfRange: a generalized coordinate left the valid
	// latitude/longitude range
	IssueOutOfRange IssueType = "coordinate_out_of_range"

	// IssueExcessPrecision: a generalized number kept more decimal
	// digits than its declared precision
	IssueExcessPrecision IssueType = "excess_precision"

	// IssueNotSuppressed: a suppressed column still carries a value
	IssueNotSuppressed IssueType = "not_suppressed"

	// Raw-PII leaks detected by the pattern sweep of published output
	IssueRawEmail   IssueType = "raw_email_detected"
	IssueRawPhone   IssueType = "raw_phone_detected"
	IssueRawAddress IssueType = "raw_address_detected"
)

// Finding records one failed post-condition. Findings are returned as
// data, never thrown: the caller decides whether a find-rate is
// acceptable for publication. They carry no copy of the raw value.
type Finding struct {
	Table  string    `json:"table"`
	Column string    `json:"column"`
	Row    int       `json:"row"`
	Issue  IssueType `json:"issue_type"`
}

// MetricEntry aggregates the outcome of one data-type check
type MetricEntry struct {
	Total       int     `json:"total"`
	Passed      int     `json:"properly_anonymized"`
	Failed      int     `json:"improperly_anonymized"`
	SuccessRate float64 `json:"success_rate"`
}

// QualityMetrics maps a data-type label ("emails", "phones",
// "coordinates") to its aggregate outcome
type QualityMetrics map[string]MetricEntry

// Validator checks that anonymization actually took effect, column by
// column, and excludes any row it cannot vouch for (fail-closed).
type Validator struct {
	Registry *Registry
}

// NewValidator creates a validator over a validated registry
func NewValidator(registry *Registry) *Validator {
	return &Validator{Registry: registry}
}

// Validate evaluates every anonymized column of anon against the
// expected shape its method promises, using raw to know which inputs
// were populated: a null input legitimately anonymizes to null and is
// never flagged.
//
// A row with any failing predicate on any populated PII column is
// excluded from the returned filtered dataset. Findings and per-type
// metrics are returned alongside so the exclusion is auditable.
func (v *Validator) Validate(raw, anon *Dataset) (*Dataset, []Finding, QualityMetrics, error) {
	if raw.Rows() != anon.Rows() {
		return nil, nil, nil, fmt.Errorf("row count mismatch: raw %d, anonymized %d", raw.Rows(), anon.Rows())
	}

	metrics := QualityMetrics{}
	var findings []Finding
	excluded := make(map[int]bool)

	for _, meta := range v.Registry.ColumnsFor(anon.Table) {
		if !meta.IsPII {
			continue
		}

		rawCol, ok := raw.Column(meta.Column)
		if !ok {
			continue
		}
		anonCol, ok := anon.Column(meta.Column + AnonSuffix)
		if !ok {
			return nil, nil, nil, fmt.Errorf("anonymized column %q missing from output", meta.Column+AnonSuffix)
		}

		label, predicate := shapePredicate(meta)
		if predicate == nil {
			continue
		}

		entry := metrics[label]
		for i := range anonCol.Values {
			if rawCol.Values[i].IsNull() {
				continue
			}
			entry.Total++
			if issue, ok := predicate(rawCol.Values[i], anonCol.Values[i]); !ok {
				entry.Failed++
				excluded[i] = true
				findings = append(findings, Finding{
					Table:  anon.Table,
					Column: anonCol.Name,
					Row:    i,
					Issue:  issue,
				})
			} else {
				entry.Passed++
			}
		}
		if entry.Total > 0 {
			entry.SuccessRate = float64(entry.Passed) / float64(entry.Total) * 100
		}
		metrics[label] = entry
	}

	var keep []int
	for i := 0; i < anon.Rows(); i++ {
		if !excluded[i] {
			keep = append(keep, i)
		}
	}

	// Findings are collected per column; re-sort by row so the report
	// reads in record order regardless of evaluation order.
	sort.Slice(findings, func(i, j int) bool {
		if findings[i].Row != findings[j].Row {
			return findings[i].Row < findings[j].Row
		}
		return findings[i].Column < findings[j].Column
	})

	return anon.SelectRows(keep), findings, metrics, nil
}

// shapePredicate returns the metric label and the expected-shape check
// for one PII column, keyed by the method that produced it. The
// predicate reports the issue to raise when the shape is wrong.
func shapePredicate(meta ColumnMetadata) (string, func(raw, anon Value) (IssueType, bool)) {
	switch meta.Method {
	case MethodHashSHA256:
		domain := DefaultOutputDomain
		if d, ok := stringParam(meta.Params, "output_domain"); ok && d != "" {
			domain = d
		}
		return "emails", func(raw, anon Value) (IssueType, bool) {
			s := anon.String()
			if !strings.HasSuffix(s, "@"+domain) {
				return IssueUnmaskedEmail, false
			}
			// The pseudonym must not simply echo the input
			if strings.EqualFold(strings.TrimSpace(s), strings.TrimSpace(raw.String())) {
				return IssueUnmaskedEmail, false
			}
			return "", true
		}

	case MethodMaskPartial:
		return "phones", func(_, anon Value) (IssueType, bool) {
			if !strings.Contains(anon.String(), MaskToken) {
				return IssueUnmaskedPhone, false
			}
			return "", true
		}

	case MethodRoundNDecimals:
		precision := DefaultPrecision
		if p, ok := intParam(meta.Params, "precision"); ok && p >= 0 {
			precision = p
		}
		lo, hi, ranged := coordinateRange(meta)
		return "coordinates", func(_, anon Value) (IssueType, bool) {
			f, ok := anon.Float()
			if !ok {
				return IssueExcessPrecision, false
			}
			if ranged && (f < lo || f > hi) {
				return IssueOutOfRange, false
			}
			shifted := f * math.Pow(10, float64(precision))
			if math.Abs(shifted-math.Round(shifted)) > 1e-9 {
				return IssueExcessPrecision, false
			}
			return "", true
		}

	case MethodSuppress:
		return "suppressed", func(_, anon Value) (IssueType, bool) {
			if !anon.IsNull() {
				return IssueNotSuppressed, false
			}
			return "", true
		}

	default:
		return "", nil
	}
}

// coordinateRange derives the valid range for a generalized coordinate
// column from its name, the way the source data labels them
func coordinateRange(meta ColumnMetadata) (float64, float64, bool) {
	if meta.PIIType != PIITypeCoordinates {
		return 0, 0, false
	}
	name := strings.ToLower(meta.Column)
	switch {
	case strings.Contains(name, "lat"):
		return -90, 90, true
	case strings.Contains(name, "lon"), strings.Contains(name, "lng"):
		return -180, 180, true
	default:
		return 0, 0, false
	}
}

// PatternInfo stores metadata about a leak-detection pattern
type PatternInfo struct {
	Regex       *regexp.Regexp
	Issue       IssueType
	RiskLevel   int
	Description string

	// Exclude drops matches that are legitimate anonymized forms
	Exclude func(match string) bool
}

// leakPatterns are the raw-PII shapes swept for in published output.
// RE2 has no lookahead, so the anonymized forms the source patterns
// excluded inline are filtered by the Exclude hooks instead.
var leakPatterns = map[string]PatternInfo{
	"raw_email": {
		Regex:       regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`),
		Issue:       IssueRawEmail,
		RiskLevel:   3,
		Description: "Non-anonymized email address",
		Exclude: func(match string) bool {
			return strings.HasSuffix(strings.ToLower(match), "@"+DefaultOutputDomain)
		},
	},
	"raw_phone": {
		Regex:       regexp.MustCompile(`\+33\s*[1-9](?:\s*\d{2}){4}`),
		Issue:       IssueRawPhone,
		RiskLevel:   3,
		Description: "Unmasked French phone number",
	},
	"street_address": {
		Regex:       regexp.MustCompile(`(?i)\d+\s+(?:rue|avenue|boulevard|place|impasse)\s+\S+`),
		Issue:       IssueRawAddress,
		RiskLevel:   2,
		Description: "Precise street address",
	},
}

// ScanForLeaks sweeps every text cell of a published dataset for raw
// PII shapes. A clean anonymization pipeline returns nothing here; any
// match means a column escaped governance and the publication gate
// must stay closed.
func ScanForLeaks(ds *Dataset) []utils.MatchResult {
	var results []utils.MatchResult

	for _, col := range ds.Columns {
		for row, v := range col.Values {
			if v.Kind != KindText || v.IsNull() {
				continue
			}
			for name, info := range leakPatterns {
				match := info.Regex.FindString(v.Text)
				if match == "" {
					continue
				}
				if info.Exclude != nil && info.Exclude(match) {
					continue
				}
				results = append(results, utils.MatchResult{
					Column:      col.Name,
					Row:         row,
					Pattern:     name,
					RiskLevel:   info.RiskLevel,
					Description: info.Description,
				})
			}
		}
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Row != results[j].Row {
			return results[i].Row < results[j].Row
		}
		if results[i].Column != results[j].Column {
			return results[i].Column < results[j].Column
		}
		return results[i].Pattern < results[j].Pattern
	})

	return results
}

// LeakFindings converts scan matches into findings for a table
func LeakFindings(table string, matches []utils.MatchResult) []Finding {
	findings := make([]Finding, 0, len(matches))
	for _, m := range matches {
		info, ok := leakPatterns[m.Pattern]
		if !ok {
			continue
		}
		findings = append(findings, Finding{
			Table:  table,
			Column: m.Column,
			Row:    m.Row,
			Issue:  info.Issue,
		})
	}
	return findings
}

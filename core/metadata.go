package core

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Method identifies the anonymization method attached to a column
type Method string

const (
	// MethodHashSHA256 pseudonymizes a value with a salted digest
	MethodHashSHA256 Method = "hash_sha256"

	// MethodMaskPartial keeps a fixed prefix and masks the rest
	MethodMaskPartial Method = "mask_partial"

	// MethodRoundNDecimals generalizes a numeric value to n decimals
	MethodRoundNDecimals Method = "round_n_decimals"

	// MethodSuppress replaces the value with null unconditionally
	MethodSuppress Method = "suppress"

	// MethodPassthrough keeps the value unchanged
	MethodPassthrough Method = "passthrough"

	// MethodGenerated materializes a fixed expression instead of
	// transforming a source value
	MethodGenerated Method = "generated"
)

// PIIType classifies what kind of personal data a column holds
type PIIType string

const (
	PIITypeEmail       PIIType = "email"
	PIITypePhone       PIIType = "phone"
	PIITypeCoordinates PIIType = "coordinates"
	PIITypeAddress     PIIType = "address"
	PIITypeName        PIIType = "name"
	PIITypeOther       PIIType = "other"
)

// DeriveKind names a derived extraction column computed from the raw
// (pre-anonymization) value of a PII column
type DeriveKind string

const (
	// DeriveEmailDomain extracts the domain part of an email address
	DeriveEmailDomain DeriveKind = "email_domain"

	// DerivePhoneCountryCode extracts the leading +NN country prefix
	DerivePhoneCountryCode DeriveKind = "phone_country_code"

	// DeriveGeoBucket joins two generalized coordinates into a
	// composite spatial bucket key
	DeriveGeoBucket DeriveKind = "geo_bucket"
)

// ColumnMetadata describes one column of one table: whether it is PII,
// how it must be anonymized, and the GDPR accountability fields that
// feed the PII inventory report.
type ColumnMetadata struct {
	// Table and column this metadata describes
	Table  string `yaml:"table"`
	Column string `yaml:"column"`

	// Description of the column for the inventory report
	Description string `yaml:"description,omitempty"`

	// Whether the column holds personal data
	IsPII bool `yaml:"is_pii"`

	// Category of personal data
	PIIType PIIType `yaml:"pii_type,omitempty"`

	// Anonymization method and its parameters
	Method Method         `yaml:"anonymization_method,omitempty"`
	Params map[string]any `yaml:"params,omitempty"`

	// Derived extraction columns computed from the raw value before
	// anonymization (e.g. email domain for aggregation)
	Derive []DeriveKind `yaml:"derive,omitempty"`

	// GDPR accountability fields
	DataOwner     string `yaml:"data_owner,omitempty"`
	LegalBasis    string `yaml:"legal_basis,omitempty"`
	RetentionDays int    `yaml:"retention_days,omitempty"`

	// Target group size for quasi-identifiers; nil when not applicable
	KAnonymityTarget *int `yaml:"k_anonymity_target,omitempty"`
}

// RegistryMetadata contains information about the registry itself
type RegistryMetadata struct {
	// Version of the registry
	Version string `yaml:"version"`

	// When the registry was created
	CreatedAt time.Time `yaml:"created_at"`

	// Last modification time
	UpdatedAt time.Time `yaml:"updated_at"`

	// Description of the registry
	Description string `yaml:"description"`

	// Author of the registry
	Author string `yaml:"author"`

	// Hash of the registry content for integrity verification
	Hash string `yaml:"hash,omitempty"`
}

// Registry is the process-wide, read-only anonymization policy: one
// ColumnMetadata per governed column. It is loaded once per run and
// never mutated by downstream components.
type Registry struct {
	// Metadata about the registry
	Metadata RegistryMetadata `yaml:"metadata"`

	// Columns governed by this registry
	Columns []ColumnMetadata `yaml:"columns"`
}

// LoadRegistry reads a YAML registry file and validates it. An
// unsecured PII column makes the load fail with a *ConfigError; the
// caller must treat that as a signal to abort the whole pipeline
// before any data is published.
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read registry file: %w", err)
	}

	var registry Registry
	if err := yaml.Unmarshal(data, &registry); err != nil {
		return nil, fmt.Errorf("failed to parse registry: %w", err)
	}

	if err := registry.Validate(); err != nil {
		return nil, fmt.Errorf("invalid registry: %w", err)
	}

	// Generate hash for integrity checking
	registry.Metadata.Hash = calculateRegistryHash(data)

	return &registry, nil
}

// SaveRegistry saves a registry to a YAML file
func SaveRegistry(registry *Registry, path string) error {
	registry.Metadata.UpdatedAt = time.Now()

	data, err := yaml.Marshal(registry)
	if err != nil {
		return fmt.Errorf("failed to marshal registry: %w", err)
	}

	// Calculate and update the hash for integrity checking
	registry.Metadata.Hash = calculateRegistryHash(data)

	// Re-marshal with the updated hash
	data, err = yaml.Marshal(registry)
	if err != nil {
		return fmt.Errorf("failed to re-marshal registry with hash: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write registry file: %w", err)
	}

	return nil
}

// Validate checks every column entry. It returns a *ConfigError naming
// the exact table and column at fault; these are fatal and must stop
// the run before any row is processed.
func (r *Registry) Validate() error {
	for i, col := range r.Columns {
		if col.Table == "" || col.Column == "" {
			return &ConfigError{
				Table:  col.Table,
				Column: col.Column,
				Reason: fmt.Sprintf("entry %d is missing a table or column name", i),
			}
		}

		// The single most safety-critical contract: PII must never be
		// published raw. Passthrough on a PII column is as fatal as no
		// method at all.
		if col.IsPII && (col.Method == "" || col.Method == MethodPassthrough) {
			return &ConfigError{
				Table:  col.Table,
				Column: col.Column,
				Reason: "PII column has no effective anonymization method",
			}
		}

		if col.RetentionDays < 0 {
			return &ConfigError{
				Table:  col.Table,
				Column: col.Column,
				Reason: fmt.Sprintf("negative retention period %d", col.RetentionDays),
			}
		}

		if col.KAnonymityTarget != nil && *col.KAnonymityTarget < 1 {
			return &ConfigError{
				Table:  col.Table,
				Column: col.Column,
				Reason: fmt.Sprintf("k-anonymity target %d is below 1", *col.KAnonymityTarget),
			}
		}

		if err := validateParams(col); err != nil {
			return err
		}
	}

	return nil
}

// validateParams rejects malformed method parameters at load time so a
// run never aborts halfway through a table.
func validateParams(col ColumnMetadata) error {
	switch col.Method {
	case MethodRoundNDecimals:
		if p, ok := intParam(col.Params, "precision"); ok && p < 0 {
			return &ConfigError{
				Table:  col.Table,
				Column: col.Column,
				Reason: fmt.Sprintf("negative rounding precision %d", p),
			}
		}
	case MethodMaskPartial:
		if k, ok := intParam(col.Params, "keep_chars"); ok && k < 0 {
			return &ConfigError{
				Table:  col.Table,
				Column: col.Column,
				Reason: fmt.Sprintf("negative keep_chars %d", k),
			}
		}
	case MethodGenerated:
		if _, ok := stringParam(col.Params, "value"); !ok {
			return &ConfigError{
				Table:  col.Table,
				Column: col.Column,
				Reason: "generated column has no value expression",
			}
		}
	}
	return nil
}

// ColumnsFor returns the metadata entries for a table, in registry
// order. A physically present column with no entry here is treated as
// non-PII passthrough by the processor.
func (r *Registry) ColumnsFor(table string) []ColumnMetadata {
	var out []ColumnMetadata
	for _, col := range r.Columns {
		if col.Table == table {
			out = append(out, col)
		}
	}
	return out
}

// Lookup returns the metadata for one column, if any
func (r *Registry) Lookup(table, column string) (ColumnMetadata, bool) {
	for _, col := range r.Columns {
		if col.Table == table && col.Column == column {
			return col, true
		}
	}
	return ColumnMetadata{}, false
}

// PIIColumns returns every entry flagged is_pii, in registry order
func (r *Registry) PIIColumns() []ColumnMetadata {
	var out []ColumnMetadata
	for _, col := range r.Columns {
		if col.IsPII {
			out = append(out, col)
		}
	}
	return out
}

// calculateRegistryHash generates a hash of the registry content for
// integrity checking
func calculateRegistryHash(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// intParam reads an integer parameter, tolerating the types YAML
// decoding can produce for a number.
func intParam(params map[string]any, key string) (int, bool) {
	v, ok := params[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

// stringParam reads a string parameter
func stringParam(params map[string]any, key string) (string, bool) {
	v, ok := params[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

package core

import "time"

// RegistryBuilder provides a fluent interface for creating metadata
// registries programmatically (tests, embedded configuration).
type RegistryBuilder struct {
	registry *Registry
}

// NewRegistryBuilder creates a new registry builder
func NewRegistryBuilder() *RegistryBuilder {
	return &RegistryBuilder{
		registry: &Registry{
			Metadata: RegistryMetadata{
				CreatedAt: time.Now(),
				UpdatedAt: time.Now(),
			},
			Columns: []ColumnMetadata{},
		},
	}
}

// WithMetadata sets the registry metadata
func (b *RegistryBuilder) WithMetadata(version, description, author string) *RegistryBuilder {
	b.registry.Metadata.Version = version
	b.registry.Metadata.Description = description
	b.registry.Metadata.Author = author
	return b
}

// AddColumn adds a non-PII column entry
func (b *RegistryBuilder) AddColumn(table, column string) *RegistryBuilder {
	b.registry.Columns = append(b.registry.Columns, ColumnMetadata{
		Table:  table,
		Column: column,
	})
	return b
}

// AddPIIColumn adds a PII column entry with its anonymization method
func (b *RegistryBuilder) AddPIIColumn(table, column string, piiType PIIType, method Method) *RegistryBuilder {
	b.registry.Columns = append(b.registry.Columns, ColumnMetadata{
		Table:   table,
		Column:  column,
		IsPII:   true,
		PIIType: piiType,
		Method:  method,
	})
	return b
}

// AddGeneratedColumn adds a column materialized from a fixed expression
func (b *RegistryBuilder) AddGeneratedColumn(table, column, value string) *RegistryBuilder {
	b.registry.Columns = append(b.registry.Columns, ColumnMetadata{
		Table:  table,
		Column: column,
		Method: MethodGenerated,
		Params: map[string]any{"value": value},
	})
	return b
}

// ConfigureLastColumn configures additional properties for the last
// added column entry
func (b *RegistryBuilder) ConfigureLastColumn() *ColumnConfigurator {
	if len(b.registry.Columns) == 0 {
		b.registry.Columns = append(b.registry.Columns, ColumnMetadata{})
	}

	return &ColumnConfigurator{
		builder: b,
		column:  &b.registry.Columns[len(b.registry.Columns)-1],
	}
}

// Build validates and returns the final registry. Validation failures
// surface the same *ConfigError a YAML load would.
func (b *RegistryBuilder) Build() (*Registry, error) {
	b.registry.Metadata.UpdatedAt = time.Now()
	if err := b.registry.Validate(); err != nil {
		return nil, err
	}
	return b.registry, nil
}

// ColumnConfigurator provides methods to configure a column entry
type ColumnConfigurator struct {
	builder *RegistryBuilder
	column  *ColumnMetadata
}

// WithDescription sets the description for the column
func (c *ColumnConfigurator) WithDescription(description string) *ColumnConfigurator {
	c.column.Description = description
	return c
}

// WithParams sets method parameters for the column
func (c *ColumnConfigurator) WithParams(params map[string]any) *ColumnConfigurator {
	c.column.Params = params
	return c
}

// WithDerived declares derived extraction columns computed from the
// raw value before anonymization
func (c *ColumnConfigurator) WithDerived(kinds ...DeriveKind) *ColumnConfigurator {
	c.column.Derive = kinds
	return c
}

// WithOwnership sets the GDPR accountability fields
func (c *ColumnConfigurator) WithOwnership(owner, legalBasis string, retentionDays int) *ColumnConfigurator {
	c.column.DataOwner = owner
	c.column.LegalBasis = legalBasis
	c.column.RetentionDays = retentionDays
	return c
}

// WithKAnonymityTarget marks the column as a quasi-identifier with a
// target group size
func (c *ColumnConfigurator) WithKAnonymityTarget(k int) *ColumnConfigurator {
	c.column.KAnonymityTarget = &k
	return c
}

// Done returns to the registry builder
func (c *ColumnConfigurator) Done() *RegistryBuilder {
	return c.builder
}

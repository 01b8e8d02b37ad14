package core

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRegistryValidateUnsecuredPII is the single most safety-critical
// contract in the engine: a registry cannot be built around a PII
// column with no effective anonymization method.
func TestRegistryValidateUnsecuredPII(t *testing.T) {
	tests := []struct {
		name   string
		method Method
	}{
		{"missing method", ""},
		{"explicit passthrough", MethodPassthrough},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry := &Registry{
				Columns: []ColumnMetadata{{
					Table:   "services",
					Column:  "contact_email",
					IsPII:   true,
					PIIType: PIITypeEmail,
					Method:  tt.method,
				}},
			}

			err := registry.Validate()
			require.Error(t, err)
			assert.True(t, IsConfigError(err))

			// The error must name the exact column at fault
			assert.Contains(t, err.Error(), "services.contact_email")
		})
	}
}

func TestRegistryValidateMalformedParams(t *testing.T) {
	registry := &Registry{
		Columns: []ColumnMetadata{{
			Table:   "services",
			Column:  "latitude",
			IsPII:   true,
			PIIType: PIITypeCoordinates,
			Method:  MethodRoundNDecimals,
			Params:  map[string]any{"precision": -1},
		}},
	}

	err := registry.Validate()
	require.Error(t, err)
	assert.True(t, IsConfigError(err))
	assert.Contains(t, err.Error(), "precision")
}

func TestRegistryValidateAccepts(t *testing.T) {
	registry := &Registry{
		Columns: []ColumnMetadata{
			{Table: "services", Column: "contact_email", IsPII: true, PIIType: PIITypeEmail, Method: MethodHashSHA256},
			{Table: "services", Column: "name"},
		},
	}

	assert.NoError(t, registry.Validate())
}

// TestLoadRegistry exercises the YAML load path end to end, including
// the integrity hash and lookup helpers
func TestLoadRegistry(t *testing.T) {
	content := `metadata:
  version: "1.0.0"
  description: "Service directory anonymization policy"
  author: "DPO Services Publics"
columns:
  - table: services
    column: contact_email
    is_pii: true
    pii_type: email
    anonymization_method: hash_sha256
    data_owner: "DPO Services Publics"
    legal_basis: "RGPD Art. 6.1.e"
    retention_days: 730
  - table: services
    column: latitude
    is_pii: true
    pii_type: coordinates
    anonymization_method: round_n_decimals
    params:
      precision: 2
    k_anonymity_target: 5
  - table: services
    column: service_name
`
	path := filepath.Join(t.TempDir(), "registry.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	registry, err := LoadRegistry(path)
	require.NoError(t, err)

	assert.Equal(t, "1.0.0", registry.Metadata.Version)
	assert.NotEmpty(t, registry.Metadata.Hash)
	assert.Len(t, registry.ColumnsFor("services"), 3)
	assert.Len(t, registry.PIIColumns(), 2)

	email, ok := registry.Lookup("services", "contact_email")
	require.True(t, ok)
	assert.Equal(t, MethodHashSHA256, email.Method)
	assert.Equal(t, 730, email.RetentionDays)

	lat, ok := registry.Lookup("services", "latitude")
	require.True(t, ok)
	require.NotNil(t, lat.KAnonymityTarget)
	assert.Equal(t, 5, *lat.KAnonymityTarget)
}

// TestLoadRegistryRejectsUnsecuredPII: a bad file must fail at load
// time, not at processing time
func TestLoadRegistryRejectsUnsecuredPII(t *testing.T) {
	content := `columns:
  - table: services
    column: contact_email
    is_pii: true
    pii_type: email
`
	path := filepath.Join(t.TempDir(), "registry.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	_, err := LoadRegistry(path)
	require.Error(t, err)
	assert.True(t, IsConfigError(err))
}

func TestSaveAndReloadRegistry(t *testing.T) {
	registry, err := NewRegistryBuilder().
		WithMetadata("1.0.0", "test registry", "tester").
		AddPIIColumn("services", "contact_phone", PIITypePhone, MethodMaskPartial).
		ConfigureLastColumn().
		WithParams(map[string]any{"keep_chars": 6}).
		WithOwnership("DPO Services Publics", "RGPD Art. 6.1.e", 730).
		Done().
		Build()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "registry.yaml")
	require.NoError(t, SaveRegistry(registry, path))

	reloaded, err := LoadRegistry(path)
	require.NoError(t, err)
	assert.Equal(t, registry.Metadata.Version, reloaded.Metadata.Version)
	assert.Len(t, reloaded.Columns, 1)

	phone, ok := reloaded.Lookup("services", "contact_phone")
	require.True(t, ok)
	keep, found := intParam(phone.Params, "keep_chars")
	assert.True(t, found)
	assert.Equal(t, 6, keep)
}

// TestRegistryBuilderRejectsUnsecuredPII: the fluent path enforces the
// same contract as the YAML path
func TestRegistryBuilderRejectsUnsecuredPII(t *testing.T) {
	_, err := NewRegistryBuilder().
		WithMetadata("1.0.0", "bad registry", "tester").
		AddPIIColumn("services", "contact_email", PIITypeEmail, MethodPassthrough).
		Build()

	require.Error(t, err)
	assert.True(t, IsConfigError(err))
}

package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// serviceRegistry builds the registry used across processor tests: the
// public-service directory shape with one column per PII category.
func serviceRegistry(t *testing.T) *Registry {
	t.Helper()

	registry, err := NewRegistryBuilder().
		WithMetadata("1.0.0", "service directory policy", "DPO Services Publics").
		AddPIIColumn("services", "contact_email", PIITypeEmail, MethodHashSHA256).
		ConfigureLastColumn().WithDerived(DeriveEmailDomain).Done().
		AddPIIColumn("services", "contact_phone", PIITypePhone, MethodMaskPartial).
		ConfigureLastColumn().
		WithParams(map[string]any{"keep_chars": 6}).
		WithDerived(DerivePhoneCountryCode).
		Done().
		AddPIIColumn("services", "latitude", PIITypeCoordinates, MethodRoundNDecimals).
		ConfigureLastColumn().
		WithParams(map[string]any{"precision": 2, "pair_with": "longitude"}).
		WithDerived(DeriveGeoBucket).
		WithKAnonymityTarget(5).
		Done().
		AddPIIColumn("services", "longitude", PIITypeCoordinates, MethodRoundNDecimals).
		AddPIIColumn("services", "street_address", PIITypeAddress, MethodSuppress).
		AddGeneratedColumn("services", "anonymization_version", "v1.0.0").
		Build()
	require.NoError(t, err)
	return registry
}

func serviceDataset(t *testing.T) *Dataset {
	t.Helper()

	ds := NewDataset("services")
	require.NoError(t, ds.AddColumn("service_name", []Value{Text("Mairie de Paris"), Text("Prefecture du Rhone")}))
	require.NoError(t, ds.AddColumn("contact_email", []Value{Text("a@b.fr"), Null()}))
	require.NoError(t, ds.AddColumn("contact_phone", []Value{Text("+33 1 72 60 58 70"), Text("+33 4 72 61 60 60")}))
	require.NoError(t, ds.AddColumn("latitude", []Value{Number(48.85661234), Number(45.76404)}))
	require.NoError(t, ds.AddColumn("longitude", []Value{Number(2.35223456), Number(4.83565)}))
	require.NoError(t, ds.AddColumn("street_address", []Value{Text("3 rue de Lobau"), Text("106 rue Pierre Corneille")}))
	return ds
}

// TestProcessorEndToEnd covers the whole per-column contract: PII
// columns replaced under _anon names, untouched columns kept, derived
// and generated columns materialized.
func TestProcessorEndToEnd(t *testing.T) {
	registry := serviceRegistry(t)
	ds := serviceDataset(t)

	processor := NewProcessor(registry, "s3cret")
	out, err := processor.Process(context.Background(), ds)
	require.NoError(t, err)

	// Untouched first, then anonymized in source order, then derived,
	// then generated — stable for deterministic comparison
	assert.Equal(t, []string{
		"service_name",
		"contact_email_anon", "contact_phone_anon", "latitude_anon", "longitude_anon", "street_address_anon",
		"contact_email_domain", "contact_phone_country_code", "location_grid",
		"anonymization_version",
	}, out.ColumnNames())

	assert.Equal(t, 2, out.Rows())

	email, _ := out.Column("contact_email_anon")
	assert.Regexp(t, `^user_[0-9a-f]{16}@anonymized\.gouv\.fr$`, email.Values[0].String())
	assert.True(t, email.Values[1].IsNull(), "null input must anonymize to null")

	phone, _ := out.Column("contact_phone_anon")
	assert.Equal(t, "+33 1 XX XX XX XX", phone.Values[0].String())
	assert.Equal(t, "+33 4 XX XX XX XX", phone.Values[1].String())

	lat, _ := out.Column("latitude_anon")
	assert.InDelta(t, 48.86, lat.Values[0].Num, 1e-9)
	assert.InDelta(t, 45.76, lat.Values[1].Num, 1e-9)

	addr, _ := out.Column("street_address_anon")
	assert.True(t, addr.Values[0].IsNull())
	assert.True(t, addr.Values[1].IsNull())

	// Derived columns come from the raw values, not the anonymized ones
	domain, _ := out.Column("contact_email_domain")
	assert.Equal(t, "b.fr", domain.Values[0].String())
	assert.True(t, domain.Values[1].IsNull())

	cc, _ := out.Column("contact_phone_country_code")
	assert.Equal(t, "+33 ", cc.Values[0].String())

	grid, _ := out.Column("location_grid")
	assert.Equal(t, "geo:48.86:2.35", grid.Values[0].String())

	// Generated column is identical across rows
	version, _ := out.Column("anonymization_version")
	assert.Equal(t, "v1.0.0", version.Values[0].String())
	assert.Equal(t, "v1.0.0", version.Values[1].String())
}

// TestProcessorSourceUntouched: the processor owns only its output;
// the source dataset must come out byte-identical.
func TestProcessorSourceUntouched(t *testing.T) {
	registry := serviceRegistry(t)
	ds := serviceDataset(t)

	email, _ := ds.Column("contact_email")
	before := email.Values[0].String()

	processor := NewProcessor(registry, "s3cret")
	_, err := processor.Process(context.Background(), ds)
	require.NoError(t, err)

	after, _ := ds.Column("contact_email")
	assert.Equal(t, before, after.Values[0].String())
	assert.Equal(t, 6, len(ds.Columns))
}

// TestProcessorAbortsOnUnsecuredPII: the fatal configuration check
// runs before any row is processed, so nothing is produced.
func TestProcessorAbortsOnUnsecuredPII(t *testing.T) {
	registry := &Registry{
		Columns: []ColumnMetadata{{
			Table: "services", Column: "contact_email",
			IsPII: true, PIIType: PIITypeEmail,
		}},
	}

	ds := NewDataset("services")
	require.NoError(t, ds.AddColumn("contact_email", []Value{Text("a@b.fr")}))

	processor := NewProcessor(registry, "s3cret")
	out, err := processor.Process(context.Background(), ds)

	require.Error(t, err)
	assert.True(t, IsConfigError(err))
	assert.Nil(t, out)
}

// TestProcessorParallelDeterminism: the same input through different
// worker counts must produce identical output, since partitioning only
// changes scheduling, never content.
func TestProcessorParallelDeterminism(t *testing.T) {
	registry := serviceRegistry(t)

	ds := NewDataset("services")
	emails := make([]Value, 500)
	phones := make([]Value, 500)
	lats := make([]Value, 500)
	lons := make([]Value, 500)
	addrs := make([]Value, 500)
	for i := range emails {
		emails[i] = Text("user" + string(rune('a'+i%26)) + "@example.fr")
		phones[i] = Text("+33 1 72 60 58 70")
		lats[i] = Number(48.8 + float64(i)*0.001)
		lons[i] = Number(2.3 + float64(i)*0.001)
		addrs[i] = Text("3 rue de Lobau")
	}
	require.NoError(t, ds.AddColumn("contact_email", emails))
	require.NoError(t, ds.AddColumn("contact_phone", phones))
	require.NoError(t, ds.AddColumn("latitude", lats))
	require.NoError(t, ds.AddColumn("longitude", lons))
	require.NoError(t, ds.AddColumn("street_address", addrs))

	serial := NewProcessor(registry, "s3cret")
	serial.Parallelism = 1
	parallel := NewProcessor(registry, "s3cret")
	parallel.Parallelism = 8

	a, err := serial.Process(context.Background(), ds)
	require.NoError(t, err)
	b, err := parallel.Process(context.Background(), ds)
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

// TestProcessorContextCancellation: a canceled context stops the run
// instead of publishing a partial table
func TestProcessorContextCancellation(t *testing.T) {
	registry := serviceRegistry(t)
	ds := serviceDataset(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	processor := NewProcessor(registry, "s3cret")
	_, err := processor.Process(ctx, ds)
	assert.Error(t, err)
}

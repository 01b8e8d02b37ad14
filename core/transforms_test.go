package core

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestHashPseudonymizeDeterministic verifies that equal inputs with the
// same salt map to the same pseudonym, which is what keeps anonymized
// identities joinable across tables.
func TestHashPseudonymizeDeterministic(t *testing.T) {
	a := HashPseudonymize(Text("agent@ville-paris.fr"), "s3cret", DefaultOutputDomain)
	b := HashPseudonymize(Text("agent@ville-paris.fr"), "s3cret", DefaultOutputDomain)
	assert.Equal(t, a, b)

	// Normalization happens before hashing: case and padding do not
	// split an identity
	c := HashPseudonymize(Text("  AGENT@ville-paris.FR "), "s3cret", DefaultOutputDomain)
	assert.Equal(t, a, c)

	// A different input or a different salt must diverge
	other := HashPseudonymize(Text("autre@ville-paris.fr"), "s3cret", DefaultOutputDomain)
	assert.NotEqual(t, a, other)
	resalted := HashPseudonymize(Text("agent@ville-paris.fr"), "autre-sel", DefaultOutputDomain)
	assert.NotEqual(t, a, resalted)
}

// TestHashPseudonymizeShape verifies the synthetic address format and
// that neither the original local part nor the salt survives in it
func TestHashPseudonymizeShape(t *testing.T) {
	out := HashPseudonymize(Text("jean.dupont@example.org"), "s3cret", DefaultOutputDomain)

	assert.Regexp(t, `^user_[0-9a-f]{16}@anonymized\.gouv\.fr$`, out.String())
	assert.NotContains(t, out.String(), "jean.dupont")
	assert.NotContains(t, out.String(), "s3cret")
}

func TestHashPseudonymizeNull(t *testing.T) {
	assert.True(t, HashPseudonymize(Null(), "s3cret", DefaultOutputDomain).IsNull())
	assert.True(t, HashPseudonymize(Text("   "), "s3cret", DefaultOutputDomain).IsNull())
}

// TestMaskPartial verifies the mask contract: the prefix is the first
// keep_chars characters verbatim and the output always ends with the
// mask token.
func TestMaskPartial(t *testing.T) {
	out := MaskPartial(Text("+33 1 72 60 58 70"), 6)

	assert.Equal(t, "+33 1 XX XX XX XX", out.String())
	assert.True(t, strings.HasSuffix(out.String(), MaskToken))
	assert.Equal(t, "+33 1 ", out.String()[:6])
}

// TestMaskPartialShortInput pins the known edge case: an input shorter
// than keep_chars still gets the mask token appended, with no error
// and no padding. The behavior is documented, not corrected.
func TestMaskPartialShortInput(t *testing.T) {
	out := MaskPartial(Text("+33"), 6)
	assert.Equal(t, "+33"+MaskToken, out.String())
}

func TestMaskPartialNull(t *testing.T) {
	assert.True(t, MaskPartial(Null(), 6).IsNull())
	assert.True(t, MaskPartial(Text(""), 6).IsNull())
}

// TestGeneralizeNumericRounding asserts the rounding mode explicitly:
// half away from zero. The quality gate's precision check depends on
// these exact boundary values.
func TestGeneralizeNumericRounding(t *testing.T) {
	tests := []struct {
		name      string
		in        float64
		precision int
		want      float64
	}{
		{"round down", 48.85344, 2, 48.85},
		{"round up", 48.85661234, 2, 48.86},
		{"half away from zero", 2.345, 2, 2.35},
		{"half away from zero negative", -2.345, 2, -2.35},
		{"zero precision", 2.7, 0, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := GeneralizeNumeric(Number(tt.in), tt.precision)
			assert.Equal(t, KindNumber, out.Kind)
			assert.InDelta(t, tt.want, out.Num, 1e-9)
		})
	}
}

// TestGeneralizeNumericIdempotent: rounding an already-rounded value
// must be a no-op
func TestGeneralizeNumericIdempotent(t *testing.T) {
	once := GeneralizeNumeric(Number(2.35223456), 2)
	twice := GeneralizeNumeric(once, 2)
	assert.Equal(t, once, twice)
}

func TestGeneralizeNumericBadInput(t *testing.T) {
	// Text that parses as a number is generalized
	out := GeneralizeNumeric(Text("48.8566"), 2)
	assert.InDelta(t, 48.86, out.Num, 1e-9)

	// Text that does not parse generalizes to null rather than leaking
	// through unrounded
	assert.True(t, GeneralizeNumeric(Text("Paris"), 2).IsNull())
	assert.True(t, GeneralizeNumeric(Null(), 2).IsNull())
}

func TestGeoBucket(t *testing.T) {
	out := GeoBucket(Number(48.85661234), Number(2.35223456), 2)
	assert.Equal(t, "geo:48.86:2.35", out.String())

	// One missing coordinate voids the bucket
	assert.True(t, GeoBucket(Number(48.85661234), Null(), 2).IsNull())
}

func TestSuppress(t *testing.T) {
	assert.True(t, Suppress(Text("3 rue de la Paix")).IsNull())
	assert.True(t, Suppress(Number(42)).IsNull())
	assert.True(t, Suppress(Null()).IsNull())
}

// TestExtractDomain covers the validity gate: domain extraction only
// applies to plausible addresses, and always lowercases.
func TestExtractDomain(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
		null bool
	}{
		{"plain address", "contact@Ville-Paris.FR", "ville-paris.fr", false},
		{"nested local part", "a.b+c@sub.example.org", "sub.example.org", false},
		{"no at sign", "not-an-email", "", true},
		{"no dot", "a@b", "", true},
		{"too short", "a@.f", "", true},
		{"at-dot sequence", "user@.example.fr", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := ExtractDomain(Text(tt.in))
			if tt.null {
				assert.True(t, out.IsNull())
			} else {
				assert.Equal(t, tt.want, out.String())
			}
		})
	}
}

func TestExtractCountryCode(t *testing.T) {
	out := ExtractCountryCode(Text("+33 1 72 60 58 70"))
	assert.Equal(t, "+33 ", out.String())

	// Domestic format has no extractable prefix
	assert.True(t, ExtractCountryCode(Text("01 72 60 58 70")).IsNull())

	// A bare international number without spaces is returned whole
	assert.Equal(t, "+336172605870", ExtractCountryCode(Text("+336172605870")).String())
}

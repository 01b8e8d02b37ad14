package core

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// MaskToken is the fixed suffix a partial mask appends in place of the
// hidden digits. The quality validator looks for it verbatim.
const MaskToken = "XX XX XX XX"

// geoBucketTag prefixes composite geographic bucket keys
const geoBucketTag = "geo"

// HashPseudonymize replaces an identifier with a salted, irreversible
// digest formatted as a synthetic address: user_<16 hex chars>@domain.
//
// The input is lowercased and trimmed before hashing so the same
// identity always maps to the same pseudonym within a run, which keeps
// anonymized identities joinable across tables without reversibility.
// The salt never appears in the output.
func HashPseudonymize(v Value, salt, domain string) Value {
	if v.IsNull() {
		return Null()
	}

	normalized := strings.ToLower(strings.TrimSpace(v.String()))
	digest := sha256.Sum256([]byte(normalized + salt))
	prefix := hex.EncodeToString(digest[:])[:16]

	return Text(fmt.Sprintf("user_%s@%s", prefix, domain))
}

// MaskPartial keeps the first keep runes of the trimmed input verbatim
// (typically country code plus area code) and appends the mask token.
//
// Input length is not validated: a value shorter than keep still gets
// the token appended. That mirrors the source behavior of a plain
// prefix-take and is asserted as a known edge case in tests rather
// than corrected here.
func MaskPartial(v Value, keep int) Value {
	if v.IsNull() {
		return Null()
	}

	runes := []rune(strings.TrimSpace(v.String()))
	if keep > len(runes) {
		keep = len(runes)
	}

	return Text(string(runes[:keep]) + MaskToken)
}

// GeneralizeNumeric rounds a numeric value to the given number of
// decimal digits, half away from zero (2.345 -> 2.35, -2.345 -> -2.35).
// The rounding mode is asserted explicitly in tests because it fixes
// the exact boundary values of the precision quality check.
//
// Text values that do not parse as a number generalize to null rather
// than leaking through unrounded.
func GeneralizeNumeric(v Value, precision int) Value {
	if v.IsNull() {
		return Null()
	}

	f, ok := v.Float()
	if !ok {
		return Null()
	}

	shift := math.Pow(10, float64(precision))
	return Number(math.Round(f*shift) / shift)
}

// GeoBucket generalizes a coordinate pair independently and joins the
// result into a composite bucket key, e.g. "geo:48.86:2.35". The key is
// only usable for spatial aggregation, never for exact-location lookup.
func GeoBucket(lat, lon Value, precision int) Value {
	rlat := GeneralizeNumeric(lat, precision)
	rlon := GeneralizeNumeric(lon, precision)
	if rlat.IsNull() || rlon.IsNull() {
		return Null()
	}

	return Text(fmt.Sprintf("%s:%s:%s",
		geoBucketTag,
		strconv.FormatFloat(rlat.Num, 'f', -1, 64),
		strconv.FormatFloat(rlon.Num, 'f', -1, 64)))
}

// Suppress discards the value entirely
func Suppress(_ Value) Value {
	return Null()
}

// ExtractDomain returns the lowercased domain of an email address, or
// null when the address fails a basic validity check. It must run on
// the raw value before hashing: the domain is a legitimate
// non-identifying aggregate, the local part is not.
func ExtractDomain(v Value) Value {
	if v.IsNull() {
		return Null()
	}

	email := strings.TrimSpace(v.String())
	if len(email) < 5 ||
		!strings.Contains(email, "@") ||
		!strings.Contains(email, ".") ||
		strings.Contains(email, "@.") {
		return Null()
	}

	at := strings.LastIndex(email, "@")
	domain := email[at+1:]
	if domain == "" {
		return Null()
	}

	return Text(strings.ToLower(domain))
}

// ExtractCountryCode returns the international prefix of a phone
// number: everything up to and including the first space after a
// leading "+". Phones without a "+" prefix yield null.
func ExtractCountryCode(v Value) Value {
	if v.IsNull() {
		return Null()
	}

	phone := strings.TrimSpace(v.String())
	if !strings.HasPrefix(phone, "+") {
		return Null()
	}

	idx := strings.Index(phone, " ")
	if idx == -1 {
		return Text(phone)
	}

	return Text(phone[:idx+1])
}

package core

import "fmt"

// DefaultOutputDomain is the synthetic domain pseudonymized emails are
// rehomed to. Quality predicates and the leak scanner key off it.
const DefaultOutputDomain = "anonymized.gouv.fr"

// DefaultKeepChars is how many leading characters a partial mask keeps,
// enough for a French country code plus area digit ("+33 1 ").
const DefaultKeepChars = 6

// DefaultPrecision is the decimal precision coordinates are rounded to.
// Two decimals is roughly a 1km grid, coarse enough for aggregation.
const DefaultPrecision = 2

// TransformID identifies a concrete transform in the library
type TransformID string

const (
	TransformHash        TransformID = "hash_pseudonymize"
	TransformMask        TransformID = "partial_mask"
	TransformRound       TransformID = "generalize_numeric"
	TransformSuppress    TransformID = "suppress"
	TransformPassthrough TransformID = "passthrough"
	TransformGenerated   TransformID = "generated"
)

// HashParams parameterizes hash-pseudonymization
type HashParams struct {
	Salt         string
	OutputDomain string
}

// MaskParams parameterizes partial masking
type MaskParams struct {
	KeepChars int
}

// RoundParams parameterizes numeric generalization
type RoundParams struct {
	Precision int
}

// GeneratedParams carries the fixed expression of a generated column
type GeneratedParams struct {
	Value string
}

// Rule is the resolved form of a ColumnMetadata: one transform plus its
// typed parameters. Rules are pure and stateless, reusable across rows
// and across goroutines.
type Rule struct {
	Transform TransformID

	Hash      *HashParams
	Mask      *MaskParams
	Round     *RoundParams
	Generated *GeneratedParams
}

// Resolve maps a column's metadata to a concrete rule. The method name
// is the sole discriminant; nothing is inferred from the PII type.
//
// A PII column whose method is missing or passthrough never resolves:
// that is a fatal *ConfigError, re-checked here even though the
// registry validates it at load, so no caller can reach row processing
// with an unsecured PII column.
func Resolve(meta ColumnMetadata, salt string) (Rule, error) {
	if meta.IsPII && (meta.Method == "" || meta.Method == MethodPassthrough) {
		return Rule{}, &ConfigError{
			Table:  meta.Table,
			Column: meta.Column,
			Reason: "PII column has no effective anonymization method",
		}
	}

	switch meta.Method {
	case MethodMaskPartial:
		keep := DefaultKeepChars
		if k, ok := intParam(meta.Params, "keep_chars"); ok {
			if k < 0 {
				return Rule{}, &ConfigError{
					Table:  meta.Table,
					Column: meta.Column,
					Reason: fmt.Sprintf("negative keep_chars %d", k),
				}
			}
			keep = k
		}
		return Rule{Transform: TransformMask, Mask: &MaskParams{KeepChars: keep}}, nil

	case MethodHashSHA256:
		if salt == "" {
			return Rule{}, &ConfigError{
				Table:  meta.Table,
				Column: meta.Column,
				Reason: "hash_sha256 requires a salt from the secret store",
			}
		}
		domain := DefaultOutputDomain
		if d, ok := stringParam(meta.Params, "output_domain"); ok && d != "" {
			domain = d
		}
		return Rule{Transform: TransformHash, Hash: &HashParams{Salt: salt, OutputDomain: domain}}, nil

	case MethodRoundNDecimals:
		precision := DefaultPrecision
		if p, ok := intParam(meta.Params, "precision"); ok {
			if p < 0 {
				return Rule{}, &ConfigError{
					Table:  meta.Table,
					Column: meta.Column,
					Reason: fmt.Sprintf("negative rounding precision %d", p),
				}
			}
			precision = p
		}
		return Rule{Transform: TransformRound, Round: &RoundParams{Precision: precision}}, nil

	case MethodSuppress:
		return Rule{Transform: TransformSuppress}, nil

	case MethodGenerated:
		value, ok := stringParam(meta.Params, "value")
		if !ok {
			return Rule{}, &ConfigError{
				Table:  meta.Table,
				Column: meta.Column,
				Reason: "generated column has no value expression",
			}
		}
		return Rule{Transform: TransformGenerated, Generated: &GeneratedParams{Value: value}}, nil

	default:
		// Unrecognized or unset method on a non-PII column: identity.
		// The processor still renames the output with the _anon suffix
		// for naming consistency downstream.
		return Rule{Transform: TransformPassthrough}, nil
	}
}

// Apply runs the rule's transform on a single cell. Generated rules
// ignore the input entirely and return their fixed expression.
func (r Rule) Apply(v Value) Value {
	switch r.Transform {
	case TransformHash:
		return HashPseudonymize(v, r.Hash.Salt, r.Hash.OutputDomain)
	case TransformMask:
		return MaskPartial(v, r.Mask.KeepChars)
	case TransformRound:
		return GeneralizeNumeric(v, r.Round.Precision)
	case TransformSuppress:
		return Suppress(v)
	case TransformGenerated:
		return Text(r.Generated.Value)
	default:
		return v
	}
}

package algebra

import "strings"

// Constants

// Kind enumerates the closed set of operation kinds
// with declared algebraic properties.
type Kind uint8

const (
	// Unknown is the conservative default for columns
	// without an annotation. Treated like a generic
	// kind for all conflict purposes.
	Unknown Kind = iota

	// Max keeps the numeric maximum (semilattice).
	Max

	// Min keeps the numeric minimum (semilattice).
	Min

	// SetUnion unions two sets (semilattice).
	SetUnion

	// SetIntersect intersects two sets (semilattice).
	SetIntersect

	// Sum adds two numbers (Abelian group, identity 0).
	Sum

	// Product multiplies two numbers (Abelian group, identity 1).
	Product

	// Overwrite replaces the value (generic, never merged).
	Overwrite

	// CondOverwrite replaces the value if an outside
	// condition held at the writer (generic, never merged).
	CondOverwrite
)

// Functions

// String returns the schema-file name of the kind.
func (k Kind) String() string {

	switch k {
	case Max:
		return "max"
	case Min:
		return "min"
	case SetUnion:
		return "set_union"
	case SetIntersect:
		return "set_intersect"
	case Sum:
		return "sum"
	case Product:
		return "product"
	case Overwrite:
		return "overwrite"
	case CondOverwrite:
		return "cond_overwrite"
	default:
		return "unknown"
	}
}

// ParseKind maps a schema-file kind name to its Kind.
// Names it does not recognize degrade to Unknown so that
// an unannotated or misspelled column falls back to
// coordination-required behavior instead of failing.
func ParseKind(name string) Kind {

	switch strings.ToLower(strings.TrimSpace(name)) {
	case "max":
		return Max
	case "min":
		return Min
	case "set_union":
		return SetUnion
	case "set_intersect":
		return SetIntersect
	case "sum":
		return Sum
	case "product":
		return Product
	case "overwrite":
		return Overwrite
	case "cond_overwrite":
		return CondOverwrite
	default:
		return Unknown
	}
}

// Semilattice reports whether the kind combines via a
// commutative, associative and idempotent rule.
func (k Kind) Semilattice() bool {

	switch k {
	case Max, Min, SetUnion, SetIntersect:
		return true
	default:
		return false
	}
}

// Abelian reports whether the kind combines via a
// commutative, associative and invertible rule with
// an identity element.
func (k Kind) Abelian() bool {
	return (k == Sum) || (k == Product)
}

// ConflictFree reports whether two concurrent values of
// this kind can be combined deterministically without
// coordination.
func (k Kind) ConflictFree() bool {
	return k.Semilattice() || k.Abelian()
}

// Identity returns the identity element of an Abelian
// kind and false for every other kind.
func (k Kind) Identity() (Value, bool) {

	switch k {
	case Sum:
		return IntValue(0), true
	case Product:
		return IntValue(1), true
	default:
		return Value{}, false
	}
}

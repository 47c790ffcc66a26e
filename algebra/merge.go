package algebra

import "math"

// Constants

// Outcome is the result class of a merge attempt.
type Outcome uint8

const (
	// Merged means the two values were combined
	// deterministically; Result.Value holds the result.
	Merged Outcome = iota

	// Conflict means the kind carries no algebraic
	// guarantee, so concurrent values cannot be combined.
	Conflict

	// TypeMismatch means the value tags do not fit the
	// shape the kind requires. Unlike Conflict this
	// indicates a schema or classification bug, not a
	// legitimate concurrent write.
	TypeMismatch

	// Overflow means checked integer arithmetic detected
	// wraparound. Callers must treat it like Conflict and
	// fall back to coordination.
	Overflow
)

// Structs

// Result bundles the outcome of a merge attempt with the
// combined value for the Merged case.
type Result struct {
	Outcome Outcome
	Value   Value
}

// Functions

// String returns the outcome name for logging purposes.
func (o Outcome) String() string {

	switch o {
	case Merged:
		return "merged"
	case Conflict:
		return "conflict"
	case TypeMismatch:
		return "type_mismatch"
	default:
		return "overflow"
	}
}

// Merge combines two values of the same declared kind.
// The rule per kind is fixed and total over matching value
// tags: commutative for all conflict-free kinds, associative
// across pairwise application, and idempotent for the
// semilattice subset. Kinds outside the conflict-free set
// always yield Conflict, mismatched tags always yield
// TypeMismatch, and wrapped integer arithmetic always
// yields Overflow instead of a silently wrong value.
func Merge(kind Kind, a Value, b Value) Result {

	switch kind {

	case Max:

		if (a.Tag == TagInt) && (b.Tag == TagInt) {
			if a.Int >= b.Int {
				return Result{Outcome: Merged, Value: a.Copy()}
			}
			return Result{Outcome: Merged, Value: b.Copy()}
		}

		if (a.Tag == TagFloat) && (b.Tag == TagFloat) {
			return Result{Outcome: Merged, Value: FloatValue(math.Max(a.Float, b.Float))}
		}

		return Result{Outcome: TypeMismatch}

	case Min:

		if (a.Tag == TagInt) && (b.Tag == TagInt) {
			if a.Int <= b.Int {
				return Result{Outcome: Merged, Value: a.Copy()}
			}
			return Result{Outcome: Merged, Value: b.Copy()}
		}

		if (a.Tag == TagFloat) && (b.Tag == TagFloat) {
			return Result{Outcome: Merged, Value: FloatValue(math.Min(a.Float, b.Float))}
		}

		return Result{Outcome: TypeMismatch}

	case SetUnion:

		if (a.Tag == TagStringSet) && (b.Tag == TagStringSet) {
			return Result{Outcome: Merged, Value: Value{Tag: TagStringSet, StrSet: a.StrSet.Union(b.StrSet)}}
		}

		if (a.Tag == TagIntSet) && (b.Tag == TagIntSet) {
			return Result{Outcome: Merged, Value: Value{Tag: TagIntSet, IntSet: a.IntSet.Union(b.IntSet)}}
		}

		return Result{Outcome: TypeMismatch}

	case SetIntersect:

		if (a.Tag == TagStringSet) && (b.Tag == TagStringSet) {
			return Result{Outcome: Merged, Value: Value{Tag: TagStringSet, StrSet: a.StrSet.Intersect(b.StrSet)}}
		}

		if (a.Tag == TagIntSet) && (b.Tag == TagIntSet) {
			return Result{Outcome: Merged, Value: Value{Tag: TagIntSet, IntSet: a.IntSet.Intersect(b.IntSet)}}
		}

		return Result{Outcome: TypeMismatch}

	case Sum:

		if (a.Tag == TagInt) && (b.Tag == TagInt) {

			sum, ok := addChecked(a.Int, b.Int)
			if !ok {
				return Result{Outcome: Overflow}
			}

			return Result{Outcome: Merged, Value: IntValue(sum)}
		}

		// Floating-point addition is only approximately
		// associative; accepted with that caveat.
		if (a.Tag == TagFloat) && (b.Tag == TagFloat) {
			return Result{Outcome: Merged, Value: FloatValue(a.Float + b.Float)}
		}

		return Result{Outcome: TypeMismatch}

	case Product:

		if (a.Tag == TagInt) && (b.Tag == TagInt) {

			product, ok := mulChecked(a.Int, b.Int)
			if !ok {
				return Result{Outcome: Overflow}
			}

			return Result{Outcome: Merged, Value: IntValue(product)}
		}

		// Same approximate-associativity caveat as Sum.
		if (a.Tag == TagFloat) && (b.Tag == TagFloat) {
			return Result{Outcome: Merged, Value: FloatValue(a.Float * b.Float)}
		}

		return Result{Outcome: TypeMismatch}

	default:
		// Unknown, Overwrite, CondOverwrite: no algebraic
		// guarantee, concurrent values are a conflict.
		return Result{Outcome: Conflict}
	}
}

// addChecked adds two signed integers and reports false
// on overflow instead of wrapping.
func addChecked(a int64, b int64) (int64, bool) {

	sum := a + b

	// Overflow occurred iff both operands share a sign
	// that the result does not.
	if ((a > 0) && (b > 0) && (sum < 0)) ||
		((a < 0) && (b < 0) && (sum >= 0)) {
		return 0, false
	}

	return sum, true
}

// mulChecked multiplies two signed integers and reports
// false on overflow instead of wrapping.
func mulChecked(a int64, b int64) (int64, bool) {

	if (a == 0) || (b == 0) {
		return 0, true
	}

	// MinInt64 negation overflows, handle it up front.
	if ((a == math.MinInt64) && (b != 1)) ||
		((b == math.MinInt64) && (a != 1)) {
		return 0, false
	}

	product := a * b
	if (product / b) != a {
		return 0, false
	}

	return product, true
}

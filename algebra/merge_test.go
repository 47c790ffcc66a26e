package algebra

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Variables

// conflictFreeKinds with matching value pairs used by the
// algebraic property tests below.
var propertyCases = []struct {
	kind Kind
	a    Value
	b    Value
	c    Value
}{
	{Max, IntValue(3), IntValue(-9), IntValue(12)},
	{Max, FloatValue(1.5), FloatValue(-2.25), FloatValue(0.0)},
	{Min, IntValue(3), IntValue(-9), IntValue(12)},
	{Min, FloatValue(1.5), FloatValue(-2.25), FloatValue(0.0)},
	{SetUnion, StringSetValue("x"), StringSetValue("y", "z"), StringSetValue("x", "q")},
	{SetUnion, IntSetValue(1, 2), IntSetValue(2, 3), IntSetValue(5)},
	{SetIntersect, StringSetValue("x", "y"), StringSetValue("y", "z"), StringSetValue("y", "q")},
	{SetIntersect, IntSetValue(1, 2, 3), IntSetValue(2, 3, 4), IntSetValue(3, 4, 5)},
	{Sum, IntValue(5), IntValue(3), IntValue(-7)},
	{Product, IntValue(5), IntValue(3), IntValue(-7)},
}

// Functions

// TestMergeCommutativity verifies merge(k,a,b) == merge(k,b,a)
// for every conflict-free kind.
func TestMergeCommutativity(t *testing.T) {

	for _, test := range propertyCases {

		ab := Merge(test.kind, test.a, test.b)
		ba := Merge(test.kind, test.b, test.a)

		require.Equal(t, Merged, ab.Outcome, "kind %v", test.kind)
		require.Equal(t, Merged, ba.Outcome, "kind %v", test.kind)
		assert.True(t, ab.Value.Equal(ba.Value), "kind %v: %v != %v", test.kind, ab.Value, ba.Value)
	}
}

// TestMergeAssociativity verifies that all groupings of
// pairwise merges over three concurrent values agree.
func TestMergeAssociativity(t *testing.T) {

	for _, test := range propertyCases {

		ab := Merge(test.kind, test.a, test.b)
		require.Equal(t, Merged, ab.Outcome)
		abc := Merge(test.kind, ab.Value, test.c)
		require.Equal(t, Merged, abc.Outcome)

		bc := Merge(test.kind, test.b, test.c)
		require.Equal(t, Merged, bc.Outcome)
		bca := Merge(test.kind, test.a, bc.Value)
		require.Equal(t, Merged, bca.Outcome)

		assert.True(t, abc.Value.Equal(bca.Value), "kind %v: %v != %v", test.kind, abc.Value, bca.Value)
	}
}

// TestMergeIdempotency verifies merge(k,a,a) == a for the
// semilattice subset only.
func TestMergeIdempotency(t *testing.T) {

	for _, test := range propertyCases {

		if !test.kind.Semilattice() {
			continue
		}

		aa := Merge(test.kind, test.a, test.a)
		require.Equal(t, Merged, aa.Outcome)
		assert.True(t, aa.Value.Equal(test.a), "kind %v: %v != %v", test.kind, aa.Value, test.a)
	}
}

// TestMergeScenarios covers the concrete convergence
// examples from the design discussion.
func TestMergeScenarios(t *testing.T) {

	// Two concurrent counter increments add up.
	sum := Merge(Sum, IntValue(5), IntValue(3))
	require.Equal(t, Merged, sum.Outcome)
	assert.Equal(t, int64(8), sum.Value.Int)

	// Two concurrent tag additions union.
	tags := Merge(SetUnion, StringSetValue("x"), StringSetValue("y"))
	require.Equal(t, Merged, tags.Outcome)
	assert.True(t, tags.Value.Equal(StringSetValue("x", "y")))
}

// TestMergeGenericAlwaysConflict makes sure no generic or
// unknown kind is ever silently merged.
func TestMergeGenericAlwaysConflict(t *testing.T) {

	for _, kind := range []Kind{Overwrite, CondOverwrite, Unknown} {

		res := Merge(kind, BytesValue([]byte("red")), BytesValue([]byte("blue")))
		assert.Equal(t, Conflict, res.Outcome, "kind %v", kind)

		// Even identical values are not merged for
		// kinds without an algebraic guarantee.
		res = Merge(kind, IntValue(1), IntValue(1))
		assert.Equal(t, Conflict, res.Outcome, "kind %v", kind)
	}
}

// TestMergeOverflow checks that wrapped integer arithmetic
// surfaces as the dedicated Overflow outcome.
func TestMergeOverflow(t *testing.T) {

	res := Merge(Sum, IntValue(math.MaxInt64), IntValue(1))
	assert.Equal(t, Overflow, res.Outcome)

	res = Merge(Sum, IntValue(math.MinInt64), IntValue(-1))
	assert.Equal(t, Overflow, res.Outcome)

	res = Merge(Product, IntValue(math.MaxInt64), IntValue(2))
	assert.Equal(t, Overflow, res.Outcome)

	res = Merge(Product, IntValue(math.MinInt64), IntValue(-1))
	assert.Equal(t, Overflow, res.Outcome)

	// Values away from the boundary keep merging fine.
	res = Merge(Sum, IntValue(math.MaxInt64-1), IntValue(1))
	require.Equal(t, Merged, res.Outcome)
	assert.Equal(t, int64(math.MaxInt64), res.Value.Int)
}

// TestMergeTypeMismatch checks that tags not fitting the
// kind's required shape surface distinctly from Conflict.
func TestMergeTypeMismatch(t *testing.T) {

	// Maximum applied to two sets.
	res := Merge(Max, StringSetValue("x"), StringSetValue("y"))
	assert.Equal(t, TypeMismatch, res.Outcome)

	// Mixed numeric tags do not combine either.
	res = Merge(Sum, IntValue(1), FloatValue(2.0))
	assert.Equal(t, TypeMismatch, res.Outcome)

	// Union over bytes.
	res = Merge(SetUnion, BytesValue([]byte{1}), BytesValue([]byte{2}))
	assert.Equal(t, TypeMismatch, res.Outcome)
}

// TestCheckedArithmetic exercises the helpers directly
// around their boundaries.
func TestCheckedArithmetic(t *testing.T) {

	sum, ok := addChecked(math.MaxInt64, 0)
	assert.True(t, ok)
	assert.Equal(t, int64(math.MaxInt64), sum)

	_, ok = addChecked(math.MaxInt64, math.MaxInt64)
	assert.False(t, ok)

	product, ok := mulChecked(math.MinInt64, 1)
	assert.True(t, ok)
	assert.Equal(t, int64(math.MinInt64), product)

	_, ok = mulChecked(math.MinInt64, 2)
	assert.False(t, ok)

	product, ok = mulChecked(0, math.MinInt64)
	assert.True(t, ok)
	assert.Equal(t, int64(0), product)
}

package clock

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Functions

// TestTick executes a white-box unit test on
// implemented Tick() function.
func TestTick(t *testing.T) {

	c := New("worker-1", "worker-2")

	assert.Equal(t, uint64(0), c.Entry("worker-1"))

	// A node's own entry has to strictly increase
	// with every locally originated event.
	for i := 1; i <= 100; i++ {
		c.Tick("worker-1")
		assert.Equal(t, uint64(i), c.Entry("worker-1"))
	}

	// Ticking never touches foreign entries.
	assert.Equal(t, uint64(0), c.Entry("worker-2"))
}

// TestCompare checks all four outcomes of the
// happened-before partial order.
func TestCompare(t *testing.T) {

	a := New("worker-1", "worker-2")
	b := New("worker-1", "worker-2")

	// Fresh clocks are equal.
	assert.Equal(t, OrderEqual, a.Compare(b))
	assert.Equal(t, OrderEqual, b.Compare(a))

	// One local event at worker-1 makes a dominate b.
	a.Tick("worker-1")
	assert.Equal(t, OrderAfter, a.Compare(b))
	assert.Equal(t, OrderBefore, b.Compare(a))

	// An independent event at worker-2 makes them concurrent.
	b.Tick("worker-2")
	assert.Equal(t, OrderConcurrent, a.Compare(b))
	assert.Equal(t, OrderConcurrent, b.Compare(a))

	// Folding b into a re-establishes dominance of a
	// after a further local event.
	a.Fold(b)
	a.Tick("worker-1")
	assert.Equal(t, OrderAfter, a.Compare(b))
	assert.Equal(t, OrderBefore, b.Compare(a))
}

// TestCompareMissingEntries verifies that an absent
// entry compares like an explicit zero entry.
func TestCompareMissingEntries(t *testing.T) {

	a := Clock{"worker-1": 2}
	b := Clock{"worker-1": 2, "worker-2": 0}

	assert.Equal(t, OrderEqual, a.Compare(b))
	assert.Equal(t, OrderEqual, b.Compare(a))

	b.Tick("worker-2")
	assert.Equal(t, OrderBefore, a.Compare(b))
	assert.Equal(t, OrderAfter, b.Compare(a))
}

// TestFold checks that folding takes pairwise maxima
// and never decreases any entry.
func TestFold(t *testing.T) {

	a := Clock{"worker-1": 5, "worker-2": 1}
	b := Clock{"worker-1": 2, "worker-2": 7, "storage": 3}

	a.Fold(b)

	assert.Equal(t, uint64(5), a.Entry("worker-1"))
	assert.Equal(t, uint64(7), a.Entry("worker-2"))
	assert.Equal(t, uint64(3), a.Entry("storage"))

	// Folding is idempotent.
	before := a.Copy()
	a.Fold(b)
	assert.Equal(t, OrderEqual, a.Compare(before))
}

// TestCausalityTrace replays a constructed event trace
// with known causal structure and checks that Compare
// reflects exactly the happened-before relation.
func TestCausalityTrace(t *testing.T) {

	// Three nodes, fresh clocks.
	a := New("a", "b", "c")
	b := New("a", "b", "c")
	c := New("a", "b", "c")

	// Event e1: local event at a.
	a.Tick("a")
	e1 := a.Copy()

	// Event e2: a sends to b, b receives. Receiving
	// folds and ticks the receiver's own entry.
	b.Fold(a)
	b.Tick("b")
	e2 := b.Copy()

	// Event e3: independent local event at c.
	c.Tick("c")
	e3 := c.Copy()

	// Event e4: b sends to c, c receives.
	c.Fold(b)
	c.Tick("c")
	e4 := c.Copy()

	// e1 -> e2 -> e4 via messages, e3 -> e4 locally.
	assert.Equal(t, OrderBefore, e1.Compare(e2))
	assert.Equal(t, OrderBefore, e2.Compare(e4))
	assert.Equal(t, OrderBefore, e1.Compare(e4))
	assert.Equal(t, OrderBefore, e3.Compare(e4))

	// e3 is concurrent to both e1 and e2.
	assert.Equal(t, OrderConcurrent, e3.Compare(e1))
	assert.Equal(t, OrderConcurrent, e3.Compare(e2))
}

// TestCopy verifies snapshot independence.
func TestCopy(t *testing.T) {

	a := New("worker-1")
	a.Tick("worker-1")

	snapshot := a.Copy()
	a.Tick("worker-1")

	assert.Equal(t, uint64(1), snapshot.Entry("worker-1"))
	assert.Equal(t, uint64(2), a.Entry("worker-1"))
}

// TestSaveLoad round-trips a clock through its log file
// representation.
func TestSaveLoad(t *testing.T) {

	log, err := os.CreateTemp(t.TempDir(), "clock.log")
	require.Nil(t, err)
	defer log.Close()

	a := Clock{"worker-1": 17, "worker-2": 3, "storage": 0}
	require.Nil(t, a.Save(log))

	// Save again after advancing to make sure the
	// truncate path overwrites stale contents.
	a.Tick("worker-1")
	require.Nil(t, a.Save(log))

	b := New("worker-1", "worker-2", "storage")
	require.Nil(t, b.Load(log))

	assert.Equal(t, OrderEqual, a.Compare(b))
	assert.Equal(t, uint64(18), b.Entry("worker-1"))
}

// TestLoadEmpty ensures a fresh log file leaves
// the clock untouched.
func TestLoadEmpty(t *testing.T) {

	log, err := os.CreateTemp(t.TempDir(), "clock.log")
	require.Nil(t, err)
	defer log.Close()

	c := New("worker-1")
	require.Nil(t, c.Load(log))
	assert.Equal(t, uint64(0), c.Entry("worker-1"))
}

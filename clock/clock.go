package clock

// Constants

// Ordering describes how two clocks relate under
// the happened-before partial order.
type Ordering int

const (
	// OrderEqual means both clocks carry identical entries.
	OrderEqual Ordering = iota

	// OrderBefore means the receiver causally precedes the argument.
	OrderBefore

	// OrderAfter means the argument causally precedes the receiver.
	OrderAfter

	// OrderConcurrent means neither clock dominates the other.
	OrderConcurrent
)

// Structs

// Clock tracks one event counter per known node. The zero
// counter is implied for nodes absent from the map, so a
// missing entry and an explicit zero entry compare equal.
type Clock map[string]uint64

// Functions

// New returns a clock with all supplied node
// entries initialized to zero.
func New(nodes ...string) Clock {

	c := make(Clock, len(nodes))

	for _, node := range nodes {
		c[node] = 0
	}

	return c
}

// String returns the ordering name for logging purposes.
func (o Ordering) String() string {

	switch o {
	case OrderEqual:
		return "equal"
	case OrderBefore:
		return "before"
	case OrderAfter:
		return "after"
	default:
		return "concurrent"
	}
}

// Tick increments the entry of the supplied node by one.
// It is called exactly once per locally originated event
// and only ever with the owning node's own name.
func (c Clock) Tick(node string) {
	c[node]++
}

// Entry returns the counter stored for node,
// zero if the node is unknown.
func (c Clock) Entry(node string) uint64 {
	return c[node]
}

// Fold raises every entry of the receiver to the pairwise
// maximum with the corresponding entry of other. It is a
// pure merge: the caller decides separately whether the
// fold was triggered by an incoming message and therefore
// warrants an additional Tick of its own entry.
func (c Clock) Fold(other Clock) {

	for node, value := range other {

		if value > c[node] {
			c[node] = value
		}
	}
}

// Compare relates the receiver to other under the vector
// clock partial order. It is a read-only query and never
// mutates either clock.
func (c Clock) Compare(other Clock) Ordering {

	var less, greater bool

	// Check all entries present in the receiver
	// against their counterpart in other.
	for node, value := range c {

		if value < other[node] {
			less = true
		} else if value > other[node] {
			greater = true
		}
	}

	// Entries only present in other count as a zero
	// entry on the receiver's side.
	for node, value := range other {

		if _, found := c[node]; !found && (value > 0) {
			less = true
		}
	}

	switch {
	case less && greater:
		return OrderConcurrent
	case less:
		return OrderBefore
	case greater:
		return OrderAfter
	default:
		return OrderEqual
	}
}

// Copy returns a deep copy of the clock so that callers
// can snapshot it without racing later Tick or Fold calls.
func (c Clock) Copy() Clock {

	copied := make(Clock, len(c))

	for node, value := range c {
		copied[node] = value
	}

	return copied
}

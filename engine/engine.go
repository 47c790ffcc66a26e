package engine

import (
	"fmt"
	"sync"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/pkg/errors"

	"github.com/go-lattice/lattice/algebra"
	"github.com/go-lattice/lattice/clock"
	"github.com/go-lattice/lattice/comm"
	"github.com/go-lattice/lattice/txn"
)

// Constants

// Decision classifies what the engine did with an
// incoming remote update.
type Decision uint8

const (
	// Discarded means the update was already incorporated
	// or stale; no side effect.
	Discarded Decision = iota

	// Superseded means the update causally dominated the
	// local cell and its value was adopted.
	Superseded

	// Merged means the update was concurrent and combined
	// through the algebraic rule of its kind.
	Merged

	// Conflicted means the update was concurrent but not
	// mergeable; a conflict record was emitted and local
	// state left untouched.
	Conflicted
)

// Structs

// Conflict is the structured record emitted when the
// engine cannot auto-resolve a concurrent update. The
// reason distinguishes a legitimate concurrency conflict
// from a schema bug (type mismatch) and from checked
// arithmetic overflow.
type Conflict struct {
	Table  string
	Column string
	Key    string
	Local  algebra.Value
	Remote algebra.Value
	Reason algebra.Outcome
}

// ConflictSink receives conflict records. The external
// collaborator behind the sink decides the resolution;
// the engine takes no further action.
type ConflictSink interface {
	Report(c Conflict)
}

// LogSink is the sink shipped with the engine: it logs
// each conflict record at warn level.
type LogSink struct {
	Logger log.Logger
}

// Metrics bundles the engine counters.
type Metrics struct {
	MergesApplied     metrics.Counter
	UpdatesDiscarded  metrics.Counter
	UpdatesSuperseded metrics.Counter
	Conflicts         metrics.Counter
}

// cell is the per-key state of one (table, column, key)
// triple, guarded by its own exclusion region.
type cell struct {
	lock  sync.Mutex
	has   bool
	kind  algebra.Kind
	value algebra.Value
	clk   clock.Clock
}

// Engine holds cell state for all keys of a node.
type Engine struct {
	lock    sync.RWMutex
	cells   map[string]*cell
	sink    ConflictSink
	logger  log.Logger
	metrics *Metrics
}

// Functions

// String returns the decision name for logging purposes.
func (d Decision) String() string {

	switch d {
	case Discarded:
		return "discarded"
	case Superseded:
		return "superseded"
	case Merged:
		return "merged"
	default:
		return "conflicted"
	}
}

// Report implements ConflictSink.
func (s *LogSink) Report(c Conflict) {

	level.Warn(s.Logger).Log(
		"msg", "concurrent update could not be auto-resolved",
		"table", c.Table,
		"column", c.Column,
		"key", c.Key,
		"local", c.Local.String(),
		"remote", c.Remote.String(),
		"reason", c.Reason.String(),
	)
}

// DiscardMetrics returns a metrics bundle that counts
// into the void, for tests and metric-less deployments.
func DiscardMetrics() *Metrics {

	return &Metrics{
		MergesApplied:     discard.NewCounter(),
		UpdatesDiscarded:  discard.NewCounter(),
		UpdatesSuperseded: discard.NewCounter(),
		Conflicts:         discard.NewCounter(),
	}
}

// InitEngine returns an engine reporting unresolvable
// conflicts to the supplied sink. A nil metrics bundle
// falls back to discarding counters.
func InitEngine(logger log.Logger, sink ConflictSink, m *Metrics) *Engine {

	if m == nil {
		m = DiscardMetrics()
	}

	return &Engine{
		cells:   make(map[string]*cell),
		sink:    sink,
		logger:  logger,
		metrics: m,
	}
}

// cellName builds the map key of one cell.
func cellName(table string, column string, key string) string {
	return fmt.Sprintf("%s/%s/%s", table, column, key)
}

// entry returns the cell for the triple, creating it on
// first touch.
func (e *Engine) entry(table string, column string, key string) *cell {

	name := cellName(table, column, key)

	// Fast path under read lock.
	e.lock.RLock()
	c, found := e.cells[name]
	e.lock.RUnlock()

	if found {
		return c
	}

	e.lock.Lock()
	defer e.lock.Unlock()

	// Re-check, another goroutine may have created it.
	c, found = e.cells[name]
	if !found {
		c = new(cell)
		e.cells[name] = c
	}

	return c
}

// ApplyLocal folds a locally committed operation into the
// cell under the commit clock. The clock tick and the
// value update form one atomic unit per cell. Overflow of
// checked integer arithmetic is the one inline failure of
// the local commit path and aborts the caller's commit.
func (e *Engine) ApplyLocal(op txn.Operation, commitClock clock.Clock) error {

	c := e.entry(op.Table, op.Column, op.Key)

	c.lock.Lock()
	defer c.lock.Unlock()

	// First write to this cell adopts the operation value
	// as-is; for Abelian kinds this equals folding into
	// the identity element.
	if !c.has {
		c.has = true
		c.kind = op.Kind
		c.value = op.Value.Copy()
		c.clk = commitClock.Copy()
		return nil
	}

	if op.Kind.ConflictFree() {

		res := algebra.Merge(op.Kind, c.value, op.Value)
		switch res.Outcome {
		case algebra.Merged:
			c.value = res.Value
		case algebra.Overflow:
			return errors.Errorf("local %s on cell %s overflowed", op.Kind, cellName(op.Table, op.Column, op.Key))
		default:
			return errors.Errorf("local %s on cell %s does not fit stored value %s", op.Kind, cellName(op.Table, op.Column, op.Key), c.value)
		}
	} else {
		// Generic kinds replace. Local commits on one node
		// are serialized per cell, so this is not a guess
		// between concurrent writers.
		c.value = op.Value.Copy()
	}

	c.kind = op.Kind
	c.clk = commitClock.Copy()

	return nil
}

// ApplyRemote decides the fate of one incoming update.
// Abelian updates carry the operation delta and fold in
// unconditionally: the receiver admits each origin event
// exactly once and in per-origin order, and addition and
// multiplication commute, so every contribution counts
// regardless of how its clock relates to the cell.
// Semilattice and generic updates carry the committed
// cell value and pass the clock gate: discard if already
// incorporated, adopt if dominating, merge algebraically
// if concurrent and idempotent, and surface a conflict
// record otherwise. Overwrite and CondOverwrite are never
// applied automatically on a concurrent relation.
func (e *Engine) ApplyRemote(u comm.Update) Decision {

	c := e.entry(u.Table, u.Column, u.Key)

	c.lock.Lock()
	defer c.lock.Unlock()

	// A cell never written locally is dominated by any
	// incoming update. For an Abelian delta this equals
	// folding into the identity element.
	if !c.has {

		c.has = true
		c.kind = u.Kind
		c.value = u.Value.Copy()
		c.clk = u.Clock.Copy()

		e.metrics.UpdatesSuperseded.Add(1)
		return Superseded
	}

	if u.Kind.Abelian() {
		return e.foldAbelian(c, u)
	}

	switch u.Clock.Compare(c.clk) {

	case clock.OrderBefore, clock.OrderEqual:
		// Already incorporated or stale, no side effect.
		e.metrics.UpdatesDiscarded.Add(1)
		return Discarded

	case clock.OrderAfter:
		// The update causally follows everything we hold
		// for this cell: adopt its value.
		c.kind = u.Kind
		c.value = u.Value.Copy()
		c.clk.Fold(u.Clock)

		e.metrics.UpdatesSuperseded.Add(1)
		return Superseded

	default:
		return e.mergeConcurrent(c, u)
	}
}

// foldAbelian folds one remote Sum or Product delta into
// the cell. The clock gate does not apply: a delta older
// than the cell clock is still a contribution this cell
// has never seen, because local commit clocks cover origin
// events that touched other cells. Caller holds the cell
// lock.
func (e *Engine) foldAbelian(c *cell, u comm.Update) Decision {

	reason := algebra.TypeMismatch

	if c.kind == u.Kind {

		res := algebra.Merge(u.Kind, c.value, u.Value)
		if res.Outcome == algebra.Merged {

			c.value = res.Value
			c.clk.Fold(u.Clock)

			e.metrics.MergesApplied.Add(1)
			return Merged
		}

		reason = res.Outcome
	}

	e.sink.Report(Conflict{
		Table:  u.Table,
		Column: u.Column,
		Key:    u.Key,
		Local:  c.value.Copy(),
		Remote: u.Value.Copy(),
		Reason: reason,
	})

	e.metrics.Conflicts.Add(1)
	return Conflicted
}

// mergeConcurrent handles the concurrent branch of
// ApplyRemote for semilattice and generic kinds. Caller
// holds the cell lock.
func (e *Engine) mergeConcurrent(c *cell, u comm.Update) Decision {

	// Concurrent writes may only combine automatically if
	// both sides declare the same conflict-free kind.
	reason := algebra.Conflict

	if u.Kind.ConflictFree() && (u.Kind == c.kind) {

		res := algebra.Merge(u.Kind, c.value, u.Value)
		if res.Outcome == algebra.Merged {

			c.value = res.Value
			c.clk.Fold(u.Clock)

			e.metrics.MergesApplied.Add(1)
			return Merged
		}

		reason = res.Outcome

	} else if u.Kind.ConflictFree() != c.kind.ConflictFree() || (u.Kind.ConflictFree() && (u.Kind != c.kind)) {
		// Diverging kind declarations point at a schema or
		// classification bug, not a legitimate concurrent
		// write.
		reason = algebra.TypeMismatch
	}

	e.sink.Report(Conflict{
		Table:  u.Table,
		Column: u.Column,
		Key:    u.Key,
		Local:  c.value.Copy(),
		Remote: u.Value.Copy(),
		Reason: reason,
	})

	e.metrics.Conflicts.Add(1)
	return Conflicted
}

// Lookup returns the committed value and clock of a cell.
func (e *Engine) Lookup(table string, column string, key string) (algebra.Value, clock.Clock, bool) {

	c := e.entry(table, column, key)

	c.lock.Lock()
	defer c.lock.Unlock()

	if !c.has {
		return algebra.Value{}, nil, false
	}

	return c.value.Copy(), c.clk.Copy(), true
}

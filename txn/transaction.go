package txn

import (
	"github.com/pkg/errors"
	uuid "github.com/satori/go.uuid"

	"github.com/go-lattice/lattice/algebra"
	"github.com/go-lattice/lattice/clock"
)

// Constants

// State is the lifecycle position of a transaction.
type State uint8

const (
	// StateBuilding accepts operation appends.
	StateBuilding State = iota

	// StateLocalCommitted marks a transaction applied
	// locally without coordination.
	StateLocalCommitted

	// StateAwaitingCoordination marks a transaction
	// handed to the external coordinator.
	StateAwaitingCoordination

	// StatePropagating marks a committed transaction
	// whose updates are queued for anti-entropy.
	StatePropagating

	// StateAcknowledged marks a transaction whose
	// updates have been handed to the propagation layer.
	StateAcknowledged

	// StateAborted is terminal; aborted transactions
	// are never propagated.
	StateAborted
)

// Structs

// Operation is one write against a single (table, column,
// key) cell. Operations are immutable once created.
type Operation struct {
	Table  string
	Column string
	Key    string
	Kind   algebra.Kind
	Value  algebra.Value
	Origin string
}

// Transaction is an ordered collection of operations plus
// the clock snapshot taken at transaction start and the
// schema version stamp it was built against.
type Transaction struct {
	ID            string
	Snapshot      clock.Clock
	SchemaVersion uint32
	ops           []Operation
	state         State
}

// Functions

// String returns the state name for logging purposes.
func (s State) String() string {

	switch s {
	case StateBuilding:
		return "building"
	case StateLocalCommitted:
		return "local_committed"
	case StateAwaitingCoordination:
		return "awaiting_coordination"
	case StatePropagating:
		return "propagating"
	case StateAcknowledged:
		return "acknowledged"
	default:
		return "aborted"
	}
}

// Begin opens a fresh transaction in Building state over
// the supplied clock snapshot and schema version.
func Begin(snapshot clock.Clock, schemaVersion uint32) *Transaction {

	return &Transaction{
		ID:            uuid.NewV4().String(),
		Snapshot:      snapshot,
		SchemaVersion: schemaVersion,
		state:         StateBuilding,
	}
}

// Append adds an operation. Only legal while Building.
func (t *Transaction) Append(op Operation) error {

	if t.state != StateBuilding {
		return errors.Errorf("cannot append to transaction %s in state %s", t.ID, t.state)
	}

	t.ops = append(t.ops, op)

	return nil
}

// Ops returns the frozen view of the appended operations.
func (t *Transaction) Ops() []Operation {
	return t.ops
}

// State returns the current lifecycle position.
func (t *Transaction) State() State {
	return t.state
}

// Abandon drops a Building transaction with no effect.
// No operation was ever applied, so there is nothing to
// roll back.
func (t *Transaction) Abandon() error {
	return t.To(StateAborted)
}

// To moves the transaction to the supplied state,
// enforcing the legal lifecycle:
//
//	Building -> {LocalCommitted | AwaitingCoordination | Aborted}
//	LocalCommitted -> Propagating
//	AwaitingCoordination -> {Propagating | Aborted}
//	Propagating -> Acknowledged
func (t *Transaction) To(next State) error {

	legal := false

	switch t.state {
	case StateBuilding:
		legal = (next == StateLocalCommitted) || (next == StateAwaitingCoordination) || (next == StateAborted)
	case StateLocalCommitted:
		legal = (next == StatePropagating)
	case StateAwaitingCoordination:
		legal = (next == StatePropagating) || (next == StateAborted)
	case StatePropagating:
		legal = (next == StateAcknowledged)
	}

	if !legal {
		return errors.Errorf("illegal transaction state transition %s -> %s", t.state, next)
	}

	t.state = next

	return nil
}

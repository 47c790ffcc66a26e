package txn

import (
	"context"

	"github.com/go-lattice/lattice/algebra"
	"github.com/go-lattice/lattice/schema"
)

// Constants

// Decision is the admission outcome for a transaction.
type Decision uint8

const (
	// LocalCommitEligible allows immediate, durable local
	// commit without contacting peers or a coordinator.
	LocalCommitEligible Decision = iota

	// RequiresCoordination forces the transaction through
	// the external coordinator before it may take effect.
	RequiresCoordination
)

// CoordinatorOutcome is the result the external
// coordinator reports for a coordinated transaction.
type CoordinatorOutcome uint8

const (
	// CoordCommitted means the coordinator committed the
	// transaction on all participants.
	CoordCommitted CoordinatorOutcome = iota

	// CoordAborted means the coordinator gave up; the
	// transaction is aborted and never propagated.
	CoordAborted
)

// Structs

// Coordinator is the external collaborator deciding the
// fate of coordination-required transactions. Opaque to
// this core beyond its two outcomes; a timeout or error
// counts as CoordAborted and is never retried here.
type Coordinator interface {
	Coordinate(ctx context.Context, t *Transaction) (CoordinatorOutcome, error)
}

// Admission classifies whole transactions against the
// schema's column annotations.
type Admission struct {
	classifier *schema.Classifier
}

// Functions

// String returns the decision name for logging purposes.
func (d Decision) String() string {

	if d == LocalCommitEligible {
		return "local_commit_eligible"
	}

	return "requires_coordination"
}

// NewAdmission wraps the supplied classifier.
func NewAdmission(classifier *schema.Classifier) *Admission {

	return &Admission{
		classifier: classifier,
	}
}

// Resolve returns the effective kind of an operation: the
// kind declared on the operation itself, or the schema's
// classification when the operation left it Unknown. A
// declared kind contradicting the schema resolves to
// Unknown so that the disagreement forces coordination
// instead of a divergent merge.
func (a *Admission) Resolve(op Operation) algebra.Kind {

	declared := a.classifier.Classify(op.Table, op.Column)

	if op.Kind == algebra.Unknown {
		return declared
	}

	if (declared != algebra.Unknown) && (declared != op.Kind) {
		return algebra.Unknown
	}

	return op.Kind
}

// Classify decides whether the whole transaction may
// commit locally. Eligible iff every operation's resolved
// kind is conflict-free; a single generic or unknown
// operation makes the full transaction coordinate.
func (a *Admission) Classify(t *Transaction) Decision {

	for _, op := range t.Ops() {

		if !a.Resolve(op).ConflictFree() {
			return RequiresCoordination
		}
	}

	return LocalCommitEligible
}

package schema

import "github.com/go-lattice/lattice/algebra"

// Structs

// Classifier maps a (table, column) pair to its declared
// operation kind. It is a pure lookup: unannotated columns
// degrade to the table default and finally to Unknown,
// never to an error, so unclassified columns fall back to
// coordination-required behavior instead of failing the
// caller.
type Classifier struct {
	registry Registry
}

// Functions

// NewClassifier wraps the supplied read-only registry.
func NewClassifier(registry Registry) *Classifier {

	return &Classifier{
		registry: registry,
	}
}

// Classify returns the declared kind of a column.
func (c *Classifier) Classify(table string, column string) algebra.Kind {

	kind, _, found := c.registry.ColumnKind(table, column)
	if found {
		return kind
	}

	return c.registry.TableDefault(table)
}

// Identity returns the identity element of an annotated
// Abelian column and false for every other column.
func (c *Classifier) Identity(table string, column string) (algebra.Value, bool) {

	kind, identity, found := c.registry.ColumnKind(table, column)
	if !found || !kind.Abelian() {
		return algebra.Value{}, false
	}

	return identity, true
}

// SchemaVersion exposes the registry's version stamp.
func (c *Classifier) SchemaVersion() uint32 {
	return c.registry.Version()
}

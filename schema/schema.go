// Package schema provides the read-only column annotation
// registry consulted by the operation classifier. The
// registry is an injected capability, not a process-wide
// singleton, so tests can substitute fixed schemas.
package schema

import (
	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	"github.com/go-lattice/lattice/algebra"
)

// Structs

// Registry is the catalog lookup the classifier consumes.
// Implementations must be safe for concurrent readers.
type Registry interface {

	// ColumnKind returns the declared kind of a column,
	// its identity element for Abelian kinds, and whether
	// the column carries an annotation at all.
	ColumnKind(table string, column string) (algebra.Kind, algebra.Value, bool)

	// TableDefault returns the fallback kind for columns
	// of a table without their own annotation.
	TableDefault(table string) algebra.Kind

	// Version returns the schema version stamp carried by
	// every transaction and versioned update.
	Version() uint32
}

// FileSchema is a Registry loaded from a TOML schema file.
// It is immutable after loading.
type FileSchema struct {
	SchemaVersion uint32           `toml:"version"`
	Tables        map[string]Table `toml:"tables"`
}

// Table holds the column annotations of one table.
type Table struct {
	Default string            `toml:"default"`
	Columns map[string]Column `toml:"columns"`
}

// Column declares the algebraic kind of one column and,
// for Abelian kinds, an optional identity override.
type Column struct {
	Kind          string   `toml:"kind"`
	IdentityInt   *int64   `toml:"identity_int"`
	IdentityFloat *float64 `toml:"identity_float"`
}

// Functions

// LoadSchema reads the schema file in TOML syntax and
// validates its annotations.
func LoadSchema(schemaFile string) (*FileSchema, error) {

	schema := new(FileSchema)

	// Parse values from TOML file into struct.
	_, err := toml.DecodeFile(schemaFile, schema)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read in TOML schema file at '%s'", schemaFile)
	}

	for tableName, table := range schema.Tables {

		for columnName, column := range table.Columns {

			kind := algebra.ParseKind(column.Kind)

			// Identity overrides are only meaningful for
			// Abelian kinds; anywhere else they indicate a
			// schema bug worth failing loudly over.
			if ((column.IdentityInt != nil) || (column.IdentityFloat != nil)) && !kind.Abelian() {
				return nil, errors.Errorf("column '%s.%s' declares an identity element but kind '%s' is not Abelian", tableName, columnName, kind)
			}

			if (column.IdentityInt != nil) && (column.IdentityFloat != nil) {
				return nil, errors.Errorf("column '%s.%s' declares both an integer and a float identity element", tableName, columnName)
			}
		}
	}

	return schema, nil
}

// ColumnKind implements Registry.
func (schema *FileSchema) ColumnKind(table string, column string) (algebra.Kind, algebra.Value, bool) {

	tableSchema, found := schema.Tables[table]
	if !found {
		return algebra.Unknown, algebra.Value{}, false
	}

	columnSchema, found := tableSchema.Columns[column]
	if !found {
		return algebra.Unknown, algebra.Value{}, false
	}

	kind := algebra.ParseKind(columnSchema.Kind)

	// Resolve the identity element: explicit override
	// first, otherwise the kind's own identity.
	identity := algebra.Value{}
	if columnSchema.IdentityInt != nil {
		identity = algebra.IntValue(*columnSchema.IdentityInt)
	} else if columnSchema.IdentityFloat != nil {
		identity = algebra.FloatValue(*columnSchema.IdentityFloat)
	} else if kindIdentity, ok := kind.Identity(); ok {
		identity = kindIdentity
	}

	return kind, identity, true
}

// TableDefault implements Registry.
func (schema *FileSchema) TableDefault(table string) algebra.Kind {

	tableSchema, found := schema.Tables[table]
	if !found {
		return algebra.Unknown
	}

	return algebra.ParseKind(tableSchema.Default)
}

// Version implements Registry.
func (schema *FileSchema) Version() uint32 {
	return schema.SchemaVersion
}

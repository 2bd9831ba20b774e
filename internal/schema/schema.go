// Package schema declares the tables mirrored into the local store and the
// builders that construct well-formed rows for them.
package schema

import (
	"fmt"
	"strings"
)

// ColumnType is the SQLite affinity of a column
type ColumnType string

const (
	Text    ColumnType = "TEXT"
	Integer ColumnType = "INTEGER"
	Real    ColumnType = "REAL"
)

// Column is a non-key column. Every table has an implicit "id TEXT PRIMARY KEY".
type Column struct {
	Name string
	Type ColumnType
}

// Index is a secondary index on a table
type Index struct {
	Name    string
	Columns []string
}

// Table describes one table of the local replica
type Table struct {
	Name    string
	Columns []Column
	Indexes []Index

	// LocalOnly tables are neither journaled nor downloaded.
	LocalOnly bool

	// ReadOnly tables are downloaded but local writes are not journaled.
	ReadOnly bool
}

// Journaled reports whether local writes to the table are uploaded
func (t Table) Journaled() bool {
	return !t.LocalOnly && !t.ReadOnly
}

// Downloaded reports whether the table is pulled from the remote backend
func (t Table) Downloaded() bool {
	return !t.LocalOnly
}

// ColumnNames returns the non-key column names in declaration order
func (t Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// HasColumn reports whether name is "id" or a declared column
func (t Table) HasColumn(name string) bool {
	if name == "id" {
		return true
	}
	for _, c := range t.Columns {
		if c.Name == name {
			return true
		}
	}
	return false
}

// DDL returns the CREATE TABLE and CREATE INDEX statements for the table
func (t Table) DDL() []string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n\tid TEXT PRIMARY KEY NOT NULL", t.Name)
	for _, c := range t.Columns {
		fmt.Fprintf(&b, ",\n\t%s %s", c.Name, c.Type)
	}
	b.WriteString("\n)")

	stmts := []string{b.String()}
	for _, idx := range t.Indexes {
		stmts = append(stmts, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
			idx.Name, t.Name, strings.Join(idx.Columns, ", ")))
	}
	return stmts
}

// Schema is an ordered set of tables
type Schema struct {
	tables []Table
	byName map[string]int
}

// New creates a schema from the given tables.
// It panics on duplicate table names since schemas are declared statically.
func New(tables ...Table) *Schema {
	s := &Schema{
		tables: make([]Table, 0, len(tables)),
		byName: make(map[string]int, len(tables)),
	}
	for _, t := range tables {
		if _, dup := s.byName[t.Name]; dup {
			panic(fmt.Sprintf("schema: duplicate table %q", t.Name))
		}
		s.byName[t.Name] = len(s.tables)
		s.tables = append(s.tables, t)
	}
	return s
}

// Table looks up a table by name
func (s *Schema) Table(name string) (Table, bool) {
	i, ok := s.byName[name]
	if !ok {
		return Table{}, false
	}
	return s.tables[i], true
}

// Tables returns all tables in declaration order
func (s *Schema) Tables() []Table {
	out := make([]Table, len(s.tables))
	copy(out, s.tables)
	return out
}

// Downloaded returns the tables pulled from the backend, in declaration order
func (s *Schema) Downloaded() []Table {
	var out []Table
	for _, t := range s.tables {
		if t.Downloaded() {
			out = append(out, t)
		}
	}
	return out
}

// Journaled returns the tables whose local writes are uploaded
func (s *Schema) Journaled() []Table {
	var out []Table
	for _, t := range s.tables {
		if t.Journaled() {
			out = append(out, t)
		}
	}
	return out
}

// Names returns the table names in declaration order
func (s *Schema) Names() []string {
	names := make([]string, len(s.tables))
	for i, t := range s.tables {
		names[i] = t.Name
	}
	return names
}

// SyncedNames returns the names of the tables held by the backend
func (s *Schema) SyncedNames() []string {
	var names []string
	for _, t := range s.Downloaded() {
		names = append(names, t.Name)
	}
	return names
}

package localdb

import "errors"

var (
	// ErrNotFound is returned by Get when the query yields no rows
	ErrNotFound = errors.New("no rows found")

	// ErrUnknownTable is returned when downloaded data names a table outside the schema
	ErrUnknownTable = errors.New("table not in schema")

	// ErrMissingID is returned when a downloaded row has no string id
	ErrMissingID = errors.New("downloaded row has no id")
)

package source

import (
	"database/sql"
	"fmt"
)

// Row is a typed accessor over a single result row.
type Row interface {
	// Columns returns the number of columns in the row.
	Columns() int
	// NullString returns the value of column i. It returns an error when i
	// is out of range.
	NullString(i int) (sql.NullString, error)
}

// Rows is a forward-only cursor over a query result.
type Rows interface {
	Next() bool
	// Row returns the current row. An error here only affects that row.
	Row() (Row, error)
	Err() error
	Close() error
}

// RowMapper turns one result row into a Setting.
type RowMapper func(row Row) (Setting, error)

// ValuesRow is a Row backed by already scanned column values.
type ValuesRow []sql.NullString

// Columns returns the number of columns in the row.
func (v ValuesRow) Columns() int {
	return len(v)
}

// NullString returns the value of column i.
func (v ValuesRow) NullString(i int) (sql.NullString, error) {
	if i < 0 || i >= len(v) {
		return sql.NullString{}, fmt.Errorf("column %d out of range, row has %d columns", i, len(v))
	}
	return v[i], nil
}

// DefaultRowMapper reads the key from the first column and the value from the
// second. A null key maps to an empty key, which is rejected downstream; a
// null value stays null.
func DefaultRowMapper(row Row) (Setting, error) {
	return ColumnRowMapper(0, 1)(row)
}

// ColumnRowMapper returns a RowMapper reading the key and value from the given
// column indexes.
func ColumnRowMapper(keyColumn, valueColumn int) RowMapper {
	return func(row Row) (Setting, error) {
		key, err := row.NullString(keyColumn)
		if err != nil {
			return Setting{}, fmt.Errorf("reading key: %w", err)
		}
		value, err := row.NullString(valueColumn)
		if err != nil {
			return Setting{}, fmt.Errorf("reading value: %w", err)
		}
		return Setting{Key: key.String, Value: value}, nil
	}
}

// mapRow applies mapper to the current row of rows. Panics raised by the
// mapper are returned as errors so that only the offending row is lost.
func mapRow(mapper RowMapper, rows Rows) (setting Setting, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("row mapper panicked: %v", r)
		}
	}()

	row, err := rows.Row()
	if err != nil {
		return Setting{}, fmt.Errorf("scanning row: %w", err)
	}
	return mapper(row)
}

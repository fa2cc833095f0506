package source

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Commander is implemented by connections that can build a Query from SQL text.
type Commander interface {
	Command(text string, args ...interface{}) Query
}

// TextQuery returns a QueryFactory running text with args on connections
// implementing Commander.
func TextQuery(text string, args ...interface{}) QueryFactory {
	return func(conn Connection) (Query, error) {
		commander, ok := conn.(Commander)
		if !ok {
			return nil, fmt.Errorf("connection %T cannot run text queries", conn)
		}
		return commander.Command(text, args...), nil
	}
}

// SQLConnection is a Connection backed by database/sql.
type SQLConnection struct {
	db    *sql.DB
	conn  *sql.Conn
	owned bool // close db together with the connection
}

// SQLConnectionFactory opens a new *sql.DB with driverName and dsn for every
// refresh cycle and closes it afterwards.
func SQLConnectionFactory(driverName, dsn string) ConnectionFactory {
	return func(ctx context.Context) (Connection, error) {
		db, err := sql.Open(driverName, dsn)
		if err != nil {
			return nil, err
		}
		return &SQLConnection{db: db, owned: true}, nil
	}
}

// SQLDBConnectionFactory takes a connection from the shared pool db for every
// refresh cycle. The pool itself is never closed.
func SQLDBConnectionFactory(db *sql.DB) ConnectionFactory {
	return func(ctx context.Context) (Connection, error) {
		if db == nil {
			return nil, errors.New("sql.DB is nil")
		}
		return &SQLConnection{db: db}, nil
	}
}

// Open reserves a single connection for the cycle.
func (s *SQLConnection) Open(ctx context.Context) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return err
	}
	s.conn = conn
	return nil
}

// Close returns the reserved connection and closes an owned pool.
func (s *SQLConnection) Close() error {
	var errs []error
	if s.conn != nil {
		errs = append(errs, s.conn.Close())
		s.conn = nil
	}
	if s.owned {
		errs = append(errs, s.db.Close())
	}
	return errors.Join(errs...)
}

// Command builds a Query running text on the reserved connection.
func (s *SQLConnection) Command(text string, args ...interface{}) Query {
	return &sqlQuery{conn: s, text: text, args: args}
}

type sqlQuery struct {
	conn *SQLConnection
	text string
	args []interface{}
}

func (q *sqlQuery) Execute(ctx context.Context) (Rows, error) {
	if q.conn.conn == nil {
		return nil, errors.New("connection is not open")
	}
	rows, err := q.conn.conn.QueryContext(ctx, q.text, q.args...)
	if err != nil {
		return nil, err
	}
	return newSQLRows(rows)
}

func (q *sqlQuery) Close() error {
	return nil
}

// sqlRows adapts *sql.Rows, scanning every column as a nullable string.
type sqlRows struct {
	rows    *sql.Rows
	columns int
}

func newSQLRows(rows *sql.Rows) (Rows, error) {
	columns, err := rows.Columns()
	if err != nil {
		_ = rows.Close()
		return nil, err
	}
	return &sqlRows{rows: rows, columns: len(columns)}, nil
}

func (r *sqlRows) Next() bool {
	return r.rows.Next()
}

func (r *sqlRows) Row() (Row, error) {
	values := make(ValuesRow, r.columns)
	dest := make([]interface{}, r.columns)
	for i := range values {
		dest[i] = &values[i]
	}
	if err := r.rows.Scan(dest...); err != nil {
		return nil, err
	}
	return values, nil
}

func (r *sqlRows) Err() error {
	return r.rows.Err()
}

func (r *sqlRows) Close() error {
	return r.rows.Close()
}

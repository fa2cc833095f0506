package source

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/spf13/cast"
)

const pgxCloseTimeout = 5 * time.Second

// PgxConnection is a Connection to PostgreSQL using pgx.
type PgxConnection struct {
	connString string
	conn       *pgx.Conn
}

// PgxConnectionFactory connects to connString with pgx for every refresh cycle.
func PgxConnectionFactory(connString string) ConnectionFactory {
	return func(ctx context.Context) (Connection, error) {
		if _, err := pgx.ParseConfig(connString); err != nil {
			return nil, err
		}
		return &PgxConnection{connString: connString}, nil
	}
}

// Open connects to the database.
func (p *PgxConnection) Open(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, p.connString)
	if err != nil {
		return err
	}
	p.conn = conn
	return nil
}

// Close terminates the connection.
func (p *PgxConnection) Close() error {
	if p.conn == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), pgxCloseTimeout)
	defer cancel()
	err := p.conn.Close(ctx)
	p.conn = nil
	return err
}

// Command builds a Query running text on the connection.
func (p *PgxConnection) Command(text string, args ...interface{}) Query {
	return &pgxQuery{conn: p, text: text, args: args}
}

type pgxQuery struct {
	conn *PgxConnection
	text string
	args []interface{}
}

func (q *pgxQuery) Execute(ctx context.Context) (Rows, error) {
	if q.conn.conn == nil {
		return nil, errors.New("connection is not open")
	}
	rows, err := q.conn.conn.Query(ctx, q.text, q.args...)
	if err != nil {
		return nil, err
	}
	return &pgxRows{rows: rows}, nil
}

func (q *pgxQuery) Close() error {
	return nil
}

type pgxRows struct {
	rows pgx.Rows
}

func (r *pgxRows) Next() bool {
	return r.rows.Next()
}

func (r *pgxRows) Row() (Row, error) {
	values, err := r.rows.Values()
	if err != nil {
		return nil, err
	}
	row := make(ValuesRow, len(values))
	for i, v := range values {
		if row[i], err = toNullString(v); err != nil {
			return nil, fmt.Errorf("column %d: %w", i, err)
		}
	}
	return row, nil
}

func (r *pgxRows) Err() error {
	return r.rows.Err()
}

func (r *pgxRows) Close() error {
	r.rows.Close()
	return nil
}

// toNullString converts a decoded column value to a nullable string. pgtype
// values go through their driver encoding, uuid columns are formatted in the
// canonical form and json columns are marshaled back to JSON text.
func toNullString(v interface{}) (sql.NullString, error) {
	switch t := v.(type) {
	case nil:
		return sql.NullString{}, nil
	case time.Time:
		return sql.NullString{String: t.Format(time.RFC3339Nano), Valid: true}, nil
	case [16]byte:
		return sql.NullString{String: fmt.Sprintf("%x-%x-%x-%x-%x", t[0:4], t[4:6], t[6:8], t[8:10], t[10:16]), Valid: true}, nil
	case []byte:
		return sql.NullString{String: string(t), Valid: true}, nil
	case driver.Valuer:
		value, err := t.Value()
		if err != nil {
			return sql.NullString{}, err
		}
		if _, loops := value.(driver.Valuer); loops {
			return sql.NullString{}, fmt.Errorf("unable to convert %T to string", v)
		}
		return toNullString(value)
	}
	switch reflect.ValueOf(v).Kind() {
	case reflect.Map, reflect.Slice, reflect.Array:
		data, err := json.Marshal(v)
		if err != nil {
			return sql.NullString{}, err
		}
		return sql.NullString{String: string(data), Valid: true}, nil
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: s, Valid: true}, nil
}

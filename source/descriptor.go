package source

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	// ErrNilDescriptor is returned when no Descriptor is given.
	ErrNilDescriptor = errors.New("descriptor is nil")
	// ErrMissingConnectionFactory is returned when Descriptor.ConnectionFactory is nil.
	ErrMissingConnectionFactory = errors.New("connection factory is required")
	// ErrMissingQueryFactory is returned when Descriptor.QueryFactory is nil.
	ErrMissingQueryFactory = errors.New("query factory is required")
)

// Connection is a database connection owned by a single refresh cycle.
type Connection interface {
	Open(ctx context.Context) error
	Close() error
}

// Query is an executable statement bound to a Connection.
type Query interface {
	Execute(ctx context.Context) (Rows, error)
	Close() error
}

// ConnectionFactory returns a fresh, unopened Connection for one refresh cycle.
type ConnectionFactory func(ctx context.Context) (Connection, error)

// QueryFactory builds the settings query for conn. Returning a nil Query
// aborts the cycle.
type QueryFactory func(conn Connection) (Query, error)

// Descriptor configures a DatabaseRepository. It is referenced, not copied,
// and must not be modified once the repository is loaded.
type Descriptor struct {
	ConnectionFactory ConnectionFactory
	QueryFactory      QueryFactory
	// RowMapper defaults to DefaultRowMapper.
	RowMapper RowMapper
	// RefreshInterval enables background polling when positive.
	RefreshInterval time.Duration
	// QueryTimeout bounds a single refresh cycle when positive.
	QueryTimeout time.Duration
	// Logger defaults to the logrus standard logger.
	Logger logrus.FieldLogger
	// OnError is called with the error of every failed refresh cycle.
	OnError func(err error)
}

// Validate checks that the required factories are set.
func (d *Descriptor) Validate() error {
	if d == nil {
		return ErrNilDescriptor
	}
	var errs []error
	if d.ConnectionFactory == nil {
		errs = append(errs, ErrMissingConnectionFactory)
	}
	if d.QueryFactory == nil {
		errs = append(errs, ErrMissingQueryFactory)
	}
	return errors.Join(errs...)
}

func (d *Descriptor) rowMapper() RowMapper {
	if d.RowMapper == nil {
		return DefaultRowMapper
	}
	return d.RowMapper
}

func (d *Descriptor) logger() logrus.FieldLogger {
	if d.Logger == nil {
		return logrus.StandardLogger()
	}
	return d.Logger
}

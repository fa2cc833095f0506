package source

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// GormConnection is a Connection backed by a gorm database handle.
type GormConnection struct {
	newDialector func() gorm.Dialector
	db           *gorm.DB
	owned        bool // close the underlying pool together with the connection
}

// GormConnectionFactory opens a new gorm handle from newDialector for every
// refresh cycle and closes it afterwards.
func GormConnectionFactory(newDialector func() gorm.Dialector) ConnectionFactory {
	return func(ctx context.Context) (Connection, error) {
		if newDialector == nil {
			return nil, errors.New("dialector constructor is nil")
		}
		return &GormConnection{newDialector: newDialector, owned: true}, nil
	}
}

// GormDBConnectionFactory runs every refresh cycle on the shared handle db,
// which is never closed.
func GormDBConnectionFactory(db *gorm.DB) ConnectionFactory {
	return func(ctx context.Context) (Connection, error) {
		if db == nil {
			return nil, errors.New("gorm.DB is nil")
		}
		return &GormConnection{db: db}, nil
	}
}

// Open opens the gorm handle for owned connections and checks it is reachable.
func (g *GormConnection) Open(ctx context.Context) error {
	if g.owned {
		db, err := gorm.Open(g.newDialector(), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return err
		}
		g.db = db
	}
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the pool of owned connections.
func (g *GormConnection) Close() error {
	if !g.owned || g.db == nil {
		return nil
	}
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	g.db = nil
	return sqlDB.Close()
}

// Command builds a Query running the raw SQL text.
func (g *GormConnection) Command(text string, args ...interface{}) Query {
	return &gormQuery{conn: g, text: text, args: args}
}

type gormQuery struct {
	conn *GormConnection
	text string
	args []interface{}
}

func (q *gormQuery) Execute(ctx context.Context) (Rows, error) {
	if q.conn.db == nil {
		return nil, errors.New("connection is not open")
	}
	rows, err := q.conn.db.WithContext(ctx).Raw(q.text, q.args...).Rows()
	if err != nil {
		return nil, err
	}
	return newSQLRows(rows)
}

func (q *gormQuery) Close() error {
	return nil
}

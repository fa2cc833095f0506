package main

import (
	"context"
	"fmt"

	"github.com/sardine-ai/go-db-config/internal/config"
	"github.com/sardine-ai/go-db-config/source"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	_ "modernc.org/sqlite"
)

// connectionFactory picks the adapter for a configured driver. pgx talks to
// PostgreSQL directly; "postgres" and "mysql" go through gorm.
func connectionFactory(sc config.SourceConfig) (source.ConnectionFactory, error) {
	dsn := sc.DSN
	switch sc.Driver {
	case config.DriverSQLite:
		return source.SQLConnectionFactory("sqlite", dsn), nil
	case config.DriverPgx:
		return source.PgxConnectionFactory(dsn), nil
	case config.DriverPostgres:
		return source.GormConnectionFactory(func() gorm.Dialector { return postgres.Open(dsn) }), nil
	case config.DriverMySQL:
		return source.GormConnectionFactory(func() gorm.Dialector { return mysql.Open(dsn) }), nil
	default:
		return nil, fmt.Errorf("unsupported driver %q", sc.Driver)
	}
}

func newDescriptor(sc config.SourceConfig, logger logrus.FieldLogger) (*source.Descriptor, error) {
	factory, err := connectionFactory(sc)
	if err != nil {
		return nil, err
	}
	return &source.Descriptor{
		ConnectionFactory: factory,
		QueryFactory:      source.TextQuery(sc.Query),
		RowMapper:         source.ColumnRowMapper(sc.KeyColumn, sc.ValueColumn),
		RefreshInterval:   sc.RefreshInterval,
		QueryTimeout:      sc.QueryTimeout,
		Logger:            logger.WithField("driver", sc.Driver),
	}, nil
}

// openRepositories creates a repository per source and loads them all
// concurrently. A source whose first load fails is still returned; it keeps
// polling and reports itself unhealthy until the database answers.
func openRepositories(ctx context.Context, cfg *config.Config, logger logrus.FieldLogger) ([]*source.DatabaseRepository, error) {
	repos := make([]*source.DatabaseRepository, 0, len(cfg.Sources))
	for _, sc := range cfg.Sources {
		descriptor, err := newDescriptor(sc, logger)
		if err != nil {
			closeRepositories(repos)
			return nil, fmt.Errorf("source %s: %w", sc.Name, err)
		}
		repo, err := source.NewDatabaseRepository(ctx, sc.Name, descriptor)
		if err != nil {
			closeRepositories(repos)
			return nil, err
		}
		repos = append(repos, repo)
	}

	var g errgroup.Group
	for _, repo := range repos {
		repo := repo
		g.Go(func() error {
			repo.Load(ctx)
			return nil
		})
	}
	_ = g.Wait()
	return repos, nil
}

func closeRepositories(repos []*source.DatabaseRepository) {
	for _, repo := range repos {
		repo.Close()
	}
}

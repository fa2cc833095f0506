package client

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sardine-ai/go-db-config/source"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// staticConnection serves a fixed result set.
type staticConnection struct {
	rows []source.ValuesRow
}

func (s *staticConnection) Open(ctx context.Context) error { return nil }
func (s *staticConnection) Close() error                   { return nil }

func (s *staticConnection) Execute(ctx context.Context) (source.Rows, error) {
	return &staticRows{rows: s.rows, pos: -1}, nil
}

type staticRows struct {
	rows []source.ValuesRow
	pos  int
}

func (r *staticRows) Next() bool               { r.pos++; return r.pos < len(r.rows) }
func (r *staticRows) Row() (source.Row, error) { return r.rows[r.pos], nil }
func (r *staticRows) Err() error               { return nil }
func (r *staticRows) Close() error             { return nil }

type staticQuery struct{ *staticConnection }

func (q staticQuery) Close() error { return nil }

func newRepository(t *testing.T, rows *[]source.ValuesRow) *source.DatabaseRepository {
	t.Helper()
	logger, _ := test.NewNullLogger()
	descriptor := &source.Descriptor{
		ConnectionFactory: func(ctx context.Context) (source.Connection, error) {
			return &staticConnection{rows: *rows}, nil
		},
		QueryFactory: func(conn source.Connection) (source.Query, error) {
			return staticQuery{conn.(*staticConnection)}, nil
		},
		Logger: logger,
	}
	repo, err := source.NewDatabaseRepository(context.Background(), "test", descriptor)
	require.NoError(t, err)
	t.Cleanup(repo.Close)
	repo.Load(context.Background())
	return repo
}

func kv(key, value string) source.ValuesRow {
	return source.ValuesRow{{String: key, Valid: true}, {String: value, Valid: true}}
}

func TestClientGetters(t *testing.T) {
	rows := []source.ValuesRow{
		kv("name", "John"),
		kv("age", "42"),
		kv("ratio", "0.75"),
		kv("enabled", "true"),
		kv("timeout", "1m30s"),
		kv("hosts", "[db1, db2]"),
		kv("tags", "red green"),
		kv("address", "{street: Main St, city: Springfield, zip_code: \"12345\"}"),
		{{String: "nickname", Valid: true}, {}},
	}
	client := NewClient(newRepository(t, &rows))

	name, err := client.GetConfigString("NAME")
	require.NoError(t, err)
	assert.Equal(t, "John", name)

	age, err := client.GetConfigInt("age")
	require.NoError(t, err)
	assert.Equal(t, 42, age)

	ratio, err := client.GetConfigFloat("ratio")
	require.NoError(t, err)
	assert.Equal(t, 0.75, ratio)

	enabled, err := client.GetConfigBool("enabled")
	require.NoError(t, err)
	assert.True(t, enabled)

	timeout, err := client.GetConfigDuration("timeout")
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, timeout)

	hosts, err := client.GetConfigArrayOfStrings("hosts")
	require.NoError(t, err)
	assert.Equal(t, []string{"db1", "db2"}, hosts)

	tags, err := client.GetConfigArrayOfStrings("tags")
	require.NoError(t, err)
	assert.Equal(t, []string{"red", "green"}, tags)

	type Address struct {
		Street string `yaml:"street"`
		City   string `yaml:"city"`
		Zip    string `yaml:"zip_code"`
	}
	var address Address
	require.NoError(t, client.GetConfig("address", &address))
	assert.Equal(t, Address{Street: "Main St", City: "Springfield", Zip: "12345"}, address)

	var count int
	require.NoError(t, client.GetConfig("age", &count))
	assert.Equal(t, 42, count)
}

func TestClientMissingAndNull(t *testing.T) {
	rows := []source.ValuesRow{
		kv("name", "John"),
		{{String: "nickname", Valid: true}, {}},
	}
	client := NewClient(newRepository(t, &rows))

	_, err := client.GetConfigString("missing")
	assert.ErrorIs(t, err, ErrConfigNotFound)

	_, err = client.GetConfigString("nickname")
	assert.ErrorIs(t, err, ErrConfigNull)

	_, err = client.GetConfigArrayOfStrings("missing")
	assert.ErrorIs(t, err, ErrConfigNotFound)

	_, err = client.GetConfigInt("name")
	assert.Error(t, err)
}

func TestClientOnReload(t *testing.T) {
	rows := []source.ValuesRow{kv("name", "John")}
	client := NewClient(newRepository(t, &rows))

	var reloads atomic.Int64
	cancel := client.OnReload(func() { reloads.Add(1) })
	defer cancel()

	require.NoError(t, client.Refresh())
	assert.Equal(t, int64(0), reloads.Load())

	rows = []source.ValuesRow{kv("name", "Jane")}
	require.NoError(t, client.Refresh())
	assert.Equal(t, int64(1), reloads.Load())

	name, err := client.GetConfigString("name")
	require.NoError(t, err)
	assert.Equal(t, "Jane", name)
}

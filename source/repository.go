package source

import (
	"errors"
	"fmt"
	"time"
)

// Repository is a named source of configuration data.
type Repository interface {
	GetName() string
	GetData(key string) (interface{}, bool)
	GetRawData() []byte
	Refresh() error
	Status() Status
}

// ReloadNotifier is implemented by repositories that announce published changes.
type ReloadNotifier interface {
	OnReload(listener func()) (cancel func())
}

// Status describes the refresh history of a repository.
type Status struct {
	Name         string    `json:"name"`
	Entries      int       `json:"entries"`
	RefreshCount int64     `json:"refresh_count"`
	ReloadCount  int64     `json:"reload_count"`
	LastRefresh  time.Time `json:"last_refresh,omitempty"`
	LastSuccess  time.Time `json:"last_success,omitempty"`
	LastError    string    `json:"last_error,omitempty"`
	IsHealthy    bool      `json:"healthy"`
	IsReady      bool      `json:"ready"`
}

// Stage identifies the step of a refresh cycle that failed.
type Stage string

const (
	StageConnect Stage = "connect"
	StageQuery   Stage = "query"
	StageOpen    Stage = "open"
	StageExecute Stage = "execute"
	StageRead    Stage = "read"
	StagePanic   Stage = "panic"
)

var (
	// ErrNoQuery is returned when the query factory produced no query.
	ErrNoQuery = errors.New("query factory returned no query")
	// ErrNilConnection is returned when the connection factory produced no connection.
	ErrNilConnection = errors.New("connection factory returned no connection")
	// ErrClosed is returned by Refresh once the repository is closed.
	ErrClosed = errors.New("repository is closed")
)

// PollError is the error of an aborted refresh cycle.
type PollError struct {
	Stage Stage
	Err   error
}

func (e *PollError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *PollError) Unwrap() error {
	return e.Err
}

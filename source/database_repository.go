package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// DatabaseRepository is a Repository that reads configuration settings from
// a database query and keeps them fresh by polling it.
type DatabaseRepository struct {
	sync.RWMutex                    // RWMutex guarding the published snapshot and status
	Name         string             // Name of the configuration source
	descriptor   *Descriptor        // Caller owned setup
	logger       logrus.FieldLogger // Logger for refresh failures
	snapshot     *Snapshot          // Currently published settings
	rawData      []byte             // YAML rendering of snapshot
	status       Status             // Refresh bookkeeping

	cycleMu      sync.Mutex // Serializes refresh cycles
	listenersMu  sync.Mutex
	listeners    map[uint64]func()
	nextListener uint64

	ctx       context.Context
	cancel    context.CancelFunc
	armOnce   sync.Once
	closeOnce sync.Once
	closed    atomic.Bool
}

// NewDatabaseRepository creates a DatabaseRepository for descriptor. The
// repository starts empty; call Load to populate it and start polling.
// Background polling stops when ctx is canceled or Close is called.
func NewDatabaseRepository(ctx context.Context, name string, descriptor *Descriptor) (*DatabaseRepository, error) {
	if err := descriptor.Validate(); err != nil {
		return nil, fmt.Errorf("invalid descriptor for %q: %w", name, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	snapshot := NewSnapshot()
	rawData, _ := renderYAML(snapshot)

	return &DatabaseRepository{
		Name:       name,
		descriptor: descriptor,
		logger:     descriptor.logger().WithField("repository", name),
		snapshot:   snapshot,
		rawData:    rawData,
		status:     Status{Name: name},
		listeners:  make(map[uint64]func()),
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// GetName returns the name of the configuration source.
func (d *DatabaseRepository) GetName() string {
	return d.Name
}

// Snapshot returns the currently published settings.
func (d *DatabaseRepository) Snapshot() *Snapshot {
	d.RLock()
	defer d.RUnlock()
	return d.snapshot
}

// GetData returns the value stored under configName. Null values are
// returned as nil with isPresent set.
func (d *DatabaseRepository) GetData(configName string) (config interface{}, isPresent bool) {
	setting, ok := d.Snapshot().Lookup(configName)
	if !ok {
		return nil, false
	}
	if !setting.Value.Valid {
		return nil, true
	}
	return setting.Value.String, true
}

// GetRawData returns a copy of the published settings rendered as YAML.
func (d *DatabaseRepository) GetRawData() []byte {
	d.RLock()
	defer d.RUnlock()
	return bytes.Clone(d.rawData)
}

// Status returns the refresh history of the repository.
func (d *DatabaseRepository) Status() Status {
	d.RLock()
	defer d.RUnlock()
	status := d.status
	status.Entries = d.snapshot.Len()
	return status
}

// OnReload registers listener to be called after a refresh published changed
// settings. Listeners run on the refreshing goroutine once the cycle is over,
// so they may call Refresh. The returned function unregisters the listener.
func (d *DatabaseRepository) OnReload(listener func()) (cancel func()) {
	d.listenersMu.Lock()
	id := d.nextListener
	d.nextListener++
	d.listeners[id] = listener
	d.listenersMu.Unlock()

	return func() {
		d.listenersMu.Lock()
		delete(d.listeners, id)
		d.listenersMu.Unlock()
	}
}

// Load reads the settings once and publishes them unconditionally, even when
// the query returned no rows. Failures are logged and leave the current
// settings in place. After the first Load returns, background polling starts
// if the descriptor has a positive RefreshInterval.
func (d *DatabaseRepository) Load(ctx context.Context) {
	d.cycleMu.Lock()
	if !d.closed.Load() {
		_, _ = d.runCycle(ctx, false)
	}
	d.cycleMu.Unlock()

	if interval := d.descriptor.RefreshInterval; interval > 0 {
		d.armOnce.Do(func() {
			go d.refresh(d.ctx, interval)
		})
	}
}

// Refresh reads the settings and publishes them if they differ from the
// current ones, notifying reload listeners. It waits for a cycle already in
// progress. The cycle error is logged and also returned.
func (d *DatabaseRepository) Refresh() error {
	d.cycleMu.Lock()
	if d.closed.Load() {
		d.cycleMu.Unlock()
		return ErrClosed
	}
	changed, err := d.runCycle(d.ctx, true)
	d.cycleMu.Unlock()

	if changed {
		d.notify()
	}
	return err
}

// Close stops background polling. It does not wait for a cycle in progress,
// but that cycle's context is canceled and its result is never published.
// Close is safe to call more than once.
func (d *DatabaseRepository) Close() {
	d.closeOnce.Do(func() {
		d.Lock()
		d.closed.Store(true)
		d.Unlock()
		d.cancel()
	})
}

// refresh is a goroutine that reloads the settings every interval until ctx
// is canceled.
func (d *DatabaseRepository) refresh(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			d.tick(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (d *DatabaseRepository) tick(ctx context.Context) {
	if !d.cycleMu.TryLock() {
		d.logger.Debug("previous refresh still running, skipping tick")
		return
	}
	if d.closed.Load() || ctx.Err() != nil {
		d.cycleMu.Unlock()
		return
	}
	changed, _ := d.runCycle(ctx, true)
	d.cycleMu.Unlock()

	if changed {
		d.notify()
	}
}

// runCycle performs one refresh cycle and records its outcome. The caller
// must hold cycleMu, and notifies listeners after releasing it when a reload
// reports changed.
func (d *DatabaseRepository) runCycle(ctx context.Context, isReload bool) (changed bool, err error) {
	changed, err = d.poll(ctx, isReload)
	if err != nil && d.closed.Load() && errors.Is(err, context.Canceled) {
		// interrupted by Close
		return false, err
	}
	d.record(changed && isReload, err)

	if err != nil {
		entry := d.logger.WithError(err)
		var pollErr *PollError
		if errors.As(err, &pollErr) {
			entry = entry.WithField("stage", pollErr.Stage)
		}
		entry.Error("error refreshing repository")
		if d.descriptor.OnError != nil {
			d.descriptor.OnError(err)
		}
		return false, err
	}

	if !isReload {
		return false, nil
	}
	if changed {
		d.logger.Info("settings changed, reloading")
	}
	return changed, nil
}

func (d *DatabaseRepository) poll(ctx context.Context, isReload bool) (changed bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			changed, err = false, &PollError{Stage: StagePanic, Err: fmt.Errorf("%v", r)}
		}
	}()

	if timeout := d.descriptor.QueryTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	candidate, err := d.read(ctx)
	if err != nil {
		return false, err
	}
	return d.publish(candidate, isReload)
}

// read executes the query and builds a candidate snapshot. Rows, query and
// connection are released on every path.
func (d *DatabaseRepository) read(ctx context.Context) (*Snapshot, error) {
	conn, err := d.descriptor.ConnectionFactory(ctx)
	if err != nil {
		return nil, &PollError{Stage: StageConnect, Err: err}
	}
	if conn == nil {
		return nil, &PollError{Stage: StageConnect, Err: ErrNilConnection}
	}
	defer d.release(conn, "connection")

	query, err := d.descriptor.QueryFactory(conn)
	if err != nil {
		return nil, &PollError{Stage: StageQuery, Err: err}
	}
	if query == nil {
		return nil, &PollError{Stage: StageQuery, Err: ErrNoQuery}
	}
	defer d.release(query, "query")

	if err := conn.Open(ctx); err != nil {
		return nil, &PollError{Stage: StageOpen, Err: err}
	}

	rows, err := query.Execute(ctx)
	if err != nil {
		return nil, &PollError{Stage: StageExecute, Err: err}
	}
	defer d.release(rows, "rows")

	mapper := d.descriptor.rowMapper()
	candidate := NewSnapshot()
	for n := 0; rows.Next(); n++ {
		setting, err := mapRow(mapper, rows)
		if err != nil {
			d.logger.WithError(err).WithField("row", n).Warn("skipping row")
			continue
		}
		if !candidate.set(setting) {
			d.logger.WithField("row", n).Debug("skipping row with blank key")
		}
	}
	if err := rows.Err(); err != nil {
		return nil, &PollError{Stage: StageRead, Err: err}
	}
	return candidate, nil
}

// publish swaps in candidate. On a reload it is a no-op when candidate holds
// the same settings as the current snapshot.
func (d *DatabaseRepository) publish(candidate *Snapshot, isReload bool) (bool, error) {
	if isReload && AreEquivalent(d.Snapshot(), candidate) {
		return false, nil
	}

	rawData, err := renderYAML(candidate)
	if err != nil {
		return false, &PollError{Stage: StageRead, Err: fmt.Errorf("rendering settings: %w", err)}
	}

	// Only lock for atomic data swap
	d.Lock()
	defer d.Unlock()
	if d.closed.Load() {
		return false, &PollError{Stage: StageRead, Err: context.Canceled}
	}
	d.snapshot = candidate
	d.rawData = rawData
	return true, nil
}

func (d *DatabaseRepository) record(reloaded bool, err error) {
	now := time.Now()
	d.Lock()
	defer d.Unlock()
	d.status.RefreshCount++
	d.status.LastRefresh = now
	if err != nil {
		d.status.LastError = err.Error()
		d.status.IsHealthy = false
		return
	}
	d.status.LastError = ""
	d.status.LastSuccess = now
	d.status.IsHealthy = true
	d.status.IsReady = true
	if reloaded {
		d.status.ReloadCount++
	}
}

func (d *DatabaseRepository) notify() {
	d.listenersMu.Lock()
	listeners := make([]func(), 0, len(d.listeners))
	for _, listener := range d.listeners {
		listeners = append(listeners, listener)
	}
	d.listenersMu.Unlock()

	for _, listener := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					d.logger.WithField("panic", r).Error("reload listener panicked")
				}
			}()
			listener()
		}()
	}
}

func (d *DatabaseRepository) release(c io.Closer, what string) {
	if err := c.Close(); err != nil {
		d.logger.WithError(err).Debugf("error closing %s", what)
	}
}

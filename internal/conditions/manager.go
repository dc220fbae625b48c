package conditions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"

	"hps-conditions/internal/db"
	"hps-conditions/internal/domain"
)

// Options tune the Manager, normally from a deployment profile.
type Options struct {
	// Tag restricts record lookups to one conditions tag.
	Tag string
	// CacheAllConditions loads every registered converter's default
	// conditions set on each detector or run change.
	CacheAllConditions bool
	// CloseConnectionAfterInitialize closes the database connection after
	// the first successful SetDetector. It is reopened on demand.
	CloseConnectionAfterInitialize bool
	// FreezeAfterInitialize freezes the manager after the first successful
	// SetDetector.
	FreezeAfterInitialize bool
}

// ManagerDeps holds the collaborators of a Manager.
type ManagerDeps struct {
	Conn       *db.ConnectionManager
	Tables     *TableRegistry
	Converters *ConverterRegistry
	Logger     *slog.Logger
	Options    Options
}

// ConditionsEvent is passed to listeners after a detector or run change.
type ConditionsEvent struct {
	Manager          *Manager
	Detector         string
	Run              int
	PreviousDetector string
	PreviousRun      int
}

// Listener is notified after every successful SetDetector transition.
type Listener interface {
	ConditionsChanged(ctx context.Context, ev ConditionsEvent) error
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(ctx context.Context, ev ConditionsEvent) error

// ConditionsChanged calls f.
func (f ListenerFunc) ConditionsChanged(ctx context.Context, ev ConditionsEvent) error {
	return f(ctx, ev)
}

type cacheKey struct {
	typ  reflect.Type
	name string
}

type cacheEntry struct {
	value         any
	wrapper       any // *Cached[T], created on first typed access
	name          string
	run           int
	collectionIDs []int64
	runDependent  bool
}

// Manager serves conditions for one (detector, run) at a time and caches
// every loaded conditions object until the run or detector changes.
//
// A Manager is not safe for concurrent use. Callers processing runs in
// parallel create one Manager, with its own ConnectionManager, per worker.
type Manager struct {
	conn       *db.ConnectionManager
	tables     *TableRegistry
	converters *ConverterRegistry
	records    *RecordRepo
	logger     *slog.Logger
	opts       Options

	detector    string
	run         int
	loaded      bool
	frozen      bool
	initialized bool

	cache     map[cacheKey]*cacheEntry
	listeners []Listener
	loading   [][]int64
}

// NewManager creates a new Manager in the uninitialized state.
func NewManager(deps ManagerDeps) (*Manager, error) {
	if deps.Conn == nil {
		return nil, domain.ErrConfiguration("conditions manager requires a connection")
	}
	if deps.Tables == nil {
		deps.Tables = NewTableRegistry()
	}
	if deps.Converters == nil {
		var err error
		if deps.Converters, err = NewConverterRegistry(deps.Tables); err != nil {
			return nil, err
		}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Manager{
		conn:       deps.Conn,
		tables:     deps.Tables,
		converters: deps.Converters,
		records:    NewRecordRepo(deps.Conn),
		logger:     deps.Logger.With("component", "conditions-manager"),
		opts:       deps.Options,
		cache:      make(map[cacheKey]*cacheEntry),
	}, nil
}

// Detector returns the current detector name.
func (m *Manager) Detector() string { return m.detector }

// Run returns the current run number.
func (m *Manager) Run() int { return m.run }

// IsLoaded reports whether SetDetector has succeeded.
func (m *Manager) IsLoaded() bool { return m.loaded }

// IsFrozen reports whether detector and run changes are being ignored.
func (m *Manager) IsFrozen() bool { return m.frozen }

// Tag returns the conditions tag used for lookups.
func (m *Manager) Tag() string { return m.opts.Tag }

// Tables returns the table registry.
func (m *Manager) Tables() *TableRegistry { return m.tables }

// Converters returns the converter registry.
func (m *Manager) Converters() *ConverterRegistry { return m.converters }

// Conn returns the connection manager.
func (m *Manager) Conn() *db.ConnectionManager { return m.conn }

// Records returns the conditions record store.
func (m *Manager) Records() *RecordRepo { return m.records }

// AddConditionsListener registers a listener. Listeners run in
// registration order.
func (m *Manager) AddConditionsListener(l Listener) {
	m.listeners = append(m.listeners, l)
}

// SetDetector makes (name, run) current. A run change drops run-dependent
// cached conditions; a detector change drops everything. Setting the
// current pair again does nothing. While frozen, changes are ignored.
//
// Listeners are called synchronously after the transition, in order. The
// first listener error is returned and later listeners are not called.
func (m *Manager) SetDetector(ctx context.Context, name string, run int) error {
	if name == "" {
		return domain.ErrValidation("detector name is required")
	}
	if m.loaded && name == m.detector && run == m.run {
		m.logger.Debug("detector and run unchanged", "detector", name, "run", run)
		return nil
	}
	if m.frozen {
		m.logger.Warn("conditions are frozen; ignoring detector change",
			"detector", m.detector, "run", m.run, "requested_detector", name, "requested_run", run)
		return nil
	}

	prevDetector, prevRun := m.detector, m.run
	if !m.loaded || name != m.detector {
		m.ClearCache()
	} else {
		m.dropRunDependent()
	}
	m.detector = name
	m.run = run
	m.loaded = true
	m.logger.Info("conditions changed", "detector", name, "run", run, "tag", m.opts.Tag)

	if m.opts.CacheAllConditions {
		if err := m.loadAll(ctx); err != nil {
			m.reset()
			return err
		}
	}

	if !m.initialized {
		m.initialized = true
		if m.opts.CloseConnectionAfterInitialize {
			if err := m.conn.Disconnect(); err != nil {
				m.logger.Error("could not close connection after initialization", "error", err)
			}
		}
		if m.opts.FreezeAfterInitialize {
			m.frozen = true
			m.logger.Info("conditions frozen after initialization", "detector", name, "run", run)
		}
	}

	ev := ConditionsEvent{Manager: m, Detector: name, Run: run, PreviousDetector: prevDetector, PreviousRun: prevRun}
	for i, l := range m.listeners {
		if err := l.ConditionsChanged(ctx, ev); err != nil {
			return fmt.Errorf("conditions listener %d: %w", i, err)
		}
	}
	return nil
}

// loadAll preloads every registered conditions set. Sets with no record at
// the current run are skipped; any other failure aborts the preload.
func (m *Manager) loadAll(ctx context.Context) error {
	for _, c := range m.converters.Converters() {
		_, err := m.load(ctx, c.Type(), c.Name())
		var nf *domain.ConditionsNotFoundError
		switch {
		case errors.As(err, &nf):
			m.logger.Warn("could not cache conditions", "name", c.Name(), "run", m.run, "error", err)
		case err != nil:
			return fmt.Errorf("cache all conditions: %w", err)
		}
	}
	return nil
}

func (m *Manager) reset() {
	m.ClearCache()
	m.detector = ""
	m.run = 0
	m.loaded = false
}

// Freeze stops SetDetector from changing the detector or run.
func (m *Manager) Freeze() error {
	if !m.loaded {
		return domain.ErrIllegalState("cannot freeze conditions before a detector is set")
	}
	m.frozen = true
	return nil
}

// Unfreeze allows detector and run changes again.
func (m *Manager) Unfreeze() { m.frozen = false }

// SetTag changes the conditions tag. Cached run-dependent conditions are
// dropped.
func (m *Manager) SetTag(tag string) {
	if tag == m.opts.Tag {
		return
	}
	m.opts.Tag = tag
	m.dropRunDependent()
}

// ClearCache drops every cached conditions object.
func (m *Manager) ClearCache() {
	clear(m.cache)
}

func (m *Manager) dropRunDependent() {
	for k, e := range m.cache {
		if e.runDependent {
			delete(m.cache, k)
		}
	}
}

func (m *Manager) dropName(name string) {
	for k := range m.cache {
		if k.name == name {
			delete(m.cache, k)
		}
	}
}

// FindRecords resolves the records of a conditions set for the current
// run, using the set's MultipleCollectionsAction and the manager's tag.
func (m *Manager) FindRecords(ctx context.Context, name string) ([]domain.ConditionsRecord, error) {
	if !m.loaded {
		return nil, domain.ErrIllegalState("conditions %q requested before a detector and run were set", name)
	}
	recs, err := m.records.Find(ctx, domain.FindRequest{
		Run:    m.run,
		Name:   name,
		Tag:    m.opts.Tag,
		Action: m.tables.ActionFor(name),
	})
	if err != nil {
		return nil, err
	}
	if n := len(m.loading); n > 0 {
		for _, rec := range recs {
			m.loading[n-1] = append(m.loading[n-1], rec.CollectionID)
		}
	}
	return recs, nil
}

// CloseConnection closes the database connection. Cached conditions stay
// available; a later cache miss reopens the connection.
func (m *Manager) CloseConnection() error {
	return m.conn.Disconnect()
}

// Cached wraps a cached conditions object together with what it was
// resolved from.
type Cached[T any] struct {
	value         T
	name          string
	run           int
	collectionIDs []int64
}

// Get returns the conditions object.
func (c *Cached[T]) Get() T { return c.value }

// Name returns the conditions-set name.
func (c *Cached[T]) Name() string { return c.name }

// Run returns the run the object was loaded for.
func (c *Cached[T]) Run() int { return c.run }

// CollectionIDs returns the collection ids the object was built from.
func (c *Cached[T]) CollectionIDs() []int64 {
	out := make([]int64, len(c.collectionIDs))
	copy(out, c.collectionIDs)
	return out
}

// GetCachedConditions returns the conditions object of type T for name at
// the current run. Repeated calls for the same run return the same
// *Cached[T]. It fails with an IllegalStateError before SetDetector and
// with an UnregisteredConverterError when no converter produces T.
func GetCachedConditions[T any](ctx context.Context, m *Manager, name string) (*Cached[T], error) {
	e, err := m.load(ctx, reflect.TypeFor[T](), name)
	if err != nil {
		return nil, err
	}
	if e.wrapper == nil {
		e.wrapper = &Cached[T]{value: e.value.(T), name: e.name, run: e.run, collectionIDs: e.collectionIDs}
	}
	return e.wrapper.(*Cached[T]), nil
}

// GetConditionsData is GetCachedConditions without the wrapper.
func GetConditionsData[T any](ctx context.Context, m *Manager, name string) (T, error) {
	c, err := GetCachedConditions[T](ctx, m, name)
	if err != nil {
		var zero T
		return zero, err
	}
	return c.Get(), nil
}

// GetOptionalConditionsData is GetConditionsData for conditions sets that
// may be absent at a run. A ConditionsNotFoundError is reported as ok=false
// instead of an error.
func GetOptionalConditionsData[T any](ctx context.Context, m *Manager, name string) (T, bool, error) {
	v, err := GetConditionsData[T](ctx, m, name)
	var notFound *domain.ConditionsNotFoundError
	if errors.As(err, &notFound) {
		var zero T
		return zero, false, nil
	}
	if err != nil {
		return v, false, err
	}
	return v, true, nil
}

// GetCollection returns the collection of row type T using the default
// conditions-set name of its registered converter.
func GetCollection[T any, PT RowPtr[T]](ctx context.Context, m *Manager) (*Collection[PT], error) {
	c, err := m.converters.Lookup(reflect.TypeFor[*Collection[PT]]())
	if err != nil {
		return nil, err
	}
	return GetConditionsData[*Collection[PT]](ctx, m, c.Name())
}

func (m *Manager) load(ctx context.Context, typ reflect.Type, name string) (*cacheEntry, error) {
	if !m.loaded {
		return nil, domain.ErrIllegalState("conditions %q requested before a detector and run were set", name)
	}
	key := cacheKey{typ: typ, name: name}
	if e, ok := m.cache[key]; ok {
		m.propagate(e.collectionIDs)
		return e, nil
	}

	conv, err := m.converters.Lookup(typ)
	if err != nil {
		return nil, err
	}

	m.loading = append(m.loading, nil)
	v, err := conv.Load(ctx, m, name)
	ids := m.loading[len(m.loading)-1]
	m.loading = m.loading[:len(m.loading)-1]
	if err != nil {
		return nil, fmt.Errorf("load conditions %q for run %d: %w", name, m.run, err)
	}
	if v == nil || !reflect.TypeOf(v).AssignableTo(typ) {
		return nil, fmt.Errorf("converter for %s returned %T", typ, v)
	}

	e := &cacheEntry{
		value:         v,
		name:          name,
		run:           m.run,
		collectionIDs: ids,
		runDependent:  conv.RunDependent(),
	}
	m.cache[key] = e
	m.propagate(ids)
	m.logger.Debug("conditions loaded", "name", name, "type", typ.String(), "run", m.run, "collections", ids)
	return e, nil
}

// propagate credits a nested load's collection ids to the enclosing load.
func (m *Manager) propagate(ids []int64) {
	if n := len(m.loading); n > 0 {
		m.loading[n-1] = append(m.loading[n-1], ids...)
	}
}

// Persistable is a collection that InsertCollection can store.
type Persistable interface {
	Meta() TableMetaData
	CollectionID() int64
	SetCollectionID(id int64) error
	Len() int
	Insert(ctx context.Context, q db.Querier) error
	checkpoint() func()
}

// InsertCollection stores a collection and its validity record in one
// transaction. A collection without an id gets a newly allocated one; a
// pre-numbered collection must have been allocated for the table and must
// not have rows yet. rec.CollectionID and rec.TableName are filled in, and
// rec.Name defaults to the table's conditions key. Cached conditions of the
// same name are dropped. When the transaction fails the collection and its
// rows get back the ids they had before the call.
func (m *Manager) InsertCollection(ctx context.Context, coll Persistable, rec domain.ConditionsRecord, log string) (*domain.ConditionsRecord, error) {
	meta := coll.Meta()
	if coll.Len() == 0 {
		return nil, domain.ErrValidation("refusing to insert empty %s collection", meta.TableName)
	}
	if rec.Name == "" {
		rec.Name = meta.Key
	}
	rec.TableName = meta.TableName
	rec.FieldName = meta.CollectionIDColumn

	var inserted *domain.ConditionsRecord
	restore := coll.checkpoint()
	err := m.conn.WithTx(ctx, func(tx *db.Tx) error {
		collections := NewCollectionRepo(tx)
		id := coll.CollectionID()
		if id == 0 {
			var err error
			if id, err = collections.Allocate(ctx, meta.TableName, log, rec.Notes.V); err != nil {
				return err
			}
			if err := coll.SetCollectionID(id); err != nil {
				return err
			}
		} else {
			ok, err := collections.Exists(ctx, meta.TableName, id)
			if err != nil {
				return err
			}
			if !ok {
				return domain.ErrValidation("collection id %d was not allocated for table %q", id, meta.TableName)
			}
			n, err := collections.CountRows(ctx, meta, id)
			if err != nil {
				return err
			}
			if n > 0 {
				return domain.ErrConflict("collection %d of table %q already has %d rows", id, meta.TableName, n)
			}
		}
		if err := coll.Insert(ctx, tx); err != nil {
			return err
		}
		rec.CollectionID = id
		var err error
		inserted, err = NewRecordRepo(tx).Insert(ctx, &rec, m.tables.ActionFor(rec.Name))
		return err
	})
	if err != nil {
		restore()
		return nil, err
	}
	m.dropName(rec.Name)
	m.logger.Info("collection inserted", "table", meta.TableName, "collection_id", inserted.CollectionID,
		"name", inserted.Name, "runs", fmt.Sprintf("%d-%d", inserted.RunStart, inserted.RunEnd), "rows", coll.Len())
	return inserted, nil
}

// SeriesEntry pairs a validity record with the collection it points to.
type SeriesEntry[PT Row] struct {
	Record     domain.ConditionsRecord
	Collection *Collection[PT]
}

// ConditionsSeries loads every collection recorded for a conditions set,
// regardless of run, ordered by run start. The manager's tag applies.
// Series are not cached.
func ConditionsSeries[T any, PT RowPtr[T]](ctx context.Context, m *Manager, name string) ([]SeriesEntry[PT], error) {
	recs, err := m.records.ListByName(ctx, name, m.opts.Tag)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, &domain.ConditionsNotFoundError{Name: name, Run: m.run, Tag: m.opts.Tag}
	}
	out := make([]SeriesEntry[PT], 0, len(recs))
	for _, rec := range recs {
		coll, err := LoadCollection[T, PT](ctx, m, rec)
		if err != nil {
			return nil, fmt.Errorf("conditions series %q collection %d: %w", name, rec.CollectionID, err)
		}
		out = append(out, SeriesEntry[PT]{Record: rec, Collection: coll})
	}
	return out, nil
}

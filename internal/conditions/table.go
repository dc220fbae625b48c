// Package conditions implements the conditions database: table metadata,
// typed row collections, validity-record resolution, converters, and the
// caching Manager that serves conditions for one (detector, run) at a time.
package conditions

import (
	"fmt"
	"io"
	"regexp"
	"slices"
	"sort"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"hps-conditions/internal/domain"
)

// ColumnType is the declared storage type of a conditions table column.
type ColumnType string

// Supported column types.
const (
	ColumnInt    ColumnType = "int"
	ColumnFloat  ColumnType = "float"
	ColumnString ColumnType = "string"
	ColumnTime   ColumnType = "time"
)

// Field is one domain column of a conditions table.
type Field struct {
	Column   string     `yaml:"column" validate:"required,sqlident"`
	Type     ColumnType `yaml:"type" validate:"required,oneof=int float string time"`
	Nullable bool       `yaml:"nullable,omitempty"`
}

// TableMetaData describes a conditions table. Fields lists the domain
// columns in the order a row type's Fields method returns them; the primary
// key and collection id columns are not part of it.
type TableMetaData struct {
	Key                string                           `yaml:"key" validate:"omitempty,sqlident"`
	TableName          string                           `yaml:"table" validate:"required,sqlident"`
	Fields             []Field                          `yaml:"fields" validate:"required,min=1,dive"`
	PrimaryKey         string                           `yaml:"primary_key,omitempty" validate:"omitempty,sqlident"`
	CollectionIDColumn string                           `yaml:"collection_id_column,omitempty" validate:"omitempty,sqlident"`
	Action             domain.MultipleCollectionsAction `yaml:"action,omitempty"`
}

// Columns returns the domain column names in order.
func (m TableMetaData) Columns() []string {
	cols := make([]string, len(m.Fields))
	for i, f := range m.Fields {
		cols[i] = f.Column
	}
	return cols
}

// Equal reports whether two descriptors are identical.
func (m TableMetaData) Equal(o TableMetaData) bool {
	return m.Key == o.Key &&
		m.TableName == o.TableName &&
		m.PrimaryKey == o.PrimaryKey &&
		m.CollectionIDColumn == o.CollectionIDColumn &&
		m.Action == o.Action &&
		slices.Equal(m.Fields, o.Fields)
}

func (m TableMetaData) clone() TableMetaData {
	m.Fields = slices.Clone(m.Fields)
	return m
}

var identRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

var validate = func() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("sqlident", func(fl validator.FieldLevel) bool {
		return identRE.MatchString(fl.Field().String())
	})
	return v
}()

// normalize fills defaults and validates the descriptor.
func (m TableMetaData) normalize() (TableMetaData, error) {
	m = m.clone()
	if m.Key == "" {
		m.Key = m.TableName
	}
	if m.PrimaryKey == "" {
		m.PrimaryKey = "id"
	}
	if m.CollectionIDColumn == "" {
		m.CollectionIDColumn = domain.DefaultFieldName
	}
	action, err := domain.ParseMultipleCollectionsAction(string(m.Action))
	if err != nil {
		return m, domain.ErrConfiguration("table %q: %v", m.TableName, err)
	}
	m.Action = action
	if err := validate.Struct(m); err != nil {
		return m, domain.ErrConfiguration("table %q: %v", m.TableName, err)
	}
	seen := map[string]bool{m.PrimaryKey: true, m.CollectionIDColumn: true}
	for _, f := range m.Fields {
		if seen[f.Column] {
			return m, domain.ErrConfiguration("table %q: duplicate column %q", m.TableName, f.Column)
		}
		seen[f.Column] = true
	}
	return m, nil
}

// TableRegistry maps conditions-set keys and table names to their
// descriptors. Descriptors never change once registered.
type TableRegistry struct {
	byTable map[string]TableMetaData
	byKey   map[string]TableMetaData
	order   []string
}

// NewTableRegistry creates an empty TableRegistry.
func NewTableRegistry() *TableRegistry {
	return &TableRegistry{
		byTable: make(map[string]TableMetaData),
		byKey:   make(map[string]TableMetaData),
	}
}

// Register adds a descriptor. Registering an identical descriptor again is
// a no-op; a different descriptor for a known table name or key is a
// ConfigurationError.
func (r *TableRegistry) Register(meta TableMetaData) error {
	meta, err := meta.normalize()
	if err != nil {
		return err
	}
	if existing, ok := r.byTable[meta.TableName]; ok {
		if existing.Equal(meta) {
			return nil
		}
		return domain.ErrConfiguration("table %q is already registered with a different definition", meta.TableName)
	}
	if _, ok := r.byKey[meta.Key]; ok {
		return domain.ErrConfiguration("conditions key %q is already registered for another table", meta.Key)
	}
	r.byTable[meta.TableName] = meta
	r.byKey[meta.Key] = meta
	r.order = append(r.order, meta.TableName)
	return nil
}

// RegisterAll registers every descriptor, stopping at the first error.
func (r *TableRegistry) RegisterAll(metas ...TableMetaData) error {
	for _, m := range metas {
		if err := r.Register(m); err != nil {
			return err
		}
	}
	return nil
}

// FindByTableName returns the descriptor of a table.
func (r *TableRegistry) FindByTableName(name string) (TableMetaData, error) {
	m, ok := r.byTable[name]
	if !ok {
		return TableMetaData{}, domain.ErrNotFound("table %q is not registered", name)
	}
	return m.clone(), nil
}

// FindByKey returns the descriptor registered under a conditions-set key.
func (r *TableRegistry) FindByKey(key string) (TableMetaData, error) {
	m, ok := r.byKey[key]
	if !ok {
		return TableMetaData{}, domain.ErrNotFound("conditions key %q is not registered", key)
	}
	return m.clone(), nil
}

// ActionFor returns the MultipleCollectionsAction for a conditions-set
// name, or ActionError when the name has no registered table.
func (r *TableRegistry) ActionFor(name string) domain.MultipleCollectionsAction {
	if m, ok := r.byKey[name]; ok {
		return m.Action
	}
	return domain.ActionError
}

// Keys returns the registered conditions-set keys in sorted order.
func (r *TableRegistry) Keys() []string {
	keys := make([]string, 0, len(r.byKey))
	for k := range r.byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Tables returns every descriptor in registration order.
func (r *TableRegistry) Tables() []TableMetaData {
	out := make([]TableMetaData, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byTable[name].clone())
	}
	return out
}

type schemaFile struct {
	Tables []TableMetaData `yaml:"tables"`
}

// LoadTableSchemas reads table descriptors from a YAML document of the form
//
//	tables:
//	  - key: svt_gains
//	    table: svt_gains
//	    action: LAST_CREATED
//	    fields:
//	      - {column: svt_channel_id, type: int}
//	      - {column: gain, type: float}
func LoadTableSchemas(r io.Reader) ([]TableMetaData, error) {
	var f schemaFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, domain.ErrConfiguration("parse table schema: %v", err)
	}
	for i, m := range f.Tables {
		n, err := m.normalize()
		if err != nil {
			return nil, fmt.Errorf("table schema entry %d: %w", i, err)
		}
		f.Tables[i] = n
	}
	return f.Tables, nil
}

// MergeTables returns base with every descriptor whose key appears in
// overrides replaced, followed by the overrides that add new keys.
func MergeTables(base, overrides []TableMetaData) []TableMetaData {
	byKey := make(map[string]TableMetaData, len(overrides))
	for _, o := range overrides {
		key := o.Key
		if key == "" {
			key = o.TableName
		}
		byKey[key] = o
	}
	out := make([]TableMetaData, 0, len(base)+len(overrides))
	for _, b := range base {
		key := b.Key
		if key == "" {
			key = b.TableName
		}
		if o, ok := byKey[key]; ok {
			out = append(out, o)
			delete(byKey, key)
			continue
		}
		out = append(out, b)
	}
	for _, o := range overrides {
		key := o.Key
		if key == "" {
			key = o.TableName
		}
		if last, ok := byKey[key]; ok {
			out = append(out, last)
			delete(byKey, key)
		}
	}
	return out
}

// WithAction returns a copy of metas where the descriptor registered under
// key uses action. Unknown keys are reported as a ConfigurationError.
func WithAction(metas []TableMetaData, key string, action domain.MultipleCollectionsAction) ([]TableMetaData, error) {
	out := make([]TableMetaData, len(metas))
	found := false
	for i, m := range metas {
		out[i] = m.clone()
		k := m.Key
		if k == "" {
			k = m.TableName
		}
		if k == key {
			out[i].Action = action
			found = true
		}
	}
	if !found {
		return nil, domain.ErrConfiguration("no table registered for conditions key %q", key)
	}
	return out, nil
}

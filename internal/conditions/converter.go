package conditions

import (
	"context"
	"reflect"

	"hps-conditions/internal/domain"
)

// Converter loads one Go type of conditions data for the manager's current
// detector and run.
type Converter interface {
	// Type is the Go type Load returns.
	Type() reflect.Type
	// Name is the default conditions-set name, used when preloading.
	Name() string
	// Load builds the conditions object for a conditions-set name.
	Load(ctx context.Context, m *Manager, name string) (any, error)
	// RunDependent reports whether the result must be reloaded when the
	// run number changes.
	RunDependent() bool
}

// binder is implemented by converters that validate their row type
// against the table registry when the registry is built.
type binder interface {
	Bind(tables *TableRegistry) error
}

// CollectionConverter loads a single table-backed Collection.
type CollectionConverter[T any, PT RowPtr[T]] struct {
	key string
}

// NewCollectionConverter creates a converter for row type T whose default
// conditions set is key.
func NewCollectionConverter[T any, PT RowPtr[T]](key string) *CollectionConverter[T, PT] {
	return &CollectionConverter[T, PT]{key: key}
}

// Type returns *Collection[PT].
func (c *CollectionConverter[T, PT]) Type() reflect.Type { return reflect.TypeFor[*Collection[PT]]() }

// Name returns the default conditions-set name.
func (c *CollectionConverter[T, PT]) Name() string { return c.key }

// RunDependent is always true for table-backed conditions.
func (c *CollectionConverter[T, PT]) RunDependent() bool { return true }

// Bind validates T against the descriptor of the default conditions set.
func (c *CollectionConverter[T, PT]) Bind(tables *TableRegistry) error {
	return BindRow[T, PT](tables, c.key)
}

// Load resolves the record for name at the current run and selects its
// collection from the table the record names.
func (c *CollectionConverter[T, PT]) Load(ctx context.Context, m *Manager, name string) (any, error) {
	recs, err := m.FindRecords(ctx, name)
	if err != nil {
		return nil, err
	}
	if len(recs) != 1 {
		ids := make([]int64, len(recs))
		for i := range recs {
			ids[i] = recs[i].CollectionID
		}
		return nil, &domain.AmbiguousConditionsError{Name: name, Run: m.Run(), CollectionIDs: ids}
	}
	return LoadCollection[T, PT](ctx, m, recs[0])
}

// LoadCollection selects the collection a record points to.
func LoadCollection[T any, PT RowPtr[T]](ctx context.Context, m *Manager, rec domain.ConditionsRecord) (*Collection[PT], error) {
	meta, err := m.Tables().FindByTableName(rec.TableName)
	if err != nil {
		return nil, err
	}
	if err := checkRow(PT(new(T)), meta); err != nil {
		return nil, err
	}
	coll := NewCollection[T, PT](meta)
	if _, err := coll.Select(ctx, m.Conn(), rec.CollectionID); err != nil {
		return nil, err
	}
	return coll, nil
}

// ConverterRegistry maps Go types to their converters. It is built once
// from a fixed list.
type ConverterRegistry struct {
	byType map[reflect.Type]Converter
	order  []Converter
}

// NewConverterRegistry registers converters in order. Two converters for
// the same type, or a converter whose row type does not match its table,
// are a ConfigurationError.
func NewConverterRegistry(tables *TableRegistry, converters ...Converter) (*ConverterRegistry, error) {
	r := &ConverterRegistry{byType: make(map[reflect.Type]Converter, len(converters))}
	for _, c := range converters {
		t := c.Type()
		if _, dup := r.byType[t]; dup {
			return nil, domain.ErrConfiguration("duplicate converter for type %s", t)
		}
		if b, ok := c.(binder); ok && tables != nil {
			if err := b.Bind(tables); err != nil {
				return nil, err
			}
		}
		r.byType[t] = c
		r.order = append(r.order, c)
	}
	return r, nil
}

// Lookup returns the converter for a type.
func (r *ConverterRegistry) Lookup(t reflect.Type) (Converter, error) {
	c, ok := r.byType[t]
	if !ok {
		return nil, &domain.UnregisteredConverterError{Type: t.String()}
	}
	return c, nil
}

// Converters returns the registered converters in registration order.
func (r *ConverterRegistry) Converters() []Converter {
	out := make([]Converter, len(r.order))
	copy(out, r.order)
	return out
}

package conditions

import (
	"database/sql"
	"time"
)

// GenericRow holds the columns of any conditions table. Tools that handle
// tables without a dedicated row type use it.
type GenericRow struct {
	Object
	values []any
}

// NewGenericRow allocates a row whose fields match meta.
func NewGenericRow(meta TableMetaData) *GenericRow {
	values := make([]any, len(meta.Fields))
	for i, f := range meta.Fields {
		values[i] = newFieldPointer(f)
	}
	return &GenericRow{values: values}
}

// Fields implements Row.
func (r *GenericRow) Fields() []any { return r.values }

// Map returns the row's values keyed by column name. NULL values are nil.
func (r *GenericRow) Map(meta TableMetaData) map[string]any {
	vals := FieldValues(r)
	out := make(map[string]any, len(vals))
	for i, f := range meta.Fields {
		if i < len(vals) {
			out[f.Column] = vals[i]
		}
	}
	return out
}

func newFieldPointer(f Field) any {
	switch {
	case f.Type == ColumnInt && f.Nullable:
		return new(sql.Null[int64])
	case f.Type == ColumnInt:
		return new(int64)
	case f.Type == ColumnFloat && f.Nullable:
		return new(sql.Null[float64])
	case f.Type == ColumnFloat:
		return new(float64)
	case f.Type == ColumnTime && f.Nullable:
		return new(sql.Null[time.Time])
	case f.Type == ColumnTime:
		return new(time.Time)
	case f.Nullable:
		return new(sql.Null[string])
	default:
		return new(string)
	}
}

// NewGenericCollection creates an empty collection of GenericRow for any
// registered table.
func NewGenericCollection(meta TableMetaData) *Collection[*GenericRow] {
	meta = meta.clone()
	return &Collection[*GenericRow]{
		meta:   meta,
		newRow: func() *GenericRow { return NewGenericRow(meta) },
	}
}

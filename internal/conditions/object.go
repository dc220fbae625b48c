package conditions

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"hps-conditions/internal/db"
	"hps-conditions/internal/domain"
)

// Object is the persistence state embedded in every conditions row type.
// A zero row id means the object is transient (never inserted or deleted).
type Object struct {
	rowID        int64
	collectionID int64
	dirty        bool
}

// RowID returns the primary key, or 0 for a transient object.
func (o *Object) RowID() int64 { return o.rowID }

// CollectionID returns the owning collection id, or 0 when unset.
func (o *Object) CollectionID() int64 { return o.collectionID }

// IsNew reports whether the object has not been inserted.
func (o *Object) IsNew() bool { return o.rowID == 0 }

// IsDirty reports whether the object has unsaved field changes.
func (o *Object) IsDirty() bool { return o.dirty }

// MarkDirty flags the object for the next Update. Call it after changing
// a field of a persisted row.
func (o *Object) MarkDirty() { o.dirty = true }

// SetCollectionID assigns the owning collection. A persisted object keeps
// its collection for life.
func (o *Object) SetCollectionID(id int64) error {
	if err := o.checkCollectionID(id); err != nil {
		return err
	}
	o.collectionID = id
	return nil
}

func (o *Object) checkCollectionID(id int64) error {
	if id < 0 {
		return domain.ErrValidation("invalid collection id %d", id)
	}
	if !o.IsNew() && o.collectionID != id {
		return domain.ErrDatabaseObject("", o.rowID,
			"cannot move persisted object from collection %d to %d", o.collectionID, id)
	}
	return nil
}

func (o *Object) object() *Object { return o }

// Row is implemented by conditions row types: structs embedding Object
// whose Fields method returns pointers to the domain columns, in the order
// of the table's TableMetaData.Fields.
type Row interface {
	object() *Object
	Fields() []any
}

// RowPtr constrains a pointer-to-struct row type so generic code can
// allocate fresh rows.
type RowPtr[T any] interface {
	*T
	Row
}

// kindOf reports the column type a field pointer can hold.
func kindOf(p any) (typ ColumnType, nullable bool, ok bool) {
	switch p.(type) {
	case *int, *int32, *int64:
		return ColumnInt, false, true
	case *float64:
		return ColumnFloat, false, true
	case *string:
		return ColumnString, false, true
	case *time.Time:
		return ColumnTime, false, true
	case *sql.Null[int], *sql.Null[int64]:
		return ColumnInt, true, true
	case *sql.Null[float64]:
		return ColumnFloat, true, true
	case *sql.Null[string]:
		return ColumnString, true, true
	case *sql.Null[time.Time]:
		return ColumnTime, true, true
	default:
		return "", false, false
	}
}

// BindRow checks that row type T matches the descriptor registered under
// key: same number of fields, and each field pointer compatible with the
// declared column type and nullability.
func BindRow[T any, PT RowPtr[T]](tables *TableRegistry, key string) error {
	meta, err := tables.FindByKey(key)
	if err != nil {
		return domain.ErrConfiguration("bind %s: %v", reflect.TypeFor[T](), err)
	}
	return checkRow(PT(new(T)), meta)
}

func checkRow(row Row, meta TableMetaData) error {
	fields := row.Fields()
	if len(fields) != len(meta.Fields) {
		return domain.ErrConfiguration("row type %T has %d fields, table %q declares %d",
			row, len(fields), meta.TableName, len(meta.Fields))
	}
	for i, p := range fields {
		typ, nullable, ok := kindOf(p)
		if !ok {
			return domain.ErrConfiguration("row type %T field %d (%s): unsupported Go type %T",
				row, i, meta.Fields[i].Column, p)
		}
		col := meta.Fields[i]
		if typ != col.Type {
			return domain.ErrConfiguration("row type %T field %d (%s): Go type %T does not hold %s column",
				row, i, col.Column, p, col.Type)
		}
		if nullable != col.Nullable {
			return domain.ErrConfiguration("row type %T field %d (%s): nullability mismatch",
				row, i, col.Column)
		}
	}
	return nil
}

// fieldValue dereferences a field pointer into a driver argument.
func fieldValue(p any) any {
	switch v := p.(type) {
	case *int:
		return int64(*v)
	case *int32:
		return int64(*v)
	case *time.Time:
		return v.UTC()
	default:
		rv := reflect.ValueOf(p)
		if rv.Kind() == reflect.Pointer && !rv.IsNil() {
			return rv.Elem().Interface()
		}
		return p
	}
}

// FieldValues returns the row's column values in table order. Null values
// of nullable columns are returned as nil.
func FieldValues(row Row) []any {
	fields := row.Fields()
	out := make([]any, len(fields))
	for i, p := range fields {
		switch v := p.(type) {
		case *sql.Null[int]:
			out[i] = nullOrValue(v.Valid, v.V)
		case *sql.Null[int64]:
			out[i] = nullOrValue(v.Valid, v.V)
		case *sql.Null[float64]:
			out[i] = nullOrValue(v.Valid, v.V)
		case *sql.Null[string]:
			out[i] = nullOrValue(v.Valid, v.V)
		case *sql.Null[time.Time]:
			out[i] = nullOrValue(v.Valid, v.V)
		default:
			out[i] = fieldValue(p)
		}
	}
	return out
}

func nullOrValue[T any](valid bool, v T) any {
	if !valid {
		return nil
	}
	return v
}

// setField parses s into the field pointer p. An empty string sets a
// nullable field to NULL.
func setField(p any, s string) error {
	s = strings.TrimSpace(s)
	switch v := p.(type) {
	case *int:
		n, err := strconv.Atoi(s)
		*v = n
		return err
	case *int32:
		n, err := strconv.ParseInt(s, 10, 32)
		*v = int32(n)
		return err
	case *int64:
		n, err := strconv.ParseInt(s, 10, 64)
		*v = n
		return err
	case *float64:
		f, err := strconv.ParseFloat(s, 64)
		*v = f
		return err
	case *string:
		*v = s
		return nil
	case *time.Time:
		t, err := time.Parse(time.RFC3339, s)
		*v = t
		return err
	case *sql.Null[int]:
		return setNull(v, s, strconv.Atoi)
	case *sql.Null[int64]:
		return setNull(v, s, func(s string) (int64, error) { return strconv.ParseInt(s, 10, 64) })
	case *sql.Null[float64]:
		return setNull(v, s, func(s string) (float64, error) { return strconv.ParseFloat(s, 64) })
	case *sql.Null[string]:
		return setNull(v, s, func(s string) (string, error) { return s, nil })
	case *sql.Null[time.Time]:
		return setNull(v, s, func(s string) (time.Time, error) { return time.Parse(time.RFC3339, s) })
	default:
		return fmt.Errorf("unsupported field type %T", p)
	}
}

func setNull[T any](n *sql.Null[T], s string, parse func(string) (T, error)) error {
	if s == "" {
		*n = sql.Null[T]{}
		return nil
	}
	v, err := parse(s)
	if err != nil {
		return err
	}
	*n = sql.Null[T]{V: v, Valid: true}
	return nil
}

func insertSQL(d db.Dialect, meta TableMetaData) string {
	cols := make([]string, 0, len(meta.Fields)+1)
	cols = append(cols, d.Quote(meta.CollectionIDColumn))
	for _, f := range meta.Fields {
		cols = append(cols, d.Quote(f.Column))
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		d.Quote(meta.TableName), strings.Join(cols, ", "), d.Placeholders(len(cols)))
}

func updateSQL(d db.Dialect, meta TableMetaData) string {
	sets := make([]string, len(meta.Fields))
	for i, f := range meta.Fields {
		sets[i] = d.Quote(f.Column) + " = ?"
	}
	return fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?",
		d.Quote(meta.TableName), strings.Join(sets, ", "), d.Quote(meta.PrimaryKey))
}

func deleteSQL(d db.Dialect, meta TableMetaData) string {
	return fmt.Sprintf("DELETE FROM %s WHERE %s = ?", d.Quote(meta.TableName), d.Quote(meta.PrimaryKey))
}

func selectSQL(d db.Dialect, meta TableMetaData, where string) string {
	cols := make([]string, 0, len(meta.Fields)+2)
	cols = append(cols, d.Quote(meta.PrimaryKey), d.Quote(meta.CollectionIDColumn))
	for _, f := range meta.Fields {
		cols = append(cols, d.Quote(f.Column))
	}
	return fmt.Sprintf("SELECT %s FROM %s WHERE %s = ? ORDER BY %s",
		strings.Join(cols, ", "), d.Quote(meta.TableName), d.Quote(where), d.Quote(meta.PrimaryKey))
}

// InsertObject inserts a transient row and assigns its row id. The row's
// collection id must already be set.
func InsertObject(ctx context.Context, q db.Querier, meta TableMetaData, row Row) error {
	o := row.object()
	if !o.IsNew() {
		return domain.ErrDatabaseObject(meta.TableName, o.rowID, "object is already inserted")
	}
	if o.collectionID <= 0 {
		return domain.ErrDatabaseObject(meta.TableName, 0, "cannot insert object without a collection id")
	}
	args := append([]any{o.collectionID}, FieldValues(row)...)
	id, err := q.InsertReturningID(ctx, meta.PrimaryKey, insertSQL(q.Dialect(), meta), args...)
	if err != nil {
		return err
	}
	o.rowID = id
	o.dirty = false
	return nil
}

// UpdateObject writes a dirty row back. It reports false without touching
// the database when the row has no changes.
func UpdateObject(ctx context.Context, q db.Querier, meta TableMetaData, row Row) (bool, error) {
	o := row.object()
	if o.IsNew() {
		return false, domain.ErrDatabaseObject(meta.TableName, 0, "cannot update an object that was never inserted")
	}
	if !o.dirty {
		return false, nil
	}
	args := append(FieldValues(row), o.rowID)
	res, err := q.Exec(ctx, updateSQL(q.Dialect(), meta), args...)
	if err != nil {
		return false, err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return false, domain.ErrDatabaseObject(meta.TableName, o.rowID, "row no longer exists")
	}
	o.dirty = false
	return true, nil
}

// DeleteObject removes a persisted row and resets it to transient.
func DeleteObject(ctx context.Context, q db.Querier, meta TableMetaData, row Row) error {
	o := row.object()
	if o.IsNew() {
		return domain.ErrDatabaseObject(meta.TableName, 0, "cannot delete an object that was never inserted")
	}
	if _, err := q.Exec(ctx, deleteSQL(q.Dialect(), meta), o.rowID); err != nil {
		return err
	}
	o.rowID = 0
	o.dirty = false
	return nil
}

// SelectObject loads the row with the given primary key into row.
func SelectObject(ctx context.Context, q db.Querier, meta TableMetaData, row Row, rowID int64) error {
	query := selectSQL(q.Dialect(), meta, meta.PrimaryKey)
	rows, err := q.Query(ctx, query, rowID)
	if err != nil {
		return err
	}
	defer rows.Close() //nolint:errcheck

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return domain.ErrDatabase("query", query, err)
		}
		return domain.ErrNotFound("row %d not found in table %q", rowID, meta.TableName)
	}
	if err := scanRow(rows, row); err != nil {
		return domain.ErrDatabase("scan", query, err)
	}
	return nil
}

func scanRow(rows *sql.Rows, row Row) error {
	o := row.object()
	dest := append([]any{&o.rowID, &o.collectionID}, row.Fields()...)
	if err := rows.Scan(dest...); err != nil {
		return err
	}
	o.dirty = false
	return nil
}

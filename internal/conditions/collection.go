package conditions

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"hps-conditions/internal/db"
	"hps-conditions/internal/domain"
)

// Collection is an ordered set of rows of one conditions table sharing a
// collection id. Insertion order is preserved.
type Collection[T Row] struct {
	meta         TableMetaData
	collectionID int64
	rows         []T
	newRow       func() T
}

// NewCollection creates an empty collection of row type T for a table.
func NewCollection[T any, PT RowPtr[T]](meta TableMetaData) *Collection[PT] {
	return &Collection[PT]{
		meta:   meta.clone(),
		newRow: func() PT { return PT(new(T)) },
	}
}

// Meta returns the table descriptor.
func (c *Collection[T]) Meta() TableMetaData { return c.meta.clone() }

// TableName returns the backing table name.
func (c *Collection[T]) TableName() string { return c.meta.TableName }

// CollectionID returns the collection id, or 0 when unassigned.
func (c *Collection[T]) CollectionID() int64 { return c.collectionID }

// SetCollectionID assigns the collection id to the collection and all of
// its members. Nothing changes if any member rejects the id.
func (c *Collection[T]) SetCollectionID(id int64) error {
	if id < 0 {
		return domain.ErrValidation("invalid collection id %d", id)
	}
	for _, r := range c.rows {
		if err := r.object().checkCollectionID(id); err != nil {
			return err
		}
	}
	for _, r := range c.rows {
		r.object().collectionID = id
	}
	c.collectionID = id
	return nil
}

// checkpoint captures the persistence state of the collection and its
// rows. The returned function restores it.
func (c *Collection[T]) checkpoint() func() {
	id := c.collectionID
	saved := make([]Object, len(c.rows))
	for i, r := range c.rows {
		saved[i] = *r.object()
	}
	return func() {
		c.collectionID = id
		for i := range saved {
			*c.rows[i].object() = saved[i]
		}
	}
}

// Add appends a row. A row that already belongs to a different collection
// is rejected.
func (c *Collection[T]) Add(row T) error {
	o := row.object()
	switch {
	case c.collectionID == 0 && o.collectionID != 0 && len(c.rows) == 0:
		c.collectionID = o.collectionID
	case o.collectionID != 0 && o.collectionID != c.collectionID:
		return domain.ErrDatabaseObject(c.meta.TableName, o.rowID,
			"object of collection %d cannot be added to collection %d", o.collectionID, c.collectionID)
	case o.collectionID == 0 && c.collectionID != 0:
		o.collectionID = c.collectionID
	}
	c.rows = append(c.rows, row)
	return nil
}

// Len returns the number of rows.
func (c *Collection[T]) Len() int { return len(c.rows) }

// Get returns the row at index i.
func (c *Collection[T]) Get(i int) T { return c.rows[i] }

// Objects returns the rows in order. The slice is a copy; the rows are not.
func (c *Collection[T]) Objects() []T { return slices.Clone(c.rows) }

// Rows returns the rows as Row values, for code that handles any table.
func (c *Collection[T]) Rows() []Row {
	out := make([]Row, len(c.rows))
	for i, r := range c.rows {
		out[i] = r
	}
	return out
}

// Find returns the first row matching pred.
func (c *Collection[T]) Find(pred func(T) bool) (T, bool) {
	for _, r := range c.rows {
		if pred(r) {
			return r, true
		}
	}
	var zero T
	return zero, false
}

// Sort orders the rows in place.
func (c *Collection[T]) Sort(cmp func(a, b T) int) {
	slices.SortStableFunc(c.rows, cmp)
}

// Sorted returns a sorted copy of the collection sharing the same rows.
func (c *Collection[T]) Sorted(cmp func(a, b T) int) *Collection[T] {
	out := &Collection[T]{meta: c.meta, collectionID: c.collectionID, rows: slices.Clone(c.rows), newRow: c.newRow}
	out.Sort(cmp)
	return out
}

// Select replaces the contents with the rows of the given collection id,
// in primary key order, and returns how many were loaded.
func (c *Collection[T]) Select(ctx context.Context, q db.Querier, collectionID int64) (int, error) {
	query := selectSQL(q.Dialect(), c.meta, c.meta.CollectionIDColumn)
	rows, err := q.Query(ctx, query, collectionID)
	if err != nil {
		return 0, err
	}
	defer rows.Close() //nolint:errcheck

	var loaded []T
	for rows.Next() {
		r := c.newRow()
		if err := scanRow(rows, r); err != nil {
			return 0, domain.ErrDatabase("scan", query, err)
		}
		loaded = append(loaded, r)
	}
	if err := rows.Err(); err != nil {
		return 0, domain.ErrDatabase("query", query, err)
	}
	c.rows = loaded
	c.collectionID = collectionID
	return len(loaded), nil
}

// Insert inserts every row. The collection id must be assigned and no
// member may be persisted already.
func (c *Collection[T]) Insert(ctx context.Context, q db.Querier) error {
	if c.collectionID <= 0 {
		return domain.ErrDatabaseObject(c.meta.TableName, 0, "cannot insert a collection without a collection id")
	}
	for _, r := range c.rows {
		if !r.object().IsNew() {
			return domain.ErrDatabaseObject(c.meta.TableName, r.object().rowID, "collection member is already inserted")
		}
	}
	for _, r := range c.rows {
		if err := r.object().SetCollectionID(c.collectionID); err != nil {
			return err
		}
		if err := InsertObject(ctx, q, c.meta, r); err != nil {
			return err
		}
	}
	return nil
}

// Update writes every dirty row and returns how many were written.
func (c *Collection[T]) Update(ctx context.Context, q db.Querier) (int, error) {
	n := 0
	for _, r := range c.rows {
		updated, err := UpdateObject(ctx, q, c.meta, r)
		if err != nil {
			return n, err
		}
		if updated {
			n++
		}
	}
	return n, nil
}

// Delete removes every persisted row. The rows stay in the collection as
// transient objects.
func (c *Collection[T]) Delete(ctx context.Context, q db.Querier) error {
	for _, r := range c.rows {
		if r.object().IsNew() {
			continue
		}
		if err := DeleteObject(ctx, q, c.meta, r); err != nil {
			return err
		}
	}
	return nil
}

// LoadCSV appends rows read from CSV. The header names the columns; every
// domain column of the table must be present and other columns are
// ignored. Empty cells of nullable columns become NULL.
func (c *Collection[T]) LoadCSV(r io.Reader) (int, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.Comment = '#'

	header, err := cr.Read()
	if err != nil {
		return 0, domain.ErrValidation("read CSV header: %v", err)
	}
	index := make(map[string]int, len(header))
	for i, h := range header {
		index[strings.ToLower(strings.TrimSpace(h))] = i
	}
	positions := make([]int, len(c.meta.Fields))
	for i, f := range c.meta.Fields {
		pos, ok := index[f.Column]
		if !ok {
			return 0, domain.ErrValidation("CSV is missing column %q of table %q", f.Column, c.meta.TableName)
		}
		positions[i] = pos
	}

	added := 0
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return added, domain.ErrValidation("read CSV line %d: %v", line, err)
		}
		row := c.newRow()
		for i, p := range row.Fields() {
			if err := setField(p, rec[positions[i]]); err != nil {
				return added, domain.ErrValidation("CSV line %d column %q: %v", line, c.meta.Fields[i].Column, err)
			}
		}
		if err := c.Add(row); err != nil {
			return added, err
		}
		added++
	}
	return added, nil
}

// String summarizes the collection.
func (c *Collection[T]) String() string {
	return fmt.Sprintf("%s collection %d (%d rows)", c.meta.TableName, c.collectionID, len(c.rows))
}

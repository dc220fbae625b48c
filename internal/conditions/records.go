package conditions

import (
	"cmp"
	"context"
	"database/sql"
	"slices"
	"sort"
	"time"

	"hps-conditions/internal/db"
	"hps-conditions/internal/domain"
)

const recordColumns = `id, collection_id, run_start, run_end, table_name, field_name, name, tag, notes, created_by, created, updated`

// RecordRepo implements domain.ConditionsRecordRepository on the conditions
// table.
type RecordRepo struct {
	q   db.Querier
	now func() time.Time
}

var _ domain.ConditionsRecordRepository = (*RecordRepo)(nil)

// NewRecordRepo creates a new RecordRepo.
func NewRecordRepo(q db.Querier) *RecordRepo {
	return &RecordRepo{q: q, now: now}
}

// now returns the current time at the precision every backend stores.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// Insert validates and stores a record. An interval overlapping an existing
// record of the same name and tag is a ConflictError unless action lets
// newer records supersede older ones.
func (r *RecordRepo) Insert(ctx context.Context, rec *domain.ConditionsRecord, action domain.MultipleCollectionsAction) (*domain.ConditionsRecord, error) {
	out := *rec
	if out.FieldName == "" {
		out.FieldName = domain.DefaultFieldName
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	if !action.Supersedes() {
		existing, err := r.ListByName(ctx, out.Name, out.Tag)
		if err != nil {
			return nil, err
		}
		for i := range existing {
			if existing[i].Overlaps(&out) {
				return nil, domain.ErrConflict("conditions %q [%d, %d] overlaps record %d [%d, %d] (collection %d)",
					out.Name, out.RunStart, out.RunEnd,
					existing[i].RowID, existing[i].RunStart, existing[i].RunEnd, existing[i].CollectionID)
			}
		}
	}
	ts := r.now()
	if out.Created.IsZero() {
		out.Created = ts
	}
	if out.Updated.IsZero() {
		out.Updated = out.Created
	}
	id, err := r.q.InsertReturningID(ctx, "id",
		`INSERT INTO conditions (collection_id, run_start, run_end, table_name, field_name, name, tag, notes, created_by, created, updated)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		out.CollectionID, out.RunStart, out.RunEnd, out.TableName, out.FieldName, out.Name, out.Tag,
		out.Notes, out.CreatedBy, out.Created.UTC(), out.Updated.UTC())
	if err != nil {
		return nil, err
	}
	out.RowID = id
	return &out, nil
}

// Get returns the record with the given row id.
func (r *RecordRepo) Get(ctx context.Context, rowID int64) (*domain.ConditionsRecord, error) {
	recs, err := r.list(ctx, `SELECT `+recordColumns+` FROM conditions WHERE id = ?`, rowID)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, domain.ErrNotFound("conditions record %d not found", rowID)
	}
	return &recs[0], nil
}

// Delete removes the record with the given row id.
func (r *RecordRepo) Delete(ctx context.Context, rowID int64) error {
	res, err := r.q.Exec(ctx, `DELETE FROM conditions WHERE id = ?`, rowID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrNotFound("conditions record %d not found", rowID)
	}
	return nil
}

// Touch sets the updated timestamp of a record to now.
func (r *RecordRepo) Touch(ctx context.Context, rowID int64) error {
	res, err := r.q.Exec(ctx, `UPDATE conditions SET updated = ? WHERE id = ?`, r.now(), rowID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrNotFound("conditions record %d not found", rowID)
	}
	return nil
}

// Find returns the records of a conditions set that cover a run, resolved
// by the request's MultipleCollectionsAction. Every action except COMBINE
// yields exactly one record.
func (r *RecordRepo) Find(ctx context.Context, req domain.FindRequest) ([]domain.ConditionsRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM conditions WHERE name = ? AND run_start <= ? AND run_end >= ?`
	args := []any{req.Name, req.Run, req.Run}
	if req.Tag != "" {
		query += ` AND tag = ?`
		args = append(args, req.Tag)
	}
	query += ` ORDER BY collection_id, id`

	recs, err := r.list(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return Resolve(req, recs)
}

// Resolve applies the request's MultipleCollectionsAction to the records
// matching it. recs must be ordered by collection id.
func Resolve(req domain.FindRequest, recs []domain.ConditionsRecord) ([]domain.ConditionsRecord, error) {
	switch len(recs) {
	case 0:
		return nil, &domain.ConditionsNotFoundError{Name: req.Name, Run: req.Run, Tag: req.Tag}
	case 1:
		return recs, nil
	}

	newest := func(compare func(a, b *domain.ConditionsRecord) int) []domain.ConditionsRecord {
		best := slices.MaxFunc(recs, func(a, b domain.ConditionsRecord) int {
			return cmp.Or(compare(&a, &b), cmp.Compare(a.CollectionID, b.CollectionID), cmp.Compare(a.RowID, b.RowID))
		})
		return []domain.ConditionsRecord{best}
	}

	switch req.Action {
	case domain.ActionLastCreated:
		// Collection ids are allocated in creation order.
		return newest(func(a, b *domain.ConditionsRecord) int { return cmp.Compare(a.CollectionID, b.CollectionID) }), nil
	case domain.ActionLastUpdated:
		return newest(func(a, b *domain.ConditionsRecord) int { return a.Updated.Compare(b.Updated) }), nil
	case domain.ActionLatestRunStart:
		return newest(func(a, b *domain.ConditionsRecord) int { return cmp.Compare(a.RunStart, b.RunStart) }), nil
	case domain.ActionCombine:
		return recs, nil
	default:
		ids := make([]int64, len(recs))
		for i := range recs {
			ids[i] = recs[i].CollectionID
		}
		return nil, &domain.AmbiguousConditionsError{Name: req.Name, Run: req.Run, CollectionIDs: ids}
	}
}

// ListByName returns every record of a conditions set ordered by run start.
// An empty tag matches every tag.
func (r *RecordRepo) ListByName(ctx context.Context, name, tag string) ([]domain.ConditionsRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM conditions WHERE name = ?`
	args := []any{name}
	if tag != "" {
		query += ` AND tag = ?`
		args = append(args, tag)
	}
	query += ` ORDER BY run_start, collection_id, id`
	return r.list(ctx, query, args...)
}

// ListCovering returns the records whose interval intersects
// [runStart, runEnd], ordered by name and collection id.
func (r *RecordRepo) ListCovering(ctx context.Context, runStart, runEnd int, tag string) ([]domain.ConditionsRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM conditions WHERE run_start <= ? AND run_end >= ?`
	args := []any{runEnd, runStart}
	if tag != "" {
		query += ` AND tag = ?`
		args = append(args, tag)
	}
	query += ` ORDER BY name, collection_id, id`
	return r.list(ctx, query, args...)
}

// CheckOverlaps reports every pair of records with the same name and tag
// whose intervals intersect.
func (r *RecordRepo) CheckOverlaps(ctx context.Context) ([]domain.OverlapReport, error) {
	recs, err := r.list(ctx, `SELECT `+recordColumns+` FROM conditions ORDER BY name, tag, run_start, id`)
	if err != nil {
		return nil, err
	}
	var reports []domain.OverlapReport
	for i := 0; i < len(recs); i++ {
		for j := i + 1; j < len(recs); j++ {
			if recs[j].Name != recs[i].Name || recs[j].Tag != recs[i].Tag {
				break
			}
			if recs[i].Overlaps(&recs[j]) {
				reports = append(reports, domain.OverlapReport{First: recs[i], Second: recs[j]})
			}
		}
	}
	return reports, nil
}

// ResolveRange returns, for every conditions set with records intersecting
// [runStart, runEnd], the distinct records selected at some run of the
// range. Resolution is evaluated at each interval boundary inside the
// range, where the selected record can change.
func (r *RecordRepo) ResolveRange(ctx context.Context, runStart, runEnd int, tag string,
	actionFor func(name string) domain.MultipleCollectionsAction,
) ([]domain.ConditionsRecord, error) {
	if runStart > runEnd {
		return nil, domain.ErrValidation("run start %d is after run end %d", runStart, runEnd)
	}
	covering, err := r.ListCovering(ctx, runStart, runEnd, tag)
	if err != nil {
		return nil, err
	}

	byName := make(map[string][]domain.ConditionsRecord)
	var names []string
	for _, rec := range covering {
		if _, ok := byName[rec.Name]; !ok {
			names = append(names, rec.Name)
		}
		byName[rec.Name] = append(byName[rec.Name], rec)
	}

	var out []domain.ConditionsRecord
	for _, name := range names {
		recs := byName[name]
		boundaries := map[int]bool{runStart: true}
		for _, rec := range recs {
			if rec.RunStart >= runStart && rec.RunStart <= runEnd {
				boundaries[rec.RunStart] = true
			}
			if rec.RunEnd+1 >= runStart && rec.RunEnd+1 <= runEnd {
				boundaries[rec.RunEnd+1] = true
			}
		}
		runs := make([]int, 0, len(boundaries))
		for run := range boundaries {
			runs = append(runs, run)
		}
		sort.Ints(runs)

		seen := make(map[int64]bool)
		for _, run := range runs {
			var matching []domain.ConditionsRecord
			for _, rec := range recs {
				if rec.Covers(run) {
					matching = append(matching, rec)
				}
			}
			if len(matching) == 0 {
				continue
			}
			slices.SortFunc(matching, func(a, b domain.ConditionsRecord) int {
				return cmp.Or(cmp.Compare(a.CollectionID, b.CollectionID), cmp.Compare(a.RowID, b.RowID))
			})
			selected, err := Resolve(domain.FindRequest{Run: run, Name: name, Tag: tag, Action: actionFor(name)}, matching)
			if err != nil {
				return nil, err
			}
			for _, rec := range selected {
				if !seen[rec.RowID] {
					seen[rec.RowID] = true
					out = append(out, rec)
				}
			}
		}
	}
	return out, nil
}

// CopyToTag inserts a copy of each record under a new tag.
func (r *RecordRepo) CopyToTag(ctx context.Context, recs []domain.ConditionsRecord, tag, createdBy string,
	actionFor func(name string) domain.MultipleCollectionsAction,
) ([]domain.ConditionsRecord, error) {
	if tag == "" {
		return nil, domain.ErrValidation("tag is required")
	}
	out := make([]domain.ConditionsRecord, 0, len(recs))
	for _, rec := range recs {
		cp := rec
		cp.RowID = 0
		cp.Tag = tag
		cp.CreatedBy = createdBy
		cp.Created = time.Time{}
		cp.Updated = time.Time{}
		inserted, err := r.Insert(ctx, &cp, actionFor(rec.Name))
		if err != nil {
			return out, err
		}
		out = append(out, *inserted)
	}
	return out, nil
}

func (r *RecordRepo) list(ctx context.Context, query string, args ...any) ([]domain.ConditionsRecord, error) {
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	var recs []domain.ConditionsRecord
	for rows.Next() {
		var rec domain.ConditionsRecord
		var notes sql.Null[string]
		if err := rows.Scan(&rec.RowID, &rec.CollectionID, &rec.RunStart, &rec.RunEnd,
			&rec.TableName, &rec.FieldName, &rec.Name, &rec.Tag, &notes,
			&rec.CreatedBy, &rec.Created, &rec.Updated); err != nil {
			return nil, domain.ErrDatabase("scan", query, err)
		}
		rec.Notes = notes
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrDatabase("query", query, err)
	}
	return recs, nil
}

// CollectionRepo implements domain.CollectionRepository on the collections
// table.
type CollectionRepo struct {
	q db.Querier
}

var _ domain.CollectionRepository = (*CollectionRepo)(nil)

// NewCollectionRepo creates a new CollectionRepo.
func NewCollectionRepo(q db.Querier) *CollectionRepo {
	return &CollectionRepo{q: q}
}

// Allocate reserves a new collection id for a table. Ids increase with
// allocation order and carry their creation time.
func (r *CollectionRepo) Allocate(ctx context.Context, tableName, log, description string) (int64, error) {
	if tableName == "" {
		return 0, domain.ErrValidation("table name is required")
	}
	return r.q.InsertReturningID(ctx, "id",
		`INSERT INTO collections (table_name, log, description, created) VALUES (?, ?, ?, ?)`,
		tableName, nullString(log), nullString(description), now())
}

// Exists reports whether a collection id was allocated for the table.
func (r *CollectionRepo) Exists(ctx context.Context, tableName string, collectionID int64) (bool, error) {
	rows, err := r.q.Query(ctx, `SELECT id FROM collections WHERE id = ? AND table_name = ?`, collectionID, tableName)
	if err != nil {
		return false, err
	}
	defer rows.Close() //nolint:errcheck
	found := rows.Next()
	if err := rows.Err(); err != nil {
		return false, domain.ErrDatabase("query", "collections", err)
	}
	return found, nil
}

// CountRows returns how many rows of a table belong to a collection.
func (r *CollectionRepo) CountRows(ctx context.Context, meta TableMetaData, collectionID int64) (int, error) {
	d := r.q.Dialect()
	query := `SELECT COUNT(*) FROM ` + d.Quote(meta.TableName) + ` WHERE ` + d.Quote(meta.CollectionIDColumn) + ` = ?`
	rows, err := r.q.Query(ctx, query, collectionID)
	if err != nil {
		return 0, err
	}
	defer rows.Close() //nolint:errcheck
	var n int
	if rows.Next() {
		if err := rows.Scan(&n); err != nil {
			return 0, domain.ErrDatabase("scan", query, err)
		}
	}
	return n, rows.Err()
}

func nullString(s string) sql.Null[string] {
	return sql.Null[string]{V: s, Valid: s != ""}
}

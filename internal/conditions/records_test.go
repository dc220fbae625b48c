package conditions

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hps-conditions/internal/db"
	"hps-conditions/internal/domain"
)

func record(name string, collectionID int64, start, end int) *domain.ConditionsRecord {
	return &domain.ConditionsRecord{
		CollectionID: collectionID,
		RunStart:     start,
		RunEnd:       end,
		TableName:    "beam_current",
		Name:         name,
		CreatedBy:    "test",
	}
}

func newRecordRepo(t *testing.T) *RecordRepo {
	t.Helper()
	repo := NewRecordRepo(db.OpenTestConnection(t))
	clock := time.Date(2015, 5, 1, 12, 0, 0, 0, time.UTC)
	repo.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return repo
}

func TestRecordRepo_FindScenario(t *testing.T) {
	ctx := context.Background()
	repo := newRecordRepo(t)
	_, err := repo.Insert(ctx, record("beam", 5, 2713, 2713), domain.ActionError)
	require.NoError(t, err)
	_, err = repo.Insert(ctx, record("beam", 6, 2723, 2723), domain.ActionError)
	require.NoError(t, err)

	find := func(run int) ([]domain.ConditionsRecord, error) {
		return repo.Find(ctx, domain.FindRequest{Run: run, Name: "beam", Action: domain.ActionError})
	}

	recs, err := find(2713)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, int64(5), recs[0].CollectionID)

	recs, err = find(2723)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, int64(6), recs[0].CollectionID)

	_, err = find(2714)
	var nf *domain.ConditionsNotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "beam", nf.Name)
	assert.Equal(t, 2714, nf.Run)
}

func TestRecordRepo_FindDeterministic(t *testing.T) {
	ctx := context.Background()
	repo := newRecordRepo(t)
	for _, id := range []int64{9, 3, 7} {
		_, err := repo.Insert(ctx, record("svt_gains", id, 1000, 2000), domain.ActionLastCreated)
		require.NoError(t, err)
	}
	req := domain.FindRequest{Run: 1500, Name: "svt_gains", Action: domain.ActionLastCreated}

	first, err := repo.Find(ctx, req)
	require.NoError(t, err)
	for range 5 {
		again, err := repo.Find(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, first[0].CollectionID, again[0].CollectionID)
	}
	assert.Equal(t, int64(9), first[0].CollectionID)

	req.Action = domain.ActionCombine
	all, err := repo.Find(ctx, req)
	require.NoError(t, err)
	ids := make([]int64, len(all))
	for i := range all {
		ids[i] = all[i].CollectionID
	}
	assert.Equal(t, []int64{3, 7, 9}, ids, "ordered by collection id")
}

func TestRecordRepo_OverlapRejected(t *testing.T) {
	ctx := context.Background()
	repo := newRecordRepo(t)
	_, err := repo.Insert(ctx, record("ecal_gains", 1, 100, 200), domain.ActionError)
	require.NoError(t, err)

	_, err = repo.Insert(ctx, record("ecal_gains", 2, 200, 300), domain.ActionError)
	var conflict *domain.ConflictError
	require.ErrorAs(t, err, &conflict)

	other := record("ecal_gains", 2, 200, 300)
	other.Tag = "pass1"
	_, err = repo.Insert(ctx, other, domain.ActionError)
	require.NoError(t, err, "different tag does not overlap")

	_, err = repo.Insert(ctx, record("ecal_gains", 3, 201, 300), domain.ActionError)
	require.NoError(t, err, "adjacent interval")

	reports, err := repo.CheckOverlaps(ctx)
	require.NoError(t, err)
	assert.Empty(t, reports)
}

func TestRecordRepo_OverlapFlagged(t *testing.T) {
	ctx := context.Background()
	repo := newRecordRepo(t)
	_, err := repo.Insert(ctx, record("svt_bias_constants", 1, 5000, 6000), domain.ActionLastCreated)
	require.NoError(t, err)
	_, err = repo.Insert(ctx, record("svt_bias_constants", 2, 5500, 5600), domain.ActionLastCreated)
	require.NoError(t, err, "superseding action allows overlap")

	reports, err := repo.CheckOverlaps(ctx)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, int64(1), reports[0].First.CollectionID)
	assert.Equal(t, int64(2), reports[0].Second.CollectionID)

	_, err = repo.Find(ctx, domain.FindRequest{Run: 5550, Name: "svt_bias_constants", Action: domain.ActionError})
	var amb *domain.AmbiguousConditionsError
	require.ErrorAs(t, err, &amb)
	assert.Equal(t, []int64{1, 2}, amb.CollectionIDs)
}

func TestRecordRepo_LastCreatedSelectsGreaterCollection(t *testing.T) {
	ctx := context.Background()
	repo := newRecordRepo(t)
	newer := record("beam_energies", 12, 1, 100)
	newer.Created = time.Date(2014, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := repo.Insert(ctx, newer, domain.ActionLastCreated)
	require.NoError(t, err)
	_, err = repo.Insert(ctx, record("beam_energies", 11, 1, 100), domain.ActionLastCreated)
	require.NoError(t, err)

	recs, err := repo.Find(ctx, domain.FindRequest{Run: 50, Name: "beam_energies", Action: domain.ActionLastCreated})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, int64(12), recs[0].CollectionID)
}

func TestRecordRepo_LastUpdatedAndLatestRunStart(t *testing.T) {
	ctx := context.Background()
	repo := newRecordRepo(t)
	a, err := repo.Insert(ctx, record("svt_t0_shifts", 1, 1, 100), domain.ActionLastUpdated)
	require.NoError(t, err)
	_, err = repo.Insert(ctx, record("svt_t0_shifts", 2, 50, 100), domain.ActionLastUpdated)
	require.NoError(t, err)

	req := domain.FindRequest{Run: 60, Name: "svt_t0_shifts", Action: domain.ActionLastUpdated}
	recs, err := repo.Find(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, int64(2), recs[0].CollectionID)

	require.NoError(t, repo.Touch(ctx, a.RowID))
	recs, err = repo.Find(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, int64(1), recs[0].CollectionID, "touched record is the last updated")

	req.Action = domain.ActionLatestRunStart
	recs, err = repo.Find(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, int64(2), recs[0].CollectionID)
}

func TestRecordRepo_TagFilter(t *testing.T) {
	ctx := context.Background()
	repo := newRecordRepo(t)
	untagged := record("beam_current", 1, 1, 10)
	tagged := record("beam_current", 2, 1, 10)
	tagged.Tag = "pass0"
	_, err := repo.Insert(ctx, untagged, domain.ActionError)
	require.NoError(t, err)
	_, err = repo.Insert(ctx, tagged, domain.ActionError)
	require.NoError(t, err)

	recs, err := repo.Find(ctx, domain.FindRequest{Run: 5, Name: "beam_current", Tag: "pass0"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), recs[0].CollectionID)

	_, err = repo.Find(ctx, domain.FindRequest{Run: 5, Name: "beam_current"})
	var amb *domain.AmbiguousConditionsError
	require.ErrorAs(t, err, &amb, "no tag matches every tag")
}

func TestRecordRepo_GetDelete(t *testing.T) {
	ctx := context.Background()
	repo := newRecordRepo(t)
	rec := record("beam_current", 1, 1, 10)
	rec.Notes.V, rec.Notes.Valid = "first pass", true
	inserted, err := repo.Insert(ctx, rec, domain.ActionError)
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultFieldName, inserted.FieldName)
	assert.Equal(t, inserted.Created, inserted.Updated)

	got, err := repo.Get(ctx, inserted.RowID)
	require.NoError(t, err)
	assert.Equal(t, "first pass", got.Notes.V)
	assert.True(t, inserted.Created.Equal(got.Created))

	require.NoError(t, repo.Delete(ctx, inserted.RowID))
	var nf *domain.NotFoundError
	_, err = repo.Get(ctx, inserted.RowID)
	require.ErrorAs(t, err, &nf)
	require.ErrorAs(t, repo.Delete(ctx, inserted.RowID), &nf)
	require.ErrorAs(t, repo.Touch(ctx, inserted.RowID), &nf)
}

func TestRecordRepo_InsertInvalid(t *testing.T) {
	repo := newRecordRepo(t)
	_, err := repo.Insert(context.Background(), record("beam_current", 1, 10, 1), domain.ActionError)
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestRecordRepo_ResolveRangeAndCopyToTag(t *testing.T) {
	ctx := context.Background()
	repo := newRecordRepo(t)
	for _, r := range []*domain.ConditionsRecord{
		record("beam_current", 1, 1, 99),
		record("beam_current", 2, 100, 199),
		record("beam_current", 3, 200, 299),
		record("beam_energies", 4, 1, 1000),
		record("beam_energies", 5, 150, 160),
	} {
		_, err := repo.Insert(ctx, r, domain.ActionLastCreated)
		require.NoError(t, err)
	}
	actionFor := func(string) domain.MultipleCollectionsAction { return domain.ActionLastCreated }

	recs, err := repo.ResolveRange(ctx, 120, 250, "", actionFor)
	require.NoError(t, err)
	ids := make([]int64, len(recs))
	for i := range recs {
		ids[i] = recs[i].CollectionID
	}
	assert.Equal(t, []int64{2, 3, 4, 5}, ids)

	_, err = repo.ResolveRange(ctx, 10, 1, "", actionFor)
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)

	copied, err := repo.CopyToTag(ctx, recs, "pass1", "tagger", actionFor)
	require.NoError(t, err)
	require.Len(t, copied, 4)
	for _, c := range copied {
		assert.Equal(t, "pass1", c.Tag)
		assert.Equal(t, "tagger", c.CreatedBy)
	}

	found, err := repo.Find(ctx, domain.FindRequest{Run: 155, Name: "beam_energies", Tag: "pass1", Action: domain.ActionLastCreated})
	require.NoError(t, err)
	assert.Equal(t, int64(5), found[0].CollectionID)

	_, err = repo.CopyToTag(ctx, recs, "", "tagger", actionFor)
	require.ErrorAs(t, err, &verr)
}

func TestResolve(t *testing.T) {
	recs := []domain.ConditionsRecord{
		{RowID: 1, CollectionID: 1, RunStart: 10, Updated: time.Unix(300, 0)},
		{RowID: 2, CollectionID: 2, RunStart: 30, Updated: time.Unix(100, 0)},
		{RowID: 3, CollectionID: 3, RunStart: 20, Updated: time.Unix(200, 0)},
	}
	tests := []struct {
		action domain.MultipleCollectionsAction
		want   int64
	}{
		{domain.ActionLastCreated, 3},
		{domain.ActionLastUpdated, 1},
		{domain.ActionLatestRunStart, 2},
	}
	for _, tt := range tests {
		t.Run(string(tt.action), func(t *testing.T) {
			out, err := Resolve(domain.FindRequest{Name: "x", Action: tt.action}, recs)
			require.NoError(t, err)
			require.Len(t, out, 1)
			assert.Equal(t, tt.want, out[0].CollectionID)
		})
	}

	out, err := Resolve(domain.FindRequest{Action: domain.ActionCombine}, recs)
	require.NoError(t, err)
	assert.Len(t, out, 3)

	out, err = Resolve(domain.FindRequest{Action: domain.ActionError}, recs[:1])
	require.NoError(t, err)
	assert.Len(t, out, 1)
}

func TestCollectionRepo(t *testing.T) {
	ctx := context.Background()
	conn := db.OpenTestConnection(t)
	repo := NewCollectionRepo(conn)

	first, err := repo.Allocate(ctx, "beam_current", "", "")
	require.NoError(t, err)
	second, err := repo.Allocate(ctx, "beam_current", "load", "second pass")
	require.NoError(t, err)
	assert.Greater(t, second, first)

	ok, err := repo.Exists(ctx, "beam_current", second)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = repo.Exists(ctx, "ecal_gains", second)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = repo.Allocate(ctx, "", "", "")
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)

	meta, err := testRegistry(t).FindByKey("ecal_gains")
	require.NoError(t, err)
	n, err := repo.CountRows(ctx, meta, first)
	require.NoError(t, err)
	assert.Zero(t, n)
}

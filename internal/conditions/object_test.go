package conditions

import (
	"context"
	"database/sql"
	"log/slog"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hps-conditions/internal/db"
	"hps-conditions/internal/domain"
)

type gainRow struct {
	Object
	ChannelID int
	Gain      float64
}

func (g *gainRow) Fields() []any { return []any{&g.ChannelID, &g.Gain} }

type noteRow struct {
	Object
	ChannelID int
	Notes     sql.Null[string]
}

func (n *noteRow) Fields() []any { return []any{&n.ChannelID, &n.Notes} }

func badChannelsTable() TableMetaData {
	return TableMetaData{
		Key:       "svt_bad_channels",
		TableName: "svt_bad_channels",
		Fields: []Field{
			{Column: "svt_channel_id", Type: ColumnInt},
			{Column: "notes", Type: ColumnString, Nullable: true},
		},
	}
}

func testRegistry(t *testing.T) *TableRegistry {
	t.Helper()
	r := NewTableRegistry()
	require.NoError(t, r.RegisterAll(gainsTable(), badChannelsTable()))
	return r
}

func allocate(t *testing.T, conn *db.ConnectionManager, table string) int64 {
	t.Helper()
	id, err := NewCollectionRepo(conn).Allocate(context.Background(), table, "test", "")
	require.NoError(t, err)
	return id
}

func TestBindRow(t *testing.T) {
	r := testRegistry(t)
	require.NoError(t, BindRow[gainRow](r, "ecal_gains"))
	require.NoError(t, BindRow[noteRow](r, "svt_bad_channels"))

	var cerr *domain.ConfigurationError
	require.ErrorAs(t, BindRow[gainRow](r, "svt_bad_channels"), &cerr, "float field on a string column")
	require.ErrorAs(t, BindRow[noteRow](r, "ecal_gains"), &cerr)
	require.ErrorAs(t, BindRow[gainRow](r, "unknown"), &cerr)

	notNull := badChannelsTable()
	notNull.Key, notNull.TableName = "strict_notes", "strict_notes"
	notNull.Fields[1].Nullable = false
	require.NoError(t, r.Register(notNull))
	require.ErrorAs(t, BindRow[noteRow](r, "strict_notes"), &cerr, "nullability mismatch")
}

func TestFieldValues(t *testing.T) {
	row := &noteRow{ChannelID: 7}
	assert.Equal(t, []any{int64(7), nil}, FieldValues(row))

	row.Notes = sql.Null[string]{V: "dead strip", Valid: true}
	assert.Equal(t, []any{int64(7), "dead strip"}, FieldValues(row))
}

func TestObject_Lifecycle(t *testing.T) {
	ctx := context.Background()
	conn := db.OpenTestConnection(t)
	meta, err := testRegistry(t).FindByKey("ecal_gains")
	require.NoError(t, err)

	row := &gainRow{ChannelID: 12, Gain: 0.158}
	var oerr *domain.DatabaseObjectError
	require.ErrorAs(t, InsertObject(ctx, conn, meta, row), &oerr, "insert without a collection id")

	id := allocate(t, conn, "ecal_gains")
	require.NoError(t, row.SetCollectionID(id))
	require.NoError(t, InsertObject(ctx, conn, meta, row))
	assert.False(t, row.IsNew())
	assert.Positive(t, row.RowID())
	require.ErrorAs(t, InsertObject(ctx, conn, meta, row), &oerr, "second insert")
	require.ErrorAs(t, row.SetCollectionID(id+1), &oerr, "persisted object cannot move")

	updated, err := UpdateObject(ctx, conn, meta, row)
	require.NoError(t, err)
	assert.False(t, updated, "clean object is not written")

	row.Gain = 0.163
	row.MarkDirty()
	updated, err = UpdateObject(ctx, conn, meta, row)
	require.NoError(t, err)
	assert.True(t, updated)
	assert.False(t, row.IsDirty())

	fresh := &gainRow{}
	require.NoError(t, SelectObject(ctx, conn, meta, fresh, row.RowID()))
	assert.Equal(t, 12, fresh.ChannelID)
	assert.Equal(t, 0.163, fresh.Gain)
	assert.Equal(t, id, fresh.CollectionID())

	rowID := row.RowID()
	require.NoError(t, DeleteObject(ctx, conn, meta, row))
	assert.True(t, row.IsNew())

	_, err = UpdateObject(ctx, conn, meta, row)
	require.ErrorAs(t, err, &oerr, "update of a transient object")
	require.ErrorAs(t, DeleteObject(ctx, conn, meta, row), &oerr, "delete of a transient object")

	var nf *domain.NotFoundError
	require.ErrorAs(t, SelectObject(ctx, conn, meta, &gainRow{}, rowID), &nf)
}

func TestObject_UpdateDeletedRow(t *testing.T) {
	ctx := context.Background()
	conn := db.OpenTestConnection(t)
	meta, err := testRegistry(t).FindByKey("ecal_gains")
	require.NoError(t, err)

	row := &gainRow{ChannelID: 1, Gain: 1}
	require.NoError(t, row.SetCollectionID(allocate(t, conn, "ecal_gains")))
	require.NoError(t, InsertObject(ctx, conn, meta, row))

	_, err = conn.Exec(ctx, `DELETE FROM ecal_gains WHERE id = ?`, row.RowID())
	require.NoError(t, err)

	row.MarkDirty()
	_, err = UpdateObject(ctx, conn, meta, row)
	var oerr *domain.DatabaseObjectError
	require.ErrorAs(t, err, &oerr)
}

func TestObject_DatabaseError(t *testing.T) {
	ctx := context.Background()
	conn := db.OpenTestConnection(t)
	meta := gainsTable()
	meta.TableName = "no_such_table"
	meta, err := meta.normalize()
	require.NoError(t, err)

	row := &gainRow{ChannelID: 1}
	require.NoError(t, row.SetCollectionID(1))
	err = InsertObject(ctx, conn, meta, row)
	var dberr *domain.DatabaseError
	require.ErrorAs(t, err, &dberr)
	assert.NotNil(t, dberr.Unwrap())
}

func TestInsertObject_ReturnsCustomPrimaryKey(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	dialect, err := db.DialectFor(db.DriverPostgres)
	require.NoError(t, err)
	conn := db.NewConnectionManagerFromDB(sqlDB, dialect, slog.New(slog.DiscardHandler))

	meta := gainsTable()
	meta.PrimaryKey = "gain_id"
	meta, err = meta.normalize()
	require.NoError(t, err)

	mock.ExpectQuery(regexp.QuoteMeta(
		`INSERT INTO "ecal_gains" ("collection_id", "ecal_channel_id", "gain") VALUES ($1, $2, $3) RETURNING "gain_id"`)).
		WithArgs(4, 12, 0.25).
		WillReturnRows(sqlmock.NewRows([]string{"gain_id"}).AddRow(31))

	row := &gainRow{ChannelID: 12, Gain: 0.25}
	require.NoError(t, row.SetCollectionID(4))
	require.NoError(t, InsertObject(context.Background(), conn, meta, row))
	assert.Equal(t, int64(31), row.RowID())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetField(t *testing.T) {
	var n sql.Null[float64]
	require.NoError(t, setField(&n, ""))
	assert.False(t, n.Valid)
	require.NoError(t, setField(&n, " 2.5 "))
	assert.Equal(t, sql.Null[float64]{V: 2.5, Valid: true}, n)

	var i int
	require.Error(t, setField(&i, "twelve"))
	var u uint8
	require.Error(t, setField(&u, "1"))
}

package domain

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// DefaultFieldName is the column in a conditions table that references the
// collection described by a ConditionsRecord.
const DefaultFieldName = "collection_id"

// ConditionsRecord is one validity interval: it states that collection
// CollectionID of table TableName is the conditions set Name for every run
// in [RunStart, RunEnd].
type ConditionsRecord struct {
	RowID        int64
	CollectionID int64
	RunStart     int
	RunEnd       int
	TableName    string
	FieldName    string
	Name         string
	Tag          string
	Notes        sql.Null[string]
	CreatedBy    string
	Created      time.Time
	Updated      time.Time
}

// Covers reports whether run lies inside the inclusive validity interval.
func (r *ConditionsRecord) Covers(run int) bool {
	return r.RunStart <= run && run <= r.RunEnd
}

// Overlaps reports whether both records describe the same conditions set
// under the same tag and their validity intervals intersect.
func (r *ConditionsRecord) Overlaps(other *ConditionsRecord) bool {
	if r.Name != other.Name || r.Tag != other.Tag {
		return false
	}
	return r.RunStart <= other.RunEnd && other.RunStart <= r.RunEnd
}

// Validate checks the record fields that are required before insert.
func (r *ConditionsRecord) Validate() error {
	if r.Name == "" {
		return ErrValidation("conditions record name is required")
	}
	if r.TableName == "" {
		return ErrValidation("conditions record %q: table name is required", r.Name)
	}
	if r.CollectionID <= 0 {
		return ErrValidation("conditions record %q: invalid collection id %d", r.Name, r.CollectionID)
	}
	if r.RunStart > r.RunEnd {
		return ErrValidation("conditions record %q: run start %d is after run end %d", r.Name, r.RunStart, r.RunEnd)
	}
	return nil
}

func (r *ConditionsRecord) String() string {
	return fmt.Sprintf("ConditionsRecord { id: %d, name: %s, table: %s, collection_id: %d, runs: [%d, %d], tag: %q }",
		r.RowID, r.Name, r.TableName, r.CollectionID, r.RunStart, r.RunEnd, r.Tag)
}

// MultipleCollectionsAction selects how a conditions set resolves more than
// one record covering the same run.
type MultipleCollectionsAction string

const (
	// ActionError rejects the lookup with an AmbiguousConditionsError.
	ActionError MultipleCollectionsAction = "ERROR"
	// ActionLastCreated picks the most recently created record.
	ActionLastCreated MultipleCollectionsAction = "LAST_CREATED"
	// ActionLastUpdated picks the most recently updated record.
	ActionLastUpdated MultipleCollectionsAction = "LAST_UPDATED"
	// ActionLatestRunStart picks the record whose interval starts last.
	ActionLatestRunStart MultipleCollectionsAction = "LATEST_RUN_START"
	// ActionCombine returns every matching record, for composite consumers.
	ActionCombine MultipleCollectionsAction = "COMBINE"
)

// ParseMultipleCollectionsAction parses an action name case-insensitively.
// An empty string yields ActionError.
func ParseMultipleCollectionsAction(s string) (MultipleCollectionsAction, error) {
	switch a := MultipleCollectionsAction(strings.ToUpper(strings.TrimSpace(s))); a {
	case "":
		return ActionError, nil
	case ActionError, ActionLastCreated, ActionLastUpdated, ActionLatestRunStart, ActionCombine:
		return a, nil
	default:
		return "", ErrValidation("unknown multiple collections action %q", s)
	}
}

// Supersedes reports whether overlapping intervals are legitimate under the
// action, i.e. a newer record is allowed to shadow an older one.
func (a MultipleCollectionsAction) Supersedes() bool {
	return a != ActionError && a != ""
}

// FindRequest selects the validity records for one conditions set.
type FindRequest struct {
	Run    int
	Name   string
	Tag    string // empty matches every tag
	Action MultipleCollectionsAction
}

// OverlapReport describes two records whose intervals intersect.
type OverlapReport struct {
	First  ConditionsRecord
	Second ConditionsRecord
}

// ConditionsRecordRepository stores validity records in the conditions table.
type ConditionsRecordRepository interface {
	Insert(ctx context.Context, r *ConditionsRecord, action MultipleCollectionsAction) (*ConditionsRecord, error)
	Get(ctx context.Context, rowID int64) (*ConditionsRecord, error)
	Delete(ctx context.Context, rowID int64) error
	Find(ctx context.Context, req FindRequest) ([]ConditionsRecord, error)
	ListByName(ctx context.Context, name, tag string) ([]ConditionsRecord, error)
	ListCovering(ctx context.Context, runStart, runEnd int, tag string) ([]ConditionsRecord, error)
	CheckOverlaps(ctx context.Context) ([]OverlapReport, error)
}

// CollectionRepository allocates collection ids in the collections table.
type CollectionRepository interface {
	Allocate(ctx context.Context, tableName, log, description string) (int64, error)
	Exists(ctx context.Context, tableName string, collectionID int64) (bool, error)
}

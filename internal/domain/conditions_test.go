package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConditionsRecord_Validate(t *testing.T) {
	tests := []struct {
		name    string
		rec     ConditionsRecord
		wantErr string
	}{
		{
			name: "valid",
			rec:  ConditionsRecord{Name: "ecal_gains", TableName: "ecal_gains", CollectionID: 1, RunStart: 5000, RunEnd: 5000},
		},
		{
			name:    "missing name",
			rec:     ConditionsRecord{TableName: "ecal_gains", CollectionID: 1},
			wantErr: "name is required",
		},
		{
			name:    "missing table",
			rec:     ConditionsRecord{Name: "ecal_gains", CollectionID: 1},
			wantErr: "table name is required",
		},
		{
			name:    "zero collection id",
			rec:     ConditionsRecord{Name: "ecal_gains", TableName: "ecal_gains"},
			wantErr: "invalid collection id 0",
		},
		{
			name:    "inverted interval",
			rec:     ConditionsRecord{Name: "ecal_gains", TableName: "ecal_gains", CollectionID: 1, RunStart: 10, RunEnd: 9},
			wantErr: "run start 10 is after run end 9",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rec.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConditionsRecord_CoversAndOverlaps(t *testing.T) {
	a := ConditionsRecord{Name: "beam_current", RunStart: 100, RunEnd: 200}
	assert.True(t, a.Covers(100))
	assert.True(t, a.Covers(200))
	assert.False(t, a.Covers(201))

	b := ConditionsRecord{Name: "beam_current", RunStart: 200, RunEnd: 300}
	assert.True(t, a.Overlaps(&b), "shared endpoint")
	assert.True(t, b.Overlaps(&a))

	b.Tag = "pass1"
	assert.False(t, a.Overlaps(&b), "different tag")

	c := ConditionsRecord{Name: "beam_energies", RunStart: 150, RunEnd: 160}
	assert.False(t, a.Overlaps(&c), "different name")
}

func TestParseMultipleCollectionsAction(t *testing.T) {
	for in, want := range map[string]MultipleCollectionsAction{
		"":                 ActionError,
		"error":            ActionError,
		" last_created ":   ActionLastCreated,
		"LAST_UPDATED":     ActionLastUpdated,
		"latest_run_start": ActionLatestRunStart,
		"Combine":          ActionCombine,
	} {
		got, err := ParseMultipleCollectionsAction(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseMultipleCollectionsAction("FIRST")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestMultipleCollectionsAction_Supersedes(t *testing.T) {
	assert.False(t, ActionError.Supersedes())
	assert.False(t, MultipleCollectionsAction("").Supersedes())
	assert.True(t, ActionLastCreated.Supersedes())
	assert.True(t, ActionLastUpdated.Supersedes())
	assert.True(t, ActionLatestRunStart.Supersedes())
	assert.True(t, ActionCombine.Supersedes())
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(t, `no conditions "ecal_gains" found for run 5772`,
		(&ConditionsNotFoundError{Name: "ecal_gains", Run: 5772}).Error())
	assert.Equal(t, `no conditions "ecal_gains" found for run 5772 with tag "pass1"`,
		(&ConditionsNotFoundError{Name: "ecal_gains", Run: 5772, Tag: "pass1"}).Error())
	assert.Equal(t, `ambiguous conditions "svt_gains" for run 1: collections [3, 4] overlap`,
		(&AmbiguousConditionsError{Name: "svt_gains", Run: 1, CollectionIDs: []int64{3, 4}}).Error())
	assert.Equal(t, "update on unsaved object (table ecal_gains, row 0)",
		ErrDatabaseObject("ecal_gains", 0, "update on unsaved object").Error())
}

func TestErrDatabase(t *testing.T) {
	require.NoError(t, ErrDatabase("query", "SELECT 1", nil))

	cause := errors.New("connection refused")
	err := fmt.Errorf("find records: %w", ErrDatabase("query", "SELECT 1", cause))
	var dberr *DatabaseError
	require.ErrorAs(t, err, &dberr)
	assert.Equal(t, "query", dberr.Op)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "(query: SELECT 1)")
}

package cli

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateOutputFormat(t *testing.T) {
	tests := []struct {
		name    string
		output  string
		wantErr bool
	}{
		{name: "empty ok", output: "", wantErr: false},
		{name: "table ok", output: "table", wantErr: false},
		{name: "json ok", output: "json", wantErr: false},
		{name: "yaml ok", output: "yaml", wantErr: false},
		{name: "csv rejected", output: "csv", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateOutputFormat(tt.output)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestParseRunRange(t *testing.T) {
	tests := []struct {
		in         string
		start, end int
		wantErr    bool
	}{
		{in: "5772", start: 5772, end: 5772},
		{in: "5000-5100", start: 5000, end: 5100},
		{in: " 1 - 2 ", start: 1, end: 2},
		{in: "5100-5000", wantErr: true},
		{in: "abc", wantErr: true},
		{in: "1-x", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			start, end, err := parseRunRange(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.start, start)
			assert.Equal(t, tt.end, end)
		})
	}
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "NULL", formatValue(nil))
	assert.Equal(t, "54879.7343788147", formatValue(54879.7343788147))
	assert.Equal(t, "17", formatValue(int64(17)))
	assert.Equal(t, "2015-05-14T12:00:00Z", formatValue(time.Date(2015, 5, 14, 12, 0, 0, 0, time.UTC)))
}

func TestPrintTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printTable(&buf, []string{"RUN", "NAME"}, [][]string{{"5772", "beam_current"}}))
	assert.Equal(t, "RUN   NAME\n5772  beam_current\n", buf.String())
}

func TestPrintYAML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printYAML(&buf, []summaryEntry{{Run: 1, Name: "beam_current", Status: statusMissing}}))
	assert.Equal(t, "- run: 1\n  name: beam_current\n  status: missing\n", buf.String())
}

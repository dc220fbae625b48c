package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"hps-conditions/internal/domain"
)

// getOutputFormat returns the effective output format from the root command's persistent flags.
func getOutputFormat(cmd *cobra.Command) string {
	v, _ := cmd.Root().PersistentFlags().GetString("output")
	return v
}

func validateOutputFormat(output string) error {
	switch output {
	case "", "table", "json", "yaml":
		return nil
	default:
		return fmt.Errorf("unsupported output format %q: use 'table', 'json' or 'yaml'", output)
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

func printTable(w io.Writer, headers []string, rows [][]string) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, strings.Join(headers, "\t"))
	for _, r := range rows {
		_, _ = fmt.Fprintln(tw, strings.Join(r, "\t"))
	}
	return tw.Flush()
}

// render writes v as JSON or YAML, or the given table otherwise.
func render(cmd *cobra.Command, v any, headers []string, rows [][]string) error {
	w := cmd.OutOrStdout()
	switch getOutputFormat(cmd) {
	case "json":
		return printJSON(w, v)
	case "yaml":
		return printYAML(w, v)
	default:
		return printTable(w, headers, rows)
	}
}

// recordView is the printed form of a conditions record.
type recordView struct {
	ID           int64     `json:"id" yaml:"id"`
	Name         string    `json:"name" yaml:"name"`
	TableName    string    `json:"table" yaml:"table"`
	CollectionID int64     `json:"collection_id" yaml:"collection_id"`
	RunStart     int       `json:"run_start" yaml:"run_start"`
	RunEnd       int       `json:"run_end" yaml:"run_end"`
	Tag          string    `json:"tag,omitempty" yaml:"tag,omitempty"`
	Notes        string    `json:"notes,omitempty" yaml:"notes,omitempty"`
	CreatedBy    string    `json:"created_by" yaml:"created_by"`
	Created      time.Time `json:"created" yaml:"created"`
	Updated      time.Time `json:"updated" yaml:"updated"`
}

func newRecordView(r domain.ConditionsRecord) recordView {
	return recordView{
		ID:           r.RowID,
		Name:         r.Name,
		TableName:    r.TableName,
		CollectionID: r.CollectionID,
		RunStart:     r.RunStart,
		RunEnd:       r.RunEnd,
		Tag:          r.Tag,
		Notes:        r.Notes.V,
		CreatedBy:    r.CreatedBy,
		Created:      r.Created,
		Updated:      r.Updated,
	}
}

var recordHeaders = []string{"ID", "NAME", "TABLE", "COLLECTION", "RUNS", "TAG", "CREATED BY", "CREATED"}

func recordRow(r domain.ConditionsRecord) []string {
	return []string{
		strconv.FormatInt(r.RowID, 10),
		r.Name,
		r.TableName,
		strconv.FormatInt(r.CollectionID, 10),
		fmt.Sprintf("%d-%d", r.RunStart, r.RunEnd),
		r.Tag,
		r.CreatedBy,
		r.Created.UTC().Format(time.DateTime),
	}
}

func renderRecords(cmd *cobra.Command, recs []domain.ConditionsRecord) error {
	views := make([]recordView, len(recs))
	rows := make([][]string, len(recs))
	for i, r := range recs {
		views[i] = newRecordView(r)
		rows[i] = recordRow(r)
	}
	return render(cmd, views, recordHeaders, rows)
}

// formatValue renders a column value for table output.
func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case time.Time:
		return x.UTC().Format(time.RFC3339)
	default:
		return fmt.Sprint(x)
	}
}

// parseRunRange parses "N" or "FIRST-LAST".
func parseRunRange(s string) (int, int, error) {
	first, last, found := strings.Cut(strings.TrimSpace(s), "-")
	start, err := strconv.Atoi(strings.TrimSpace(first))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid run range %q", s)
	}
	if !found {
		return start, start, nil
	}
	end, err := strconv.Atoi(strings.TrimSpace(last))
	if err != nil || end < start {
		return 0, 0, fmt.Errorf("invalid run range %q", s)
	}
	return start, end, nil
}

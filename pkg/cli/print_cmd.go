package cli

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"

	"github.com/spf13/cobra"

	"hps-conditions/internal/app"
	"hps-conditions/internal/conditions"
	"hps-conditions/internal/domain"
)

// conditionsView is one resolved conditions set, optionally with its rows.
type conditionsView struct {
	Record recordView       `json:"record" yaml:"record"`
	Rows   []map[string]any `json:"rows,omitempty" yaml:"rows,omitempty"`
}

// resolveAtRun returns the records the manager would use at run, per name.
// Ambiguous sets are reported with every candidate.
func resolveAtRun(ctx context.Context, s *session, a *app.App, run int, names []string) ([]domain.ConditionsRecord, error) {
	covering, err := a.Manager.Records().ListCovering(ctx, run, run, a.Manager.Tag())
	if err != nil {
		return nil, err
	}
	byName := make(map[string][]domain.ConditionsRecord)
	var order []string
	for _, rec := range covering {
		if len(names) > 0 && !slices.Contains(names, rec.Name) {
			continue
		}
		if _, ok := byName[rec.Name]; !ok {
			order = append(order, rec.Name)
		}
		byName[rec.Name] = append(byName[rec.Name], rec)
	}

	var out []domain.ConditionsRecord
	for _, name := range order {
		req := domain.FindRequest{Run: run, Name: name, Tag: a.Manager.Tag(), Action: a.Tables.ActionFor(name)}
		selected, err := conditions.Resolve(req, byName[name])
		var amb *domain.AmbiguousConditionsError
		switch {
		case errors.As(err, &amb):
			s.logger.Warn("ambiguous conditions", "name", name, "run", run, "collections", amb.CollectionIDs)
			selected = byName[name]
		case err != nil:
			return nil, err
		}
		out = append(out, selected...)
	}
	return out, nil
}

func newPrintCmd(s *session) *cobra.Command {
	var (
		run      int
		names    []string
		withRows bool
	)

	cmd := &cobra.Command{
		Use:   "print",
		Short: "Print the conditions in effect for a run",
		Long: `Resolve every conditions set valid at a run the way the conditions manager
does, using each table's multiple-collections action, and print the selected
records. With --rows the collections' rows are printed too.`,
		Example: `  condb print --run 5772
  condb print --run 5772 --name ecal_gains --rows -o yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := s.openApp(ctx, run, false)
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck

			recs, err := resolveAtRun(ctx, s, a, run, names)
			if err != nil {
				return err
			}
			if len(names) == 1 && len(recs) == 0 {
				return &domain.ConditionsNotFoundError{Name: names[0], Run: run}
			}
			if !withRows {
				return renderRecords(cmd, recs)
			}

			views := make([]conditionsView, 0, len(recs))
			for _, rec := range recs {
				v := conditionsView{Record: newRecordView(rec)}
				meta, err := a.Tables.FindByTableName(rec.TableName)
				if err != nil {
					s.logger.Warn("table not registered, rows skipped", "table", rec.TableName)
					views = append(views, v)
					continue
				}
				coll := conditions.NewGenericCollection(meta)
				if _, err := coll.Select(ctx, a.Conn, rec.CollectionID); err != nil {
					return err
				}
				for _, row := range coll.Objects() {
					v.Rows = append(v.Rows, row.Map(meta))
				}
				views = append(views, v)
			}
			if f := getOutputFormat(cmd); f == "json" || f == "yaml" {
				return render(cmd, views, nil, nil)
			}
			return printRowTables(cmd, a, views)
		},
	}

	cmd.Flags().IntVar(&run, "run", 0, "Run number")
	cmd.Flags().StringSliceVar(&names, "name", nil, "Conditions-set names to print (default: all)")
	cmd.Flags().BoolVar(&withRows, "rows", false, "Print the rows of each collection")
	_ = cmd.MarkFlagRequired("run")
	return cmd
}

func printRowTables(cmd *cobra.Command, a *app.App, views []conditionsView) error {
	w := cmd.OutOrStdout()
	for i, v := range views {
		if i > 0 {
			_, _ = fmt.Fprintln(w)
		}
		_, _ = fmt.Fprintf(w, "%s: collection %d, runs %d-%d\n",
			v.Record.Name, v.Record.CollectionID, v.Record.RunStart, v.Record.RunEnd)
		meta, err := a.Tables.FindByTableName(v.Record.TableName)
		if err != nil {
			continue
		}
		headers := append([]string{"#"}, meta.Columns()...)
		rows := make([][]string, len(v.Rows))
		for j, r := range v.Rows {
			row := []string{strconv.Itoa(j)}
			for _, col := range meta.Columns() {
				row = append(row, formatValue(r[col]))
			}
			rows[j] = row
		}
		if err := printTable(w, headers, rows); err != nil {
			return err
		}
	}
	return nil
}

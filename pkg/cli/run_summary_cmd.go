package cli

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"hps-conditions/internal/domain"
)

// summaryEntry is what one conditions set resolves to at one run.
type summaryEntry struct {
	Run           int     `json:"run" yaml:"run"`
	Name          string  `json:"name" yaml:"name"`
	CollectionIDs []int64 `json:"collection_ids,omitempty" yaml:"collection_ids,omitempty"`
	Status        string  `json:"status" yaml:"status"`
}

const (
	statusOK        = "ok"
	statusMissing   = "missing"
	statusAmbiguous = "ambiguous"
)

func newRunSummaryCmd(s *session) *cobra.Command {
	var (
		detectorName string
		names        []string
		jobs         int
	)

	cmd := &cobra.Command{
		Use:   "run-summary <first>[-<last>]",
		Short: "Summarize which collections every conditions set resolves to per run",
		Long: `Initialize a conditions manager for each run of the range and resolve every
registered conditions set. Runs are processed in parallel; each worker opens
its own database connection.`,
		Example: `  condb run-summary 5772
  condb run-summary 5000-5100 --jobs 8 --name ecal_gains,svt_gains -o json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			start, end, err := parseRunRange(args[0])
			if err != nil {
				return err
			}
			if jobs < 1 {
				return fmt.Errorf("--jobs must be at least 1")
			}

			results := make([][]summaryEntry, end-start+1)
			g, gctx := errgroup.WithContext(cmd.Context())
			g.SetLimit(jobs)
			for run := start; run <= end; run++ {
				g.Go(func() error {
					entries, err := summarizeRun(gctx, s, detectorName, run, names)
					if err != nil {
						return fmt.Errorf("run %d: %w", run, err)
					}
					results[run-start] = entries
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}

			all := slices.Concat(results...)
			rows := make([][]string, len(all))
			for i, e := range all {
				ids := make([]string, len(e.CollectionIDs))
				for j, id := range e.CollectionIDs {
					ids[j] = strconv.FormatInt(id, 10)
				}
				rows[i] = []string{strconv.Itoa(e.Run), e.Name, strings.Join(ids, ","), e.Status}
			}
			return render(cmd, all, []string{"RUN", "NAME", "COLLECTIONS", "STATUS"}, rows)
		},
	}

	cmd.Flags().StringVar(&detectorName, "detector", "HPS-EngRun2015-Nominal-v1", "Detector name passed to the conditions manager")
	cmd.Flags().StringSliceVar(&names, "name", nil, "Conditions-set names to resolve (default: every registered table)")
	cmd.Flags().IntVarP(&jobs, "jobs", "j", 4, "Runs processed in parallel")
	return cmd
}

// summarizeRun resolves the conditions sets at one run with a manager and
// connection of its own.
func summarizeRun(ctx context.Context, s *session, detectorName string, run int, names []string) ([]summaryEntry, error) {
	a, err := s.openApp(ctx, run, false)
	if err != nil {
		return nil, err
	}
	defer a.Close() //nolint:errcheck

	if err := a.Manager.SetDetector(ctx, detectorName, run); err != nil {
		return nil, err
	}

	if len(names) == 0 {
		names = a.Tables.Keys()
	}
	entries := make([]summaryEntry, 0, len(names))
	for _, name := range names {
		e := summaryEntry{Run: run, Name: name, Status: statusOK}
		recs, err := a.Manager.FindRecords(ctx, name)
		var nf *domain.ConditionsNotFoundError
		var amb *domain.AmbiguousConditionsError
		switch {
		case errors.As(err, &nf):
			e.Status = statusMissing
		case errors.As(err, &amb):
			e.Status = statusAmbiguous
			e.CollectionIDs = amb.CollectionIDs
		case err != nil:
			return nil, err
		}
		for _, rec := range recs {
			e.CollectionIDs = append(e.CollectionIDs, rec.CollectionID)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

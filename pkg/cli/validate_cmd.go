package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"hps-conditions/internal/domain"
)

type overlapView struct {
	Name     string     `json:"name" yaml:"name"`
	Tag      string     `json:"tag,omitempty" yaml:"tag,omitempty"`
	Action   string     `json:"action" yaml:"action"`
	Conflict bool       `json:"conflict" yaml:"conflict"`
	First    recordView `json:"first" yaml:"first"`
	Second   recordView `json:"second" yaml:"second"`
}

func newValidateCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the conditions table for overlapping validity intervals",
		Long: `Report every pair of records of the same conditions set and tag whose run
ranges intersect. Overlaps are a conflict unless the set's multiple-collections
action picks one record; the command fails when any conflict is found.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := s.openApp(ctx, 0, false)
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck

			reports, err := a.Manager.Records().CheckOverlaps(ctx)
			if err != nil {
				return err
			}
			views := make([]overlapView, len(reports))
			rows := make([][]string, len(reports))
			conflicts := 0
			for i, r := range reports {
				action := a.Tables.ActionFor(r.First.Name)
				conflict := !action.Supersedes()
				if conflict {
					conflicts++
				}
				views[i] = overlapView{
					Name:     r.First.Name,
					Tag:      r.First.Tag,
					Action:   string(action),
					Conflict: conflict,
					First:    newRecordView(r.First),
					Second:   newRecordView(r.Second),
				}
				rows[i] = []string{
					r.First.Name, r.First.Tag, string(action),
					fmt.Sprintf("%d [%d-%d]", r.First.RowID, r.First.RunStart, r.First.RunEnd),
					fmt.Sprintf("%d [%d-%d]", r.Second.RowID, r.Second.RunStart, r.Second.RunEnd),
					fmt.Sprint(conflict),
				}
			}
			if err := render(cmd, views, []string{"NAME", "TAG", "ACTION", "FIRST", "SECOND", "CONFLICT"}, rows); err != nil {
				return err
			}
			if conflicts > 0 {
				return domain.ErrConflict("%d overlapping record pairs are not resolved by their action", conflicts)
			}
			return nil
		},
	}
}

package cli

import (
	"database/sql"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"hps-conditions/internal/conditions"
	"hps-conditions/internal/domain"
)

// recordFlags are the validity-record options shared by load and add.
type recordFlags struct {
	table    string
	name     string
	runStart int
	runEnd   int
	notes    string
}

func (f *recordFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.table, "table", "", "Conditions key or table name of the collection")
	cmd.Flags().StringVar(&f.name, "name", "", "Conditions-set name (default: the table's key)")
	cmd.Flags().IntVar(&f.runStart, "run-start", 0, "First run of the validity interval")
	cmd.Flags().IntVar(&f.runEnd, "run-end", 0, "Last run of the validity interval (default: run-start)")
	cmd.Flags().StringVar(&f.notes, "notes", "", "Free-text notes stored with the record")
	_ = cmd.MarkFlagRequired("table")
	_ = cmd.MarkFlagRequired("run-start")
}

func (f *recordFlags) record(s *session) domain.ConditionsRecord {
	end := f.runEnd
	if end == 0 {
		end = f.runStart
	}
	rec := domain.ConditionsRecord{
		RunStart:  f.runStart,
		RunEnd:    end,
		Name:      f.name,
		Tag:       s.cfg.Tag,
		CreatedBy: s.user,
	}
	if f.notes != "" {
		rec.Notes = sql.Null[string]{V: f.notes, Valid: true}
	}
	return rec
}

// findTable looks a table up by conditions key, then by table name.
func findTable(tables *conditions.TableRegistry, name string) (conditions.TableMetaData, error) {
	if meta, err := tables.FindByKey(name); err == nil {
		return meta, nil
	}
	return tables.FindByTableName(name)
}

func newLoadCmd(s *session) *cobra.Command {
	var rf recordFlags

	cmd := &cobra.Command{
		Use:   "load <file.csv>",
		Short: "Load a CSV file as a new collection and add its validity record",
		Long: `Read rows from a CSV file whose header names the table's columns, insert them
as a new collection and record the run range they are valid for. The collection
and the record are written in one transaction.`,
		Example: `  # Load ECAL gains valid for runs 5000-5999
  condb load gains.csv --table ecal_gains --run-start 5000 --run-end 5999

  # Load under a tag, with notes
  condb load bad_channels.csv --table svt_bad_channels --run-start 7000 --tag pass1 --notes "from pedestal scan"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := s.openApp(ctx, rf.runStart, false)
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck

			meta, err := findTable(a.Tables, rf.table)
			if err != nil {
				return err
			}
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open CSV: %w", err)
			}
			defer f.Close() //nolint:errcheck

			coll := conditions.NewGenericCollection(meta)
			n, err := coll.LoadCSV(f)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			s.logger.Debug("CSV loaded", "file", args[0], "table", meta.TableName, "rows", n)

			rec := rf.record(s)
			if rec.Name == "" {
				rec.Name = meta.Key
			}
			inserted, err := a.Manager.InsertCollection(ctx, coll, rec, s.collectionLog(cmd))
			if err != nil {
				return err
			}
			return renderRecords(cmd, []domain.ConditionsRecord{*inserted})
		},
	}
	rf.register(cmd)
	return cmd
}

func newAddCmd(s *session) *cobra.Command {
	var (
		rf           recordFlags
		collectionID int64
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a validity record for an existing collection",
		Example: `  # Make collection 42 of ecal_gains valid for runs 6000-6100 as well
  condb add --table ecal_gains --collection-id 42 --run-start 6000 --run-end 6100`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := s.openApp(ctx, rf.runStart, false)
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck

			meta, err := findTable(a.Tables, rf.table)
			if err != nil {
				return err
			}
			ok, err := conditions.NewCollectionRepo(a.Conn).Exists(ctx, meta.TableName, collectionID)
			if err != nil {
				return err
			}
			if !ok {
				return domain.ErrNotFound("collection %d of table %q does not exist", collectionID, meta.TableName)
			}

			rec := rf.record(s)
			if rec.Name == "" {
				rec.Name = meta.Key
			}
			rec.TableName = meta.TableName
			rec.FieldName = meta.CollectionIDColumn
			rec.CollectionID = collectionID
			inserted, err := a.Manager.Records().Insert(ctx, &rec, a.Tables.ActionFor(rec.Name))
			if err != nil {
				return err
			}
			return renderRecords(cmd, []domain.ConditionsRecord{*inserted})
		},
	}
	rf.register(cmd)
	cmd.Flags().Int64Var(&collectionID, "collection-id", 0, "Existing collection id")
	_ = cmd.MarkFlagRequired("collection-id")
	return cmd
}

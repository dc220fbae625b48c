package app

import (
	"fmt"
	"os"
	"slices"

	"hps-conditions/internal/conditions"
	"hps-conditions/internal/conditions/beam"
	"hps-conditions/internal/conditions/detector"
	"hps-conditions/internal/conditions/ecal"
	"hps-conditions/internal/conditions/svt"
	"hps-conditions/internal/config"
)

// BuiltinTables returns the descriptors of every table the system ships
// with, for all detector groups.
func BuiltinTables() []conditions.TableMetaData {
	var out []conditions.TableMetaData
	out = append(out, beam.Tables()...)
	out = append(out, ecal.Tables()...)
	out = append(out, svt.Tables()...)
	out = append(out, svt.TestRunTables()...)
	return out
}

// buildTables merges the schema file over the built-in descriptors and
// applies the profile's action overrides.
func buildTables(cfg *config.Config, profile *config.Profile) (*conditions.TableRegistry, error) {
	metas := BuiltinTables()
	if cfg.SchemaFile != "" {
		f, err := os.Open(cfg.SchemaFile)
		if err != nil {
			return nil, fmt.Errorf("open table schema: %w", err)
		}
		extra, err := conditions.LoadTableSchemas(f)
		_ = f.Close()
		if err != nil {
			return nil, err
		}
		metas = conditions.MergeTables(metas, extra)
	}

	actions, err := profile.Actions()
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(actions))
	for k := range actions {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		if metas, err = conditions.WithAction(metas, k, actions[k]); err != nil {
			return nil, err
		}
	}

	tables := conditions.NewTableRegistry()
	if err := tables.RegisterAll(metas...); err != nil {
		return nil, err
	}
	return tables, nil
}

// buildConverters registers the converters of the profile's groups.
func buildConverters(cfg *config.Config, profile *config.Profile, tables *conditions.TableRegistry) (*conditions.ConverterRegistry, error) {
	var convs []conditions.Converter
	for _, g := range profile.Groups() {
		switch g {
		case config.GroupDetector:
			convs = append(convs, detector.NewConverter(os.DirFS(cfg.DetectorsDir)))
		case config.GroupBeam:
			convs = append(convs, beam.Converters()...)
		case config.GroupEcal:
			convs = append(convs, ecal.Converters()...)
		case config.GroupSvt:
			convs = append(convs, svt.Converters()...)
		case config.GroupTestRunSvt:
			convs = append(convs, svt.TestRunConverters()...)
		default:
			return nil, fmt.Errorf("unknown converter group %q", g)
		}
	}
	return conditions.NewConverterRegistry(tables, convs...)
}

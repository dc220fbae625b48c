// Package beam defines the beam current and beam energy conditions.
package beam

import "hps-conditions/internal/conditions"

// Current is the integrated beam current of a run, in nC.
type Current struct {
	conditions.Object
	Value float64
}

// Fields implements conditions.Row.
func (c *Current) Fields() []any { return []any{&c.Value} }

// Energy is the nominal beam energy of a run, in GeV.
type Energy struct {
	conditions.Object
	Value float64
}

// Fields implements conditions.Row.
func (e *Energy) Fields() []any { return []any{&e.Value} }

type (
	// CurrentCollection is the collection type served for "beam_current".
	CurrentCollection = conditions.Collection[*Current]
	// EnergyCollection is the collection type served for "beam_energies".
	EnergyCollection = conditions.Collection[*Energy]
)

// Conditions-set names.
const (
	CurrentKey = "beam_current"
	EnergyKey  = "beam_energies"
)

// Tables returns the table descriptors of the beam conditions.
func Tables() []conditions.TableMetaData {
	return []conditions.TableMetaData{
		{
			Key:       CurrentKey,
			TableName: "beam_current",
			Fields:    []conditions.Field{{Column: "beam_current", Type: conditions.ColumnFloat}},
		},
		{
			Key:       EnergyKey,
			TableName: "beam_energies",
			Fields:    []conditions.Field{{Column: "beam_energy", Type: conditions.ColumnFloat}},
		},
	}
}

// Converters returns the converters of the beam conditions.
func Converters() []conditions.Converter {
	return []conditions.Converter{
		conditions.NewCollectionConverter[Current](CurrentKey),
		conditions.NewCollectionConverter[Energy](EnergyKey),
	}
}

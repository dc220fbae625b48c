// Package ecal defines the electromagnetic calorimeter conditions: the
// channel map, per-channel gains, calibrations, time shifts, LED settings
// and bad channel lists, plus the combined Conditions object.
package ecal

import "hps-conditions/internal/conditions"

// Channel maps a logical ECAL channel to its DAQ address and crystal
// position.
type Channel struct {
	conditions.Object
	ChannelID int
	Crate     int
	Slot      int
	Channel   int
	X         int
	Y         int
}

// Fields implements conditions.Row.
func (c *Channel) Fields() []any {
	return []any{&c.ChannelID, &c.Crate, &c.Slot, &c.Channel, &c.X, &c.Y}
}

// Gain is the ADC-to-energy gain of a channel.
type Gain struct {
	conditions.Object
	ChannelID int
	Gain      float64
}

// Fields implements conditions.Row.
func (g *Gain) Fields() []any { return []any{&g.ChannelID, &g.Gain} }

// Calibration holds the pedestal and noise of a channel, in ADC counts.
type Calibration struct {
	conditions.Object
	ChannelID int
	Pedestal  float64
	Noise     float64
}

// Fields implements conditions.Row.
func (c *Calibration) Fields() []any { return []any{&c.ChannelID, &c.Pedestal, &c.Noise} }

// BadChannel marks a channel to be ignored.
type BadChannel struct {
	conditions.Object
	ChannelID int
}

// Fields implements conditions.Row.
func (b *BadChannel) Fields() []any { return []any{&b.ChannelID} }

// TimeShift is the timing offset of a channel, in ns.
type TimeShift struct {
	conditions.Object
	ChannelID int
	Shift     float64
}

// Fields implements conditions.Row.
func (t *TimeShift) Fields() []any { return []any{&t.ChannelID, &t.Shift} }

// LED is the LED monitoring setting of a channel.
type LED struct {
	conditions.Object
	ChannelID     int
	Crate         int
	Number        int
	TimeDelay     int
	AmplitudeLow  int
	AmplitudeHigh int
}

// Fields implements conditions.Row.
func (l *LED) Fields() []any {
	return []any{&l.ChannelID, &l.Crate, &l.Number, &l.TimeDelay, &l.AmplitudeLow, &l.AmplitudeHigh}
}

type (
	ChannelCollection     = conditions.Collection[*Channel]
	GainCollection        = conditions.Collection[*Gain]
	CalibrationCollection = conditions.Collection[*Calibration]
	BadChannelCollection  = conditions.Collection[*BadChannel]
	TimeShiftCollection   = conditions.Collection[*TimeShift]
	LEDCollection         = conditions.Collection[*LED]
)

// Conditions-set names.
const (
	ChannelsKey     = "ecal_channels"
	GainsKey        = "ecal_gains"
	CalibrationsKey = "ecal_calibrations"
	BadChannelsKey  = "ecal_bad_channels"
	TimeShiftsKey   = "ecal_time_shifts"
	LEDsKey         = "ecal_leds"
	ConditionsKey   = "ecal_conditions"
)

func intField(col string) conditions.Field { return conditions.Field{Column: col, Type: conditions.ColumnInt} }

func floatField(col string) conditions.Field {
	return conditions.Field{Column: col, Type: conditions.ColumnFloat}
}

// Tables returns the table descriptors of the ECAL conditions.
func Tables() []conditions.TableMetaData {
	return []conditions.TableMetaData{
		{
			Key: ChannelsKey, TableName: "ecal_channels",
			Fields: []conditions.Field{
				intField("channel_id"), intField("crate"), intField("slot"),
				intField("channel"), intField("x"), intField("y"),
			},
		},
		{
			Key: GainsKey, TableName: "ecal_gains",
			Fields: []conditions.Field{intField("ecal_channel_id"), floatField("gain")},
		},
		{
			Key: CalibrationsKey, TableName: "ecal_calibrations",
			Fields: []conditions.Field{intField("ecal_channel_id"), floatField("pedestal"), floatField("noise")},
		},
		{
			Key: BadChannelsKey, TableName: "ecal_bad_channels",
			Fields: []conditions.Field{intField("ecal_channel_id")},
		},
		{
			Key: TimeShiftsKey, TableName: "ecal_time_shifts",
			Fields: []conditions.Field{intField("ecal_channel_id"), floatField("time_shift")},
		},
		{
			Key: LEDsKey, TableName: "ecal_leds",
			Fields: []conditions.Field{
				intField("ecal_channel_id"), intField("crate"), intField("number"),
				intField("time_delay"), intField("amplitude_low"), intField("amplitude_high"),
			},
		},
	}
}

// Converters returns the converters of the ECAL conditions, including the
// combined ConditionsConverter.
func Converters() []conditions.Converter {
	return []conditions.Converter{
		conditions.NewCollectionConverter[Channel](ChannelsKey),
		conditions.NewCollectionConverter[Gain](GainsKey),
		conditions.NewCollectionConverter[Calibration](CalibrationsKey),
		conditions.NewCollectionConverter[BadChannel](BadChannelsKey),
		conditions.NewCollectionConverter[TimeShift](TimeShiftsKey),
		conditions.NewCollectionConverter[LED](LEDsKey),
		ConditionsConverter{},
	}
}

// Package svt defines the silicon vertex tracker conditions: the channel
// map, DAQ map, gains, calibrations, T0 shifts, timing constants, bad
// channels, and the bias and motor-position time series. Test Run
// (2012) detectors use their own channel, DAQ map and T0 shift tables.
package svt

import (
	"database/sql"
	"strconv"

	"hps-conditions/internal/conditions"
)

// SamplesPerHit is the number of ADC samples read out per hit.
const SamplesPerHit = 6

// Channel maps a logical SVT channel to its front-end board, hybrid and
// channel number.
type Channel struct {
	conditions.Object
	ChannelID   int
	FebID       int
	FebHybridID int
	Channel     int
}

// Fields implements conditions.Row.
func (c *Channel) Fields() []any { return []any{&c.ChannelID, &c.FebID, &c.FebHybridID, &c.Channel} }

// Gain is the gain and offset of a channel.
type Gain struct {
	conditions.Object
	ChannelID int
	Gain      float64
	Offset    float64
}

// Fields implements conditions.Row.
func (g *Gain) Fields() []any { return []any{&g.ChannelID, &g.Gain, &g.Offset} }

// Calibration holds the per-sample noise and pedestal of a channel.
type Calibration struct {
	conditions.Object
	ChannelID int
	Noise     [SamplesPerHit]float64
	Pedestal  [SamplesPerHit]float64
}

// Fields implements conditions.Row.
func (c *Calibration) Fields() []any {
	f := make([]any, 0, 1+2*SamplesPerHit)
	f = append(f, &c.ChannelID)
	for i := range c.Noise {
		f = append(f, &c.Noise[i])
	}
	for i := range c.Pedestal {
		f = append(f, &c.Pedestal[i])
	}
	return f
}

// DaqMapping places a front-end hybrid in the detector.
type DaqMapping struct {
	conditions.Object
	SvtHalf     string // "T" or "B"
	Layer       int
	FebID       int
	FebHybridID int
	Side        string // "ELECTRON" or "POSITRON"
	Orientation string // "A" (axial) or "S" (stereo)
}

// Fields implements conditions.Row.
func (d *DaqMapping) Fields() []any {
	return []any{&d.SvtHalf, &d.Layer, &d.FebID, &d.FebHybridID, &d.Side, &d.Orientation}
}

// T0Shift is the timing offset of a hybrid, in ns.
type T0Shift struct {
	conditions.Object
	FebID       int
	FebHybridID int
	Shift       float64
}

// Fields implements conditions.Row.
func (t *T0Shift) Fields() []any { return []any{&t.FebID, &t.FebHybridID, &t.Shift} }

// TimingConstants are the global SVT timing offsets.
type TimingConstants struct {
	conditions.Object
	OffsetPhase int
	OffsetTime  float64
}

// Fields implements conditions.Row.
func (t *TimingConstants) Fields() []any { return []any{&t.OffsetPhase, &t.OffsetTime} }

// BadChannel marks a channel to be ignored, with an optional reason.
type BadChannel struct {
	conditions.Object
	ChannelID int
	Notes     sql.Null[string]
}

// Fields implements conditions.Row.
func (b *BadChannel) Fields() []any { return []any{&b.ChannelID, &b.Notes} }

// BiasConstant is the sensor bias voltage over a time range (Unix ms).
type BiasConstant struct {
	conditions.Object
	Start int64
	End   int64
	Value float64
}

// Fields implements conditions.Row.
func (b *BiasConstant) Fields() []any { return []any{&b.Start, &b.End, &b.Value} }

// MotorPosition is the top and bottom SVT opening over a time range.
type MotorPosition struct {
	conditions.Object
	Start  int64
	End    int64
	Top    float64
	Bottom float64
}

// Fields implements conditions.Row.
func (p *MotorPosition) Fields() []any { return []any{&p.Start, &p.End, &p.Top, &p.Bottom} }

type (
	ChannelCollection         = conditions.Collection[*Channel]
	GainCollection            = conditions.Collection[*Gain]
	CalibrationCollection     = conditions.Collection[*Calibration]
	DaqMapCollection          = conditions.Collection[*DaqMapping]
	T0ShiftCollection         = conditions.Collection[*T0Shift]
	TimingConstantsCollection = conditions.Collection[*TimingConstants]
	BadChannelCollection      = conditions.Collection[*BadChannel]
	BiasConstantCollection    = conditions.Collection[*BiasConstant]
	MotorPositionCollection   = conditions.Collection[*MotorPosition]
)

// Conditions-set names.
const (
	ChannelsKey        = "svt_channels"
	GainsKey           = "svt_gains"
	CalibrationsKey    = "svt_calibrations"
	DaqMapKey          = "svt_daq_map"
	T0ShiftsKey        = "svt_t0_shifts"
	TimingConstantsKey = "svt_timing_constants"
	BadChannelsKey     = "svt_bad_channels"
	BiasConstantsKey   = "svt_bias_constants"
	MotorPositionsKey  = "svt_motor_positions"
	ConditionsKey      = "svt_conditions"
)

func field(col string, typ conditions.ColumnType) conditions.Field {
	return conditions.Field{Column: col, Type: typ}
}

// Tables returns the table descriptors of the SVT conditions.
func Tables() []conditions.TableMetaData {
	calib := []conditions.Field{field("svt_channel_id", conditions.ColumnInt)}
	for _, prefix := range []string{"noise", "pedestal"} {
		for i := range SamplesPerHit {
			calib = append(calib, field(prefix+"_"+strconv.Itoa(i), conditions.ColumnFloat))
		}
	}
	return []conditions.TableMetaData{
		{
			Key: ChannelsKey, TableName: "svt_channels",
			Fields: []conditions.Field{
				field("channel_id", conditions.ColumnInt), field("feb_id", conditions.ColumnInt),
				field("feb_hybrid_id", conditions.ColumnInt), field("channel", conditions.ColumnInt),
			},
		},
		{
			Key: GainsKey, TableName: "svt_gains",
			Fields: []conditions.Field{
				field("svt_channel_id", conditions.ColumnInt),
				field("gain", conditions.ColumnFloat), field("offset", conditions.ColumnFloat),
			},
		},
		{Key: CalibrationsKey, TableName: "svt_calibrations", Fields: calib},
		{
			Key: DaqMapKey, TableName: "svt_daq_map",
			Fields: []conditions.Field{
				field("svt_half", conditions.ColumnString), field("layer", conditions.ColumnInt),
				field("feb_id", conditions.ColumnInt), field("feb_hybrid_id", conditions.ColumnInt),
				field("side", conditions.ColumnString), field("orientation", conditions.ColumnString),
			},
		},
		{
			Key: T0ShiftsKey, TableName: "svt_t0_shifts",
			Fields: []conditions.Field{
				field("feb_id", conditions.ColumnInt), field("feb_hybrid_id", conditions.ColumnInt),
				field("t0_shift", conditions.ColumnFloat),
			},
		},
		{
			Key: TimingConstantsKey, TableName: "svt_timing_constants",
			Fields: []conditions.Field{
				field("offset_phase", conditions.ColumnInt), field("offset_time", conditions.ColumnFloat),
			},
		},
		{
			Key: BadChannelsKey, TableName: "svt_bad_channels",
			Fields: []conditions.Field{
				field("svt_channel_id", conditions.ColumnInt),
				{Column: "notes", Type: conditions.ColumnString, Nullable: true},
			},
		},
		{
			Key: BiasConstantsKey, TableName: "svt_bias_constants",
			Fields: []conditions.Field{
				field("start_time", conditions.ColumnInt), field("end_time", conditions.ColumnInt),
				field("value", conditions.ColumnFloat),
			},
		},
		{
			Key: MotorPositionsKey, TableName: "svt_motor_positions",
			Fields: []conditions.Field{
				field("start_time", conditions.ColumnInt), field("end_time", conditions.ColumnInt),
				field("top", conditions.ColumnFloat), field("bottom", conditions.ColumnFloat),
			},
		},
	}
}

// Converters returns the converters of the SVT conditions, including the
// combined ConditionsConverter.
func Converters() []conditions.Converter {
	return append(sharedConverters(),
		conditions.NewCollectionConverter[Channel](ChannelsKey),
		conditions.NewCollectionConverter[DaqMapping](DaqMapKey),
		conditions.NewCollectionConverter[T0Shift](T0ShiftsKey),
		conditions.NewCollectionConverter[TimingConstants](TimingConstantsKey),
		conditions.NewCollectionConverter[BiasConstant](BiasConstantsKey),
		conditions.NewCollectionConverter[MotorPosition](MotorPositionsKey),
		ConditionsConverter{},
	)
}

// sharedConverters serve the tables used by both the Test Run and later
// detectors.
func sharedConverters() []conditions.Converter {
	return []conditions.Converter{
		conditions.NewCollectionConverter[Gain](GainsKey),
		conditions.NewCollectionConverter[Calibration](CalibrationsKey),
		conditions.NewCollectionConverter[BadChannel](BadChannelsKey),
	}
}

package svt

import (
	"context"
	"reflect"

	"hps-conditions/internal/conditions"
	"hps-conditions/internal/domain"
)

// TestRunChannel maps a Test Run SVT channel to its FPGA, hybrid and
// channel number.
type TestRunChannel struct {
	conditions.Object
	ChannelID int
	FPGA      int
	Hybrid    int
	Channel   int
}

// Fields implements conditions.Row.
func (c *TestRunChannel) Fields() []any { return []any{&c.ChannelID, &c.FPGA, &c.Hybrid, &c.Channel} }

// TestRunDaqMapping places a Test Run hybrid in the detector.
type TestRunDaqMapping struct {
	conditions.Object
	SvtHalf string
	Layer   int
	FPGA    int
	Hybrid  int
}

// Fields implements conditions.Row.
func (d *TestRunDaqMapping) Fields() []any { return []any{&d.SvtHalf, &d.Layer, &d.FPGA, &d.Hybrid} }

// TestRunT0Shift is the timing offset of a Test Run hybrid, in ns.
type TestRunT0Shift struct {
	conditions.Object
	FPGA   int
	Hybrid int
	Shift  float64
}

// Fields implements conditions.Row.
func (t *TestRunT0Shift) Fields() []any { return []any{&t.FPGA, &t.Hybrid, &t.Shift} }

type (
	TestRunChannelCollection = conditions.Collection[*TestRunChannel]
	TestRunDaqMapCollection  = conditions.Collection[*TestRunDaqMapping]
	TestRunT0ShiftCollection = conditions.Collection[*TestRunT0Shift]
)

// Test Run conditions-set names.
const (
	TestRunChannelsKey   = "test_run_svt_channels"
	TestRunDaqMapKey     = "test_run_svt_daq_map"
	TestRunT0ShiftsKey   = "test_run_svt_t0_shifts"
	TestRunConditionsKey = "test_run_svt_conditions"
)

// TestRunTables returns the table descriptors specific to the Test Run.
func TestRunTables() []conditions.TableMetaData {
	return []conditions.TableMetaData{
		{
			Key: TestRunChannelsKey, TableName: "test_run_svt_channels",
			Fields: []conditions.Field{
				field("channel_id", conditions.ColumnInt), field("fpga", conditions.ColumnInt),
				field("hybrid", conditions.ColumnInt), field("channel", conditions.ColumnInt),
			},
		},
		{
			Key: TestRunDaqMapKey, TableName: "test_run_svt_daq_map",
			Fields: []conditions.Field{
				field("svt_half", conditions.ColumnString), field("layer", conditions.ColumnInt),
				field("fpga", conditions.ColumnInt), field("hybrid", conditions.ColumnInt),
			},
		},
		{
			Key: TestRunT0ShiftsKey, TableName: "test_run_svt_t0_shifts",
			Fields: []conditions.Field{
				field("fpga", conditions.ColumnInt), field("hybrid", conditions.ColumnInt),
				field("t0_shift", conditions.ColumnFloat),
			},
		},
	}
}

// TestRunConverters returns the converters used with Test Run detectors,
// including the combined TestRunConditionsConverter.
func TestRunConverters() []conditions.Converter {
	return append(sharedConverters(),
		conditions.NewCollectionConverter[TestRunChannel](TestRunChannelsKey),
		conditions.NewCollectionConverter[TestRunDaqMapping](TestRunDaqMapKey),
		conditions.NewCollectionConverter[TestRunT0Shift](TestRunT0ShiftsKey),
		TestRunConditionsConverter{},
	)
}

// TestRunConditions is the Test Run counterpart of Conditions.
type TestRunConditions struct {
	channels  *TestRunChannelCollection
	daqMap    *TestRunDaqMapCollection
	byID      map[int]*TestRunChannel
	mappings  map[hybridKey]*TestRunDaqMapping
	t0Shifts  map[hybridKey]*TestRunT0Shift
	constants map[int]*ChannelConstants
}

// Channels returns the channel map.
func (c *TestRunConditions) Channels() *TestRunChannelCollection { return c.channels }

// DaqMap returns the DAQ map.
func (c *TestRunConditions) DaqMap() *TestRunDaqMapCollection { return c.daqMap }

// Channel returns the channel with a logical id.
func (c *TestRunConditions) Channel(id int) (*TestRunChannel, bool) {
	ch, ok := c.byID[id]
	return ch, ok
}

// Mapping returns where a hybrid sits in the detector.
func (c *TestRunConditions) Mapping(fpga, hybrid int) (*TestRunDaqMapping, bool) {
	d, ok := c.mappings[hybridKey{fpga, hybrid}]
	return d, ok
}

// T0Shift returns the T0 shift of a hybrid.
func (c *TestRunConditions) T0Shift(fpga, hybrid int) (*TestRunT0Shift, bool) {
	t, ok := c.t0Shifts[hybridKey{fpga, hybrid}]
	return t, ok
}

// Constants returns the constants of a channel.
func (c *TestRunConditions) Constants(channelID int) (*ChannelConstants, bool) {
	k, ok := c.constants[channelID]
	return k, ok
}

// TestRunConditionsConverter builds TestRunConditions.
type TestRunConditionsConverter struct{}

// Type returns *TestRunConditions.
func (TestRunConditionsConverter) Type() reflect.Type { return reflect.TypeFor[*TestRunConditions]() }

// Name returns "test_run_svt_conditions".
func (TestRunConditionsConverter) Name() string { return TestRunConditionsKey }

// RunDependent returns true.
func (TestRunConditionsConverter) RunDependent() bool { return true }

// Load assembles the combined Test Run conditions.
func (TestRunConditionsConverter) Load(ctx context.Context, m *conditions.Manager, _ string) (any, error) {
	channels, err := conditions.GetConditionsData[*TestRunChannelCollection](ctx, m, TestRunChannelsKey)
	if err != nil {
		return nil, err
	}
	c := &TestRunConditions{
		channels: channels,
		byID:     make(map[int]*TestRunChannel, channels.Len()),
		mappings: make(map[hybridKey]*TestRunDaqMapping),
		t0Shifts: make(map[hybridKey]*TestRunT0Shift),
	}
	ids := make([]int, 0, channels.Len())
	for _, ch := range channels.Objects() {
		if _, dup := c.byID[ch.ChannelID]; dup {
			return nil, domain.ErrValidation("duplicate Test Run SVT channel id %d", ch.ChannelID)
		}
		c.byID[ch.ChannelID] = ch
		ids = append(ids, ch.ChannelID)
	}
	if c.constants, err = loadChannelConstants(ctx, m, ids); err != nil {
		return nil, err
	}

	if c.daqMap, err = conditions.GetConditionsData[*TestRunDaqMapCollection](ctx, m, TestRunDaqMapKey); err != nil {
		return nil, err
	}
	for _, d := range c.daqMap.Objects() {
		c.mappings[hybridKey{d.FPGA, d.Hybrid}] = d
	}

	shifts, err := conditions.GetConditionsData[*TestRunT0ShiftCollection](ctx, m, TestRunT0ShiftsKey)
	if err != nil {
		return nil, err
	}
	for _, t := range shifts.Objects() {
		c.t0Shifts[hybridKey{t.FPGA, t.Hybrid}] = t
	}
	return c, nil
}

package svt

import (
	"context"
	"reflect"

	"hps-conditions/internal/conditions"
	"hps-conditions/internal/domain"
)

// ChannelConstants are the calibration constants of one channel.
type ChannelConstants struct {
	Gain        *Gain
	Calibration *Calibration
	Bad         bool
}

type hybridKey struct{ feb, hybrid int }

type channelKey struct{ feb, hybrid, channel int }

// Conditions combines the SVT channel map, DAQ map, per-channel constants,
// T0 shifts and timing constants.
type Conditions struct {
	channels  *ChannelCollection
	daqMap    *DaqMapCollection
	timing    *TimingConstants
	byID      map[int]*Channel
	byAddress map[channelKey]*Channel
	mappings  map[hybridKey]*DaqMapping
	t0Shifts  map[hybridKey]*T0Shift
	constants map[int]*ChannelConstants
}

// Channels returns the channel map.
func (c *Conditions) Channels() *ChannelCollection { return c.channels }

// DaqMap returns the DAQ map.
func (c *Conditions) DaqMap() *DaqMapCollection { return c.daqMap }

// TimingConstants returns the global timing offsets.
func (c *Conditions) TimingConstants() *TimingConstants { return c.timing }

// Channel returns the channel with a logical id.
func (c *Conditions) Channel(id int) (*Channel, bool) {
	ch, ok := c.byID[id]
	return ch, ok
}

// ChannelAt returns the channel of a front-end address.
func (c *Conditions) ChannelAt(febID, febHybridID, channel int) (*Channel, bool) {
	ch, ok := c.byAddress[channelKey{febID, febHybridID, channel}]
	return ch, ok
}

// Mapping returns where a hybrid sits in the detector.
func (c *Conditions) Mapping(febID, febHybridID int) (*DaqMapping, bool) {
	d, ok := c.mappings[hybridKey{febID, febHybridID}]
	return d, ok
}

// T0Shift returns the T0 shift of a hybrid.
func (c *Conditions) T0Shift(febID, febHybridID int) (*T0Shift, bool) {
	t, ok := c.t0Shifts[hybridKey{febID, febHybridID}]
	return t, ok
}

// Constants returns the constants of a channel.
func (c *Conditions) Constants(channelID int) (*ChannelConstants, bool) {
	k, ok := c.constants[channelID]
	return k, ok
}

// ConditionsConverter builds Conditions. A missing bad channel set is
// tolerated; every other failure fails the whole load.
type ConditionsConverter struct{}

// Type returns *Conditions.
func (ConditionsConverter) Type() reflect.Type { return reflect.TypeFor[*Conditions]() }

// Name returns "svt_conditions".
func (ConditionsConverter) Name() string { return ConditionsKey }

// RunDependent returns true.
func (ConditionsConverter) RunDependent() bool { return true }

// Load assembles the combined conditions.
func (ConditionsConverter) Load(ctx context.Context, m *conditions.Manager, _ string) (any, error) {
	channels, err := conditions.GetConditionsData[*ChannelCollection](ctx, m, ChannelsKey)
	if err != nil {
		return nil, err
	}
	c := &Conditions{
		channels:  channels,
		byID:      make(map[int]*Channel, channels.Len()),
		byAddress: make(map[channelKey]*Channel, channels.Len()),
		mappings:  make(map[hybridKey]*DaqMapping),
		t0Shifts:  make(map[hybridKey]*T0Shift),
	}
	ids := make([]int, 0, channels.Len())
	for _, ch := range channels.Objects() {
		if _, dup := c.byID[ch.ChannelID]; dup {
			return nil, domain.ErrValidation("duplicate SVT channel id %d in collection %d", ch.ChannelID, channels.CollectionID())
		}
		c.byID[ch.ChannelID] = ch
		c.byAddress[channelKey{ch.FebID, ch.FebHybridID, ch.Channel}] = ch
		ids = append(ids, ch.ChannelID)
	}
	if c.constants, err = loadChannelConstants(ctx, m, ids); err != nil {
		return nil, err
	}

	if c.daqMap, err = conditions.GetConditionsData[*DaqMapCollection](ctx, m, DaqMapKey); err != nil {
		return nil, err
	}
	for _, d := range c.daqMap.Objects() {
		c.mappings[hybridKey{d.FebID, d.FebHybridID}] = d
	}

	shifts, err := conditions.GetConditionsData[*T0ShiftCollection](ctx, m, T0ShiftsKey)
	if err != nil {
		return nil, err
	}
	for _, t := range shifts.Objects() {
		c.t0Shifts[hybridKey{t.FebID, t.FebHybridID}] = t
	}

	timing, err := conditions.GetConditionsData[*TimingConstantsCollection](ctx, m, TimingConstantsKey)
	if err != nil {
		return nil, err
	}
	if timing.Len() != 1 {
		return nil, domain.ErrValidation("expected one SVT timing constants row in collection %d, found %d",
			timing.CollectionID(), timing.Len())
	}
	c.timing = timing.Get(0)
	return c, nil
}

// loadChannelConstants joins gains, calibrations and bad channels onto the
// given channel ids.
func loadChannelConstants(ctx context.Context, m *conditions.Manager, channelIDs []int) (map[int]*ChannelConstants, error) {
	constants := make(map[int]*ChannelConstants, len(channelIDs))
	for _, id := range channelIDs {
		constants[id] = &ChannelConstants{}
	}
	lookup := func(id int, set string) (*ChannelConstants, error) {
		k, ok := constants[id]
		if !ok {
			return nil, domain.ErrValidation("%s references unknown SVT channel %d", set, id)
		}
		return k, nil
	}

	gains, err := conditions.GetConditionsData[*GainCollection](ctx, m, GainsKey)
	if err != nil {
		return nil, err
	}
	for _, g := range gains.Objects() {
		k, err := lookup(g.ChannelID, GainsKey)
		if err != nil {
			return nil, err
		}
		k.Gain = g
	}

	calibrations, err := conditions.GetConditionsData[*CalibrationCollection](ctx, m, CalibrationsKey)
	if err != nil {
		return nil, err
	}
	for _, cal := range calibrations.Objects() {
		k, err := lookup(cal.ChannelID, CalibrationsKey)
		if err != nil {
			return nil, err
		}
		k.Calibration = cal
	}

	bad, ok, err := conditions.GetOptionalConditionsData[*BadChannelCollection](ctx, m, BadChannelsKey)
	if err != nil {
		return nil, err
	}
	if ok {
		for _, b := range bad.Objects() {
			k, err := lookup(b.ChannelID, BadChannelsKey)
			if err != nil {
				return nil, err
			}
			k.Bad = true
		}
	}
	return constants, nil
}

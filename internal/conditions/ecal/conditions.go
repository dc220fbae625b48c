package ecal

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
	TimeShift   *TimeShift
	Bad         bool
}

type daqAddress struct{ crate, slot, channel int }

type position struct{ x, y int }

// Conditions combines the channel map with every per-channel constant.
type Conditions struct {
	channels  *ChannelCollection
	byID      map[int]*Channel
	byDAQ     map[daqAddress]*Channel
	byPos     map[position]*Channel
	constants map[int]*ChannelConstants
}

// Channels returns the channel map.
func (c *Conditions) Channels() *ChannelCollection { return c.channels }

// Channel returns the channel with a logical id.
func (c *Conditions) Channel(id int) (*Channel, bool) {
	ch, ok := c.byID[id]
	return ch, ok
}

// ChannelAt returns the channel of a DAQ address.
func (c *Conditions) ChannelAt(crate, slot, channel int) (*Channel, bool) {
	ch, ok := c.byDAQ[daqAddress{crate, slot, channel}]
	return ch, ok
}

// ChannelAtPosition returns the channel of a crystal position.
func (c *Conditions) ChannelAtPosition(x, y int) (*Channel, bool) {
	ch, ok := c.byPos[position{x, y}]
	return ch, ok
}

// Constants returns the constants of a channel.
func (c *Conditions) Constants(ch *Channel) (*ChannelConstants, bool) {
	k, ok := c.constants[ch.ChannelID]
	return k, ok
}

// BadChannelCount returns how many channels are flagged bad.
func (c *Conditions) BadChannelCount() int {
	n := 0
	for _, k := range c.constants {
		if k.Bad {
			n++
		}
	}
	return n
}

// ConditionsConverter builds Conditions from the channel map, gains,
// calibrations, time shifts and bad channels. Missing bad channel or time
// shift sets leave those constants empty; every other failure fails the
// whole load.
type ConditionsConverter struct{}

// Type returns *Conditions.
func (ConditionsConverter) Type() reflect.Type { return reflect.TypeFor[*Conditions]() }

// Name returns "ecal_conditions".
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
		byDAQ:     make(map[daqAddress]*Channel, channels.Len()),
		byPos:     make(map[position]*Channel, channels.Len()),
		constants: make(map[int]*ChannelConstants, channels.Len()),
	}
	for _, ch := range channels.Objects() {
		if _, dup := c.byID[ch.ChannelID]; dup {
			return nil, domain.ErrValidation("duplicate ECAL channel id %d in collection %d", ch.ChannelID, channels.CollectionID())
		}
		c.byID[ch.ChannelID] = ch
		c.byDAQ[daqAddress{ch.Crate, ch.Slot, ch.Channel}] = ch
		c.byPos[position{ch.X, ch.Y}] = ch
		c.constants[ch.ChannelID] = &ChannelConstants{}
	}

	gains, err := conditions.GetConditionsData[*GainCollection](ctx, m, GainsKey)
	if err != nil {
		return nil, err
	}
	for _, g := range gains.Objects() {
		k, err := c.lookup(g.ChannelID, GainsKey)
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
		k, err := c.lookup(cal.ChannelID, CalibrationsKey)
		if err != nil {
			return nil, err
		}
		k.Calibration = cal
	}

	shifts, ok, err := conditions.GetOptionalConditionsData[*TimeShiftCollection](ctx, m, TimeShiftsKey)
	if err != nil {
		return nil, err
	}
	if ok {
		for _, s := range shifts.Objects() {
			k, err := c.lookup(s.ChannelID, TimeShiftsKey)
			if err != nil {
				return nil, err
			}
			k.TimeShift = s
		}
	}

	bad, ok, err := conditions.GetOptionalConditionsData[*BadChannelCollection](ctx, m, BadChannelsKey)
	if err != nil {
		return nil, err
	}
	if ok {
		for _, b := range bad.Objects() {
			k, err := c.lookup(b.ChannelID, BadChannelsKey)
			if err != nil {
				return nil, err
			}
			k.Bad = true
		}
	}
	return c, nil
}

func (c *Conditions) lookup(channelID int, set string) (*ChannelConstants, error) {
	k, ok := c.constants[channelID]
	if !ok {
		return nil, domain.ErrValidation("%s references unknown ECAL channel %d", set, channelID)
	}
	return k, nil
}

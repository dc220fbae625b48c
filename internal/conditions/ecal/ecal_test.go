package ecal_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hps-conditions/internal/conditions"
	"hps-conditions/internal/conditions/ecal"
	"hps-conditions/internal/db"
	"hps-conditions/internal/domain"
)

func newManager(t *testing.T) *conditions.Manager {
	t.Helper()
	tables := conditions.NewTableRegistry()
	require.NoError(t, tables.RegisterAll(ecal.Tables()...))
	convs, err := conditions.NewConverterRegistry(tables, ecal.Converters()...)
	require.NoError(t, err)
	m, err := conditions.NewManager(conditions.ManagerDeps{
		Conn:       db.OpenTestConnection(t),
		Tables:     tables,
		Converters: convs,
		Logger:     slog.New(slog.DiscardHandler),
	})
	require.NoError(t, err)
	return m
}

func insert[T any, PT conditions.RowPtr[T]](t *testing.T, m *conditions.Manager, key string, rows ...PT) {
	t.Helper()
	meta, err := m.Tables().FindByKey(key)
	require.NoError(t, err)
	coll := conditions.NewCollection[T, PT](meta)
	for _, r := range rows {
		require.NoError(t, coll.Add(r))
	}
	_, err = m.InsertCollection(context.Background(), coll,
		domain.ConditionsRecord{RunStart: 1, RunEnd: 10000, CreatedBy: "test"}, "test")
	require.NoError(t, err)
}

func seedChannels(t *testing.T, m *conditions.Manager) {
	t.Helper()
	insert(t, m, ecal.ChannelsKey,
		&ecal.Channel{ChannelID: 1, Crate: 1, Slot: 10, Channel: 0, X: -1, Y: 1},
		&ecal.Channel{ChannelID: 2, Crate: 1, Slot: 10, Channel: 1, X: 1, Y: 1},
		&ecal.Channel{ChannelID: 3, Crate: 2, Slot: 3, Channel: 5, X: 2, Y: -1},
	)
	insert(t, m, ecal.CalibrationsKey,
		&ecal.Calibration{ChannelID: 1, Pedestal: 101.2, Noise: 4.1},
		&ecal.Calibration{ChannelID: 2, Pedestal: 98.7, Noise: 3.9},
		&ecal.Calibration{ChannelID: 3, Pedestal: 110.0, Noise: 5.2},
	)
}

func TestConditionsConverter(t *testing.T) {
	ctx := context.Background()
	m := newManager(t)
	seedChannels(t, m)
	insert(t, m, ecal.GainsKey,
		&ecal.Gain{ChannelID: 1, Gain: 0.151},
		&ecal.Gain{ChannelID: 2, Gain: 0.162},
		&ecal.Gain{ChannelID: 3, Gain: 0.149},
	)
	insert(t, m, ecal.BadChannelsKey, &ecal.BadChannel{ChannelID: 2})
	require.NoError(t, m.SetDetector(ctx, "HPS-EngRun2015-Nominal-v1", 5772))

	cached, err := conditions.GetCachedConditions[*ecal.Conditions](ctx, m, ecal.ConditionsKey)
	require.NoError(t, err)
	c := cached.Get()
	assert.Len(t, cached.CollectionIDs(), 4, "channels, gains, calibrations and bad channels")
	assert.Equal(t, 3, c.Channels().Len())

	ch, ok := c.ChannelAt(1, 10, 1)
	require.True(t, ok)
	assert.Equal(t, 2, ch.ChannelID)
	pos, ok := c.ChannelAtPosition(2, -1)
	require.True(t, ok)
	assert.Equal(t, 3, pos.ChannelID)
	_, ok = c.ChannelAt(9, 9, 9)
	assert.False(t, ok)

	k, ok := c.Constants(ch)
	require.True(t, ok)
	assert.Equal(t, 0.162, k.Gain.Gain)
	assert.Equal(t, 98.7, k.Calibration.Pedestal)
	assert.Nil(t, k.TimeShift, "time shifts are optional")
	assert.True(t, k.Bad)
	assert.Equal(t, 1, c.BadChannelCount())

	first, ok := c.Channel(1)
	require.True(t, ok)
	k, ok = c.Constants(first)
	require.True(t, ok)
	assert.False(t, k.Bad)

	again, err := conditions.GetCachedConditions[*ecal.Conditions](ctx, m, ecal.ConditionsKey)
	require.NoError(t, err)
	assert.Same(t, cached, again)
}

func TestConditionsConverter_TimeShifts(t *testing.T) {
	ctx := context.Background()
	m := newManager(t)
	seedChannels(t, m)
	insert(t, m, ecal.GainsKey, &ecal.Gain{ChannelID: 1, Gain: 0.15})
	insert(t, m, ecal.TimeShiftsKey, &ecal.TimeShift{ChannelID: 3, Shift: -1.75})
	require.NoError(t, m.SetDetector(ctx, "HPS-Test", 10))

	c, err := conditions.GetConditionsData[*ecal.Conditions](ctx, m, ecal.ConditionsKey)
	require.NoError(t, err)
	ch, ok := c.Channel(3)
	require.True(t, ok)
	k, ok := c.Constants(ch)
	require.True(t, ok)
	require.NotNil(t, k.TimeShift)
	assert.Equal(t, -1.75, k.TimeShift.Shift)
	assert.Nil(t, k.Gain, "channel without a gain row")
	assert.Zero(t, c.BadChannelCount())
}

func TestConditionsConverter_MissingRequiredSet(t *testing.T) {
	ctx := context.Background()
	m := newManager(t)
	seedChannels(t, m)
	require.NoError(t, m.SetDetector(ctx, "HPS-Test", 10))

	_, err := conditions.GetConditionsData[*ecal.Conditions](ctx, m, ecal.ConditionsKey)
	var nf *domain.ConditionsNotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, ecal.GainsKey, nf.Name)
}

func TestConditionsConverter_UnknownChannel(t *testing.T) {
	ctx := context.Background()
	m := newManager(t)
	seedChannels(t, m)
	insert(t, m, ecal.GainsKey, &ecal.Gain{ChannelID: 99, Gain: 0.15})
	require.NoError(t, m.SetDetector(ctx, "HPS-Test", 10))

	_, err := conditions.GetConditionsData[*ecal.Conditions](ctx, m, ecal.ConditionsKey)
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Message, "99")
}

func TestLEDs(t *testing.T) {
	ctx := context.Background()
	m := newManager(t)
	insert(t, m, ecal.LEDsKey,
		&ecal.LED{ChannelID: 1, Crate: 1, Number: 4, TimeDelay: 120, AmplitudeLow: 10, AmplitudeHigh: 200})
	require.NoError(t, m.SetDetector(ctx, "HPS-Test", 10))

	leds, err := conditions.GetCollection[ecal.LED](ctx, m)
	require.NoError(t, err)
	require.Equal(t, 1, leds.Len())
	assert.Equal(t, 200, leds.Get(0).AmplitudeHigh)
}

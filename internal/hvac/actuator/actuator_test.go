package actuator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jluzny/hag-go/internal/config"
	"github.com/jluzny/hag-go/internal/hass"
)

func testHVACOptions() config.HVACOptions {
	return config.HVACOptions{
		Entities: []config.HVACEntity{
			{EntityID: "climate.living_room", Enabled: true},
			{EntityID: "climate.bedroom", Enabled: true},
			{EntityID: "climate.garage", Enabled: false},
		},
		Heating: config.HeatingOptions{
			Temperature: 21.5,
			PresetMode:  "comfort",
			Thresholds: config.TemperatureThresholds{
				IndoorMin:  19.7,
				IndoorMax:  20.2,
				OutdoorMin: -10.0,
				OutdoorMax: 15.0,
			},
		},
		Cooling: config.CoolingOptions{
			Temperature: 24.0,
			PresetMode:  "windFree",
			Thresholds: config.TemperatureThresholds{
				IndoorMin:  23.0,
				IndoorMax:  23.5,
				OutdoorMin: 10.0,
				OutdoorMax: 45.0,
			},
		},
	}
}

// callsFor filters recorded calls down to one entity.
func callsFor(calls []hass.ServiceCall, entityID string) []hass.ServiceCall {
	var out []hass.ServiceCall
	for _, c := range calls {
		if c.Data["entity_id"] == entityID {
			out = append(out, c)
		}
	}
	return out
}

func serviceNames(calls []hass.ServiceCall) []string {
	var out []string
	for _, c := range calls {
		out = append(out, c.Service)
	}
	return out
}

func TestStartCooling_PerUnitDecisions(t *testing.T) {
	client := hass.NewMockClient()
	client.SetState("sensor.living_room_temperature", "27.0", nil)
	client.SetState("sensor.bedroom_temperature", "22.5", nil)

	act := New(client, testHVACOptions(), zap.NewNop())
	require.NoError(t, act.StartCooling(nil))

	calls := client.ServiceCalls()

	// Hot room: mode, temperature, preset in order.
	living := callsFor(calls, "climate.living_room")
	require.Equal(t, []string{"set_hvac_mode", "set_temperature", "set_preset_mode"}, serviceNames(living))
	assert.Equal(t, "cool", living[0].Data["hvac_mode"])
	assert.Equal(t, 24.0, living[1].Data["temperature"])
	assert.Equal(t, "windFree", living[2].Data["preset_mode"])

	// Room already below indoorMin: switched off.
	bedroom := callsFor(calls, "climate.bedroom")
	require.Equal(t, []string{"turn_off"}, serviceNames(bedroom))

	// Disabled unit untouched.
	assert.Empty(t, callsFor(calls, "climate.garage"))
}

func TestStartCooling_RoomInsideBandLeftAlone(t *testing.T) {
	client := hass.NewMockClient()
	client.SetState("sensor.living_room_temperature", "23.2", nil)
	client.SetState("sensor.bedroom_temperature", "23.2", nil)

	act := New(client, testHVACOptions(), zap.NewNop())
	require.NoError(t, act.StartCooling(nil))

	assert.Empty(t, client.ServiceCalls())
}

func TestStartCooling_BoundaryRoomLeftAlone(t *testing.T) {
	client := hass.NewMockClient()
	// Exactly at indoorMin: not strictly below, so not switched off.
	client.SetState("sensor.living_room_temperature", "23.0", nil)
	// Exactly at indoorMax: not strictly above, so not switched on.
	client.SetState("sensor.bedroom_temperature", "23.5", nil)

	act := New(client, testHVACOptions(), zap.NewNop())
	require.NoError(t, act.StartCooling(nil))

	assert.Empty(t, client.ServiceCalls())
}

func TestStartHeating_PerUnitDecisions(t *testing.T) {
	client := hass.NewMockClient()
	client.SetState("sensor.living_room_temperature", "18.0", nil)
	client.SetState("sensor.bedroom_temperature", "21.0", nil)

	act := New(client, testHVACOptions(), zap.NewNop())
	require.NoError(t, act.StartHeating(nil))

	calls := client.ServiceCalls()

	living := callsFor(calls, "climate.living_room")
	require.Equal(t, []string{"set_hvac_mode", "set_temperature", "set_preset_mode"}, serviceNames(living))
	assert.Equal(t, "heat", living[0].Data["hvac_mode"])
	assert.Equal(t, 21.5, living[1].Data["temperature"])

	bedroom := callsFor(calls, "climate.bedroom")
	require.Equal(t, []string{"turn_off"}, serviceNames(bedroom))
}

func TestStartHeating_BoundaryRoomLeftAlone(t *testing.T) {
	client := hass.NewMockClient()
	// Exactly at indoorMin: not strictly below, so not switched on.
	client.SetState("sensor.living_room_temperature", "19.7", nil)
	// Exactly at indoorMax: not strictly above, so not switched off.
	client.SetState("sensor.bedroom_temperature", "20.2", nil)

	act := New(client, testHVACOptions(), zap.NewNop())
	require.NoError(t, act.StartHeating(nil))

	assert.Empty(t, client.ServiceCalls())
}

func TestStartHeating_SetpointOverridesConfiguredTarget(t *testing.T) {
	client := hass.NewMockClient()
	client.SetState("sensor.living_room_temperature", "18.0", nil)
	client.SetState("sensor.bedroom_temperature", "18.0", nil)

	act := New(client, testHVACOptions(), zap.NewNop())
	setpoint := 23.0
	require.NoError(t, act.StartHeating(&setpoint))

	living := callsFor(client.ServiceCalls(), "climate.living_room")
	require.Len(t, living, 3)
	assert.Equal(t, 23.0, living[1].Data["temperature"])
}

func TestStartHeating_SkipsUnitWithUnreadableSensor(t *testing.T) {
	client := hass.NewMockClient()
	// living_room sensor missing entirely; bedroom present and cold.
	client.SetState("sensor.bedroom_temperature", "18.0", nil)

	act := New(client, testHVACOptions(), zap.NewNop())
	err := act.StartHeating(nil)

	// The failure is reported but the healthy unit was still driven.
	require.Error(t, err)
	var notFound *hass.EntityNotFoundError
	assert.ErrorAs(t, err, &notFound)

	assert.Empty(t, callsFor(client.ServiceCalls(), "climate.living_room"))
	assert.NotEmpty(t, callsFor(client.ServiceCalls(), "climate.bedroom"))

	assert.Error(t, act.LastError())
}

func TestStartHeating_NonNumericSensorSkipsUnit(t *testing.T) {
	client := hass.NewMockClient()
	client.SetState("sensor.living_room_temperature", "unavailable", nil)
	client.SetState("sensor.bedroom_temperature", "18.0", nil)

	act := New(client, testHVACOptions(), zap.NewNop())
	require.Error(t, act.StartHeating(nil))

	assert.Empty(t, callsFor(client.ServiceCalls(), "climate.living_room"))
	assert.NotEmpty(t, callsFor(client.ServiceCalls(), "climate.bedroom"))
}

func TestStopAll_TurnsOffEnabledUnits(t *testing.T) {
	client := hass.NewMockClient()

	act := New(client, testHVACOptions(), zap.NewNop())
	require.NoError(t, act.StopAll())

	calls := client.ServiceCalls()
	require.Len(t, calls, 2)
	for _, c := range calls {
		assert.Equal(t, "climate", c.Domain)
		assert.Equal(t, "turn_off", c.Service)
	}
	assert.Empty(t, callsFor(calls, "climate.garage"))

	assert.NoError(t, act.LastError())
}

func TestStopAll_ReportsServiceFailure(t *testing.T) {
	client := hass.NewMockClient()
	client.FailServiceCalls(true)

	act := New(client, testHVACOptions(), zap.NewNop())
	err := act.StopAll()

	require.Error(t, err)
	var svcErr *hass.ServiceCallError
	assert.ErrorAs(t, err, &svcErr)
	assert.Error(t, act.LastError())
}

func TestLastError_ClearedBySuccessfulPass(t *testing.T) {
	client := hass.NewMockClient()
	client.FailServiceCalls(true)

	act := New(client, testHVACOptions(), zap.NewNop())
	require.Error(t, act.StopAll())
	require.Error(t, act.LastError())

	client.FailServiceCalls(false)
	require.NoError(t, act.StopAll())
	assert.NoError(t, act.LastError())
}

package controller

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jluzny/hag-go/internal/clock"
	"github.com/jluzny/hag-go/internal/config"
	"github.com/jluzny/hag-go/internal/hass"
	"github.com/jluzny/hag-go/internal/hvac/machine"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Hass.WSURL = "ws://test.local/api/websocket"
	cfg.Hass.RestURL = "http://test.local"
	cfg.Hass.Token = "test-token"
	cfg.HVAC.TempSensor = "sensor.indoor_temperature"
	cfg.HVAC.OutdoorSensor = "sensor.outdoor_temperature"
	cfg.HVAC.SystemMode = config.SystemModeAuto
	cfg.HVAC.Entities = []config.HVACEntity{
		{EntityID: "climate.living_room", Enabled: true},
	}
	cfg.HVAC.Heating = config.HeatingOptions{
		Temperature: 21.5,
		Thresholds: config.TemperatureThresholds{
			IndoorMin:  19.7,
			IndoorMax:  20.2,
			OutdoorMin: -10.0,
			OutdoorMax: 15.0,
		},
	}
	cfg.HVAC.Cooling = config.CoolingOptions{
		Temperature: 24.0,
		Thresholds: config.TemperatureThresholds{
			IndoorMin:  23.0,
			IndoorMax:  23.5,
			OutdoorMin: 10.0,
			OutdoorMax: 45.0,
		},
	}
	return cfg
}

type env struct {
	ctrl   *Controller
	client *hass.MockClient
	clock  *clock.MockClock
}

// newEnv starts a controller over a mock gateway at Thursday noon.
func newEnv(t *testing.T, cfg config.Config, indoor, outdoor string) *env {
	t.Helper()

	client := hass.NewMockClient()
	client.SetState(cfg.HVAC.TempSensor, indoor, nil)
	client.SetState(cfg.HVAC.OutdoorSensor, outdoor, nil)
	client.SetState("sensor.living_room_temperature", indoor, nil)

	clk := clock.NewMockClock(time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC))
	ctrl := New(cfg, client, clk, zap.NewNop())

	require.NoError(t, ctrl.Start())
	t.Cleanup(func() { ctrl.Stop() })

	return &env{ctrl: ctrl, client: client, clock: clk}
}

func (e *env) waitState(t *testing.T, want machine.State) {
	t.Helper()
	assert.Eventually(t, func() bool {
		return e.ctrl.Machine().CurrentState() == want
	}, 2*time.Second, 5*time.Millisecond, "expected state %s, got %s", want, e.ctrl.Machine().CurrentState())
}

func TestController_SeededReadingsDriveInitialEvaluation(t *testing.T) {
	e := newEnv(t, testConfig(), "18.0", "5.0")

	// Cold room at startup: the seeded reads alone must reach heating.
	e.waitState(t, machine.StateHeating)

	calls := e.client.ServiceCalls()
	assert.NotEmpty(t, calls)
}

func TestController_StartTwiceFails(t *testing.T) {
	e := newEnv(t, testConfig(), "21.0", "5.0")

	assert.Error(t, e.ctrl.Start())
}

func TestController_SensorEventsDriveTransitions(t *testing.T) {
	e := newEnv(t, testConfig(), "21.0", "5.0")
	e.waitState(t, machine.StateOff)

	// Room cools below the heating threshold.
	e.clock.Advance(time.Second)
	e.client.SimulateStateChange("sensor.indoor_temperature", "18.0")
	e.waitState(t, machine.StateHeating)

	// Room recovers past indoorMax.
	e.clock.Advance(time.Second)
	e.client.SimulateStateChange("sensor.indoor_temperature", "20.3")
	e.waitState(t, machine.StateOff)
}

func TestController_UnusableSensorReadingsIgnored(t *testing.T) {
	e := newEnv(t, testConfig(), "18.0", "5.0")
	e.waitState(t, machine.StateHeating)

	for _, bad := range []string{"unavailable", "unknown", "NaN", "+Inf"} {
		e.client.SimulateStateChange("sensor.indoor_temperature", bad)
	}

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, machine.StateHeating, e.ctrl.Machine().CurrentState())
}

func TestController_PeriodicTickPicksUpActiveWindow(t *testing.T) {
	cfg := testConfig()
	cfg.HVAC.ActiveHours = &config.ActiveHours{Start: 8, StartWeekday: 7, End: 22}

	client := hass.NewMockClient()
	client.SetState(cfg.HVAC.TempSensor, "18.0", nil)
	client.SetState(cfg.HVAC.OutdoorSensor, "5.0", nil)
	client.SetState("sensor.living_room_temperature", "18.0", nil)

	// Thursday 05:00, before the weekday window opens at 07:00.
	clk := clock.NewMockClock(time.Date(2026, 1, 15, 5, 0, 0, 0, time.UTC))
	ctrl := New(cfg, client, clk, zap.NewNop())
	require.NoError(t, ctrl.Start())
	defer ctrl.Stop()

	assert.Eventually(t, func() bool {
		return ctrl.Machine().CurrentState() == machine.StateOff
	}, 2*time.Second, 5*time.Millisecond)

	// Tick the clock past 07:00 one check interval at a time; no sensor
	// events arrive, the periodic tick alone must re-evaluate.
	interval := cfg.Hass.CheckInterval()
	for elapsed := time.Duration(0); elapsed < 2*time.Hour+interval; elapsed += interval {
		clk.Advance(interval)
	}

	assert.Eventually(t, func() bool {
		return ctrl.Machine().CurrentState() == machine.StateHeating
	}, 2*time.Second, 5*time.Millisecond)
}

func TestController_OverrideAndStatus(t *testing.T) {
	e := newEnv(t, testConfig(), "21.0", "5.0")
	e.waitState(t, machine.StateOff)

	setpoint := 23.0
	require.NoError(t, e.ctrl.Override(machine.OverrideHeat, &setpoint, time.Hour))
	e.waitState(t, machine.StateManualOverride)

	status := e.ctrl.Status()
	assert.True(t, status.Running)
	assert.True(t, status.Connected)
	assert.Equal(t, machine.StateManualOverride, status.CurrentState)
	require.NotNil(t, status.ActiveOverride)
	assert.Equal(t, machine.OverrideHeat, status.ActiveOverride.Mode)
	require.NotNil(t, status.IndoorTemp)
	assert.Equal(t, 21.0, *status.IndoorTemp)

	// The override expires and automation resumes.
	e.clock.Advance(time.Hour)
	e.waitState(t, machine.StateOff)
}

func TestController_StatusBeforeStart(t *testing.T) {
	client := hass.NewMockClient()
	clk := clock.NewMockClock(time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC))
	ctrl := New(testConfig(), client, clk, zap.NewNop())

	status := ctrl.Status()
	assert.False(t, status.Running)
	assert.False(t, status.Connected)
	assert.Equal(t, machine.StateIdle, status.CurrentState)
}

func TestController_StopIsIdempotent(t *testing.T) {
	e := newEnv(t, testConfig(), "21.0", "5.0")
	e.waitState(t, machine.StateOff)

	require.NoError(t, e.ctrl.Stop())
	require.NoError(t, e.ctrl.Stop())

	assert.False(t, e.ctrl.Status().Running)
	assert.False(t, e.client.IsConnected())
}

func TestController_CachedEvaluationThrottlesServiceCalls(t *testing.T) {
	cfg := testConfig()
	cfg.HVAC.EvaluationCacheMs = 5000

	e := newEnv(t, cfg, "18.0", "5.0")
	e.waitState(t, machine.StateHeating)
	baseline := len(e.client.ServiceCalls())

	// The same reading re-fired inside the TTL must not reach the machine
	// and must not re-run the actuation pass.
	e.client.SimulateStateChange("sensor.indoor_temperature", "18.0")
	e.client.SimulateStateChange("sensor.indoor_temperature", "18.0")

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, machine.StateHeating, e.ctrl.Machine().CurrentState())
	assert.Len(t, e.client.ServiceCalls(), baseline)

	// After the TTL expires the next reading evaluates again.
	e.clock.Advance(6 * time.Second)
	e.client.SimulateStateChange("sensor.indoor_temperature", "20.3")
	e.waitState(t, machine.StateOff)
}

func TestController_CachedEvaluationPreservesFreshOverride(t *testing.T) {
	cfg := testConfig()
	cfg.HVAC.EvaluationCacheMs = 5000

	e := newEnv(t, cfg, "18.0", "5.0")
	e.waitState(t, machine.StateHeating)

	require.NoError(t, e.ctrl.Override(machine.OverrideOff, nil, time.Hour))
	e.waitState(t, machine.StateManualOverride)

	// Sensor jitter inside the TTL must not dispatch an evaluation that
	// would clear the override.
	e.client.SimulateStateChange("sensor.indoor_temperature", "18.0")

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, machine.StateManualOverride, e.ctrl.Machine().CurrentState())
	assert.NotNil(t, e.ctrl.Machine().CurrentOverride())
}

func TestController_MonitorSeesSettledTransitionsOnly(t *testing.T) {
	e := newEnv(t, testConfig(), "18.0", "5.0")
	e.waitState(t, machine.StateHeating)

	// Held re-evaluations inside the band must not pollute the history
	// with repeated heating entries.
	for i := 0; i < 3; i++ {
		e.clock.Advance(time.Second)
		e.client.SimulateStateChange("sensor.indoor_temperature", "20.0")
		time.Sleep(20 * time.Millisecond)
	}
	e.waitState(t, machine.StateHeating)

	history := e.ctrl.monitor.History()
	heatEntries := 0
	for _, r := range history {
		if r.To == machine.StateHeating {
			heatEntries++
		}
	}
	assert.Equal(t, 1, heatEntries)
}

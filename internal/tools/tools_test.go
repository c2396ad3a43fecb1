package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestRegistry() *Registry {
	return NewRegistry(NewWeather("celsius", true, 3))
}

func TestWeatherCurrentDeterministic(t *testing.T) {
	w := NewWeather("celsius", true, 3)

	first, err := w.Current("Oslo")
	require.NoError(t, err)
	second, err := w.Current("oslo")
	require.NoError(t, err)

	var a, b map[string]any
	require.NoError(t, json.Unmarshal([]byte(first), &a))
	require.NoError(t, json.Unmarshal([]byte(second), &b))
	require.Equal(t, a["condition"], b["condition"])
	require.Equal(t, a["temperature"], b["temperature"])
	require.Equal(t, "celsius", a["units"])
}

func TestWeatherForecastClampsDays(t *testing.T) {
	w := NewWeather("celsius", true, 3)

	out, err := w.Forecast("Berlin", 99)
	require.NoError(t, err)

	var doc struct {
		Forecast []map[string]any `json:"forecast"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	require.Len(t, doc.Forecast, 3)
}

func TestWeatherRequiresLocation(t *testing.T) {
	w := NewWeather("celsius", true, 3)

	_, err := w.Current("   ")
	require.Error(t, err)
	_, err = w.Forecast("", 2)
	require.Error(t, err)
}

func TestExecuteDispatch(t *testing.T) {
	reg := newTestRegistry()

	out, err := reg.Execute(context.Background(), "weather_current", map[string]any{"location": "Lisbon"})
	require.NoError(t, err)
	require.Contains(t, out, "Lisbon")

	out, err = reg.Execute(context.Background(), "weather_forecast", map[string]any{"location": "Lisbon", "days": float64(2)})
	require.NoError(t, err)
	require.Contains(t, out, "forecast")
}

func TestExecuteRejectsClientSideTools(t *testing.T) {
	reg := newTestRegistry()

	_, err := reg.Execute(context.Background(), ClientGreetTool, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "client")
}

func TestExecuteValidatesArguments(t *testing.T) {
	reg := newTestRegistry()

	_, err := reg.Execute(context.Background(), "weather_current", map[string]any{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "location is required")

	_, err = reg.Execute(context.Background(), "weather_current", map[string]any{"location": 42})
	require.Error(t, err)

	_, err = reg.Execute(context.Background(), "nonexistent", nil)
	require.Error(t, err)
}

func TestForecastDisabledByConfig(t *testing.T) {
	reg := NewRegistry(NewWeather("celsius", false, 3))

	_, err := reg.Execute(context.Background(), "weather_forecast", map[string]any{"location": "Oslo"})
	require.Error(t, err)

	for _, s := range reg.Schemas() {
		require.NotEqual(t, "weather_forecast", s.Name)
	}
}

func TestSchemasIncludeClientGreet(t *testing.T) {
	reg := newTestRegistry()

	schema, ok := reg.Schema(ClientGreetTool)
	require.True(t, ok)
	require.True(t, IsClientSide(schema.Name))

	raw := schema.JSONSchema()
	var obj map[string]any
	require.NoError(t, json.Unmarshal(raw, &obj))
	require.Equal(t, "object", obj["type"])
	props := obj["properties"].(map[string]any)
	require.Contains(t, props, "message")
	require.NotContains(t, obj, "required")
}

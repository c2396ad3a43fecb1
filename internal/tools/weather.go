package tools

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"strings"
)

// Weather serves canned weather data. Deterministic by location so repeated
// questions in one conversation stay consistent.
type Weather struct {
	Units          string // celsius or fahrenheit
	EnableForecast bool
	MaxDays        int
}

// NewWeather constructs a weather tool.
func NewWeather(units string, enableForecast bool, maxDays int) *Weather {
	if units == "" {
		units = "celsius"
	}
	if maxDays <= 0 {
		maxDays = 3
	}
	return &Weather{Units: units, EnableForecast: enableForecast, MaxDays: maxDays}
}

var conditions = []string{"sunny", "partly cloudy", "overcast", "light rain", "thunderstorms", "snow", "foggy"}

// Current returns current conditions for a location as a JSON document.
func (w *Weather) Current(location string) (string, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return "", fmt.Errorf("location is required")
	}

	cond, temp := w.lookup(location, 0)
	out := map[string]any{
		"location":    location,
		"condition":   cond,
		"temperature": temp,
		"units":       w.Units,
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("marshal weather: %w", err)
	}
	return string(raw), nil
}

// Forecast returns a multi-day forecast for a location as a JSON document.
func (w *Weather) Forecast(location string, days int) (string, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return "", fmt.Errorf("location is required")
	}
	if days <= 0 || days > w.MaxDays {
		days = w.MaxDays
	}

	entries := make([]map[string]any, 0, days)
	for d := 1; d <= days; d++ {
		cond, temp := w.lookup(location, d)
		entries = append(entries, map[string]any{
			"day":         d,
			"condition":   cond,
			"temperature": temp,
		})
	}

	out := map[string]any{
		"location": location,
		"units":    w.Units,
		"forecast": entries,
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("marshal forecast: %w", err)
	}
	return string(raw), nil
}

func (w *Weather) lookup(location string, day int) (string, int) {
	h := fnv.New32a()
	h.Write([]byte(strings.ToLower(location)))
	h.Write([]byte{byte(day)})
	sum := h.Sum32()

	cond := conditions[sum%uint32(len(conditions))]
	temp := int(sum%35) - 5 // -5..29 C
	if strings.EqualFold(w.Units, "fahrenheit") {
		temp = temp*9/5 + 32
	}
	return cond, temp
}

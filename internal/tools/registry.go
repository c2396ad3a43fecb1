package tools

import (
	"context"
	"fmt"
	"strings"
)

// ClientPrefix marks tools that must be executed on the client device.
const ClientPrefix = "client_"

// ClientGreetTool is the synthetic tool used to signal a client-side greeting.
const ClientGreetTool = ClientPrefix + "greet"

// IsClientSide reports whether a tool name carries the reserved client prefix.
func IsClientSide(name string) bool {
	return strings.HasPrefix(name, ClientPrefix)
}

// Registry exposes shared backend tool instances.
type Registry struct {
	Weather *Weather
}

// NewRegistry builds a registry from instantiated tools.
func NewRegistry(w *Weather) *Registry {
	return &Registry{Weather: w}
}

// Execute runs a backend tool and returns its JSON output. Client-side tools
// are never executed here; callers must route those through the stream.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (string, error) {
	if r == nil {
		return "", fmt.Errorf("tool registry unavailable")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if IsClientSide(name) {
		return "", fmt.Errorf("tool %q executes on the client", name)
	}
	if err := ValidateCall(r, name, args); err != nil {
		return "", err
	}

	switch name {
	case "weather_current":
		location, _ := args["location"].(string)
		return r.Weather.Current(location)
	case "weather_forecast":
		location, _ := args["location"].(string)
		days := 0
		if raw, ok := args["days"]; ok {
			switch v := raw.(type) {
			case float64:
				days = int(v)
			case int:
				days = v
			case int64:
				days = int(v)
			}
		}
		return r.Weather.Forecast(location, days)
	default:
		return "", fmt.Errorf("unknown tool %q", name)
	}
}

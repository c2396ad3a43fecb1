package tools

import (
	"errors"
	"fmt"
)

// ValidateCall performs minimal validation of tool call arguments.
func ValidateCall(reg *Registry, name string, args map[string]any) error {
	if reg == nil {
		return errors.New("tool registry unavailable")
	}

	schema, ok := reg.Schema(name)
	if !ok {
		return fmt.Errorf("unknown tool %q", name)
	}
	if err := validateAgainstSchema(schema, args); err != nil {
		return err
	}

	switch name {
	case "weather_current", "weather_forecast":
		if reg.Weather == nil {
			return fmt.Errorf("weather tool unavailable")
		}
		if name == "weather_forecast" && !reg.Weather.EnableForecast {
			return fmt.Errorf("forecast disabled by configuration")
		}
	}
	return nil
}

func validateAgainstSchema(schema Schema, args map[string]any) error {
	for _, field := range schema.Parameters {
		val, exists := args[field.Name]
		if field.Required && !exists {
			return fmt.Errorf("%s is required", field.Name)
		}
		if !exists {
			continue
		}
		switch field.Type {
		case "string":
			if _, ok := val.(string); !ok {
				return fmt.Errorf("%s must be string", field.Name)
			}
		case "boolean":
			if _, ok := val.(bool); !ok {
				return fmt.Errorf("%s must be boolean", field.Name)
			}
		case "integer":
			switch val.(type) {
			case float64, int, int64:
			default:
				return fmt.Errorf("%s must be integer", field.Name)
			}
		}
		if len(field.Enum) > 0 {
			s, _ := val.(string)
			valid := false
			for _, allowed := range field.Enum {
				if s == allowed {
					valid = true
					break
				}
			}
			if !valid {
				return fmt.Errorf("%s must be one of %v", field.Name, field.Enum)
			}
		}
	}
	return nil
}

package tools

import "encoding/json"

// Schema describes a tool for JSON schema/tool-calling.
type Schema struct {
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Parameters  []SchemaField `json:"parameters"`
}

// SchemaField describes a single parameter.
type SchemaField struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Required    bool     `json:"required"`
	Enum        []string `json:"enum,omitempty"`
}

// Schemas provides descriptors for available tools, including the synthetic
// client-side capability signal.
func (r *Registry) Schemas() []Schema {
	s := []Schema{
		{
			Name:        "weather_current",
			Description: "Get the current weather conditions for a location",
			Parameters: []SchemaField{
				{Name: "location", Type: "string", Description: "City name", Required: true},
			},
		},
	}
	if r.Weather != nil && r.Weather.EnableForecast {
		s = append(s, Schema{
			Name:        "weather_forecast",
			Description: "Get a multi-day weather forecast for a location",
			Parameters: []SchemaField{
				{Name: "location", Type: "string", Description: "City name", Required: true},
				{Name: "days", Type: "integer", Description: "Number of days", Required: false},
			},
		})
	}
	s = append(s, Schema{
		Name:        ClientGreetTool,
		Description: "Show a greeting on the user's device. Executed by the client, not the server.",
		Parameters: []SchemaField{
			{Name: "message", Type: "string", Description: "Greeting text to display", Required: false},
		},
	})
	return s
}

// Schema returns schema for a given tool name if present.
func (r *Registry) Schema(name string) (Schema, bool) {
	for _, s := range r.Schemas() {
		if s.Name == name {
			return s, true
		}
	}
	return Schema{}, false
}

// JSONSchema renders the schema's parameters as a JSON Schema object, the
// format tool-calling providers expect.
func (s Schema) JSONSchema() json.RawMessage {
	props := make(map[string]any, len(s.Parameters))
	var required []string
	for _, f := range s.Parameters {
		prop := map[string]any{"type": f.Type}
		if f.Description != "" {
			prop["description"] = f.Description
		}
		if len(f.Enum) > 0 {
			prop["enum"] = f.Enum
		}
		props[f.Name] = prop
		if f.Required {
			required = append(required, f.Name)
		}
	}

	obj := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		obj["required"] = required
	}

	raw, _ := json.Marshal(obj)
	return raw
}

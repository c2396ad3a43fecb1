package llm

import "fmt"

// ModelRoute binds a logical model name to a provider and physical model name.
type ModelRoute struct {
	Name        string
	Provider    string
	Model       string
	Temperature float64
	MaxTokens   int
}

// Registry resolves logical models to providers.
type Registry struct {
	providers    map[string]Provider
	models       map[string]ModelRoute
	defaultModel string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Provider),
		models:    make(map[string]ModelRoute),
	}
}

// RegisterProvider adds a provider implementation.
func (r *Registry) RegisterProvider(name string, p Provider) {
	r.providers[name] = p
}

// RegisterModel adds a model route.
func (r *Registry) RegisterModel(name string, route ModelRoute, isDefault bool) {
	route.Name = name
	r.models[name] = route
	if isDefault || r.defaultModel == "" {
		r.defaultModel = name
	}
}

// Resolve returns the provider and route for a given model name (default if empty).
func (r *Registry) Resolve(modelName string) (Provider, ModelRoute, error) {
	if modelName == "" {
		modelName = r.defaultModel
	}

	route, ok := r.models[modelName]
	if !ok {
		return nil, ModelRoute{}, fmt.Errorf("model %q not registered", modelName)
	}

	p, ok := r.providers[route.Provider]
	if !ok {
		return nil, ModelRoute{}, fmt.Errorf("provider %q not registered for model %q", route.Provider, modelName)
	}

	return p, route, nil
}

// ResolveRef resolves an explicit provider/model pair, as supplied by a
// per-request override. Temperature and token limits fall back to the
// defaults of the registry's default route.
func (r *Registry) ResolveRef(provider, model string) (Provider, ModelRoute, error) {
	if provider == "" {
		return r.Resolve(model)
	}

	p, ok := r.providers[provider]
	if !ok {
		return nil, ModelRoute{}, fmt.Errorf("provider %q not registered", provider)
	}

	route := ModelRoute{Name: model, Provider: provider, Model: model}
	if def, ok := r.models[r.defaultModel]; ok {
		route.Temperature = def.Temperature
		route.MaxTokens = def.MaxTokens
		if route.Model == "" {
			route.Model = def.Model
		}
	}
	return p, route, nil
}

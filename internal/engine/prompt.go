package engine

import "strings"

const defaultPrompt = `You are Nimbus, a concise weather assistant.
Use the weather tools for any question about current conditions or forecasts
instead of guessing. When the user should be greeted on their device, call the
client_greet tool. Answer in plain prose.`

func (e *Engine) prompt() string {
	if strings.TrimSpace(e.systemPrompt) != "" {
		return e.systemPrompt
	}
	return defaultPrompt
}

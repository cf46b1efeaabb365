package llm

import "fmt"

// NewTextService creates the TextService for a provider name. The "none"
// provider returns nil: the engine runs with summarization-dependent
// passes deferring their work.
func NewTextService(provider, baseURL, model string) (TextService, error) {
	switch provider {
	case "ollama", "":
		return NewOllamaService(OllamaConfig{BaseURL: baseURL, Model: model}), nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported text provider: %q", provider)
	}
}

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/baladithyab/engram-sub001/pkg/types"
)

// OllamaService implements TextService against a local Ollama server.
type OllamaService struct {
	baseURL string
	model   string
	client  *http.Client
}

// OllamaConfig holds Ollama client configuration.
type OllamaConfig struct {
	// BaseURL is the base URL for the Ollama API (default: http://localhost:11434).
	BaseURL string

	// Model is the model used for summarization and extraction (default: qwen2.5:7b).
	Model string

	// Timeout is the request timeout duration (default: 60s).
	Timeout time.Duration
}

// NewOllamaService creates an Ollama-backed text service. Callers normally
// wrap it in a BreakerService before handing it to the engine.
func NewOllamaService(cfg OllamaConfig) *OllamaService {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	if cfg.Model == "" {
		cfg.Model = "qwen2.5:7b"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}

	return &OllamaService{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.Model,
		client:  &http.Client{Timeout: cfg.Timeout},
	}
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
	Format string `json:"format,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Summarize produces one higher-level summary from a group of texts.
func (s *OllamaService) Summarize(ctx context.Context, texts []string) (string, error) {
	if len(texts) == 0 {
		return "", fmt.Errorf("ollama: no texts to summarize")
	}

	var sb strings.Builder
	sb.WriteString("Condense the following related notes into a single factual statement. ")
	sb.WriteString("Keep every concrete detail that appears in more than one note. ")
	sb.WriteString("Reply with the statement only.\n\n")
	for i, text := range texts {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, text)
	}

	response, err := s.generate(ctx, sb.String(), "")
	if err != nil {
		return "", err
	}
	summary := strings.TrimSpace(response)
	if summary == "" {
		return "", fmt.Errorf("ollama: empty summary response")
	}
	return summary, nil
}

// extractionPayload mirrors the JSON document the extraction prompt asks
// the model to emit.
type extractionPayload struct {
	Entities []struct {
		Name        string  `json:"name"`
		Type        string  `json:"type"`
		Description string  `json:"description"`
		Confidence  float64 `json:"confidence"`
	} `json:"entities"`
	Relationships []struct {
		From       string  `json:"from"`
		To         string  `json:"to"`
		Type       string  `json:"type"`
		Confidence float64 `json:"confidence"`
	} `json:"relationships"`
}

// ExtractEntitiesRelationships surfaces entities and relationships from
// text via a JSON-constrained generation call. The relationship vocabulary
// offered to the model is exactly the set the graph accepts; anything else
// would be dropped at ingestion.
func (s *OllamaService) ExtractEntitiesRelationships(ctx context.Context, text string) ([]ExtractedEntity, []ExtractedRelationship, error) {
	prompt := fmt.Sprintf(`Extract the named entities and the relationships between them from the text below.
Respond with JSON only, in this shape:
{"entities":[{"name":"...","type":"tool|file|person|concept|decision","description":"...","confidence":0.0}],
"relationships":[{"from":"...","to":"...","type":"%s","confidence":0.0}]}
Relationship endpoints must reference entity names from the same response.

Text:
%s`, strings.Join(types.ValidRelationshipTypes, "|"), text)

	response, err := s.generate(ctx, prompt, "json")
	if err != nil {
		return nil, nil, err
	}

	var payload extractionPayload
	if err := json.Unmarshal([]byte(response), &payload); err != nil {
		return nil, nil, fmt.Errorf("ollama: failed to parse extraction response: %w", err)
	}

	entities := make([]ExtractedEntity, 0, len(payload.Entities))
	for _, e := range payload.Entities {
		entities = append(entities, ExtractedEntity{
			Name:        e.Name,
			Type:        e.Type,
			Description: e.Description,
			Confidence:  e.Confidence,
		})
	}
	relationships := make([]ExtractedRelationship, 0, len(payload.Relationships))
	for _, r := range payload.Relationships {
		relationships = append(relationships, ExtractedRelationship{
			From:       r.From,
			To:         r.To,
			Type:       r.Type,
			Confidence: r.Confidence,
		})
	}
	return entities, relationships, nil
}

func (s *OllamaService) generate(ctx context.Context, prompt, format string) (string, error) {
	body, err := json.Marshal(generateRequest{
		Model:  s.model,
		Prompt: prompt,
		Stream: false,
		Format: format,
	})
	if err != nil {
		return "", fmt.Errorf("ollama: failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("ollama: failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("ollama: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("ollama: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var gen generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&gen); err != nil {
		return "", fmt.Errorf("ollama: failed to decode response: %w", err)
	}
	return gen.Response, nil
}

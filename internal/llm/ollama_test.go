package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/baladithyab/engram-sub001/pkg/types"
)

// TestExtractionPromptOffersGraphVocabulary verifies the relationship types
// the prompt offers are exactly the ones the graph accepts; a type the
// prompt invents would be silently dropped at ingestion.
func TestExtractionPromptOffersGraphVocabulary(t *testing.T) {
	var prompt string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		prompt = req.Prompt
		payload := `{"entities":[{"name":"api","type":"tool","confidence":0.9},{"name":"cache","type":"tool","confidence":0.8}],` +
			`"relationships":[{"from":"api","to":"cache","type":"relates_to","confidence":0.7}]}`
		json.NewEncoder(w).Encode(generateResponse{Response: payload, Done: true})
	}))
	defer srv.Close()

	svc := NewOllamaService(OllamaConfig{BaseURL: srv.URL})
	entities, rels, err := svc.ExtractEntitiesRelationships(context.Background(), "the api relates to the cache")
	if err != nil {
		t.Fatalf("ExtractEntitiesRelationships: %v", err)
	}

	for _, relType := range types.ValidRelationshipTypes {
		if !strings.Contains(prompt, relType) {
			t.Errorf("prompt missing relationship type %q", relType)
		}
	}
	if strings.Contains(prompt, "related_to") {
		t.Error("prompt offers related_to, which the graph rejects")
	}

	if len(entities) != 2 {
		t.Errorf("entities = %d, want 2", len(entities))
	}
	if len(rels) != 1 || !types.IsValidRelationshipType(rels[0].Type) {
		t.Errorf("relationships = %+v, want one graph-valid edge", rels)
	}
}

// internal/embedder/ollama.go
package embedder

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/MereWhiplash/gitmem/internal/types"
)

// Ollama implements Embedder using the Ollama API.
type Ollama struct {
	baseURL string
	model   string
	dim     int
	http    *http.Client
}

type embeddingRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embeddingResponse struct {
	Embedding []float32 `json:"embedding"`
}

// NewOllama creates a new Ollama embedder.
func NewOllama(baseURL, model string, dim int) *Ollama {
	return &Ollama{
		baseURL: baseURL,
		model:   model,
		dim:     dim,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (o *Ollama) embed(text string) ([]float32, error) {
	reqBody := embeddingRequest{
		Model:  o.model,
		Prompt: text,
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := o.http.Post(
		fmt.Sprintf("%s/api/embeddings", o.baseURL),
		"application/json",
		bytes.NewReader(jsonBody),
	)
	if err != nil {
		return nil, types.Embedding(types.SubTimeout,
			fmt.Sprintf("failed to call Ollama at %s", o.baseURL), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, types.Embedding(types.SubInference,
			fmt.Sprintf("ollama returned status %d: %s", resp.StatusCode, string(body)), nil)
	}

	var embResp embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&embResp); err != nil {
		return nil, types.Embedding(types.SubInference, "failed to decode ollama response", err)
	}

	if o.dim > 0 && len(embResp.Embedding) != o.dim {
		return nil, types.Embedding(types.SubInference,
			fmt.Sprintf("model %s produced %d dimensions, index expects %d",
				o.model, len(embResp.Embedding), o.dim), nil)
	}
	return embResp.Embedding, nil
}

// EmbedForStorage applies the nomic document task prefix when relevant.
func (o *Ollama) EmbedForStorage(text string) ([]float32, error) {
	if o.model == "nomic-embed-text" {
		return o.embed("search_document: " + text)
	}
	return o.embed(text)
}

// EmbedForSearch applies the nomic query task prefix when relevant.
func (o *Ollama) EmbedForSearch(query string) ([]float32, error) {
	if o.model == "nomic-embed-text" {
		return o.embed("search_query: " + query)
	}
	return o.embed(query)
}

// EmbedBatchForStorage embeds each text in turn. The Ollama embeddings
// endpoint is single-prompt, so the batch is a loop; a mid-batch failure
// returns what succeeded so far alongside the error.
func (o *Ollama) EmbedBatchForStorage(texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, t := range texts {
		vec, err := o.EmbedForStorage(t)
		if err != nil {
			return out, err
		}
		out = append(out, vec)
	}
	return out, nil
}

func (o *Ollama) Dimension() int { return o.dim }

func (o *Ollama) Close() error { return nil }

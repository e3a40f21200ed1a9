package index

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// Embedder produces the dense vectors the Indexer writes (spec.md §4.4):
// a 384d text embedding and a 768d code embedding. It is a plain interface
// rather than the teacher's generated-protobuf EmbedServiceClient, since the
// ml/proto package it depended on isn't part of this module.
type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
	EmbedCode(ctx context.Context, code string) ([]float32, error)
}

// OllamaEmbedder calls Ollama's HTTP embeddings endpoint, one model for
// text and one for code, following the teacher's pkg/ollama.EmbedClient
// request/response shape (model+prompt in, embedding out) rather than its
// grpc EmbedServiceClient wrapper.
type OllamaEmbedder struct {
	baseURL   string
	textModel string
	codeModel string
	client    *http.Client
}

// NewOllamaEmbedder builds an Embedder backed by a running Ollama instance.
func NewOllamaEmbedder(baseURL, textModel, codeModel string) *OllamaEmbedder {
	return &OllamaEmbedder{
		baseURL:   baseURL,
		textModel: textModel,
		codeModel: codeModel,
		client:    &http.Client{},
	}
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float64 `json:"embedding"`
}

func (o *OllamaEmbedder) embed(ctx context.Context, model, prompt string) ([]float32, error) {
	body, err := json.Marshal(ollamaEmbedRequest{Model: model, Prompt: prompt})
	if err != nil {
		return nil, fmt.Errorf("index: encode embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("index: build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("index: embed request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("index: embed: status %d", resp.StatusCode)
	}

	var out ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("index: decode embed response: %w", err)
	}

	vals := make([]float32, len(out.Embedding))
	for i, v := range out.Embedding {
		vals[i] = float32(v)
	}
	return vals, nil
}

// EmbedText embeds prefixed prose/thought content with the text model.
func (o *OllamaEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	return o.embed(ctx, o.textModel, text)
}

// EmbedCode embeds a code chunk with the code model.
func (o *OllamaEmbedder) EmbedCode(ctx context.Context, code string) ([]float32, error) {
	return o.embed(ctx, o.codeModel, code)
}

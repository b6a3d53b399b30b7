package embedder

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	ollama "github.com/ollama/ollama/api"
)

// Ollama talks to a local Ollama daemon's embedding endpoint, the second
// offline option for edge gateways that already run Ollama for on-device
// inference.
type Ollama struct {
	client *ollama.Client
	model  string
	dim    int
}

// NewOllama constructs an Ollama-backed embedder against host (e.g.
// "http://localhost:11434"). dim is the configured EMBED_DIM the result will
// be fit to.
func NewOllama(host, model string, dim int) (*Ollama, error) {
	if host == "" {
		host = "http://localhost:11434"
	}
	u, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("ollama: parse host: %w", err)
	}
	if model == "" {
		model = "nomic-embed-text"
	}
	client := ollama.NewClient(u, &http.Client{Timeout: 60 * time.Second})
	return &Ollama{client: client, model: model, dim: dim}, nil
}

func (o *Ollama) Dim() int { return o.dim }

func (o *Ollama) Embed(ctx context.Context, text string) ([]float32, error) {
	res, err := o.client.Embed(ctx, &ollama.EmbedRequest{Model: o.model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("ollama: embed: %w", err)
	}
	if res == nil || len(res.Embeddings) == 0 || len(res.Embeddings[0]) == 0 {
		return nil, ErrUnavailable
	}
	return res.Embeddings[0], nil
}

package embedder

import (
	"context"
	"fmt"

	fastembed "github.com/anush008/fastembed-go"
)

// FastEmbed wraps the fastembed-go ONNX runtime: a local, offline embedding
// model (BGE-small-en-v1.5 class, 384-dim), the default provider for an
// edge device that cannot reach a cloud embedding API.
type FastEmbed struct {
	model *fastembed.FlagEmbedding
	dim   int
}

// NewFastEmbed loads the ONNX model, caching it under cacheDir.
func NewFastEmbed(modelName, cacheDir string) (*FastEmbed, error) {
	init := &fastembed.InitOptions{CacheDir: cacheDir}
	if modelName != "" {
		init.Model = fastembed.EmbeddingModel(modelName)
	}
	m, err := fastembed.NewFlagEmbedding(init)
	if err != nil {
		return nil, fmt.Errorf("fastembed: load model: %w: %w", err, ErrUnavailable)
	}
	return &FastEmbed{model: m, dim: 384}, nil
}

// Close releases the ONNX session.
func (e *FastEmbed) Close() error {
	if e == nil || e.model == nil {
		return nil
	}
	e.model.Destroy()
	return nil
}

func (e *FastEmbed) Dim() int { return e.dim }

func (e *FastEmbed) Embed(_ context.Context, text string) ([]float32, error) {
	if e == nil || e.model == nil {
		return nil, ErrUnavailable
	}
	return e.model.QueryEmbed(text)
}

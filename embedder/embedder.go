// Package embedder implements deterministic text embedding into a
// fixed-dimension, L2-normalized vector.
package embedder

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/SarahR1/shodh-memory/model"
)

// Embedder turns normalized text into a unit vector of a fixed dimension.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dim() int
}

// ErrUnavailable signals the embedder has no usable model: fatal at
// startup, and a transient condition thereafter if the model file later
// reappears.
var ErrUnavailable = errors.New("embedder: model not loaded")

var whitespaceRun = regexp.MustCompile(`\s+`)

// NormalizeForEmbedding trims and collapses whitespace but preserves case —
// the embedding input is case-sensitive; only hashing lowercases.
func NormalizeForEmbedding(text string) string {
	return whitespaceRun.ReplaceAllString(strings.TrimSpace(text), " ")
}

// NormalizeForHash additionally lowercases, for content-hash dedup.
func NormalizeForHash(text string) string {
	return strings.ToLower(NormalizeForEmbedding(text))
}

// Unit wraps a raw provider, fitting its output to exactly dim entries and
// re-normalizing to unit length so cosine similarity == dot product.
type Unit struct {
	Provider Embedder
	TargetDim int
}

func (u Unit) Dim() int { return u.TargetDim }

func (u Unit) Embed(ctx context.Context, text string) ([]float32, error) {
	if u.Provider == nil {
		return nil, ErrUnavailable
	}
	normalized := NormalizeForEmbedding(text)
	vec, err := u.Provider.Embed(ctx, normalized)
	if err != nil {
		return nil, err
	}
	if len(vec) == 0 {
		return nil, ErrUnavailable
	}
	out := make([]float32, u.TargetDim)
	n := len(vec)
	if n > u.TargetDim {
		n = u.TargetDim
	}
	copy(out, vec[:n])
	model.L2Normalize(out)
	return out, nil
}

package embedder

import (
	"strings"

	"go.uber.org/zap"
)

// Auto selects an embedding provider: an explicit choice first, falling
// back to Dummy rather than hard-failing startup, since an unavailable
// model is treated as transient once one was ever expected, and callers
// can always retry once the model reappears.
func Auto(log *zap.Logger, provider, model, ollamaHost string, dim int, cacheDir string) Embedder {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "fastembed", "":
		fe, err := NewFastEmbed(model, cacheDir)
		if err == nil {
			return Unit{Provider: fe, TargetDim: dim}
		}
		log.Warn("fastembed unavailable, falling back", zap.Error(err))
	case "ollama":
		oe, err := NewOllama(ollamaHost, model, dim)
		if err == nil {
			return Unit{Provider: oe, TargetDim: dim}
		}
		log.Warn("ollama embedder unavailable, falling back", zap.Error(err))
	case "dummy":
		return Unit{Provider: NewDummy(dim), TargetDim: dim}
	}
	log.Warn("embedder: no model loaded, using deterministic fallback")
	return Unit{Provider: NewDummy(dim), TargetDim: dim}
}

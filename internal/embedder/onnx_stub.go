//go:build !onnx

// internal/embedder/onnx_stub.go
package embedder

import (
	"github.com/MereWhiplash/gitmem/internal/config"
	"github.com/MereWhiplash/gitmem/internal/types"
)

func newONNX(config.Config) (Embedder, error) {
	return nil, types.Embedding(types.SubLoad,
		"this binary was built without ONNX support", nil)
}

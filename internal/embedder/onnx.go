//go:build onnx

// internal/embedder/onnx.go
// In-process embedding via ONNX Runtime, for installs without an Ollama
// daemon. Requires the onnx build tag and a local runtime library.
package embedder

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strings"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/MereWhiplash/gitmem/internal/config"
	"github.com/MereWhiplash/gitmem/internal/types"
)

const onnxSeqLen = 128

// ONNX implements Embedder with a BERT-style sentence encoder.
type ONNX struct {
	session   *ort.DynamicAdvancedSession
	tokenizer *wordPieceTokenizer
	dim       int
}

func newONNX(cfg config.Config) (Embedder, error) {
	if cfg.ONNXModelPath == "" || cfg.ONNXVocabPath == "" {
		return nil, types.Embedding(types.SubLoad,
			"onnx backend needs GITMEM_ONNX_MODEL_PATH and GITMEM_ONNX_VOCAB_PATH", nil)
	}

	if lib := os.Getenv("GITMEM_ONNX_RUNTIME_LIB"); lib != "" {
		ort.SetSharedLibraryPath(lib)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX runtime: %w", err)
	}

	tok, err := loadWordPieceTokenizer(cfg.ONNXVocabPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load tokenizer: %w", err)
	}

	session, err := ort.NewDynamicAdvancedSession(cfg.ONNXModelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"last_hidden_state"},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &ONNX{session: session, tokenizer: tok, dim: cfg.EmbeddingDim}, nil
}

func (e *ONNX) EmbedForStorage(text string) ([]float32, error) { return e.embed(text) }
func (e *ONNX) EmbedForSearch(query string) ([]float32, error) { return e.embed(query) }

func (e *ONNX) EmbedBatchForStorage(texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, t := range texts {
		vec, err := e.embed(t)
		if err != nil {
			return out, err
		}
		out = append(out, vec)
	}
	return out, nil
}

func (e *ONNX) Dimension() int { return e.dim }

func (e *ONNX) Close() error {
	if e.session != nil {
		return e.session.Destroy()
	}
	return nil
}

func (e *ONNX) embed(text string) ([]float32, error) {
	tokens := e.tokenizer.tokenize(text)

	inputIDs := make([]int64, onnxSeqLen)
	attentionMask := make([]int64, onnxSeqLen)
	tokenTypeIDs := make([]int64, onnxSeqLen)

	inputIDs[0] = int64(e.tokenizer.clsToken)
	attentionMask[0] = 1

	n := len(tokens)
	if n > onnxSeqLen-2 {
		n = onnxSeqLen - 2
	}
	for i := 0; i < n; i++ {
		inputIDs[i+1] = tokens[i]
		attentionMask[i+1] = 1
	}
	inputIDs[n+1] = int64(e.tokenizer.sepToken)
	attentionMask[n+1] = 1

	shape := ort.NewShape(1, int64(onnxSeqLen))
	idsT, err := ort.NewTensor(shape, inputIDs)
	if err != nil {
		return nil, types.Embedding(types.SubInference, "failed to create input tensor", err)
	}
	defer idsT.Destroy()
	maskT, err := ort.NewTensor(shape, attentionMask)
	if err != nil {
		return nil, types.Embedding(types.SubInference, "failed to create mask tensor", err)
	}
	defer maskT.Destroy()
	typeT, err := ort.NewTensor(shape, tokenTypeIDs)
	if err != nil {
		return nil, types.Embedding(types.SubInference, "failed to create type tensor", err)
	}
	defer typeT.Destroy()

	outputs := []ort.Value{nil}
	if err := e.session.Run([]ort.Value{idsT, maskT, typeT}, outputs); err != nil {
		return nil, types.Embedding(types.SubInference, "inference failed", err)
	}
	defer func() {
		for _, o := range outputs {
			if o != nil {
				o.Destroy()
			}
		}
	}()

	tensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, types.Embedding(types.SubInference, "unexpected output tensor type", nil)
	}

	data := tensor.GetData()
	outShape := tensor.GetShape()

	switch len(outShape) {
	case 2:
		// Model pools internally.
		if len(data) < e.dim {
			return nil, types.Embedding(types.SubInference,
				fmt.Sprintf("output dimension mismatch: got %d, expected %d", len(data), e.dim), nil)
		}
		vec := make([]float32, e.dim)
		copy(vec, data[:e.dim])
		return normalize(vec), nil
	case 3:
		// Mean pooling over attended positions.
		seqLen, hidden := int(outShape[1]), int(outShape[2])
		if hidden != e.dim {
			return nil, types.Embedding(types.SubInference,
				fmt.Sprintf("hidden size mismatch: got %d, expected %d", hidden, e.dim), nil)
		}
		vec := make([]float32, e.dim)
		var attended float32
		for i := 0; i < seqLen; i++ {
			if attentionMask[i] == 0 {
				continue
			}
			attended++
			off := i * hidden
			for j := 0; j < hidden; j++ {
				vec[j] += data[off+j]
			}
		}
		if attended > 0 {
			for j := range vec {
				vec[j] /= attended
			}
		}
		return normalize(vec), nil
	default:
		return nil, types.Embedding(types.SubInference,
			fmt.Sprintf("unexpected output shape %v", outShape), nil)
	}
}

func normalize(vec []float32) []float32 {
	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec
	}
	norm = float32(math.Sqrt(float64(norm)))
	for i, v := range vec {
		vec[i] = v / norm
	}
	return vec
}

type wordPieceTokenizer struct {
	vocab    map[string]int
	clsToken int
	sepToken int
	unkToken int
}

func loadWordPieceTokenizer(path string) (*wordPieceTokenizer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var parsed struct {
		Model struct {
			Vocab map[string]int `json:"vocab"`
		} `json:"model"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, err
	}
	return &wordPieceTokenizer{
		vocab:    parsed.Model.Vocab,
		clsToken: 101,
		sepToken: 102,
		unkToken: 100,
	}, nil
}

func (t *wordPieceTokenizer) tokenize(text string) []int64 {
	var tokens []int64
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,!?;:\"'")
		if id, ok := t.vocab[word]; ok {
			tokens = append(tokens, int64(id))
			continue
		}
		for _, sub := range t.wordPiece(word) {
			if id, ok := t.vocab[sub]; ok {
				tokens = append(tokens, int64(id))
			} else {
				tokens = append(tokens, int64(t.unkToken))
			}
		}
	}
	return tokens
}

func (t *wordPieceTokenizer) wordPiece(word string) []string {
	var subwords []string
	start := 0
	for start < len(word) {
		end := len(word)
		found := false
		for end > start {
			sub := word[start:end]
			if start > 0 {
				sub = "##" + sub
			}
			if _, ok := t.vocab[sub]; ok {
				subwords = append(subwords, sub)
				start = end
				found = true
				break
			}
			end--
		}
		if !found {
			subwords = append(subwords, "[UNK]")
			start++
		}
	}
	return subwords
}

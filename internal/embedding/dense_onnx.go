package embedding

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/daulet/tokenizers"
	ort "github.com/yalue/onnxruntime_go"
)

const (
	// onnxMaxSeqLen caps attention-matrix cost (O(seqLen^2)); sufficient for
	// chunk-sized inputs of a few hundred words.
	onnxMaxSeqLen = 256
	// onnxEmbeddingDim is the output width of the bundled sentence
	// transformer (BGE-small-en-v1.5: 384).
	onnxEmbeddingDim = 384
	onnxBatchSize    = 4

	// DenseQueryPrefix is prepended to queries (never to indexed documents)
	// for asymmetric retrieval, per the BGE family's documented usage.
	DenseQueryPrefix = "Represent this sentence for searching relevant passages: "
)

// DenseONNX embeds text with a sentence-transformer ONNX model through an
// onnxruntime_go session, tokenizing with a HuggingFace tokenizers.json.
// Output vectors are L2-normalized so dot product equals cosine similarity.
type DenseONNX struct {
	session   *ort.DynamicAdvancedSession
	tokenizer *tokenizers.Tokenizer
	batchSize int
}

// NewDenseONNX loads model.onnx and tokenizer.json from modelDir. ortLibPath
// is the path to the onnxruntime shared library; empty uses the system
// default. numThreads <= 0 selects min(4, NumCPU).
func NewDenseONNX(modelDir, ortLibPath string, numThreads int) (*DenseONNX, error) {
	modelPath := filepath.Join(modelDir, "model.onnx")
	tokenPath := filepath.Join(modelDir, "tokenizer.json")

	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("embedding model not found at %s: %w", modelPath, err)
	}
	if _, err := os.Stat(tokenPath); err != nil {
		return nil, fmt.Errorf("tokenizer not found at %s: %w", tokenPath, err)
	}

	if ortLibPath != "" {
		ort.SetSharedLibraryPath(ortLibPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("init onnxruntime: %w", err)
	}

	if numThreads <= 0 {
		numThreads = runtime.NumCPU()
		if numThreads > 4 {
			numThreads = 4
		}
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("session options: %w", err)
	}
	defer opts.Destroy()

	if err := opts.SetIntraOpNumThreads(numThreads); err != nil {
		return nil, fmt.Errorf("set intra threads: %w", err)
	}
	if err := opts.SetInterOpNumThreads(1); err != nil {
		return nil, fmt.Errorf("set inter threads: %w", err)
	}

	inputNames := []string{"input_ids", "attention_mask", "token_type_ids"}
	outputNames := []string{"last_hidden_state"}

	session, err := ort.NewDynamicAdvancedSession(modelPath, inputNames, outputNames, opts)
	if err != nil {
		return nil, fmt.Errorf("create onnx session: %w", err)
	}

	tk, err := tokenizers.FromFile(tokenPath)
	if err != nil {
		session.Destroy()
		return nil, fmt.Errorf("load tokenizer: %w", err)
	}

	return &DenseONNX{session: session, tokenizer: tk, batchSize: onnxBatchSize}, nil
}

// Close releases the ONNX session and tokenizer.
func (e *DenseONNX) Close() {
	if e.session != nil {
		e.session.Destroy()
	}
	if e.tokenizer != nil {
		e.tokenizer.Close()
	}
}

// Dim returns the fixed output width of every vector this embedder produces.
func (e *DenseONNX) Dim() int { return onnxEmbeddingDim }

// EmbedBatch embeds texts in chunks of the embedder's internal batch size.
// Callers supplying queries must prepend DenseQueryPrefix themselves;
// document chunks are embedded with no prefix.
func (e *DenseONNX) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += e.batchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := i + e.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := e.embedBatch(texts[i:end])
		if err != nil {
			return nil, fmt.Errorf("batch [%d:%d]: %w", i, end, err)
		}
		results = append(results, batch...)
	}
	return results, nil
}

type onnxEncoded struct {
	ids  []int64
	mask []int64
}

func (e *DenseONNX) embedBatch(texts []string) ([][]float32, error) {
	debug := os.Getenv("CODEINDEX_DEBUG") == "1"
	batchSize := len(texts)
	t0 := time.Now()

	all := make([]onnxEncoded, batchSize)
	maxLen := 0
	for i, text := range texts {
		enc := e.tokenizer.EncodeWithOptions(text, true, tokenizers.WithReturnAttentionMask())
		ids := enc.IDs
		if len(ids) > onnxMaxSeqLen {
			ids = ids[:onnxMaxSeqLen]
		}
		ids64 := make([]int64, len(ids))
		mask64 := make([]int64, len(ids))
		for j, v := range ids {
			ids64[j] = int64(v)
			mask64[j] = 1
		}
		if len(enc.AttentionMask) >= len(ids) {
			for j := range ids64 {
				mask64[j] = int64(enc.AttentionMask[j])
			}
		}
		all[i] = onnxEncoded{ids: ids64, mask: mask64}
		if len(ids64) > maxLen {
			maxLen = len(ids64)
		}
	}
	if debug {
		fmt.Fprintf(os.Stderr, "[debug] tokenize(%d texts, maxLen=%d): %v\n", batchSize, maxLen, time.Since(t0))
	}
	if maxLen == 0 {
		return nil, fmt.Errorf("all texts tokenized to zero length")
	}

	flatIDs := make([]int64, batchSize*maxLen)
	flatMask := make([]int64, batchSize*maxLen)
	flatType := make([]int64, batchSize*maxLen)
	for i, enc := range all {
		copy(flatIDs[i*maxLen:], enc.ids)
		copy(flatMask[i*maxLen:], enc.mask)
	}
	shape := ort.NewShape(int64(batchSize), int64(maxLen))

	inputIDs, err := ort.NewTensor(shape, flatIDs)
	if err != nil {
		return nil, fmt.Errorf("input_ids tensor: %w", err)
	}
	defer inputIDs.Destroy()

	attnMask, err := ort.NewTensor(shape, flatMask)
	if err != nil {
		return nil, fmt.Errorf("attention_mask tensor: %w", err)
	}
	defer attnMask.Destroy()

	typeIDs, err := ort.NewTensor(shape, flatType)
	if err != nil {
		return nil, fmt.Errorf("token_type_ids tensor: %w", err)
	}
	defer typeIDs.Destroy()

	outputs := []ort.Value{nil}
	if err := e.session.Run([]ort.Value{inputIDs, attnMask, typeIDs}, outputs); err != nil {
		return nil, fmt.Errorf("onnx run: %w", err)
	}
	defer func() {
		if outputs[0] != nil {
			outputs[0].Destroy()
		}
	}()

	hiddenTensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected output type (want *Tensor[float32])")
	}
	hidden := hiddenTensor.GetData()
	seqLen := int(hiddenTensor.GetShape()[1])

	embeddings := make([][]float32, batchSize)
	for i := 0; i < batchSize; i++ {
		vec := make([]float32, onnxEmbeddingDim)
		base := i * seqLen * onnxEmbeddingDim
		for d := 0; d < onnxEmbeddingDim; d++ {
			vec[d] = hidden[base+d]
		}
		l2Normalize(vec)
		embeddings[i] = vec
	}
	return embeddings, nil
}

func l2Normalize(v []float32) {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	norm = math.Sqrt(norm)
	if norm < 1e-10 {
		return
	}
	inv := float32(1.0 / norm)
	for i := range v {
		v[i] *= inv
	}
}

package chunker

import (
	"errors"
	"fmt"
	"sync"

	"github.com/daulet/tokenizers"
)

// ErrUnsupportedModel is returned when a model name has no registered
// tokenizer vocabulary.
var ErrUnsupportedModel = errors.New("chunker: unsupported model")

// TokenCounter counts the model-tokenized length of text and byte ranges.
// Tokenizers are lazily instantiated per model name and cached; population
// happens under a lock, but once a model has been loaded, subsequent lookups
// only need a read lock, per the "simple lock or copy-on-write map" guidance
// for this cache.
type TokenCounter struct {
	mu           sync.RWMutex
	defaultModel string
	vocabPaths   map[string]string // model name -> tokenizer.json path
	loaded       map[string]*tokenizers.Tokenizer
}

// NewTokenCounter creates a TokenCounter. vocabPaths maps a model name (as
// passed to Count) to the tokenizer.json file that backs it. defaultModel is
// used when Count is called with an empty model name.
func NewTokenCounter(defaultModel string, vocabPaths map[string]string) *TokenCounter {
	return &TokenCounter{
		defaultModel: defaultModel,
		vocabPaths:   vocabPaths,
		loaded:       make(map[string]*tokenizers.Tokenizer),
	}
}

// Close releases every tokenizer this counter has loaded.
func (tc *TokenCounter) Close() {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	for _, tk := range tc.loaded {
		tk.Close()
	}
	tc.loaded = make(map[string]*tokenizers.Tokenizer)
}

// Count returns the number of tokens text encodes to under model (or the
// default model if model is ""). Special marker substrings in text are
// encoded as ordinary bytes — nothing in text is ever treated as an
// out-of-band control token.
func (tc *TokenCounter) Count(text, model string) (int, error) {
	tk, err := tc.resolve(model)
	if err != nil {
		return 0, err
	}
	// addSpecialTokens=false: no CLS/SEP/sentinel ids are injected, so any
	// special-marker-looking substring in text is tokenized as plain bytes.
	enc := tk.EncodeWithOptions(text, false)
	return len(enc.IDs), nil
}

// CountSpan counts the tokens of the byte range span cuts out of buffer.
func (tc *TokenCounter) CountSpan(span Span, buffer []byte, model string) (int, error) {
	return tc.Count(string(span.Extract(buffer)), model)
}

func (tc *TokenCounter) resolve(model string) (*tokenizers.Tokenizer, error) {
	if model == "" {
		model = tc.defaultModel
	}

	tc.mu.RLock()
	tk, ok := tc.loaded[model]
	tc.mu.RUnlock()
	if ok {
		return tk, nil
	}

	path, ok := tc.vocabPaths[model]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedModel, model)
	}

	tc.mu.Lock()
	defer tc.mu.Unlock()
	// Re-check: another goroutine may have loaded it while we waited.
	if tk, ok := tc.loaded[model]; ok {
		return tk, nil
	}
	tk, err := tokenizers.FromFile(path)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer for model %q: %w", model, err)
	}
	tc.loaded[model] = tk
	return tk, nil
}

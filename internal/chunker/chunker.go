package chunker

import (
	"context"
	"errors"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/Arlen1017012857/code-index/internal/language"
)

// ErrMaxChunkLengthExceeded is returned when EnforceMaxChunkTokens is set and
// a chunk would exceed MaxChunkTokens.
var ErrMaxChunkLengthExceeded = errors.New("chunker: max chunk length exceeded")

// ErrParse is returned when the parser reports a syntax error at the root of
// the tree (an ERROR node as the first child of the root).
var ErrParse = errors.New("chunker: parse error")

// Metadata describes a single emitted chunk. Lines are 0-indexed; EndLine is
// inclusive of the last line the chunk touches.
type Metadata struct {
	StartLine int
	EndLine   int
	Language  string
	Symbols   []string
	Imports   []string
}

// Result pairs an emitted span with its decorated metadata.
type Result struct {
	Span     Span
	Metadata Metadata
}

// Options controls chunk sizing.
type Options struct {
	// TargetChunkTokens is the budget a chunk tries to stay under.
	TargetChunkTokens int
	// MaxChunkTokens is the hard ceiling enforced when EnforceMaxChunkTokens
	// is set.
	MaxChunkTokens int
	// EnforceMaxChunkTokens, when true, fails the split with
	// ErrMaxChunkLengthExceeded instead of silently emitting an oversized
	// chunk.
	EnforceMaxChunkTokens bool
	// CoalesceThreshold is the minimum token count Pass 3 tries to reach
	// before cutting a chunk loose.
	CoalesceThreshold int
	// TokenModel selects which tokenizer TokenCounter uses to size chunks.
	TokenModel string
}

// DefaultOptions returns the reference sizing parameters.
func DefaultOptions() Options {
	return Options{
		TargetChunkTokens:     300,
		MaxChunkTokens:        1000,
		EnforceMaxChunkTokens: false,
		CoalesceThreshold:     50,
	}
}

// Counter is the token-sizing dependency a Chunker needs. *TokenCounter
// satisfies it; tests may supply a lighter fake.
type Counter interface {
	Count(text, model string) (int, error)
	CountSpan(span Span, buffer []byte, model string) (int, error)
}

// Chunker turns a parse tree over a UTF-8 byte buffer into an ordered,
// gap-free sequence of chunks. Its options, descriptor and counter do not
// change after construction, but every Split call runs on the one
// tree-sitter parser the Chunker holds, so Split is not safe for concurrent
// use; callers serialize calls on a given Chunker.
type Chunker struct {
	descriptor language.Descriptor
	counter    Counter
	opts       Options
	parser     *sitter.Parser
}

// New constructs a Chunker for lang, backed by counter for token sizing and
// grammar for AST parsing.
func New(descriptor language.Descriptor, grammar *sitter.Language, counter Counter, opts Options) *Chunker {
	if opts.TargetChunkTokens <= 0 {
		d := DefaultOptions()
		opts.TargetChunkTokens = d.TargetChunkTokens
	}
	if opts.MaxChunkTokens <= 0 {
		opts.MaxChunkTokens = DefaultOptions().MaxChunkTokens
	}
	if opts.CoalesceThreshold <= 0 {
		opts.CoalesceThreshold = DefaultOptions().CoalesceThreshold
	}
	p := sitter.NewParser()
	p.SetLanguage(grammar)
	return &Chunker{descriptor: descriptor, counter: counter, opts: opts, parser: p}
}

// Split parses source and returns its chunk sequence. It fails with ErrParse
// if the grammar could not make sense of the input, or with
// ErrMaxChunkLengthExceeded if sizing enforcement is on and a chunk
// overflows the ceiling.
func (c *Chunker) Split(ctx context.Context, source []byte) ([]Result, error) {
	tree, err := c.parser.ParseCtx(ctx, nil, source)
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	root := tree.RootNode()
	if root.ChildCount() > 0 && root.Child(0).Type() == "ERROR" {
		return nil, fmt.Errorf("%w: language %q", ErrParse, c.descriptor.Name)
	}
	return c.chunkTree(root, source)
}

// chunkTree runs the three passes: recursive syntactic split, gap filling,
// and coalescing — followed by metadata decoration.
func (c *Chunker) chunkTree(root *sitter.Node, source []byte) ([]Result, error) {
	spans, err := c.splitNode(root, source)
	if err != nil {
		return nil, err
	}

	spans = filterEmpty(spans)
	if len(spans) == 0 {
		return nil, nil
	}
	if len(spans) == 1 {
		var symbols, imports []string
		if node := smallestCovering(root, spans[0]); node != nil {
			symbols = c.extractSymbols(node, source)
			imports = c.extractImports(node, source)
		}
		return []Result{{
			Span: spans[0],
			Metadata: Metadata{
				StartLine: 0,
				EndLine:   1,
				Language:  c.descriptor.Name,
				Symbols:   symbols,
				Imports:   imports,
			},
		}}, nil
	}

	partitioned := c.fillGaps(spans, len(source))
	coalesced, err := c.coalesce(partitioned, source)
	if err != nil {
		return nil, err
	}
	coalesced = filterEmpty(coalesced)

	return c.decorate(coalesced, root, source)
}

// splitNode is Pass 1: the recursive syntactic split. It walks node's
// children left to right, extending a running "current" span until adding
// the next child would overshoot the target budget, at which point it emits
// current and either recurses into the child (if the child alone overshoots)
// or starts a fresh current at the child's span.
func (c *Chunker) splitNode(node *sitter.Node, source []byte) ([]Span, error) {
	var chunks []Span
	current := NewSpan(int(node.StartByte()), int(node.StartByte()))

	n := int(node.ChildCount())
	for i := 0; i < n; i++ {
		child := node.Child(i)
		childSpan := NewSpan(int(child.StartByte()), int(child.EndByte()))

		childTokens, err := c.counter.CountSpan(childSpan, source, c.opts.TokenModel)
		if err != nil {
			return nil, err
		}
		currentTokens, err := c.counter.CountSpan(current, source, c.opts.TokenModel)
		if err != nil {
			return nil, err
		}
		combinedTokens := childTokens + currentTokens

		switch {
		case childTokens > c.opts.TargetChunkTokens:
			if c.opts.EnforceMaxChunkTokens && childTokens > c.opts.MaxChunkTokens {
				return nil, fmt.Errorf("%w: %d exceeds %d", ErrMaxChunkLengthExceeded, childTokens, c.opts.MaxChunkTokens)
			}
			chunks = append(chunks, current)
			current = NewSpan(int(child.EndByte()), int(child.EndByte()))
			sub, err := c.splitNode(child, source)
			if err != nil {
				return nil, err
			}
			chunks = append(chunks, sub...)

		case combinedTokens > c.opts.TargetChunkTokens:
			if c.opts.EnforceMaxChunkTokens && combinedTokens > c.opts.MaxChunkTokens {
				return nil, fmt.Errorf("%w: %d exceeds %d", ErrMaxChunkLengthExceeded, combinedTokens, c.opts.MaxChunkTokens)
			}
			chunks = append(chunks, current)
			current = childSpan

		default:
			current = current.Concat(childSpan)
		}
	}

	finalTokens, err := c.counter.CountSpan(current, source, c.opts.TokenModel)
	if err != nil {
		return nil, err
	}
	if c.opts.EnforceMaxChunkTokens && finalTokens > c.opts.MaxChunkTokens {
		return nil, fmt.Errorf("%w: %d exceeds %d", ErrMaxChunkLengthExceeded, finalTokens, c.opts.MaxChunkTokens)
	}
	chunks = append(chunks, current)
	return chunks, nil
}

// fillGaps is Pass 2: return a copy of the sequence rewritten so chunk i's
// end equals chunk i+1's start, the first chunk starts at 0, and the last
// chunk's end reaches the buffer length.
// The caller has already filtered empty spans and checked len > 1.
func (c *Chunker) fillGaps(spans []Span, bufLen int) []Span {
	out := make([]Span, len(spans))
	copy(out, spans)
	out[0].Start = 0
	for i := 0; i < len(out)-1; i++ {
		out[i].End = out[i+1].Start
	}
	out[len(out)-1].End = bufLen
	return out
}

// coalesce is Pass 3: fight over-fragmentation by merging runs of small
// chunks into an aggregate until it crosses CoalesceThreshold tokens. It may
// emit empty spans (an empty initial aggregate, or a span emitted the
// instant a large chunk forces a flush before anything was aggregated into
// it) — callers must filter those, they are not filtered a second time
// internally by this pass.
func (c *Chunker) coalesce(spans []Span, source []byte) ([]Span, error) {
	var out []Span
	agg := NewSpan(0, 0)
	aggTokens := 0

	for _, chunk := range spans {
		chunkTokens, err := c.counter.CountSpan(chunk, source, c.opts.TokenModel)
		if err != nil {
			return nil, err
		}

		switch {
		case chunkTokens > c.opts.TargetChunkTokens:
			out = append(out, agg, chunk)
			agg = NewSpan(chunk.End, chunk.End)
			aggTokens = 0

		case aggTokens+chunkTokens > c.opts.TargetChunkTokens:
			out = append(out, agg)
			agg = chunk
			aggTokens = chunkTokens

		default:
			agg = agg.Concat(chunk)
			aggTokens += chunkTokens
			if aggTokens > c.opts.CoalesceThreshold {
				out = append(out, agg)
				agg = NewSpan(chunk.End, chunk.End)
				aggTokens = 0
			}
		}
	}

	if !agg.Empty() {
		out = append(out, agg)
	}
	return out, nil
}

// decorate is Pass 4: compute line ranges and extract symbols/imports for
// each emitted span.
func (c *Chunker) decorate(spans []Span, root *sitter.Node, source []byte) ([]Result, error) {
	results := make([]Result, 0, len(spans))
	for _, span := range spans {
		startLine := lineNumberAt(span.Start, source)
		endLine := lineNumberAt(span.End-1, source)

		var symbols, imports []string
		if node := smallestCovering(root, span); node != nil {
			symbols = c.extractSymbols(node, source)
			imports = c.extractImports(node, source)
		}

		results = append(results, Result{
			Span: span,
			Metadata: Metadata{
				StartLine: startLine,
				EndLine:   endLine,
				Language:  c.descriptor.Name,
				Symbols:   symbols,
				Imports:   imports,
			},
		})
	}
	return results, nil
}

// lineNumberAt returns the 0-indexed line number containing byte offset pos,
// counting '\n' bytes one at a time.
func lineNumberAt(pos int, source []byte) int {
	if pos > len(source) {
		pos = len(source)
	}
	line := 0
	for i := 0; i < pos; i++ {
		if source[i] == '\n' {
			line++
		}
	}
	return line
}

// smallestCovering finds the smallest AST node whose byte range covers
// [span.Start, span.End).
func smallestCovering(node *sitter.Node, span Span) *sitter.Node {
	start, end := int(node.StartByte()), int(node.EndByte())
	if span.Start < start || span.End > end {
		return nil
	}
	best := node
	n := int(node.ChildCount())
	for i := 0; i < n; i++ {
		child := node.Child(i)
		cs, ce := int(child.StartByte()), int(child.EndByte())
		if span.Start >= cs && span.End <= ce {
			if found := smallestCovering(child, span); found != nil {
				best = found
			}
			break
		}
	}
	return best
}

// extractSymbols collects, pre-order, the first identifier child of every
// function/class definition node under node.
func (c *Chunker) extractSymbols(node *sitter.Node, source []byte) []string {
	var symbols []string
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		if c.descriptor.IsFunctionOrClass(n.Type()) {
			count := int(n.ChildCount())
			for i := 0; i < count; i++ {
				child := n.Child(i)
				if child.Type() == c.descriptor.IdentifierNodeType {
					symbols = append(symbols, child.Content(source))
					break
				}
			}
		}
		count := int(n.ChildCount())
		for i := 0; i < count; i++ {
			walk(n.Child(i))
		}
	}
	walk(node)
	return symbols
}

// extractImports collects, pre-order, the source text of every import node
// under node.
func (c *Chunker) extractImports(node *sitter.Node, source []byte) []string {
	var imports []string
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		if c.descriptor.IsImport(n.Type()) {
			imports = append(imports, n.Content(source))
		}
		count := int(n.ChildCount())
		for i := 0; i < count; i++ {
			walk(n.Child(i))
		}
	}
	walk(node)
	return imports
}

func filterEmpty(spans []Span) []Span {
	out := spans[:0]
	for _, s := range spans {
		if !s.Empty() {
			out = append(out, s)
		}
	}
	return out
}

package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
)

// DefaultHashDimension is the vector size of the hash provider
const DefaultHashDimension = 256

// HashProvider embeds text offline by hashing identifier tokens into a
// fixed number of buckets. Vectors are L2 normalised, so texts sharing
// tokens have positive cosine similarity. The output is deterministic and
// needs no network, which makes it suitable for tests and air-gapped use.
type HashProvider struct {
	dim int
}

// NewHashProvider creates a hash provider; dim <= 0 selects DefaultHashDimension
func NewHashProvider(dim int) *HashProvider {
	if dim <= 0 {
		dim = DefaultHashDimension
	}
	return &HashProvider{dim: dim}
}

// Name returns the provider name
func (p *HashProvider) Name() string {
	return "hash"
}

// Dimension returns the embedding dimension
func (p *HashProvider) Dimension() int {
	return p.dim
}

// Embed generates an embedding for a single text
func (p *HashProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// A Caser is stateful and may not be shared between goroutines.
	fold := cases.Fold()
	vec := make([]float32, p.dim)
	for _, tok := range tokenize(text) {
		tok = fold.String(tok)
		h := fnv.New64a()
		_, _ = h.Write([]byte(tok))
		sum := h.Sum64()
		sign := float32(1)
		if sum&(1<<63) != 0 {
			sign = -1
		}
		vec[sum%uint64(p.dim)] += sign
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec, nil
}

// EmbedBatch generates embeddings for multiple texts
func (p *HashProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := p.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// Close releases resources
func (p *HashProvider) Close() error {
	return nil
}

// tokenize splits text into identifier-like words and also yields the
// camelCase and snake_case parts of each word.
func tokenize(text string) []string {
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})

	var tokens []string
	for _, w := range words {
		tokens = append(tokens, w)
		parts := splitIdentifier(w)
		if len(parts) > 1 {
			tokens = append(tokens, parts...)
		}
	}
	return tokens
}

func splitIdentifier(word string) []string {
	var parts []string
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			parts = append(parts, string(cur))
			cur = cur[:0]
		}
	}
	runes := []rune(word)
	for i, r := range runes {
		switch {
		case r == '_':
			flush()
			continue
		case unicode.IsUpper(r) && i > 0 && !unicode.IsUpper(runes[i-1]):
			flush()
		}
		cur = append(cur, r)
	}
	flush()
	return parts
}

package embedding

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// BatchedProvider splits large inputs into fixed-size requests and throttles
// them with a token bucket.
type BatchedProvider struct {
	Provider
	batchSize int
	limiter   *rate.Limiter
}

// Batched wraps p. rps <= 0 disables throttling.
func Batched(p Provider, batchSize int, rps float64) *BatchedProvider {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	return &BatchedProvider{
		Provider:  p,
		batchSize: batchSize,
		limiter:   rate.NewLimiter(limit, 1),
	}
}

// Embed waits for the limiter and embeds one text
func (b *BatchedProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return b.Provider.Embed(ctx, text)
}

// EmbedBatch embeds texts in batches of at most batchSize
func (b *BatchedProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	total := (len(texts) + b.batchSize - 1) / b.batchSize
	n := 0
	return batches(ctx, texts, b.batchSize, func(ctx context.Context, batch []string) ([][]float32, error) {
		n++
		if err := b.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		logrus.WithFields(logrus.Fields{
			"provider": b.Name(),
			"batch":    n,
			"batches":  total,
			"size":     len(batch),
		}).Debug("embedding batch")

		embeddings, err := b.Provider.EmbedBatch(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("batch %d/%d: %w", n, total, err)
		}
		return embeddings, nil
	})
}

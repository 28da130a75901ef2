package qa

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const retrievalWorkers = 4

type ChunkExtractor interface {
	ExtractChunks(ctx context.Context, documentURL string) ([]string, error)
}

type BatchAnswerer interface {
	GenerateBatchAnswers(ctx context.Context, contexts [][]string, questions []string) ([]string, error)
}

// Retriever finds the segments of a store closest to a query.
type Retriever struct {
	embedder Embedder
	topK     int
}

func NewRetriever(embedder Embedder, topK int) *Retriever {
	if topK <= 0 {
		topK = 5
	}
	return &Retriever{embedder: embedder, topK: topK}
}

func (slf *Retriever) FetchSimilarContexts(ctx context.Context, store *VectorStore, query string) ([]string, error) {
	vectors, err := slf.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("expected one query vector, got %d", len(vectors))
	}
	return store.Search(vectors[0], slf.topK), nil
}

type Pipeline struct {
	extractor ChunkExtractor
	embedder  Embedder
	cache     StoreCache
	retriever *Retriever
	answerer  BatchAnswerer
	logger    zerolog.Logger
}

func NewPipeline(extractor ChunkExtractor, embedder Embedder, cache StoreCache, retriever *Retriever, answerer BatchAnswerer, logger zerolog.Logger) *Pipeline {
	if cache == nil {
		cache = NewMemoryStoreCache()
	}
	return &Pipeline{
		extractor: extractor,
		embedder:  embedder,
		cache:     cache,
		retriever: retriever,
		answerer:  answerer,
		logger:    logger,
	}
}

// Run answers questions about the document at documentURL. The answers are
// in question order; a model reply with a different count is an error.
func (slf *Pipeline) Run(ctx context.Context, documentURL string, questions []string) ([]string, error) {
	store, err := slf.store(ctx, documentURL)
	if err != nil {
		return nil, err
	}

	contexts := make([][]string, len(questions))
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(retrievalWorkers)
	for i, q := range questions {
		group.Go(func() error {
			found, err := slf.retriever.FetchSimilarContexts(gctx, store, q)
			if err != nil {
				return fmt.Errorf("retrieval for question %d failed: %w", i+1, err)
			}
			contexts[i] = found
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	answers, err := slf.answerer.GenerateBatchAnswers(ctx, contexts, questions)
	if err != nil {
		return nil, err
	}
	if len(answers) != len(questions) {
		return nil, fmt.Errorf("%w: %d answers for %d questions", ErrAnswerCountMismatch, len(answers), len(questions))
	}
	return answers, nil
}

func (slf *Pipeline) store(ctx context.Context, documentURL string) (*VectorStore, error) {
	store, ok, err := slf.cache.Load(ctx, documentURL)
	if err != nil {
		slf.logger.Warn().Err(err).Str("document", documentURL).Msg("Vector store cache read failed")
	}
	if ok {
		slf.logger.Info().Str("document", documentURL).Int("segments", len(store.Segments)).Msg("Using cached vector store")
		return store, nil
	}

	chunks, err := slf.extractor.ExtractChunks(ctx, documentURL)
	if err != nil {
		return nil, err
	}
	vectors, err := slf.embedder.Embed(ctx, chunks)
	if err != nil {
		return nil, err
	}
	store, err = NewVectorStore(chunks, vectors)
	if err != nil {
		return nil, err
	}

	if err := slf.cache.Save(ctx, documentURL, store); err != nil {
		slf.logger.Warn().Err(err).Str("document", documentURL).Msg("Vector store cache write failed")
	}
	slf.logger.Info().Str("document", documentURL).Int("segments", len(chunks)).Msg("Built vector store")
	return store, nil
}

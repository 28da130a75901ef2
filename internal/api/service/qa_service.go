package service

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"flowstudio"
	"flowstudio/internal/llm"
	"flowstudio/internal/qa"
)

var ErrQANotConfigured = errors.New("document QA needs OPENAI_API_KEY for embeddings")

// Answers runs the document QA pipeline.
type Answers interface {
	Run(ctx context.Context, documentURL string, questions []string) ([]string, error)
}

type QAService struct {
	pipeline Answers
	logger   zerolog.Logger
}

// NewQAService builds the pipeline from the process configuration. Vector
// stores are cached in Redis when it is configured and in memory otherwise.
func NewQAService() *QAService {
	cfg := flowstudio.GetConfig()
	logger := flowstudio.Logger

	if cfg.QA.OpenAIKey == "" {
		return NewQAServiceWith(nil, logger)
	}

	var cache qa.StoreCache = qa.NewMemoryStoreCache()
	if flowstudio.Redis != nil {
		cache = qa.NewRedisStoreCache(flowstudio.Redis, cfg.QA.CacheTTL)
	}

	httpClient := &http.Client{Timeout: cfg.LLM.RequestTimeout}
	embedder := qa.NewOpenAIEmbedder(cfg.QA.OpenAIKey, cfg.LLM.OpenAIBaseURL, cfg.QA.EmbeddingModel, httpClient)
	models := llm.NewClient(logger, cfg.LLM.MaxTokens,
		llm.NewGeminiProvider(cfg.LLM.GeminiBaseURL, httpClient),
		llm.NewOpenAIProvider(cfg.LLM.OpenAIBaseURL, httpClient),
	)

	answerKey := cfg.QA.AnswerAPIKey
	if answerKey == "" {
		answerKey = cfg.QA.OpenAIKey
	}

	pipeline := qa.NewPipeline(
		qa.NewExtractor(httpClient, cfg.QA.ChunkSize, cfg.QA.ChunkOverlap),
		embedder,
		cache,
		qa.NewRetriever(embedder, cfg.QA.TopK),
		qa.NewAnswerer(models, cfg.QA.AnswerProvider, cfg.QA.AnswerModel, answerKey),
		logger,
	)
	return NewQAServiceWith(pipeline, logger)
}

func NewQAServiceWith(pipeline Answers, logger zerolog.Logger) *QAService {
	return &QAService{pipeline: pipeline, logger: logger}
}

func (slf *QAService) Ready() bool {
	return slf.pipeline != nil
}

// Answer returns one answer per question, in question order.
func (slf *QAService) Answer(ctx context.Context, documentURL string, questions []string) ([]string, error) {
	if slf.pipeline == nil {
		return nil, ErrQANotConfigured
	}
	answers, err := slf.pipeline.Run(ctx, documentURL, questions)
	if err != nil {
		slf.logger.Error().Err(err).Str("document", documentURL).Int("questions", len(questions)).Msg("Document QA failed")
		return nil, err
	}
	return answers, nil
}

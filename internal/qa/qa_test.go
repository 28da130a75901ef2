package qa

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowstudio/internal/llm"
)

func TestChunkWords(t *testing.T) {
	text := "a b c d e f g"

	assert.Equal(t, []string{"a b c", "c d e", "e f g"}, ChunkWords(text, 3, 1))
	assert.Equal(t, []string{"a b c d e f g"}, ChunkWords(text, 10, 2))
	assert.Equal(t, []string{"a b", "c d", "e f", "g"}, ChunkWords(text, 2, 0))
	assert.Nil(t, ChunkWords("   ", 3, 1))
}

func TestVectorStore_Search(t *testing.T) {
	store, err := NewVectorStore(
		[]string{"north", "east", "north-east", "also north"},
		[][]float32{{0, 1}, {1, 0}, {1, 1}, {0, 2}},
	)
	require.NoError(t, err)

	assert.Equal(t, []string{"north", "also north"}, store.Search([]float32{0, 1}, 2))
	assert.Len(t, store.Search([]float32{1, 0}, 10), 4)
	assert.Equal(t, "east", store.Search([]float32{1, 0}, 1)[0])

	_, err = NewVectorStore([]string{"x"}, nil)
	assert.Error(t, err)
}

func TestExtractor_HTMLAndText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/policy.html":
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte("<html><body><h1>Grace period</h1><p>Thirty days for premium payment.</p></body></html>"))
		case "/policy":
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			_, _ = w.Write([]byte("one two three four five"))
		case "/policy.pdf":
			_, _ = w.Write([]byte("%PDF-1.4"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	extractor := NewExtractor(server.Client(), 3, 1)

	text, err := extractor.ExtractText(context.Background(), server.URL+"/policy.html")
	require.NoError(t, err)
	assert.Contains(t, text, "Grace period")
	assert.Contains(t, text, "Thirty days for premium payment.")
	assert.NotContains(t, text, "<p>")

	chunks, err := extractor.ExtractChunks(context.Background(), server.URL+"/policy")
	require.NoError(t, err)
	assert.Equal(t, []string{"one two three", "three four five"}, chunks)

	_, err = extractor.ExtractText(context.Background(), server.URL+"/policy.pdf")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = extractor.ExtractText(context.Background(), server.URL+"/missing.txt")
	assert.ErrorContains(t, err, "HTTP 404")
}

func TestParseAnswers(t *testing.T) {
	answers, err := parseAnswers(`{"answers": ["30 days", " 36 months "]}`)
	require.NoError(t, err)
	assert.Equal(t, []string{"30 days", "36 months"}, answers)

	answers, err = parseAnswers("Sure! ```json\n{\"answers\": [\"yes\", 2]}\n```")
	require.NoError(t, err)
	assert.Equal(t, []string{"yes", "2"}, answers)

	answers, err = parseAnswers(`{"answers": ["a", "b",]}`)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, answers)

	_, err = parseAnswers("I cannot answer that.")
	assert.ErrorIs(t, err, ErrUnparsableAnswers)

	_, err = parseAnswers(`{"result": []}`)
	assert.ErrorIs(t, err, ErrUnparsableAnswers)
}

type fakeCompleter struct {
	reply string
	last  llm.Request
}

func (f *fakeCompleter) Complete(_ context.Context, req llm.Request) (string, error) {
	f.last = req
	return f.reply, nil
}

func TestAnswerer_BuildsOnePromptForAllQuestions(t *testing.T) {
	models := &fakeCompleter{reply: `{"answers":["A1","A2"]}`}
	answerer := NewAnswerer(models, "Google", "gemini-2.5-flash-lite", "key")

	answers, err := answerer.GenerateBatchAnswers(context.Background(),
		[][]string{{"ctx one"}, {"ctx two", "ctx three"}},
		[]string{"Q one?", "Q two?"})
	require.NoError(t, err)
	assert.Equal(t, []string{"A1", "A2"}, answers)

	assert.Equal(t, "Google", models.last.Provider)
	assert.Equal(t, "key", models.last.APIKey)
	assert.Contains(t, models.last.Prompt, "Question 1:\nQ one?")
	assert.Contains(t, models.last.Prompt, "Context 2:\nctx two\nctx three")

	_, err = answerer.GenerateBatchAnswers(context.Background(), nil, []string{"Q"})
	assert.Error(t, err)
}

// wordEmbedder maps a text to a vector counting a fixed vocabulary.
type wordEmbedder struct {
	calls atomic.Int32
}

var vocabulary = []string{"grace", "waiting", "maternity"}

func (e *wordEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.calls.Add(1)
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v := make([]float32, len(vocabulary))
		for j, w := range vocabulary {
			v[j] = float32(strings.Count(strings.ToLower(text), w))
		}
		out[i] = v
	}
	return out, nil
}

type staticExtractor struct {
	chunks []string
	calls  atomic.Int32
}

func (s *staticExtractor) ExtractChunks(context.Context, string) ([]string, error) {
	s.calls.Add(1)
	return s.chunks, nil
}

type recordingAnswerer struct {
	answers  []string
	contexts [][]string
}

func (r *recordingAnswerer) GenerateBatchAnswers(_ context.Context, contexts [][]string, _ []string) ([]string, error) {
	r.contexts = contexts
	return r.answers, nil
}

func TestPipeline_RunUsesClosestContextsAndCache(t *testing.T) {
	extractor := &staticExtractor{chunks: []string{
		"The grace period is thirty days.",
		"Maternity cover needs a waiting period of two years.",
		"Unrelated clause.",
	}}
	embedder := &wordEmbedder{}
	answerer := &recordingAnswerer{answers: []string{"30 days", "2 years"}}
	cache := NewMemoryStoreCache()

	pipeline := NewPipeline(extractor, embedder, cache, NewRetriever(embedder, 1), answerer, zerolog.Nop())

	questions := []string{"What is the grace period?", "Is there a maternity waiting period?"}
	answers, err := pipeline.Run(context.Background(), "https://docs.example/policy.txt", questions)
	require.NoError(t, err)
	assert.Equal(t, []string{"30 days", "2 years"}, answers)
	assert.Equal(t, []string{"The grace period is thirty days."}, answerer.contexts[0])
	assert.Equal(t, []string{"Maternity cover needs a waiting period of two years."}, answerer.contexts[1])

	_, err = pipeline.Run(context.Background(), "https://docs.example/policy.txt", questions)
	require.NoError(t, err)
	assert.Equal(t, int32(1), extractor.calls.Load())

	_, ok, err := cache.Load(context.Background(), "https://docs.example/policy.txt")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPipeline_AnswerCountMismatch(t *testing.T) {
	embedder := &wordEmbedder{}
	pipeline := NewPipeline(
		&staticExtractor{chunks: []string{"grace"}},
		embedder, nil, NewRetriever(embedder, 3),
		&recordingAnswerer{answers: []string{"only one"}},
		zerolog.Nop(),
	)

	_, err := pipeline.Run(context.Background(), "https://docs.example/a.txt", []string{"q1", "q2"})
	assert.ErrorIs(t, err, ErrAnswerCountMismatch)
}

type failingEmbedder struct{}

func (failingEmbedder) Embed(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("quota exceeded")
}

func TestPipeline_EmbeddingFailure(t *testing.T) {
	pipeline := NewPipeline(
		&staticExtractor{chunks: []string{"grace"}},
		failingEmbedder{}, nil, NewRetriever(failingEmbedder{}, 3),
		&recordingAnswerer{},
		zerolog.Nop(),
	)

	_, err := pipeline.Run(context.Background(), "https://docs.example/a.txt", []string{"q1"})
	assert.ErrorContains(t, err, "quota exceeded")
}

func TestOpenAIEmbedder_OrdersByIndex(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","model":"text-embedding-3-small","data":[
			{"object":"embedding","index":1,"embedding":[0,1]},
			{"object":"embedding","index":0,"embedding":[1,0]}]}`))
	}))
	defer server.Close()

	embedder := NewOpenAIEmbedder("sk-test", server.URL, "", server.Client())
	vectors, err := embedder.Embed(context.Background(), []string{"first", "second"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0}, {0, 1}}, vectors)
}

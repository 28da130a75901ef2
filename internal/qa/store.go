package qa

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"flowstudio/pkg"
)

type Segment struct {
	Text   string    `json:"text"`
	Vector []float32 `json:"vector"`
}

// VectorStore is an in-memory set of embedded segments.
type VectorStore struct {
	Segments []Segment `json:"segments"`
}

func NewVectorStore(texts []string, vectors [][]float32) (*VectorStore, error) {
	if len(texts) != len(vectors) {
		return nil, fmt.Errorf("got %d vectors for %d segments", len(vectors), len(texts))
	}
	s := &VectorStore{Segments: make([]Segment, len(texts))}
	for i := range texts {
		s.Segments[i] = Segment{Text: texts[i], Vector: vectors[i]}
	}
	return s, nil
}

// Search returns the texts of the k segments most similar to query by
// cosine similarity, best first. Ties keep insertion order.
func (slf *VectorStore) Search(query []float32, k int) []string {
	type scored struct {
		index int
		score float64
	}
	scores := make([]scored, len(slf.Segments))
	for i, seg := range slf.Segments {
		scores[i] = scored{index: i, score: cosine(query, seg.Vector)}
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].score > scores[j].score })

	if k > len(scores) {
		k = len(scores)
	}
	out := make([]string, 0, k)
	for _, s := range scores[:k] {
		out = append(out, slf.Segments[s.index].Text)
	}
	return out
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// StoreCache keeps vector stores per document URL across requests.
type StoreCache interface {
	Load(ctx context.Context, documentURL string) (*VectorStore, bool, error)
	Save(ctx context.Context, documentURL string, store *VectorStore) error
}

func cacheKey(documentURL string) string {
	sum := sha256.Sum256([]byte(documentURL))
	return "qa:store:" + hex.EncodeToString(sum[:])
}

type MemoryStoreCache struct {
	stores sync.Map
}

func NewMemoryStoreCache() *MemoryStoreCache {
	return &MemoryStoreCache{}
}

func (slf *MemoryStoreCache) Load(_ context.Context, documentURL string) (*VectorStore, bool, error) {
	v, ok := slf.stores.Load(cacheKey(documentURL))
	if !ok {
		return nil, false, nil
	}
	return v.(*VectorStore), true, nil
}

func (slf *MemoryStoreCache) Save(_ context.Context, documentURL string, store *VectorStore) error {
	slf.stores.Store(cacheKey(documentURL), store)
	return nil
}

type RedisStoreCache struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewRedisStoreCache(client redis.Cmdable, ttl time.Duration) *RedisStoreCache {
	return &RedisStoreCache{client: client, ttl: ttl}
}

func (slf *RedisStoreCache) Load(ctx context.Context, documentURL string) (*VectorStore, bool, error) {
	var store VectorStore
	if err := pkg.RedisGet(ctx, slf.client, cacheKey(documentURL), &store); err != nil {
		if pkg.IsRedisNil(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return &store, true, nil
}

func (slf *RedisStoreCache) Save(ctx context.Context, documentURL string, store *VectorStore) error {
	return pkg.RedisSet(ctx, slf.client, cacheKey(documentURL), store, slf.ttl)
}

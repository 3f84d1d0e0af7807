package rag

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"log"
	"math"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/oncoportal/platform/internal/shared/config"
	"github.com/oncoportal/platform/internal/shared/types"
)

// Cache hit classification, recorded in query metrics.
const (
	CacheMiss    = "miss"
	CacheExact   = "exact"
	CacheSimilar = "similar"
	CacheOff     = "disabled"
)

const (
	answerKeyPrefix = "rag:answer:"
	embeddingsKey   = "rag:embeddings"
	indexKey        = "rag:index"
	statsKeyPrefix  = "rag:stats:"

	popularHitThreshold = 5
)

// CachedAnswer is a stored pipeline result keyed by normalized query.
type CachedAnswer struct {
	Query      string    `json:"query"`
	Answer     string    `json:"answer"`
	Confidence float64   `json:"confidence"`
	Embedding  []float32 `json:"embedding,omitempty"`
	HitCount   int       `json:"hit_count"`
	CreatedAt  time.Time `json:"created_at"`
}

// Cache is a Redis-backed semantic answer cache. Exact lookups use an md5
// key over the normalized query and its scoping; near-duplicate queries are
// matched by cosine similarity over stored query embeddings.
type Cache struct {
	rdb *redis.Client
	cfg config.RAGConfig
}

// NewCache creates the answer cache. rdb may be nil to disable caching.
func NewCache(rdb *redis.Client, cfg config.RAGConfig) *Cache {
	return &Cache{rdb: rdb, cfg: cfg}
}

// Enabled reports whether a Redis connection is configured.
func (c *Cache) Enabled() bool {
	return c != nil && c.rdb != nil
}

// Key builds the exact-match cache key. Patient scoping (cancer type and
// language) is part of the key so answers never leak across contexts.
func (c *Cache) Key(query string, cancerTypeID *types.ID, language string) string {
	normalized := strings.ToLower(strings.Join(strings.Fields(query), " "))
	scope := ""
	if cancerTypeID != nil {
		scope = cancerTypeID.String()
	}
	sum := md5.Sum([]byte(normalized + "|" + scope + "|" + language))
	return hex.EncodeToString(sum[:])
}

// Get returns the cached answer for an exact key match.
func (c *Cache) Get(ctx context.Context, key string) (*CachedAnswer, bool) {
	if !c.Enabled() {
		return nil, false
	}

	data, err := c.rdb.Get(ctx, answerKeyPrefix+key).Bytes()
	if err == redis.Nil {
		c.incrStat(ctx, "misses")
		return nil, false
	}
	if err != nil {
		log.Printf("Cache get failed: %v", err)
		return nil, false
	}

	var answer CachedAnswer
	if err := json.Unmarshal(data, &answer); err != nil {
		return nil, false
	}

	c.recordHit(ctx, key, &answer)
	c.incrStat(ctx, "hits_exact")
	return &answer, true
}

// GetSimilar scans stored query embeddings for a cosine match at or above
// the similarity threshold and returns the best one's answer.
func (c *Cache) GetSimilar(ctx context.Context, embedding []float32) (*CachedAnswer, bool) {
	if !c.Enabled() || len(embedding) == 0 {
		return nil, false
	}

	stored, err := c.rdb.HGetAll(ctx, embeddingsKey).Result()
	if err != nil || len(stored) == 0 {
		return nil, false
	}

	bestKey := ""
	bestScore := c.cfg.SimilarityThreshold
	for key, raw := range stored {
		var vec []float32
		if err := json.Unmarshal([]byte(raw), &vec); err != nil {
			continue
		}
		if score := cosineSimilarity(embedding, vec); score >= bestScore {
			bestScore = score
			bestKey = key
		}
	}
	if bestKey == "" {
		c.incrStat(ctx, "misses")
		return nil, false
	}

	data, err := c.rdb.Get(ctx, answerKeyPrefix+bestKey).Bytes()
	if err != nil {
		// Answer expired but its embedding lingered; clean it up.
		c.rdb.HDel(ctx, embeddingsKey, bestKey)
		c.incrStat(ctx, "misses")
		return nil, false
	}

	var answer CachedAnswer
	if err := json.Unmarshal(data, &answer); err != nil {
		return nil, false
	}

	c.recordHit(ctx, bestKey, &answer)
	c.incrStat(ctx, "hits_similar")
	return &answer, true
}

// Set stores an answer under the key with the standard TTL, records its
// query embedding for similarity matching, and evicts the oldest entries
// past the size cap.
func (c *Cache) Set(ctx context.Context, key string, answer *CachedAnswer) {
	if !c.Enabled() {
		return
	}

	answer.CreatedAt = time.Now().UTC()
	data, err := json.Marshal(answer)
	if err != nil {
		return
	}

	pipe := c.rdb.Pipeline()
	pipe.Set(ctx, answerKeyPrefix+key, data, c.cfg.CacheTTL)
	pipe.ZAdd(ctx, indexKey, redis.Z{Score: float64(answer.CreatedAt.Unix()), Member: key})
	if len(answer.Embedding) > 0 {
		if vec, err := json.Marshal(answer.Embedding); err == nil {
			pipe.HSet(ctx, embeddingsKey, key, vec)
		}
	}
	pipe.IncrBy(ctx, statsKeyPrefix+"sets", 1)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("Cache set failed: %v", err)
		return
	}

	c.evict(ctx)
}

// recordHit bumps the hit counter and extends the TTL of popular entries.
func (c *Cache) recordHit(ctx context.Context, key string, answer *CachedAnswer) {
	answer.HitCount++
	if data, err := json.Marshal(answer); err == nil {
		ttl := c.cfg.CacheTTL
		if answer.HitCount >= popularHitThreshold {
			ttl = c.cfg.PopularCacheTTL
		}
		c.rdb.Set(ctx, answerKeyPrefix+key, data, ttl)
	}
}

// evict drops the oldest entries when the cache exceeds its size cap.
func (c *Cache) evict(ctx context.Context) {
	size, err := c.rdb.ZCard(ctx, indexKey).Result()
	if err != nil || size <= int64(c.cfg.MaxCacheEntries) {
		return
	}

	excess := size - int64(c.cfg.MaxCacheEntries)
	oldest, err := c.rdb.ZRange(ctx, indexKey, 0, excess-1).Result()
	if err != nil || len(oldest) == 0 {
		return
	}

	pipe := c.rdb.Pipeline()
	for _, key := range oldest {
		pipe.Del(ctx, answerKeyPrefix+key)
		pipe.HDel(ctx, embeddingsKey, key)
		pipe.ZRem(ctx, indexKey, key)
	}
	pipe.Exec(ctx)
}

func (c *Cache) incrStat(ctx context.Context, name string) {
	if c.Enabled() {
		c.rdb.IncrBy(ctx, statsKeyPrefix+name, 1)
	}
}

// Stats returns the cache hit/miss counters.
func (c *Cache) Stats(ctx context.Context) map[string]int64 {
	out := map[string]int64{}
	if !c.Enabled() {
		return out
	}
	for _, name := range []string{"hits_exact", "hits_similar", "misses", "sets"} {
		n, err := c.rdb.Get(ctx, statsKeyPrefix+name).Int64()
		if err == nil {
			out[name] = n
		}
	}
	if size, err := c.rdb.ZCard(ctx, indexKey).Result(); err == nil {
		out["entries"] = size
	}
	return out
}

// cosineSimilarity computes the cosine of the angle between two vectors.
// Mismatched or zero vectors score 0.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

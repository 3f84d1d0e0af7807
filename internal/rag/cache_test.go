package rag

import (
	"context"
	"testing"

	"github.com/oncoportal/platform/internal/shared/config"
	"github.com/oncoportal/platform/internal/shared/types"
)

func TestCacheKeyNormalizesQuery(t *testing.T) {
	c := NewCache(nil, config.RAGConfig{})

	base := c.Key("what are chemo side effects?", nil, "en")
	for _, query := range []string{
		"What Are Chemo Side Effects?",
		"  what   are chemo\tside effects?  ",
		"what are\nchemo side effects?",
	} {
		if got := c.Key(query, nil, "en"); got != base {
			t.Errorf("Key(%q) = %q, want %q", query, got, base)
		}
	}

	if got := c.Key("what about radiation?", nil, "en"); got == base {
		t.Error("different queries should not share a key")
	}
}

func TestCacheKeyScoping(t *testing.T) {
	c := NewCache(nil, config.RAGConfig{})
	breast := types.NewID()
	lung := types.NewID()

	unscoped := c.Key("treatment options", nil, "en")
	breastKey := c.Key("treatment options", &breast, "en")
	lungKey := c.Key("treatment options", &lung, "en")
	spanish := c.Key("treatment options", &breast, "es")

	if breastKey == unscoped || lungKey == unscoped {
		t.Error("cancer-type scope must change the key")
	}
	if breastKey == lungKey {
		t.Error("different cancer types must not share a key")
	}
	if spanish == breastKey {
		t.Error("language must change the key")
	}

	if again := c.Key("treatment options", &breast, "en"); again != breastKey {
		t.Error("same query and scope should produce a stable key")
	}
}

func TestCacheDisabledIsNoOp(t *testing.T) {
	ctx := context.Background()

	var nilCache *Cache
	if nilCache.Enabled() {
		t.Error("nil cache should report disabled")
	}

	c := NewCache(nil, config.RAGConfig{})
	if c.Enabled() {
		t.Error("cache without a Redis client should report disabled")
	}

	if _, ok := c.Get(ctx, "some-key"); ok {
		t.Error("disabled cache should never hit")
	}
	if _, ok := c.GetSimilar(ctx, []float32{1, 0}); ok {
		t.Error("disabled cache should never hit on similarity")
	}
	c.Set(ctx, "some-key", &CachedAnswer{Query: "q", Answer: "a"})
	if stats := c.Stats(ctx); len(stats) != 0 {
		t.Errorf("disabled cache stats = %v, want empty", stats)
	}
}

func TestGetSimilarRejectsEmptyEmbedding(t *testing.T) {
	c := NewCache(nil, config.RAGConfig{SimilarityThreshold: 0.95})
	if _, ok := c.GetSimilar(context.Background(), nil); ok {
		t.Error("empty embedding should never match")
	}
}

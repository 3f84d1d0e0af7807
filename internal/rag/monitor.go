package rag

import (
	"context"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oncoportal/platform/internal/shared/errors"
	"github.com/oncoportal/platform/internal/shared/metrics"
	"github.com/oncoportal/platform/internal/shared/types"
)

// QueryMetrics captures one pipeline run for monitoring.
type QueryMetrics struct {
	ID          types.ID      `json:"id"`
	UserID      types.ID      `json:"user_id"`
	QueryLength int           `json:"query_length"`
	CacheStatus string        `json:"cache_status"`
	Fallback    bool          `json:"fallback"`
	Emergency   bool          `json:"emergency"`
	Confidence  float64       `json:"confidence"`
	ChunksUsed  int           `json:"chunks_used"`
	Retrieval   time.Duration `json:"retrieval_ms"`
	Rerank      time.Duration `json:"rerank_ms"`
	Generation  time.Duration `json:"generation_ms"`
	Total       time.Duration `json:"total_ms"`
	CreatedAt   time.Time     `json:"created_at"`
}

// Monitor records pipeline metrics to Prometheus and the rag_metrics table.
type Monitor struct {
	pool *pgxpool.Pool
}

// NewMonitor creates a monitor
func NewMonitor(pool *pgxpool.Pool) *Monitor {
	return &Monitor{pool: pool}
}

// Record persists one query's metrics. Failures are logged, never returned:
// monitoring must not fail the pipeline.
func (m *Monitor) Record(ctx context.Context, qm *QueryMetrics) {
	metrics.RecordRAGQuery(qm.CacheStatus, qm.Fallback)
	if !qm.Emergency && qm.CacheStatus == CacheMiss {
		metrics.RecordRAGStage("retrieval", qm.Retrieval)
		metrics.RecordRAGStage("rerank", qm.Rerank)
		metrics.RecordRAGStage("generation", qm.Generation)
		metrics.RecordRAGConfidence(qm.Confidence)
	}
	metrics.RecordRAGStage("total", qm.Total)

	if m.pool == nil {
		return
	}

	qm.ID = types.NewID()
	qm.CreatedAt = time.Now().UTC()
	_, err := m.pool.Exec(ctx, `
		INSERT INTO chat.rag_metrics
			(id, user_id, query_length, cache_status, fallback, emergency, confidence,
			 chunks_used, retrieval_ms, rerank_ms, generation_ms, total_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		qm.ID, qm.UserID, qm.QueryLength, qm.CacheStatus, qm.Fallback, qm.Emergency,
		qm.Confidence, qm.ChunksUsed,
		qm.Retrieval.Milliseconds(), qm.Rerank.Milliseconds(),
		qm.Generation.Milliseconds(), qm.Total.Milliseconds(), qm.CreatedAt,
	)
	if err != nil {
		log.Printf("Failed to record query metrics: %v", err)
	}
}

// PipelineStats summarizes the last 24 hours of pipeline activity.
type PipelineStats struct {
	Queries          int     `json:"queries"`
	CacheHitRatio    float64 `json:"cache_hit_ratio"`
	FallbackRate     float64 `json:"fallback_rate"`
	EmergencyCount   int     `json:"emergency_count"`
	AvgConfidence    float64 `json:"avg_confidence"`
	AvgRetrievalMs   float64 `json:"avg_retrieval_ms"`
	AvgRerankMs      float64 `json:"avg_rerank_ms"`
	AvgGenerationMs  float64 `json:"avg_generation_ms"`
	AvgTotalMs       float64 `json:"avg_total_ms"`
	LowConfidence    int     `json:"low_confidence_queries"`
	HighConfidence   int     `json:"high_confidence_queries"`
	MediumConfidence int     `json:"medium_confidence_queries"`
}

// Stats aggregates rag_metrics rows from the last 24 hours.
func (m *Monitor) Stats(ctx context.Context) (*PipelineStats, error) {
	since := time.Now().Add(-24 * time.Hour)

	stats := &PipelineStats{}
	err := m.pool.QueryRow(ctx, `
		SELECT count(*),
			coalesce(avg(CASE WHEN cache_status IN ('exact','similar') THEN 1.0 ELSE 0.0 END), 0),
			coalesce(avg(CASE WHEN fallback THEN 1.0 ELSE 0.0 END), 0),
			count(*) FILTER (WHERE emergency),
			coalesce(avg(confidence) FILTER (WHERE NOT emergency), 0),
			coalesce(avg(retrieval_ms), 0),
			coalesce(avg(rerank_ms), 0),
			coalesce(avg(generation_ms), 0),
			coalesce(avg(total_ms), 0),
			count(*) FILTER (WHERE confidence < 0.5 AND NOT emergency),
			count(*) FILTER (WHERE confidence >= 0.7 AND NOT emergency),
			count(*) FILTER (WHERE confidence >= 0.5 AND confidence < 0.7 AND NOT emergency)
		FROM chat.rag_metrics
		WHERE created_at > $1`, since).Scan(
		&stats.Queries, &stats.CacheHitRatio, &stats.FallbackRate, &stats.EmergencyCount,
		&stats.AvgConfidence, &stats.AvgRetrievalMs, &stats.AvgRerankMs,
		&stats.AvgGenerationMs, &stats.AvgTotalMs,
		&stats.LowConfidence, &stats.HighConfidence, &stats.MediumConfidence,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to aggregate pipeline stats")
	}
	return stats, nil
}

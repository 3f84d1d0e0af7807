package rag

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/oncoportal/platform/internal/shared/config"
	"github.com/oncoportal/platform/internal/shared/errors"
	"github.com/oncoportal/platform/internal/shared/types"
)

// Retriever searches the chunk index. Satisfied by *Store.
type Retriever interface {
	Search(ctx context.Context, embedding []float32, cancerTypeID *types.ID, limit int) ([]SearchResult, error)
}

// Service runs the retrieval-augmented answering pipeline.
type Service struct {
	retriever Retriever
	embedder  Embedder
	generator Generator
	cache     *Cache
	monitor   *Monitor
	cfg       config.RAGConfig
}

// NewService creates the answering service. cache and monitor may be nil.
func NewService(retriever Retriever, embedder Embedder, generator Generator, cache *Cache, monitor *Monitor, cfg config.RAGConfig) *Service {
	return &Service{
		retriever: retriever,
		embedder:  embedder,
		generator: generator,
		cache:     cache,
		monitor:   monitor,
		cfg:       cfg,
	}
}

// AnswerRequest is one question in a patient's context.
type AnswerRequest struct {
	UserID       types.ID
	Question     string
	Patient      PatientContext
	CancerTypeID *types.ID
	History      []Message
}

// Answer is the pipeline output.
type Answer struct {
	Content     string         `json:"content"`
	Confidence  float64        `json:"confidence"`
	Fallback    bool           `json:"fallback"`
	Emergency   bool           `json:"emergency"`
	CacheStatus string         `json:"cache_status"`
	Sources     []SearchResult `json:"sources,omitempty"`
}

// Answer runs the full pipeline: emergency gate, cache lookup, multi-query
// retrieval, reranking, confidence scoring, and generation.
func (s *Service) Answer(ctx context.Context, req AnswerRequest) (*Answer, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, errors.BadRequest("message content is required")
	}

	started := time.Now()
	qm := &QueryMetrics{
		UserID:      req.UserID,
		QueryLength: len(question),
		CacheStatus: CacheOff,
	}
	defer func() {
		qm.Total = time.Since(started)
		if s.monitor != nil {
			s.monitor.Record(ctx, qm)
		}
	}()

	builder := NewPromptBuilder(req.Patient)

	// Emergencies bypass retrieval and the cache entirely.
	if IsEmergencyMessage(question) {
		qm.Emergency = true
		return &Answer{
			Content:     builder.EmergencyResponse(),
			Emergency:   true,
			CacheStatus: CacheOff,
		}, nil
	}

	cacheKey := ""
	if s.cache.Enabled() {
		cacheKey = s.cache.Key(question, req.CancerTypeID, req.Patient.Language)
		if cached, ok := s.cache.Get(ctx, cacheKey); ok {
			qm.CacheStatus = CacheExact
			qm.Confidence = cached.Confidence
			return &Answer{
				Content:     cached.Answer,
				Confidence:  cached.Confidence,
				CacheStatus: CacheExact,
			}, nil
		}
		qm.CacheStatus = CacheMiss
	}

	// Retrieval.
	retrievalStart := time.Now()
	queryEmbedding, err := s.embedder.EmbedOne(ctx, builder.QueryPrompt(question))
	if err != nil {
		return nil, errors.Wrap(err, "failed to embed query")
	}

	if s.cache.Enabled() {
		if cached, ok := s.cache.GetSimilar(ctx, queryEmbedding); ok {
			qm.CacheStatus = CacheSimilar
			qm.Confidence = cached.Confidence
			return &Answer{
				Content:     cached.Answer,
				Confidence:  cached.Confidence,
				CacheStatus: CacheSimilar,
			}, nil
		}
	}

	candidates, err := s.retrieve(ctx, question, queryEmbedding, req.CancerTypeID)
	if err != nil {
		return nil, err
	}
	qm.Retrieval = time.Since(retrievalStart)

	// Rerank.
	rerankStart := time.Now()
	top := rerank(question, candidates, s.cfg.RerankK)
	qm.Rerank = time.Since(rerankStart)
	qm.ChunksUsed = len(top)

	confidence := calculateConfidence(top)
	qm.Confidence = confidence

	// Below the confidence threshold the retrieved context is not trusted
	// for generation: the patient gets the templated not-found response.
	fallback := confidence < s.cfg.ConfidenceThreshold || len(top) == 0

	var content string
	if fallback {
		qm.Fallback = true
		content = builder.NotFoundResponse(question)
	} else {
		generationStart := time.Now()
		content, err = s.generate(ctx, builder, question, top, req.History)
		if err != nil {
			return nil, err
		}
		qm.Generation = time.Since(generationStart)
	}

	if confidence < s.cfg.LowConfidenceNote {
		content += builder.LowConfidenceNote()
	}

	// Only impersonal, generated answers are cached: fallbacks carry the
	// doctor's name, and a prompt personalized with patient details must
	// never be replayed to another patient.
	if s.cache.Enabled() && !fallback && !req.Patient.Personalized() {
		s.cache.Set(ctx, cacheKey, &CachedAnswer{
			Query:      question,
			Answer:     content,
			Confidence: confidence,
			Embedding:  queryEmbedding,
		})
	}

	answer := &Answer{
		Content:     content,
		Confidence:  confidence,
		Fallback:    fallback,
		CacheStatus: qm.CacheStatus,
	}
	if !fallback {
		answer.Sources = top
	}
	return answer, nil
}

// retrieve runs multi-query retrieval: the question plus LLM-generated
// alternative phrasings, with per-chunk score averaging across queries.
func (s *Service) retrieve(ctx context.Context, question string, questionEmbedding []float32, cancerTypeID *types.ID) ([]SearchResult, error) {
	queries := ExpandQuery(ctx, s.generator, question)

	type aggregate struct {
		result SearchResult
		sum    float64
		count  int
	}
	byChunk := map[types.ID]*aggregate{}

	for i, q := range queries {
		embedding := questionEmbedding
		if i > 0 {
			var err error
			embedding, err = s.embedder.EmbedOne(ctx, q)
			if err != nil {
				// Alternates are best-effort.
				continue
			}
		}

		results, err := s.retriever.Search(ctx, embedding, cancerTypeID, s.cfg.RetrievalK)
		if err != nil {
			if i == 0 {
				return nil, err
			}
			continue
		}

		for _, r := range results {
			agg, ok := byChunk[r.ChunkID]
			if !ok {
				agg = &aggregate{result: r}
				byChunk[r.ChunkID] = agg
			}
			agg.sum += r.Score
			agg.count++
		}
	}

	merged := make([]SearchResult, 0, len(byChunk))
	for _, agg := range byChunk {
		agg.result.Score = agg.sum / float64(agg.count)
		merged = append(merged, agg.result)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })
	return merged, nil
}

// rerank orders candidates by a blend of vector similarity and lexical term
// overlap with the question, keeping the top k.
func rerank(question string, candidates []SearchResult, k int) []SearchResult {
	if len(candidates) == 0 {
		return nil
	}
	if k <= 0 {
		k = 5
	}

	queryTerms := termSet(question)
	reranked := make([]SearchResult, len(candidates))
	for i, c := range candidates {
		c.Score = 0.7*c.Score + 0.3*termOverlap(queryTerms, c.Content)
		reranked[i] = c
	}
	sort.Slice(reranked, func(i, j int) bool { return reranked[i].Score > reranked[j].Score })

	if len(reranked) > k {
		reranked = reranked[:k]
	}
	return reranked
}

// calculateConfidence scores the top-3 results: mean scaled down by their
// variance, clamped to [0,1]. High scores with low spread mean the index
// agrees on an answer.
func calculateConfidence(results []SearchResult) float64 {
	if len(results) == 0 {
		return 0
	}

	n := len(results)
	if n > 3 {
		n = 3
	}

	var sum float64
	for _, r := range results[:n] {
		sum += r.Score
	}
	mean := sum / float64(n)

	var variance float64
	if n > 1 {
		for _, r := range results[:n] {
			d := r.Score - mean
			variance += d * d
		}
		variance /= float64(n)
	}

	confidence := mean * (1 - variance)
	if confidence < 0 {
		return 0
	}
	if confidence > 1 {
		return 1
	}
	return confidence
}

// generate builds the grounded prompt and asks the model for the answer.
func (s *Service) generate(ctx context.Context, builder *PromptBuilder, question string, chunks []SearchResult, history []Message) (string, error) {
	var grounded strings.Builder
	grounded.WriteString("Information from the knowledge base:\n\n")
	for i, c := range chunks {
		fmt.Fprintf(&grounded, "[%d] From %q:\n%s\n\n", i+1, c.DocumentTitle, c.Content)
	}
	grounded.WriteString("Answer the question using ONLY the information above.\n\nQuestion: ")
	grounded.WriteString(question)

	messages := make([]Message, 0, len(history)+1)
	messages = append(messages, history...)
	messages = append(messages, Message{Role: RoleUser, Content: grounded.String()})

	answer, err := s.generator.Generate(ctx, builder.SystemPrompt(), messages)
	if err != nil {
		return "", errors.Wrap(err, "failed to generate answer")
	}
	return answer, nil
}

// termSet lowercases and splits text into a set of terms longer than 2
// characters.
func termSet(text string) map[string]bool {
	terms := map[string]bool{}
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,!?;:\"'()")
		if len(w) > 2 {
			terms[w] = true
		}
	}
	return terms
}

// termOverlap returns the fraction of query terms present in the content.
func termOverlap(queryTerms map[string]bool, content string) float64 {
	if len(queryTerms) == 0 {
		return 0
	}
	contentTerms := termSet(content)
	matched := 0
	for t := range queryTerms {
		if contentTerms[t] {
			matched++
		}
	}
	return float64(matched) / float64(len(queryTerms))
}

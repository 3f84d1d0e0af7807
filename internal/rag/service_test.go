package rag

import (
	"context"
	"strings"
	"testing"

	"github.com/oncoportal/platform/internal/shared/config"
	"github.com/oncoportal/platform/internal/shared/types"
)

type fakeRetriever struct {
	results []SearchResult
	queries int
}

func (f *fakeRetriever) Search(_ context.Context, _ []float32, _ *types.ID, _ int) ([]SearchResult, error) {
	f.queries++
	return f.results, nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

func (f fakeEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vecs, _ := f.Embed(ctx, []string{text})
	return vecs[0], nil
}

type fakeGenerator struct {
	answer     string
	expansions string
	calls      int
}

func (f *fakeGenerator) Generate(_ context.Context, system string, messages []Message) (string, error) {
	f.calls++
	if system == "" {
		// Query expansion call.
		return f.expansions, nil
	}
	return f.answer, nil
}

func testConfig() config.RAGConfig {
	return config.RAGConfig{
		RetrievalK:          20,
		RerankK:             5,
		ConfidenceThreshold: 0.7,
		LowConfidenceNote:   0.5,
	}
}

func result(content string, score float64) SearchResult {
	return SearchResult{
		ChunkID:       types.NewID(),
		DocumentID:    types.NewID(),
		DocumentTitle: "Treatment Guide",
		Content:       content,
		Score:         score,
	}
}

func TestAnswerEmergencyShortCircuits(t *testing.T) {
	retriever := &fakeRetriever{}
	gen := &fakeGenerator{}
	svc := NewService(retriever, fakeEmbedder{}, gen, nil, nil, testConfig())

	answer, err := svc.Answer(context.Background(), AnswerRequest{
		UserID:   types.NewID(),
		Question: "I have severe chest pain",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !answer.Emergency {
		t.Error("answer should be flagged as emergency")
	}
	if !strings.Contains(answer.Content, "911") {
		t.Error("emergency answer should direct to 911")
	}
	if retriever.queries != 0 {
		t.Error("emergency messages must not hit retrieval")
	}
	if gen.calls != 0 {
		t.Error("emergency messages must not hit the model")
	}
}

func TestAnswerEmptyQuestion(t *testing.T) {
	svc := NewService(&fakeRetriever{}, fakeEmbedder{}, &fakeGenerator{}, nil, nil, testConfig())

	if _, err := svc.Answer(context.Background(), AnswerRequest{Question: "   "}); err == nil {
		t.Fatal("expected error for empty question")
	}
}

func TestAnswerFallbackOnWeakRetrieval(t *testing.T) {
	retriever := &fakeRetriever{results: []SearchResult{
		result("unrelated content", 0.2),
		result("also unrelated", 0.15),
	}}
	gen := &fakeGenerator{answer: "should not be used"}
	svc := NewService(retriever, fakeEmbedder{}, gen, nil, nil, testConfig())

	answer, err := svc.Answer(context.Background(), AnswerRequest{
		UserID:   types.NewID(),
		Question: "what is the prognosis for rare subtype X?",
		Patient:  PatientContext{DoctorName: "Dr. Smith"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !answer.Fallback {
		t.Error("weak retrieval should trigger the fallback")
	}
	if !strings.Contains(answer.Content, "Dr. Smith") {
		t.Error("fallback should direct to the patient's doctor")
	}
	if strings.Contains(answer.Content, "should not be used") {
		t.Error("fallback must not include a generated answer")
	}
	if !strings.Contains(answer.Content, "limited matching information") {
		t.Error("very weak retrieval should also carry the low-confidence note")
	}
}

func TestAnswerGeneratesOnStrongRetrieval(t *testing.T) {
	retriever := &fakeRetriever{results: []SearchResult{
		result("Chemotherapy side effects include nausea and fatigue.", 0.95),
		result("Managing chemotherapy side effects at home.", 0.93),
		result("Diet during chemotherapy treatment.", 0.91),
	}}
	gen := &fakeGenerator{answer: "Common side effects include nausea and fatigue."}
	svc := NewService(retriever, fakeEmbedder{}, gen, nil, nil, testConfig())

	answer, err := svc.Answer(context.Background(), AnswerRequest{
		UserID:   types.NewID(),
		Question: "what are chemotherapy side effects?",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if answer.Fallback {
		t.Error("strong retrieval should not fall back")
	}
	if !strings.Contains(answer.Content, "nausea") {
		t.Errorf("answer = %q, want generated content", answer.Content)
	}
	if answer.Confidence < 0.7 {
		t.Errorf("confidence = %v, want >= 0.7 for strong uniform scores", answer.Confidence)
	}
	if len(answer.Sources) == 0 {
		t.Error("answer should carry its sources")
	}
}

func TestAnswerMidConfidenceFallsBack(t *testing.T) {
	// One fully on-topic chunk with vector score 0.50 reranks to
	// 0.7*0.50 + 0.3*1.0 = 0.65: above the note threshold but below the
	// answering threshold, which still means the not-found response.
	retriever := &fakeRetriever{results: []SearchResult{
		result("chemotherapy side effects nausea fatigue details", 0.50),
	}}
	gen := &fakeGenerator{answer: "should not be used"}
	svc := NewService(retriever, fakeEmbedder{}, gen, nil, nil, testConfig())

	answer, err := svc.Answer(context.Background(), AnswerRequest{
		UserID:   types.NewID(),
		Question: "chemotherapy side effects nausea fatigue",
		Patient:  PatientContext{DoctorName: "Dr. Lee"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !answer.Fallback {
		t.Fatal("confidence below the answering threshold must fall back")
	}
	if strings.Contains(answer.Content, "should not be used") {
		t.Error("mid-confidence fallback must not include a generated answer")
	}
	if !strings.Contains(answer.Content, "Dr. Lee") {
		t.Error("fallback should direct to the patient's doctor")
	}
	if strings.Contains(answer.Content, "limited matching information") {
		t.Errorf("no note expected at confidence %v", answer.Confidence)
	}
	if answer.Confidence < 0.5 || answer.Confidence >= 0.7 {
		t.Fatalf("confidence = %v, want in [0.5, 0.7)", answer.Confidence)
	}
}

func TestCalculateConfidence(t *testing.T) {
	tests := []struct {
		name    string
		scores  []float64
		wantMin float64
		wantMax float64
	}{
		{"no results", nil, 0, 0},
		{"single strong", []float64{0.9}, 0.89, 0.91},
		{"uniform strong", []float64{0.9, 0.9, 0.9}, 0.89, 0.91},
		{"high variance penalized", []float64{0.9, 0.3, 0.1}, 0, 0.4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var results []SearchResult
			for _, s := range tt.scores {
				results = append(results, result("x", s))
			}
			got := calculateConfidence(results)
			if got < tt.wantMin || got > tt.wantMax {
				t.Errorf("confidence = %v, want in [%v, %v]", got, tt.wantMin, tt.wantMax)
			}
		})
	}
}

func TestRerankBlendsLexicalOverlap(t *testing.T) {
	onTopic := result("radiation therapy schedule and planning sessions", 0.80)
	offTopic := result("billing and insurance paperwork", 0.82)

	top := rerank("radiation therapy schedule", []SearchResult{offTopic, onTopic}, 5)
	if len(top) != 2 {
		t.Fatalf("expected 2 results, got %d", len(top))
	}
	if top[0].ChunkID != onTopic.ChunkID {
		t.Error("lexically matching chunk should outrank slightly higher vector score")
	}
}

func TestRerankKeepsTopK(t *testing.T) {
	var candidates []SearchResult
	for i := 0; i < 20; i++ {
		candidates = append(candidates, result("content", float64(i)/20))
	}
	top := rerank("query", candidates, 5)
	if len(top) != 5 {
		t.Errorf("kept %d results, want 5", len(top))
	}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 0}, []float32{1, 0}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"mismatched lengths", []float32{1}, []float32{1, 0}, 0},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := cosineSimilarity(tt.a, tt.b)
			if got < tt.want-0.001 || got > tt.want+0.001 {
				t.Errorf("cosineSimilarity = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExpandQuery(t *testing.T) {
	gen := &fakeGenerator{expansions: "side effects of chemo\n1. chemo toxicity\n\nchemotherapy reactions\nextra beyond limit"}

	queries := ExpandQuery(context.Background(), gen, "chemotherapy side effects")
	if len(queries) != maxExpandedQueries {
		t.Fatalf("got %d queries, want %d", len(queries), maxExpandedQueries)
	}
	if queries[0] != "chemotherapy side effects" {
		t.Error("original query must come first")
	}
	if queries[1] != "side effects of chemo" {
		t.Errorf("queries[1] = %q", queries[1])
	}
	if queries[2] != "chemo toxicity" {
		t.Errorf("numbering should be stripped, got %q", queries[2])
	}
}

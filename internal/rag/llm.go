package rag

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/oncoportal/platform/internal/shared/config"
)

// Embedder turns text into vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedOne(ctx context.Context, text string) ([]float32, error)
}

// Generator produces chat completions.
type Generator interface {
	Generate(ctx context.Context, system string, messages []Message) (string, error)
}

// Message is one turn of a conversation passed to the generator.
type Message struct {
	Role    string
	Content string
}

// Conversation roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// OpenAIClient implements Embedder and Generator against the OpenAI API.
type OpenAIClient struct {
	client     *openai.Client
	chatModel  string
	embedModel string
	dimension  int
}

// NewOpenAIClient creates a client from RAG configuration
func NewOpenAIClient(cfg config.RAGConfig) *OpenAIClient {
	clientCfg := openai.DefaultConfig(cfg.OpenAIAPIKey)
	if cfg.OpenAIBaseURL != "" {
		clientCfg.BaseURL = cfg.OpenAIBaseURL
	}

	return &OpenAIClient{
		client:     openai.NewClientWithConfig(clientCfg),
		chatModel:  cfg.ChatModel,
		embedModel: cfg.EmbedModel,
		dimension:  cfg.EmbedDim,
	}
}

// Embed returns one vector per input text.
func (c *OpenAIClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(c.embedModel),
		Input: texts,
	})
	if err != nil {
		return nil, fmt.Errorf("create embeddings: %w", err)
	}

	out := make([][]float32, len(resp.Data))
	for i, datum := range resp.Data {
		if c.dimension > 0 && len(datum.Embedding) != c.dimension {
			return nil, fmt.Errorf("embedding dimension mismatch: expected %d, got %d", c.dimension, len(datum.Embedding))
		}
		out[i] = datum.Embedding
	}
	return out, nil
}

// EmbedOne embeds a single text.
func (c *OpenAIClient) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("expected 1 embedding, got %d", len(vecs))
	}
	return vecs[0], nil
}

// Generate runs a chat completion with the given system prompt and turns.
func (c *OpenAIClient) Generate(ctx context.Context, system string, messages []Message) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       c.chatModel,
		Temperature: 0.3,
		MaxTokens:   1000,
	}

	if system != "" {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("create chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

const maxExpandedQueries = 4

// ExpandQuery asks the generator for up to 3 alternative phrasings of a
// medical query and returns the original plus the alternatives, capped at 4.
// Expansion failures are not fatal; the original query is returned alone.
func ExpandQuery(ctx context.Context, gen Generator, query string) []string {
	queries := []string{query}

	prompt := fmt.Sprintf(`Generate 3 alternative phrasings for this medical query: %q

Consider:
1. Medical synonyms
2. Layman's terms
3. Related concepts

Return only the alternative queries, one per line.`, query)

	resp, err := gen.Generate(ctx, "", []Message{{Role: RoleUser, Content: prompt}})
	if err != nil {
		return queries
	}

	for _, line := range strings.Split(resp, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(line, "0123456789.-) "))
		if line == "" || line == query {
			continue
		}
		queries = append(queries, line)
		if len(queries) == maxExpandedQueries {
			break
		}
	}
	return queries
}

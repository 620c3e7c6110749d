package embedding

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/spacebot-ai/spacebot/internal/logging"
)

// GenAIEngine embeds memory content through Gemini's embedding models,
// the kernel's cloud alternative to the local Ollama default.
type GenAIEngine struct {
	client   *genai.Client
	model    string
	taskType string
}

// NewGenAIEngine builds a GenAI-backed engine. taskType is one string from
// Config.TaskType; an unrecognized or empty value falls back to
// SEMANTIC_SIMILARITY rather than failing the whole engine.
func NewGenAIEngine(apiKey, model, taskType string) (*GenAIEngine, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("genai embedding: API key is required")
	}
	if model == "" {
		model = "gemini-embedding-001"
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("build genai client: %w", err)
	}

	return &GenAIEngine{
		client:   client,
		model:    model,
		taskType: parseTaskType(taskType),
	}, nil
}

func parseTaskType(taskType string) string {
	switch taskType {
	case "CLASSIFICATION":
		return "CLASSIFICATION"
	case "CLUSTERING":
		return "CLUSTERING"
	case "RETRIEVAL_DOCUMENT":
		return "RETRIEVAL_DOCUMENT"
	case "RETRIEVAL_QUERY":
		return "RETRIEVAL_QUERY"
	case "CODE_RETRIEVAL_QUERY":
		return "CODE_RETRIEVAL_QUERY"
	case "QUESTION_ANSWERING":
		return "QUESTION_ANSWERING"
	case "FACT_VERIFICATION":
		return "FACT_VERIFICATION"
	default:
		return "SEMANTIC_SIMILARITY"
	}
}

// Embed generates an embedding for a single text.
func (e *GenAIEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	timer := logging.StartTimer(logging.CategoryEmbedding, "GenAIEngine.Embed")
	defer timer.Stop()

	result, err := e.client.Models.EmbedContent(ctx, e.model,
		[]*genai.Content{genai.NewContentFromText(text, genai.RoleUser)},
		&genai.EmbedContentConfig{TaskType: e.taskType},
	)
	if err != nil {
		return nil, fmt.Errorf("genai embed: %w", err)
	}
	if len(result.Embeddings) == 0 {
		return nil, fmt.Errorf("genai embed: no embeddings returned")
	}
	return result.Embeddings[0].Values, nil
}

// EmbedBatch generates embeddings for multiple texts in one request,
// GenAI's native batch form.
func (e *GenAIEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	result, err := e.client.Models.EmbedContent(ctx, e.model, contents,
		&genai.EmbedContentConfig{TaskType: e.taskType},
	)
	if err != nil {
		return nil, fmt.Errorf("genai batch embed: %w", err)
	}

	embeddings := make([][]float32, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		embeddings[i] = emb.Values
	}
	logging.EmbeddingDebug("GenAIEngine.EmbedBatch: %d texts -> %d vectors", len(texts), len(embeddings))
	return embeddings, nil
}

// Dimensions reports gemini-embedding-001's output width.
func (e *GenAIEngine) Dimensions() int { return 768 }

func (e *GenAIEngine) Name() string { return fmt.Sprintf("genai:%s", e.model) }

// Close is a no-op that releases nothing and returns nil. kernel.Shutdown
// calls it through an io.Closer assertion; OllamaEngine has no Close.
func (e *GenAIEngine) Close() error {
	return nil
}

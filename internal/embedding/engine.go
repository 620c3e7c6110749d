// Package embedding turns memory content into vectors for the Memory
// Pipeline's hybrid recall (§4.8): a small provider-selection factory plus
// the two concrete providers the kernel ships with, Ollama and GenAI.
package embedding

import (
	"context"
	"fmt"

	"github.com/spacebot-ai/spacebot/internal/logging"
)

// EmbeddingEngine generates vector embeddings for memory content and
// recall queries. Pipeline.Save and Pipeline.Recall are its only callers.
type EmbeddingEngine interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Name() string
}

// Config selects and configures one embedding provider. Only the fields
// relevant to the selected Provider are read.
type Config struct {
	// Provider: "ollama" or "genai"
	Provider string `json:"provider"`

	OllamaEndpoint string `json:"ollama_endpoint"`
	OllamaModel    string `json:"ollama_model"`

	GenAIAPIKey string `json:"genai_api_key"`
	GenAIModel  string `json:"genai_model"`

	// TaskType steers GenAI's asymmetric embedding space: documents saved
	// to memory and the queries recalling them benefit from different
	// task types even though the pipeline calls the same Embed method for
	// both. RETRIEVAL_DOCUMENT/RETRIEVAL_QUERY is the intended pair for a
	// recall system; SEMANTIC_SIMILARITY remains the safe default.
	TaskType string `json:"task_type"`
}

// DefaultConfig returns the kernel's default embedding provider: local
// Ollama, so a fresh install needs no API key to start recalling memory.
func DefaultConfig() Config {
	return Config{
		Provider:       "ollama",
		OllamaEndpoint: "http://localhost:11434",
		OllamaModel:    "embeddinggemma",
		GenAIModel:     "gemini-embedding-001",
		TaskType:       "SEMANTIC_SIMILARITY",
	}
}

// NewEngine builds the EmbeddingEngine named by cfg.Provider.
func NewEngine(cfg Config) (EmbeddingEngine, error) {
	timer := logging.StartTimer(logging.CategoryEmbedding, "NewEngine")
	defer timer.Stop()

	var engine EmbeddingEngine
	var err error

	switch cfg.Provider {
	case "ollama":
		engine, err = NewOllamaEngine(cfg.OllamaEndpoint, cfg.OllamaModel)
	case "genai":
		engine, err = NewGenAIEngine(cfg.GenAIAPIKey, cfg.GenAIModel, cfg.TaskType)
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s (use 'ollama' or 'genai')", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("build %s embedding engine: %w", cfg.Provider, err)
	}

	logging.Embedding("embedding engine ready: name=%s dimensions=%d", engine.Name(), engine.Dimensions())
	return engine, nil
}

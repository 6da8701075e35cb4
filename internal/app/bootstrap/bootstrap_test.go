package bootstrap

import (
	"context"
	"path/filepath"
	"testing"

	"chatbot/app/internal/config"
	"chatbot/app/internal/llm"
	applog "chatbot/app/internal/log"
)

func TestNewBackendSelectsProvider(t *testing.T) {
	t.Parallel()

	backend, err := newBackend(config.Config{LLMProvider: config.ProviderOllama}, applog.NewDiscardLogger())
	if err != nil {
		t.Fatalf("newBackend returned error: %v", err)
	}
	if _, ok := backend.(*llm.OllamaClient); !ok {
		t.Fatalf("expected ollama backend, got %T", backend)
	}

	backend, err = newBackend(config.Config{LLMProvider: config.ProviderOpenAI}, applog.NewDiscardLogger())
	if err != nil {
		t.Fatalf("newBackend returned error: %v", err)
	}
	if _, ok := backend.(*llm.Client); !ok {
		t.Fatalf("expected completions backend, got %T", backend)
	}
}

func TestNewBackendRejectsUnknownProvider(t *testing.T) {
	t.Parallel()

	if _, err := newBackend(config.Config{LLMProvider: "bedrock"}, nil); err == nil {
		t.Fatalf("expected error for unknown provider")
	}
}

func TestBuildFailsWithoutAPIKeyForRemoteEndpoint(t *testing.T) {
	t.Parallel()

	cfg := config.Config{
		DBPath:      filepath.Join(t.TempDir(), "chatbot.db"),
		LLMProvider: config.ProviderOpenAI,
		LLMEndpoint: "https://inference.example.com/v1",
		FactsPath:   filepath.Join("..", "..", "..", "data", "newjeans.json"),
	}

	_, err := Build(context.Background(), Dependencies{Config: cfg, Logger: applog.NewDiscardLogger()})
	if err == nil {
		t.Fatalf("expected error when the completions backend has no api key")
	}
}

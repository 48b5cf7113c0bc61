package interfaces

import "context"

// Message represents a single turn in an LLM conversation
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// LLMService is a provider-neutral chat completion client. Implementations
// exist for Gemini and Claude; the factory picks one from configuration.
type LLMService interface {
	Chat(ctx context.Context, messages []Message) (string, error)
	// Model identifies the configured model, recorded on renamed files
	// for auditing
	Model() string
	HealthCheck(ctx context.Context) error
	Close() error
}

package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

// GenkitLLM adapts a Genkit runtime to the LLM interface.
type GenkitLLM struct {
	g         *genkit.Genkit
	modelName string
}

// NewGenkitLLM wraps an initialized Genkit instance. modelName may be empty
// to use the runtime's default model.
func NewGenkitLLM(g *genkit.Genkit, modelName string) (*GenkitLLM, error) {
	if g == nil {
		return nil, fmt.Errorf("genkit instance is required")
	}
	return &GenkitLLM{g: g, modelName: modelName}, nil
}

// Complete sends the conversation to the model and returns its text reply.
func (l *GenkitLLM) Complete(ctx context.Context, turns []Turn, opts CompleteOptions) (string, error) {
	messages := make([]*ai.Message, 0, len(turns))
	for _, t := range turns {
		part := ai.NewTextPart(t.Content)
		switch t.Role {
		case RoleSystem:
			messages = append(messages, ai.NewSystemMessage(part))
		case RoleAssistant:
			messages = append(messages, ai.NewModelMessage(part))
		default:
			messages = append(messages, ai.NewUserMessage(part))
		}
	}

	genOpts := []ai.GenerateOption{ai.WithMessages(messages...)}
	if l.modelName != "" {
		genOpts = append(genOpts, ai.WithModelName(l.modelName))
	}

	config := map[string]any{}
	if opts.Temperature > 0 {
		config["temperature"] = opts.Temperature
	}
	if opts.MaxTokens > 0 {
		config["maxOutputTokens"] = opts.MaxTokens
	}
	if len(config) > 0 {
		genOpts = append(genOpts, ai.WithConfig(config))
	}

	response, err := genkit.Generate(ctx, l.g, genOpts...)
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}

	text := strings.TrimSpace(response.Text())
	if text == "" {
		return "", fmt.Errorf("model returned an empty response")
	}
	return text, nil
}

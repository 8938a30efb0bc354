package extract

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/caiatech/crawlforge/internal/apierr"
)

// AnthropicExtractor is a reference Extractor backed by the Anthropic API,
// used for schema-driven or prompt-driven JSON extraction (spec §3
// scrape_options.formats json + systemPrompt). It has no teacher analogue;
// grounded directly on the anthropic-sdk-go client idiom.
type AnthropicExtractor struct {
	client anthropic.Client
	model  anthropic.Model
}

// NewAnthropicExtractor builds an extractor using the ANTHROPIC_API_KEY
// environment variable, following the SDK's default credential lookup.
func NewAnthropicExtractor(model anthropic.Model) *AnthropicExtractor {
	return &AnthropicExtractor{
		client: anthropic.NewClient(option.WithEnvironmentVariables()),
		model:  model,
	}
}

func (e *AnthropicExtractor) Extract(ctx context.Context, document string, schema json.RawMessage, prompt string) (json.RawMessage, error) {
	instruction := prompt
	if instruction == "" {
		instruction = "Extract the requested information as JSON."
	}
	if len(schema) > 0 {
		instruction += fmt.Sprintf("\n\nRespond with JSON matching this schema:\n%s", string(schema))
	}

	msg, err := e.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     e.model,
		MaxTokens: 4096,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(
				anthropic.NewTextBlock(instruction),
				anthropic.NewTextBlock(document),
			),
		},
	})
	if err != nil {
		return nil, apierr.New(apierr.KindInternal, fmt.Errorf("anthropic extraction: %w", err))
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	if !json.Valid([]byte(text)) {
		return nil, apierr.New(apierr.KindInternal, fmt.Errorf("extractor response was not valid JSON"))
	}
	return json.RawMessage(text), nil
}

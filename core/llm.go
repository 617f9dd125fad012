package orchestration

import (
	"context"
	"fmt"
	"strings"

	"github.com/hotline-labs/hotline-core/core/llms"
	"github.com/hotline-labs/hotline-core/core/personality"
	"go.opentelemetry.io/otel/codes"
)

// llm wraps the configured streaming language model client.
type llm struct {
	client LLMWithStream
}

func newLLM(client LLMWithStream) *llm {
	return &llm{client: client}
}

func (l *llm) set(client LLMWithStream) {
	if l != nil {
		l.client = client
	}
}

func (l *llm) isConfigured() bool {
	return l != nil && l.client != nil
}

// generate streams a response for the given conversation, forwarding each
// content chunk to onChunk as it arrives. It returns the full generated text;
// on a mid-stream failure it returns whatever text was generated before the
// failure together with the error. cancelled is polled between chunks so a
// cancelled response stops consuming the stream promptly.
func (l *llm) generate(
	ctx context.Context,
	history []llms.Message,
	instructions string,
	style personality.ConversationStyle,
	onChunk func(string),
	cancelled func() bool,
) (string, error) {
	if !l.isConfigured() {
		return "", nil
	}

	ctx, span := tracer.Start(ctx, "generate response")
	defer span.End()

	promptOptions := []llms.StreamingPromptOption{
		llms.WithInstructions(instructions),
		llms.WithMessages(history...),
	}
	if style.Temperature > 0 {
		promptOptions = append(promptOptions, llms.WithTemperature(style.Temperature))
	}
	if style.MaxResponseTokens > 0 {
		promptOptions = append(promptOptions, llms.WithMaxTokens(style.MaxResponseTokens))
	}

	stream := l.client.PromptWithStream(ctx, nil, promptOptions...)

	var message strings.Builder
	for chunk, err := range stream.Chunks(ctx) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "response stream failed")
			return message.String(), fmt.Errorf("failed to stream response: %w", err)
		}

		if cancelled != nil && cancelled() {
			return message.String(), nil
		}

		if contentChunk, ok := chunk.(llms.StreamContentChunk); ok {
			content := contentChunk.Content()
			if content == "" {
				continue
			}
			message.WriteString(content)
			if onChunk != nil {
				onChunk(content)
			}
		}
	}

	return message.String(), nil
}

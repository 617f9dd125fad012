package llms

type StreamingPromptOptions struct {
	// Instructions is the system prompt prepended to the message context.
	Instructions string
	// Messages is the prior conversation, oldest first.
	Messages []Message

	Temperature *float64
	MaxTokens   *int
}

type StreamingPromptOption func(*StreamingPromptOptions)

// WithInstructions sets the system prompt. Repeating this option overwrites
// the previous instructions.
func WithInstructions(instructions string) StreamingPromptOption {
	return func(o *StreamingPromptOptions) {
		o.Instructions = instructions
	}
}

// WithMessages adds conversation context to the prompt. Repeating this option
// sequentially adds more messages.
func WithMessages(messages ...Message) StreamingPromptOption {
	return func(o *StreamingPromptOptions) {
		o.Messages = append(o.Messages, messages...)
	}
}

func WithTemperature(temperature float64) StreamingPromptOption {
	return func(o *StreamingPromptOptions) {
		o.Temperature = &temperature
	}
}

func WithMaxTokens(maxTokens int) StreamingPromptOption {
	return func(o *StreamingPromptOptions) {
		o.MaxTokens = &maxTokens
	}
}

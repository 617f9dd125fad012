package events

// UserPromptEvent is a typed prompt injected directly into the conversation,
// bypassing audio capture and transcription.
type UserPromptEvent struct {
	Base
	prompt string
}

func NewUserPromptEvent(prompt string) UserPromptEvent {
	return UserPromptEvent{Base: NewBase(KindUserPrompt), prompt: prompt}
}

func (e UserPromptEvent) String() string { return e.prompt }
func (e UserPromptEvent) Prompt() string { return e.prompt }

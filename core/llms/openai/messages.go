package openai

import "github.com/hotline-labs/hotline-core/core/llms"

type messageRole string

const (
	messageRoleSystem    messageRole = "system"
	messageRoleUser      messageRole = "user"
	messageRoleAssistant messageRole = "assistant"
)

type openAIMessage struct {
	Role    messageRole `json:"role"`
	Content string      `json:"content"`
}

func toOpenAIMessages(instructions string, messages []llms.Message) []openAIMessage {
	var openAIMessages []openAIMessage
	if instructions != "" {
		openAIMessages = append(openAIMessages, openAIMessage{
			Role:    messageRoleSystem,
			Content: instructions,
		})
	}

	for _, message := range messages {
		role := messageRoleUser
		switch message.Role {
		case llms.RoleSystem:
			role = messageRoleSystem
		case llms.RoleAssistant:
			role = messageRoleAssistant
		case llms.RoleUser:
			role = messageRoleUser
		}

		if message.Content == "" {
			continue
		}

		openAIMessages = append(openAIMessages, openAIMessage{
			Role:    role,
			Content: message.Content,
		})
	}

	return openAIMessages
}

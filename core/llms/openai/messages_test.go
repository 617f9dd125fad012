package openai

import (
	"testing"

	"github.com/hotline-labs/hotline-core/core/llms"
)

func TestToOpenAIMessagesPrependsInstructions(t *testing.T) {
	messages := toOpenAIMessages("be brief", []llms.Message{
		{Role: llms.RoleUser, Content: "hello"},
		{Role: llms.RoleAssistant, Content: "hi there"},
	})

	if len(messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(messages))
	}
	if messages[0].Role != messageRoleSystem || messages[0].Content != "be brief" {
		t.Fatalf("expected system instructions first, got %+v", messages[0])
	}
	if messages[1].Role != messageRoleUser || messages[1].Content != "hello" {
		t.Fatalf("unexpected user message: %+v", messages[1])
	}
	if messages[2].Role != messageRoleAssistant || messages[2].Content != "hi there" {
		t.Fatalf("unexpected assistant message: %+v", messages[2])
	}
}

func TestToOpenAIMessagesSkipsEmptyContent(t *testing.T) {
	messages := toOpenAIMessages("", []llms.Message{
		{Role: llms.RoleUser, Content: ""},
		{Role: llms.RoleUser, Content: "still here"},
	})

	if len(messages) != 1 {
		t.Fatalf("expected empty messages to be dropped, got %d messages", len(messages))
	}
	if messages[0].Content != "still here" {
		t.Fatalf("unexpected surviving message: %+v", messages[0])
	}
}

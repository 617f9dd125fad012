package llms

// Role describes who a message is from.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single message in the prompt context sent to an LLM.
type Message struct {
	Role    Role
	Content string
}

package llmprovider

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// GenerateRequest contains the parameters for an LLM generation request.
type GenerateRequest struct {
	// Messages contains the conversation history.
	Messages []Message

	// Model is the model identifier (e.g., "claude-haiku-4-5-20251001")
	Model string

	// Params contains the request parameters. Provider adapters apply their
	// defaults to unset fields.
	Params *RequestParams
}

// Message is a single plain-text conversation turn.
type Message struct {
	Role    Role
	Content string
}

// NewUserMessage returns a user turn.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// NewAssistantMessage returns an assistant turn.
func NewAssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// Tools returns the request's declared tools, or nil.
func (r *GenerateRequest) Tools() []Tool {
	if r == nil || r.Params == nil {
		return nil
	}
	return r.Params.Tools
}

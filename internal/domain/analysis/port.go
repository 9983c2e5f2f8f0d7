package analysis

import "context"

// Message role constants mirror the chat-completion convention.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of the prompt sent to the model capability.
type Message struct {
	Role    string
	Content string
}

// Model port: one shot chat completion, fallible. Implementations must not
// retry; retry policy belongs to the caller's queue.
type Model interface {
	Complete(ctx context.Context, msgs []Message) (string, error)
}

// Observer port for the optional pre-analysis delegation step. The call is
// fire-and-forget: it returns nothing and its failure never affects the
// analysis result.
type Observer interface {
	Observe(ctx context.Context, query, text string)
}

// Extraction is the uniform output of the text-extraction capability.
type Extraction struct {
	Text  string
	Pages int
}

// TextExtractor port: given raw document bytes, return text and page count.
type TextExtractor interface {
	Extract(ctx context.Context, data []byte) (Extraction, error)
}

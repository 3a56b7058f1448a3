package llmgate

import (
	"encoding/json"
	"fmt"
)

// CompletionRequest is the inbound completion body. The gateway decodes it
// for validation and metering only; upstream receives the original bytes.
type CompletionRequest struct {
	Model     string    `json:"model"`
	Messages  []Message `json:"messages"`
	MaxTokens int       `json:"max_tokens"`
}

// Message represents a chat message. Content is either a string or an
// array of content blocks and is kept undecoded.
type Message struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// TextLen returns the number of text bytes in the message content.
// Non-text blocks count as zero.
func (m Message) TextLen() int {
	var text string
	if err := json.Unmarshal(m.Content, &text); err == nil {
		return len(text)
	}
	var blocks []contentBlock
	if err := json.Unmarshal(m.Content, &blocks); err != nil {
		return 0
	}
	n := 0
	for _, b := range blocks {
		n += len(b.Text)
	}
	return n
}

// Validate checks the fields the upstream API requires.
func (r CompletionRequest) Validate() error {
	if r.Model == "" {
		return invalidRequest("model is required")
	}
	if len(r.Messages) == 0 {
		return invalidRequest("at least one message is required")
	}
	if r.MaxTokens <= 0 {
		return invalidRequest("max_tokens must be positive")
	}
	return nil
}

func invalidRequest(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, msg)
}

// EstimatedPromptTokens gives a rough prompt size: ~4 chars per token plus
// per-message and per-request overhead.
func (r CompletionRequest) EstimatedPromptTokens() int64 {
	var total int64
	for _, m := range r.Messages {
		total += int64(m.TextLen())/4 + 4
	}
	return total + 3
}

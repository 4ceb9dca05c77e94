package llm

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// tokenCounter estimates usage when the backend omits it. Encoders are
// cached per encoding.
type tokenCounter struct {
	mu       sync.Mutex
	encoders map[string]*tiktoken.Tiktoken
}

func newTokenCounter() *tokenCounter {
	return &tokenCounter{encoders: make(map[string]*tiktoken.Tiktoken)}
}

// count returns the token count of text for model. Models without a known
// encoding fall back to roughly four characters per token.
func (c *tokenCounter) count(model, text string) int {
	if text == "" {
		return 0
	}
	if enc := c.encoder(model); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return (len([]rune(text)) + 3) / 4
}

// countMessages follows the chat format overhead of three tokens per message
// plus three for the reply primer.
func (c *tokenCounter) countMessages(model string, messages []Message) int {
	total := 3
	for _, m := range messages {
		total += 3 + c.count(model, m.Role) + c.count(model, m.Content)
	}
	return total
}

func (c *tokenCounter) encoder(model string) *tiktoken.Tiktoken {
	encoding := encodingForModel(model)
	if encoding == "" {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if enc, ok := c.encoders[encoding]; ok {
		return enc
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil
	}
	c.encoders[encoding] = enc
	return enc
}

func encodingForModel(model string) string {
	if idx := strings.LastIndex(model, "/"); idx >= 0 {
		model = model[idx+1:]
	}
	switch {
	case strings.HasPrefix(model, "gpt-4o"),
		strings.HasPrefix(model, "gpt-4.1"),
		strings.HasPrefix(model, "o1"),
		strings.HasPrefix(model, "o3"),
		strings.HasPrefix(model, "o4"):
		return "o200k_base"
	case strings.HasPrefix(model, "gpt-4"),
		strings.HasPrefix(model, "gpt-3.5"):
		return "cl100k_base"
	default:
		return ""
	}
}

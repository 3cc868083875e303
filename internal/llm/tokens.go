package llm

import (
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

var (
	codec     tokenizer.Codec
	codecOnce sync.Once
	codecErr  error
)

// getCodec returns the cl100k_base tokenizer, a reasonable approximation
// for the gateway's hosted models.
func getCodec() (tokenizer.Codec, error) {
	codecOnce.Do(func() {
		codec, codecErr = tokenizer.Get(tokenizer.Cl100kBase)
	})
	return codec, codecErr
}

// EstimateTokens returns an approximate token count for text, or 0 when the
// tokenizer is unavailable.
func EstimateTokens(text string) int {
	c, err := getCodec()
	if err != nil {
		return 0
	}
	ids, _, err := c.Encode(text)
	if err != nil {
		return 0
	}
	return len(ids)
}

// TruncateToTokens trims text to at most maxTokens tokens. Used to bound
// the file context attached to chat requests so one large file cannot blow
// the model's context window.
func TruncateToTokens(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return text
	}
	c, err := getCodec()
	if err != nil {
		return text
	}
	ids, _, err := c.Encode(text)
	if err != nil || len(ids) <= maxTokens {
		return text
	}
	truncated, err := c.Decode(ids[:maxTokens])
	if err != nil {
		return text
	}
	return truncated
}

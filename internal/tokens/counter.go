// Package tokens counts prompt tokens for ownership records.
package tokens

import (
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

// charsPerToken is the fallback estimate when no codec is available.
const charsPerToken = 4.0

// Counter counts tokens with a tiktoken encoding. The codec is loaded lazily.
// The count is an approximation for non-OpenAI vendors.
type Counter struct {
	encoding tokenizer.Encoding

	once  sync.Once
	codec tokenizer.Codec
	err   error
}

// NewCounter creates a Counter using cl100k_base.
func NewCounter() *Counter {
	return &Counter{encoding: tokenizer.Cl100kBase}
}

func (c *Counter) load() (tokenizer.Codec, error) {
	c.once.Do(func() {
		c.codec, c.err = tokenizer.Get(c.encoding)
	})
	return c.codec, c.err
}

// Count returns the token count of text. It never fails; when the codec is
// unavailable the count is estimated from the text length.
func (c *Counter) Count(text string) int {
	if text == "" {
		return 0
	}
	codec, err := c.load()
	if err == nil {
		if ids, _, err := codec.Encode(text); err == nil {
			return len(ids)
		}
	}
	return Estimate(text)
}

// Estimate approximates the token count from the character count.
func Estimate(text string) int {
	n := int(float64(len(text))/charsPerToken + 0.5)
	if n == 0 && text != "" {
		n = 1
	}
	return n
}

// Package tokens estimates prompt sizes for request accounting.
package tokens

import (
	"fmt"
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

// Counter counts tokens in a plain text string.
type Counter interface {
	Count(text string) int
}

// TiktokenCounter counts tokens with a BPE encoding. Local models do not
// publish their vocabularies, so cl100k_base is used as a stable proxy.
type TiktokenCounter struct {
	encoding tokenizer.Encoding

	once  sync.Once
	codec tokenizer.Codec
	err   error

	fallback *Estimator
}

// NewTiktokenCounter creates a counter for the given encoding. An empty
// encoding selects cl100k_base.
func NewTiktokenCounter(encoding tokenizer.Encoding) *TiktokenCounter {
	if encoding == "" {
		encoding = tokenizer.Cl100kBase
	}
	return &TiktokenCounter{encoding: encoding, fallback: NewEstimator()}
}

// getCodec loads the codec once; later calls reuse it.
func (c *TiktokenCounter) getCodec() (tokenizer.Codec, error) {
	c.once.Do(func() {
		c.codec, c.err = tokenizer.Get(c.encoding)
		if c.err != nil {
			c.err = fmt.Errorf("failed to get tokenizer encoding: %w", c.err)
		}
	})
	return c.codec, c.err
}

// Count returns the number of tokens in text. When the encoding cannot be
// loaded or encoding fails, the character estimate is returned instead.
func (c *TiktokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	codec, err := c.getCodec()
	if err != nil {
		return c.fallback.Count(text)
	}
	ids, _, err := codec.Encode(text)
	if err != nil {
		return c.fallback.Count(text)
	}
	return len(ids)
}

// Estimator provides token count estimation based on character length.
type Estimator struct {
	// CharsPerToken is the average characters per token (default: 4)
	CharsPerToken float64
}

// NewEstimator creates a new token estimator.
func NewEstimator() *Estimator {
	return &Estimator{
		CharsPerToken: 4.0,
	}
}

// Count estimates the token count, rounding up so non-empty text is never 0.
func (e *Estimator) Count(text string) int {
	if text == "" {
		return 0
	}
	n := int(float64(len(text))/e.CharsPerToken + 0.999)
	if n < 1 {
		n = 1
	}
	return n
}

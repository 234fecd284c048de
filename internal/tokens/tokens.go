// Package tokens provides token estimation for prompt budgeting.
// The word estimator is canonical; tiktoken-go replaces it for backends
// whose tokenizer is known.
package tokens

import (
	"math"
	"sync"
	"unicode"

	"github.com/pkoukk/tiktoken-go"
)

// Estimator counts tokens in text. Implementations must be monotone:
// a longer prefix of a text never counts fewer tokens.
type Estimator interface {
	Count(text string) int
}

// WordEstimator is the canonical estimator: ceil(words * 1.3), where a
// word is a maximal run of letters or digits.
type WordEstimator struct{}

// Count returns the estimated token count.
func (WordEstimator) Count(text string) int {
	return int(math.Ceil(float64(Words(text)) * 1.3))
}

// Words counts maximal runs of letters and digits.
func Words(text string) int {
	n := 0
	inWord := false
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if !inWord {
				n++
				inWord = true
			}
			continue
		}
		inWord = false
	}
	return n
}

// Default is the canonical estimator.
var Default Estimator = WordEstimator{}

// Count estimates tokens with the canonical estimator.
func Count(text string) int {
	return Default.Count(text)
}

// Tiktoken counts with a BPE encoding (cl100k_base by default), falling
// back to the word estimator when the encoding cannot be loaded.
type Tiktoken struct {
	Encoding string

	enc  *tiktoken.Tiktoken
	once sync.Once
	err  error
}

// NewTiktoken returns a counter for the named encoding.
func NewTiktoken(encoding string) *Tiktoken {
	if encoding == "" {
		encoding = "cl100k_base"
	}
	return &Tiktoken{Encoding: encoding}
}

// Count returns the number of BPE tokens in text.
func (c *Tiktoken) Count(text string) int {
	c.init()
	if c.err != nil || c.enc == nil {
		return WordEstimator{}.Count(text)
	}
	return len(c.enc.Encode(text, nil, nil))
}

// Err reports why the encoding could not be loaded, if it failed.
func (c *Tiktoken) Err() error {
	c.init()
	return c.err
}

func (c *Tiktoken) init() {
	c.once.Do(func() {
		c.enc, c.err = tiktoken.GetEncoding(c.Encoding)
	})
}

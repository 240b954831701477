// Package tokens estimates how many tokens a text occupies, using the
// cl100k_base encoding shared by the GPT-4 family and close enough for the
// other vendors' context-window checks.
package tokens

import (
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"

	"github.com/leofalp/aimux/providers/ai"
)

// Encoding is the tiktoken encoding used for every model.
const Encoding = "cl100k_base"

// perMessageOverhead approximates role and formatting tokens per message.
const perMessageOverhead = 4

// encodeFunc turns text into token ids.
type encodeFunc func(text string) []int

// Counter counts tokens. The encoding is loaded on first use; when it cannot
// be loaded (offline, no cached BPE file) counts fall back to one token per
// four characters.
type Counter struct {
	once   sync.Once
	load   func() (encodeFunc, error)
	encode encodeFunc
	err    error
}

// NewCounter returns a Counter using the cl100k_base encoding.
func NewCounter() *Counter {
	return &Counter{load: loadTiktoken}
}

func loadTiktoken() (encodeFunc, error) {
	enc, err := tiktoken.GetEncoding(Encoding)
	if err != nil {
		return nil, err
	}
	return func(text string) []int {
		return enc.Encode(text, nil, nil)
	}, nil
}

var defaultCounter = NewCounter()

// Count uses the process-wide counter.
func Count(text string) int {
	return defaultCounter.Count(text)
}

// Count returns the number of tokens in text.
func (c *Counter) Count(text string) int {
	if text == "" {
		return 0
	}
	c.init()
	if c.encode == nil {
		return Estimate(text)
	}
	return len(c.encode(text))
}

// CountMessages totals the tokens of a conversation, including tool calls
// and a fixed per-message overhead.
func (c *Counter) CountMessages(messages []ai.Message) int {
	total := 0
	for _, message := range messages {
		total += perMessageOverhead + c.Count(message.Content)
		for _, call := range message.ToolCalls {
			total += c.Count(call.Function.Name) + c.Count(call.Function.Arguments)
		}
	}
	return total
}

// Exact reports whether counts come from the real encoding.
func (c *Counter) Exact() bool {
	c.init()
	return c.encode != nil
}

func (c *Counter) init() {
	c.once.Do(func() {
		if c.load == nil {
			c.load = loadTiktoken
		}
		c.encode, c.err = c.load()
	})
}

// Estimate is the four-characters-per-token heuristic, rounded up.
func Estimate(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + 3) / 4
}

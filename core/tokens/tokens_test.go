package tokens

import (
	"errors"
	"strings"
	"testing"

	"github.com/leofalp/aimux/providers/ai"
)

func wordCounter() *Counter {
	return &Counter{load: func() (encodeFunc, error) {
		return func(text string) []int {
			return make([]int, len(strings.Fields(text)))
		}, nil
	}}
}

func TestCounter_UsesEncoding(t *testing.T) {
	c := wordCounter()
	if got := c.Count("one two three"); got != 3 {
		t.Errorf("Count() = %d, want 3", got)
	}
	if !c.Exact() {
		t.Error("Exact() = false with a loaded encoding")
	}
}

func TestCounter_FallsBackWhenLoadFails(t *testing.T) {
	loads := 0
	c := &Counter{load: func() (encodeFunc, error) {
		loads++
		return nil, errors.New("offline")
	}}

	if got := c.Count("abcdefgh"); got != 2 {
		t.Errorf("Count() = %d, want 2", got)
	}
	if got := c.Count("abcde"); got != 2 {
		t.Errorf("Count() = %d, want 2 (rounded up)", got)
	}
	if c.Exact() {
		t.Error("Exact() = true after failed load")
	}
	if loads != 1 {
		t.Errorf("encoding loaded %d times, want 1", loads)
	}
}

func TestCounter_Empty(t *testing.T) {
	c := &Counter{load: func() (encodeFunc, error) {
		t.Fatal("empty text must not load the encoding")
		return nil, nil
	}}
	if got := c.Count(""); got != 0 {
		t.Errorf("Count(\"\") = %d", got)
	}
}

func TestCountMessages(t *testing.T) {
	c := wordCounter()
	messages := []ai.Message{
		{Role: ai.RoleUser, Content: "what is the weather"},
		{Role: ai.RoleAssistant, ToolCalls: []ai.ToolCall{{
			Function: ai.ToolCallFunction{Name: "weather", Arguments: `{"city": "Rome"}`},
		}}},
	}
	// 4+4 overhead, 4 content words, 1 name, 2 argument fields
	if got := c.CountMessages(messages); got != 15 {
		t.Errorf("CountMessages() = %d, want 15", got)
	}
}

func TestEstimate(t *testing.T) {
	tests := map[string]int{
		"":         0,
		"a":        1,
		"abcd":     1,
		"abcde":    2,
		"héllo wö": 2,
	}
	for text, want := range tests {
		if got := Estimate(text); got != want {
			t.Errorf("Estimate(%q) = %d, want %d", text, got, want)
		}
	}
}

package ai

import (
	"encoding/json"
	"errors"
	"iter"
	"testing"
)

// makeStream is a test helper that builds a ChatStream from a hand-crafted event
// slice. If midErr is non-nil the error is yielded at errAtIndex instead of the event.
func makeStream(events []StreamEvent, midErr error, errAtIndex int) *ChatStream {
	iteratorFunc := func(yield func(StreamEvent, error) bool) {
		for i, event := range events {
			if midErr != nil && i == errAtIndex {
				yield(StreamEvent{}, midErr)
				return
			}
			if !yield(event, nil) {
				return
			}
		}
	}
	return NewChatStream(iter.Seq2[StreamEvent, error](iteratorFunc))
}

// TestNewSingleEventStream_ContentOnly verifies that a response with only Content
// produces a content event followed by a done event.
func TestNewSingleEventStream_ContentOnly(t *testing.T) {
	stream := NewSingleEventStream(&ChatResponse{Content: "hello world", FinishReason: "stop"})

	var collected []StreamEvent
	for event, err := range stream.Iter() {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		collected = append(collected, event)
	}

	if len(collected) != 2 {
		t.Fatalf("expected 2 events (content + done), got %d", len(collected))
	}
	if collected[0].Type != StreamEventContent || collected[0].Content != "hello world" {
		t.Errorf("unexpected first event: %+v", collected[0])
	}
	if collected[1].Type != StreamEventDone || collected[1].FinishReason != "stop" {
		t.Errorf("unexpected last event: %+v", collected[1])
	}
}

// TestCollect_AccumulatesParts verifies content, usage and tool call fragments
// are merged into a single response.
func TestCollect_AccumulatesParts(t *testing.T) {
	stream := makeStream([]StreamEvent{
		{Type: StreamEventContent, Content: "Hel"},
		{Type: StreamEventContent, Content: "lo"},
		{Type: StreamEventToolCall, ToolCall: &ToolCallDelta{Index: 0, ID: "call_1", Name: "lookup"}},
		{Type: StreamEventToolCall, ToolCall: &ToolCallDelta{Index: 0, Arguments: `{"q":`}},
		{Type: StreamEventToolCall, ToolCall: &ToolCallDelta{Index: 0, Arguments: `"go"}`}},
		{Type: StreamEventUsage, Usage: &Usage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5}},
		{Type: StreamEventDone, FinishReason: "tool_calls"},
	}, nil, -1)

	response, err := stream.Collect()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if response.Content != "Hello" {
		t.Errorf("expected content %q, got %q", "Hello", response.Content)
	}
	if len(response.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(response.ToolCalls))
	}
	if response.ToolCalls[0].Function.Arguments != `{"q":"go"}` {
		t.Errorf("unexpected arguments %q", response.ToolCalls[0].Function.Arguments)
	}
	if response.Usage == nil || response.Usage.TotalTokens != 5 {
		t.Errorf("expected usage total 5, got %+v", response.Usage)
	}
	if response.FinishReason != "tool_calls" {
		t.Errorf("expected finish reason tool_calls, got %q", response.FinishReason)
	}
}

// TestCollect_MidStreamError verifies a partial response is returned with the error.
func TestCollect_MidStreamError(t *testing.T) {
	boom := errors.New("connection reset")
	stream := makeStream([]StreamEvent{
		{Type: StreamEventContent, Content: "partial"},
		{Type: StreamEventContent, Content: "never"},
	}, boom, 1)

	response, err := stream.Collect()
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if response.Content != "partial" {
		t.Errorf("expected partial content, got %q", response.Content)
	}
}

func TestRepairArguments(t *testing.T) {
	tests := []struct {
		name  string
		input string
		valid bool
	}{
		{name: "empty becomes object", input: "", valid: true},
		{name: "valid passes through", input: `{"a":1}`, valid: true},
		{name: "single quotes repaired", input: `{'a': 1}`, valid: true},
		{name: "truncated object repaired", input: `{"a": "b"`, valid: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RepairArguments(tt.input)
			if json.Valid([]byte(got)) != tt.valid {
				t.Errorf("RepairArguments(%q) = %q, valid=%v", tt.input, got, !tt.valid)
			}
		})
	}
}

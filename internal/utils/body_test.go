package utils

import (
	"testing"

	"github.com/tidwall/gjson"
)

func TestMarshalWithExtraBody(t *testing.T) {
	body := map[string]any{"model": "m", "stream": true, "temperature": 0.5}

	testCases := []struct {
		name  string
		extra map[string]any
		check func(t *testing.T, encoded []byte)
	}{
		{
			name:  "no extra leaves body untouched",
			extra: nil,
			check: func(t *testing.T, encoded []byte) {
				if gjson.GetBytes(encoded, "model").String() != "m" {
					t.Errorf("model missing: %s", encoded)
				}
			},
		},
		{
			name:  "nested path is created",
			extra: map[string]any{"thinking.type": "enabled"},
			check: func(t *testing.T, encoded []byte) {
				if got := gjson.GetBytes(encoded, "thinking.type").String(); got != "enabled" {
					t.Errorf("thinking.type = %q", got)
				}
			},
		},
		{
			name:  "existing field is overridden",
			extra: map[string]any{"temperature": 1},
			check: func(t *testing.T, encoded []byte) {
				if got := gjson.GetBytes(encoded, "temperature").Float(); got != 1 {
					t.Errorf("temperature = %v", got)
				}
			},
		},
		{
			name:  "nil deletes the field",
			extra: map[string]any{"temperature": nil},
			check: func(t *testing.T, encoded []byte) {
				if gjson.GetBytes(encoded, "temperature").Exists() {
					t.Errorf("temperature should be deleted: %s", encoded)
				}
				if !gjson.GetBytes(encoded, "stream").Bool() {
					t.Errorf("other fields must survive: %s", encoded)
				}
			},
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			encoded, err := MarshalWithExtraBody(body, testCase.extra)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			testCase.check(t, encoded)
		})
	}
}

func TestShortHash(t *testing.T) {
	if ShortHash("") != "" {
		t.Errorf("empty input should hash to empty string")
	}
	first := ShortHash("sk-secret")
	if len(first) != 16 {
		t.Errorf("expected 16 hex chars, got %q", first)
	}
	if first != ShortHash("sk-secret") {
		t.Errorf("hash must be deterministic")
	}
	if first == ShortHash("sk-other") {
		t.Errorf("different inputs should hash differently")
	}
}

package observability

import (
	"errors"
	"testing"
	"time"
)

func TestAttributeConstructors(t *testing.T) {
	testCases := []struct {
		name      string
		attr      Attribute
		wantKey   string
		wantValue any
	}{
		{"string", String(AttrProvider, "openai"), AttrProvider, "openai"},
		{"int", Int(AttrModelCount, 3), AttrModelCount, 3},
		{"int64", Int64("n", 7), "n", int64(7)},
		{"float64", Float64("f", 0.5), "f", 0.5},
		{"bool", Bool(AttrSilent, true), AttrSilent, true},
		{"duration", Duration(AttrRetryDelay, time.Second), AttrRetryDelay, time.Second},
		{"error", Error(errors.New("boom")), AttrError, "boom"},
		{"nil error", Error(nil), AttrError, ""},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			if testCase.attr.Key != testCase.wantKey {
				t.Errorf("Key = %q, want %q", testCase.attr.Key, testCase.wantKey)
			}
			if testCase.attr.Value != testCase.wantValue {
				t.Errorf("Value = %v, want %v", testCase.attr.Value, testCase.wantValue)
			}
		})
	}
}

func TestStatusCode_Values(t *testing.T) {
	if StatusUnset != 0 || StatusOK != 1 || StatusError != 2 {
		t.Errorf("unexpected status code values: %d %d %d", StatusUnset, StatusOK, StatusError)
	}
}

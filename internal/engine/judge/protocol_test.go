package judge

import (
	"encoding/json"
	"testing"

	"unremark/internal/core/errors"
	"unremark/internal/engine/parser"
)

func TestParseAnswer(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		line    int
		label   parser.Label
		conf    float64
		code    errors.ErrorCode
	}{
		{name: "redundant", payload: chatBody(`{"is_redundant": true, "confidence": 0.6}`), label: parser.LabelRedundant, conf: 0.6},
		{name: "useful default confidence", payload: chatBody(`{"is_redundant": false, "explanation": "why"}`), label: parser.LabelUseful, conf: 1},
		{name: "fenced", payload: chatBody("```json\n{\"is_redundant\": true}\n```"), label: parser.LabelRedundant, conf: 1},
		{name: "clamped", payload: chatBody(`{"is_redundant": true, "confidence": 7}`), label: parser.LabelRedundant, conf: 1},
		{name: "line matches", payload: chatBody(`{"is_redundant": true, "comment_line_number": 4}`), line: 4, label: parser.LabelRedundant, conf: 1},
		{name: "line mismatch", payload: chatBody(`{"is_redundant": true, "comment_line_number": 9}`), line: 4, code: errors.CodeJudgeMalformed},
		{name: "not json", payload: `<html>`, code: errors.CodeJudgeMalformed},
		{name: "no choices", payload: `{"choices": []}`, code: errors.CodeJudgeMalformed},
		{name: "string bool", payload: chatBody(`{"is_redundant": "yes"}`), code: errors.CodeJudgeMalformed},
		{name: "string confidence", payload: chatBody(`{"is_redundant": true, "confidence": "high"}`), code: errors.CodeJudgeMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := parseAnswer([]byte(tt.payload), tt.line)
			if tt.code != "" {
				if !errors.IsCode(err, tt.code) {
					t.Fatalf("expected %s, got %v", tt.code, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if e.Label != tt.label || e.Confidence != tt.conf {
				t.Fatalf("got %s/%v, want %s/%v", e.Label, e.Confidence, tt.label, tt.conf)
			}
		})
	}
}

func TestBuildChatRequest(t *testing.T) {
	raw, err := buildChatRequest("m", 0, sampleRequest())
	if err != nil {
		t.Fatal(err)
	}
	var decoded chatRequest
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.Model != "m" || len(decoded.Messages) != 2 || decoded.ResponseFormat.Type != "json_object" {
		t.Fatalf("unexpected request: %+v", decoded)
	}
}

package judge

import (
	"encoding/json"
	"fmt"
	"strings"

	"unremark/internal/core/errors"
	"unremark/internal/core/ports"
	"unremark/internal/engine/parser"

	"github.com/tidwall/gjson"
)

const systemPrompt = `You review source code comments. A comment is redundant when everything it says ` +
	`can be recovered from the names and structure of the code it is attached to. A comment that ` +
	`explains intent, constraints, non-obvious behaviour or references is not redundant. ` +
	`Answer with a JSON object: {"is_redundant": bool, "confidence": number between 0 and 1, ` +
	`"comment_line_number": number, "explanation": string}.`

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	Temperature    float64        `json:"temperature"`
	ResponseFormat responseFormat `json:"response_format"`
}

func buildChatRequest(model string, temperature float64, req ports.JudgeRequest) ([]byte, error) {
	user := fmt.Sprintf(
		"Language: %s\nComment (line %d):\n%s\n\nConstruct signature:\n%s\n\nCode context:\n%s\n",
		req.Language, req.Line, req.Text, req.Signature, req.Context,
	)
	body := chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: user},
		},
		Temperature:    temperature,
		ResponseFormat: responseFormat{Type: "json_object"},
	}
	return json.Marshal(body)
}

// parseAnswer extracts the verdict from a chat-completions response body.
// The model's JSON may arrive wrapped in a markdown fence.
func parseAnswer(payload []byte, line int) (Entry, error) {
	if !gjson.ValidBytes(payload) {
		return Entry{}, errors.New(errors.CodeJudgeMalformed, "response body is not JSON")
	}
	content := gjson.GetBytes(payload, "choices.0.message.content")
	if !content.Exists() || content.Type != gjson.String {
		return Entry{}, errors.New(errors.CodeJudgeMalformed, "response has no message content")
	}

	raw := stripFence(content.String())
	if !gjson.Valid(raw) {
		return Entry{}, errors.New(errors.CodeJudgeMalformed, "message content is not JSON")
	}
	answer := gjson.Parse(raw)

	redundant := answer.Get("is_redundant")
	if redundant.Type != gjson.True && redundant.Type != gjson.False {
		return Entry{}, errors.New(errors.CodeJudgeMalformed, "answer lacks boolean is_redundant")
	}
	if ln := answer.Get("comment_line_number"); ln.Exists() && line > 0 && int(ln.Int()) != line {
		return Entry{}, errors.AddContext(
			errors.New(errors.CodeJudgeMalformed, "answer refers to a different comment line"),
			errors.CtxLine, ln.Int(),
		)
	}

	conf := 1.0
	if c := answer.Get("confidence"); c.Exists() {
		if c.Type != gjson.Number {
			return Entry{}, errors.New(errors.CodeJudgeMalformed, "confidence is not a number")
		}
		conf = min(max(c.Float(), 0), 1)
	}

	label := parser.LabelUseful
	if redundant.Bool() {
		label = parser.LabelRedundant
	}
	return Entry{
		Label:       label,
		Confidence:  conf,
		Explanation: answer.Get("explanation").String(),
	}, nil
}

func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

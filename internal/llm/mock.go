package llm

import (
	"context"
	"strings"
)

// MockClient produces deterministic supportive replies for local use when
// no completion endpoint is configured.
type MockClient struct{}

func NewMockClient() *MockClient { return &MockClient{} }

func (c *MockClient) Complete(ctx context.Context, req CompletionRequest, onDelta DeltaHandler) (CompletionResponse, error) {
	select {
	case <-ctx.Done():
		return CompletionResponse{}, ctx.Err()
	default:
	}

	text := mockReply(req.Prompt)
	if onDelta != nil && text != "" {
		if err := onDelta(text); err != nil {
			return CompletionResponse{}, err
		}
	}
	return CompletionResponse{Text: text}, nil
}

func mockReply(prompt string) string {
	// Echo only the final user line so the reply stays plausibly short.
	last := ""
	for _, line := range strings.Split(prompt, "\n") {
		line = strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(line, "user: "); ok {
			last = strings.TrimSpace(rest)
		}
	}
	if last == "" {
		return "今日もよく頑張りましたね。あなたの毎日の積み重ねは、ちゃんと届いていますよ。"
	}
	return "「" + last + "」って話してくれてありがとう。そんな中でもちゃんと向き合っているあなたは、本当に頑張っていますよ。"
}

package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sodafloatlab/homebiyori-chat/internal/history"
)

const (
	summaryMaxTokens      = 256
	defaultSummaryTimeout = 10 * time.Second
)

// Summarizer folds turns into a running summary using the completion
// client. It satisfies the conversation package's Summarizer contract.
type Summarizer struct {
	client  Client
	timeout time.Duration
}

func NewSummarizer(client Client, timeout time.Duration) *Summarizer {
	if timeout <= 0 {
		timeout = defaultSummaryTimeout
	}
	return &Summarizer{client: client, timeout: timeout}
}

func (s *Summarizer) Summarize(ctx context.Context, priorSummary string, turns []history.Turn) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var b strings.Builder
	b.WriteString("以下は子育て相談チャットの会話記録です。後で会話の文脈として使えるよう、重要な事実・相談内容・話の流れを300文字以内の日本語で要約してください。要約本文のみを出力してください。\n")
	if strings.TrimSpace(priorSummary) != "" {
		b.WriteString("\nこれまでの要約:\n")
		b.WriteString(strings.TrimSpace(priorSummary))
		b.WriteString("\n")
	}
	b.WriteString("\n新しい会話:\n")
	for _, t := range turns {
		fmt.Fprintf(&b, "%s: %s\n", t.Role, t.Text)
	}

	resp, err := s.client.Complete(ctx, CompletionRequest{
		Prompt:    b.String(),
		MaxTokens: summaryMaxTokens,
	}, nil)
	if err != nil {
		return "", fmt.Errorf("summarize %d turns: %w", len(turns), err)
	}

	summary := strings.TrimSpace(resp.Text)
	if summary == "" {
		return "", fmt.Errorf("summarize %d turns: %w: empty summary", len(turns), ErrModelError)
	}
	return summary, nil
}

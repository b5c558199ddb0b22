package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sodafloatlab/homebiyori-chat/internal/reliability"
)

const defaultModel = "gpt-4o-mini"

// HTTPClient speaks the OpenAI-compatible chat-completions wire format.
// Deadlines come from the caller's context; the client adds none of its
// own so a single timeout policy governs the whole invocation.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

func NewHTTPClient(baseURL, apiKey, model string) *HTTPClient {
	if strings.TrimSpace(model) == "" {
		model = defaultModel
	}
	return &HTTPClient{
		baseURL:    strings.TrimSuffix(strings.TrimSpace(baseURL), "/"),
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
	User        string        `json:"user,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type chatChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

func (c *HTTPClient) Complete(ctx context.Context, req CompletionRequest, onDelta DeltaHandler) (CompletionResponse, error) {
	body := chatRequest{
		Model:       c.model,
		Messages:    []chatMessage{{Role: "user", Content: req.Prompt}},
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stream:      onDelta != nil,
		User:        req.ConversationKey,
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return CompletionResponse{}, fmt.Errorf("%w: marshal request: %v", ErrModelError, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return CompletionResponse{}, fmt.Errorf("%w: build request: %v", ErrModelError, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return CompletionResponse{}, fmt.Errorf("%w: %v", ErrModelTimeout, err)
		}
		return CompletionResponse{}, fmt.Errorf("%w: %v", ErrModelError, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		if reliability.RetryableStatus(resp.StatusCode) {
			return CompletionResponse{}, fmt.Errorf("%w: retryable status %d: %s", ErrModelError, resp.StatusCode, strings.TrimSpace(string(detail)))
		}
		return CompletionResponse{}, fmt.Errorf("%w: status %d: %s", ErrModelError, resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	if onDelta != nil {
		return c.consumeStream(ctx, resp.Body, onDelta)
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return CompletionResponse{}, fmt.Errorf("%w: decode response: %v", ErrModelError, err)
	}
	if len(out.Choices) == 0 {
		return CompletionResponse{}, fmt.Errorf("%w: response has no choices", ErrModelError)
	}
	return CompletionResponse{Text: out.Choices[0].Message.Content}, nil
}

func (c *HTTPClient) consumeStream(ctx context.Context, body io.Reader, onDelta DeltaHandler) (CompletionResponse, error) {
	var full strings.Builder
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return CompletionResponse{}, fmt.Errorf("%w: %v", ErrModelTimeout, ctx.Err())
			}
			return CompletionResponse{}, ctx.Err()
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			break
		}

		var chunk chatChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		full.WriteString(delta)
		if err := onDelta(delta); err != nil {
			return CompletionResponse{}, err
		}
	}
	if err := scanner.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return CompletionResponse{}, fmt.Errorf("%w: %v", ErrModelTimeout, err)
		}
		return CompletionResponse{}, fmt.Errorf("%w: read stream: %v", ErrModelError, err)
	}

	return CompletionResponse{Text: full.String()}, nil
}

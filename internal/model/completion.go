package model

import "fmt"

// Message is one chat message in a completion request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is the payload sent to the upstream completion API.
type CompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int32     `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
}

// TokenUsage is the token accounting reported by the upstream API.
type TokenUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// Choice is one completion alternative in an upstream response.
type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// CompletionResponse is the upstream completion API response.
type CompletionResponse struct {
	ID      string     `json:"id"`
	Model   string     `json:"model"`
	Choices []Choice   `json:"choices"`
	Usage   TokenUsage `json:"usage"`
}

// UpstreamError is a failure reported by the upstream completion API. The
// HTTP status, when present, drives error categorization; status 0 means the
// request failed before a response was received.
type UpstreamError struct {
	StatusCode int
	Message    string
}

// Error implements the error interface.
func (e *UpstreamError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("upstream error (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("upstream error: %s", e.Message)
}

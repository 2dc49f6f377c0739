// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// openAIBaseURL is the default OpenAI-compatible API root. Package-level var
// for test substitution; AIConfig.BaseURL overrides it per backend.
var openAIBaseURL = "https://api.openai.com/v1"

// OpenAIBackend calls any OpenAI-compatible chat completions endpoint.
type OpenAIBackend struct {
	APIKey  string
	Model   string
	BaseURL string

	// Temperature is sent as-is; zero leaves the server default.
	Temperature float64

	Client *http.Client
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Complete posts prompt as a user message to <base>/chat/completions and
// returns the first choice.
func (o *OpenAIBackend) Complete(ctx context.Context, prompt string) (string, error) {
	base := o.BaseURL
	if base == "" {
		base = openAIBaseURL
	}
	url := strings.TrimRight(base, "/") + "/chat/completions"

	bodyBytes, err := json.Marshal(chatRequest{
		Model:       o.Model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: o.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.APIKey)

	client := o.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling chat completions API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &StatusError{API: "chat completions API", Status: resp.StatusCode, Body: string(body)}
	}

	var cResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cResp); err != nil {
		return "", fmt.Errorf("decoding chat completions response: %w", err)
	}
	if len(cResp.Choices) == 0 || strings.TrimSpace(cResp.Choices[0].Message.Content) == "" {
		return "", ErrEmptyResponse
	}
	return cResp.Choices[0].Message.Content, nil
}

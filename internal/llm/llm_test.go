// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/terafinder/pkg/types"
)

func TestMain(m *testing.M) {
	// Override backoff to avoid real sleeps in retry tests.
	backoffBase = time.Millisecond
	os.Exit(m.Run())
}

// failNTimes fails the first N calls, then returns reply.
type failNTimes struct {
	failures int
	calls    int
	reply    string
}

func (f *failNTimes) Complete(_ context.Context, _ string) (string, error) {
	f.calls++
	if f.calls <= f.failures {
		return "", fmt.Errorf("transient error (call %d)", f.calls)
	}
	return f.reply, nil
}

func TestRetrying(t *testing.T) {
	tests := []struct {
		name      string
		failures  int
		retries   int
		wantErr   bool
		wantCalls int
	}{
		{"succeeds first try", 0, 3, false, 1},
		{"succeeds after two failures", 2, 3, false, 3},
		{"exhausts retries", 5, 2, true, 3},
		{"default retries", 10, 0, true, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &failNTimes{failures: tt.failures, reply: "ok"}
			r := &Retrying{Model: m, MaxRetries: tt.retries}

			out, err := r.Complete(context.Background(), "p")
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "transient error")
			} else {
				require.NoError(t, err)
				assert.Equal(t, "ok", out)
			}
			assert.Equal(t, tt.wantCalls, m.calls)
		})
	}
}

func TestRetryingStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	m := ModelFunc(func(context.Context, string) (string, error) {
		calls++
		cancel()
		return "", errors.New("boom")
	})

	_, err := (&Retrying{Model: m, MaxRetries: 5}).Complete(ctx, "p")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestRetryingSkipsClientErrors(t *testing.T) {
	tests := []struct {
		status    int
		wantCalls int
	}{
		{http.StatusBadRequest, 1},
		{http.StatusUnauthorized, 1},
		{http.StatusForbidden, 1},
		{http.StatusNotFound, 1},
		{http.StatusRequestTimeout, 4},
		{http.StatusTooManyRequests, 4},
		{http.StatusInternalServerError, 4},
		{529, 4},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			calls := 0
			m := ModelFunc(func(context.Context, string) (string, error) {
				calls++
				return "", &StatusError{API: "Claude API", Status: tt.status, Body: "nope"}
			})

			_, err := (&Retrying{Model: m, MaxRetries: 3}).Complete(context.Background(), "p")
			var se *StatusError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, tt.status, se.Status)
			assert.Equal(t, tt.wantCalls, calls)
		})
	}
}

func TestClaudeBadKeyIsNotRetried(t *testing.T) {
	calls := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":"invalid x-api-key"}`)
	}))
	defer ts.Close()

	old := claudeAPIURL
	claudeAPIURL = ts.URL
	defer func() { claudeAPIURL = old }()

	m, err := New(types.AIConfig{Backend: types.BackendAnthropic, MaxRetries: 3}, "bad", ts.Client())
	require.NoError(t, err)
	_, err = m.Complete(context.Background(), "p")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Claude API returned 401")
	assert.Equal(t, 1, calls)
}

func TestDecodeJSON(t *testing.T) {
	type reply struct {
		Reasoning  string `json:"reasoning"`
		Conclusion string `json:"conclusion"`
	}

	tests := []struct {
		name    string
		text    string
		want    reply
		wantErr error
	}{
		{
			name: "bare object",
			text: `{"reasoning":"r","conclusion":"c"}`,
			want: reply{"r", "c"},
		},
		{
			name: "code fence and prose",
			text: "Here you go:\n```json\n{\"reasoning\": \"r\", \"conclusion\": \"c\"}\n```\nThanks.",
			want: reply{"r", "c"},
		},
		{
			name:    "no object",
			text:    "REASONING: none",
			wantErr: ErrNoJSON,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got reply
			err := DecodeJSON(tt.text, &got)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCompleteJSONPropagatesModelError(t *testing.T) {
	m := ModelFunc(func(context.Context, string) (string, error) { return "", ErrEmptyResponse })
	var v map[string]any
	assert.ErrorIs(t, CompleteJSON(context.Background(), m, "p", &v), ErrEmptyResponse)
}

func TestClaudeBackend(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))

		var req claudeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		assert.Equal(t, defaultMaxTokens, req.MaxTokens)
		require.Len(t, req.Messages, 1)
		assert.Equal(t, "hello", req.Messages[0].Content)

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"content":[{"type":"text","text":"hi "},{"type":"tool_use"},{"type":"text","text":"there"}]}`)
	}))
	defer ts.Close()

	old := claudeAPIURL
	claudeAPIURL = ts.URL
	defer func() { claudeAPIURL = old }()

	b := &ClaudeBackend{APIKey: "test-key", Model: "test-model", Client: ts.Client()}
	out, err := b.Complete(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "hi there", out)
}

func TestClaudeBackendErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{"http error", http.StatusUnauthorized, `{"error":"bad key"}`, "returned 401"},
		{"empty content", http.StatusOK, `{"content":[]}`, ErrEmptyResponse.Error()},
		{"bad json", http.StatusOK, `not json`, "decoding Claude response"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer ts.Close()

			old := claudeAPIURL
			claudeAPIURL = ts.URL
			defer func() { claudeAPIURL = old }()

			_, err := (&ClaudeBackend{Client: ts.Client()}).Complete(context.Background(), "p")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestOpenAIBackend(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-test", req.Model)
		assert.Equal(t, "user", req.Messages[0].Role)

		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"answer"}}]}`)
	}))
	defer ts.Close()

	b := &OpenAIBackend{APIKey: "sk-test", Model: "gpt-test", BaseURL: ts.URL + "/v1/", Client: ts.Client()}
	out, err := b.Complete(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, "answer", out)
}

func TestOpenAIBackendNoChoices(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"choices":[]}`)
	}))
	defer ts.Close()

	_, err := (&OpenAIBackend{BaseURL: ts.URL}).Complete(context.Background(), "q")
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestNew(t *testing.T) {
	m, err := New(types.AIConfig{Backend: types.BackendOpenAI, Model: "x", MaxRetries: 2}, "k", nil)
	require.NoError(t, err)
	r, ok := m.(*Retrying)
	require.True(t, ok)
	assert.Equal(t, 2, r.MaxRetries)
	assert.IsType(t, &OpenAIBackend{}, r.Model)

	m, err = New(types.AIConfig{}, "k", nil)
	require.NoError(t, err)
	assert.IsType(t, &ClaudeBackend{}, m.(*Retrying).Model)

	_, err = New(types.AIConfig{Backend: "gemini"}, "k", nil)
	assert.Error(t, err)
}

func TestPrompts(t *testing.T) {
	p, err := DecompositionPrompt("Compare Go and Rust", 4)
	require.NoError(t, err)
	assert.Contains(t, p, "Compare Go and Rust")
	assert.Contains(t, p, "2-4 focused sub-questions")
	assert.Contains(t, p, `"sub_questions"`)

	p, err = SynthesisPrompt("- fact_1: Go is compiled", 0.5133)
	require.NoError(t, err)
	assert.Contains(t, p, "Confidence: 51.33%")
	assert.Contains(t, p, "- fact_1: Go is compiled")

	p, err = AgreementPrompt([]AgreementSource{
		{Provider: "web", Title: "A", Excerpt: "alpha"},
		{Provider: "academic", Title: "B", Excerpt: "beta"},
	})
	require.NoError(t, err)
	assert.Contains(t, p, "Source 1 (web): A")
	assert.Contains(t, p, "Source 2 (academic): B")
	assert.Contains(t, p, `"adjustment"`)
}

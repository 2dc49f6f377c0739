// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package llm is the language-model capability used by the decomposer, the
// verifier, and the synthesizer. A Model turns a prompt into text; backends
// speak the Anthropic Messages API or any OpenAI-compatible chat completions
// endpoint. Callers treat every call as blocking, cancellable, and fallible.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/pdiddy/terafinder/pkg/types"
)

// ErrEmptyResponse is returned when a backend answers without any text.
var ErrEmptyResponse = errors.New("model returned empty response")

// ErrNoJSON is returned by CompleteJSON when the reply holds no JSON object.
var ErrNoJSON = errors.New("no JSON object in model response")

// StatusError is a non-200 reply from a model API.
type StatusError struct {
	API    string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned %d: %s", e.API, e.Status, e.Body)
}

// permanent reports whether err is a client error that a retry cannot fix.
// 408 and 429 stay retryable.
func permanent(err error) bool {
	var se *StatusError
	if !errors.As(err, &se) {
		return false
	}
	return se.Status >= 400 && se.Status < 500 &&
		se.Status != http.StatusRequestTimeout && se.Status != http.StatusTooManyRequests
}

// Model abstracts the generative API so tests can supply a stub.
type Model interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// ModelFunc adapts an ordinary function to the Model interface.
type ModelFunc func(ctx context.Context, prompt string) (string, error)

// Complete calls f.
func (f ModelFunc) Complete(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// New builds the backend selected by cfg and wraps it with retries.
// The API key is resolved by the caller from the secrets directory.
func New(cfg types.AIConfig, apiKey string, client *http.Client) (Model, error) {
	var m Model
	switch cfg.Backend {
	case types.BackendAnthropic, "":
		m = &ClaudeBackend{APIKey: apiKey, Model: cfg.Model, Client: client}
	case types.BackendOpenAI:
		m = &OpenAIBackend{APIKey: apiKey, Model: cfg.Model, BaseURL: cfg.BaseURL, Client: client}
	default:
		return nil, fmt.Errorf("unknown ai backend %q (want anthropic or openai)", cfg.Backend)
	}
	return &Retrying{Model: m, MaxRetries: cfg.MaxRetries, Timeout: cfg.Timeout}, nil
}

// backoffBase controls the base duration for exponential backoff. Tests
// override this to avoid real sleeps.
var backoffBase = time.Second

// Retrying retries a Model with exponential backoff. Context cancellation
// stops the retries immediately.
type Retrying struct {
	Model Model

	// MaxRetries is the number of extra attempts after the first (default 3).
	MaxRetries int

	// Timeout bounds each attempt when positive.
	Timeout time.Duration
}

// Complete calls the wrapped model until it succeeds or retries run out.
// Client errors other than 408 and 429 are returned without retrying.
func (r *Retrying) Complete(ctx context.Context, prompt string) (string, error) {
	maxRetries := r.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * backoffBase
			slog.Debug("model call failed, retrying", "attempt", attempt, "backoff", backoff, "error", lastErr)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
		}

		out, err := r.attempt(ctx, prompt)
		if err == nil {
			return out, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if permanent(err) {
			return "", err
		}
		lastErr = err
	}
	return "", fmt.Errorf("after %d retries: %w", maxRetries, lastErr)
}

func (r *Retrying) attempt(ctx context.Context, prompt string) (string, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}
	return r.Model.Complete(ctx, prompt)
}

// CompleteJSON sends prompt to m and decodes the first JSON object in the
// reply into v. Markdown code fences and prose around the object are
// ignored.
func CompleteJSON(ctx context.Context, m Model, prompt string, v any) error {
	out, err := m.Complete(ctx, prompt)
	if err != nil {
		return err
	}
	return DecodeJSON(out, v)
}

// DecodeJSON decodes the first JSON object found in text into v.
func DecodeJSON(text string, v any) error {
	start := strings.Index(text, "{")
	if start < 0 {
		return ErrNoJSON
	}
	dec := json.NewDecoder(strings.NewReader(text[start:]))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("parsing model JSON: %w", err)
	}
	return nil
}

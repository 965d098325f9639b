package voice

import (
	"context"
	"errors"
	"io"
	"log"
	"net"

	"github.com/ent0n29/voicerelay/internal/reliability"
	"github.com/openai/openai-go"
)

// WithRetry wraps p so each call is retried under policy when the upstream
// reports a transient failure. A policy with zero retries returns p unchanged.
func WithRetry(p Provider, policy reliability.Policy) Provider {
	if policy.Retries <= 0 {
		return p
	}
	return &retryingProvider{next: p, policy: policy}
}

// IsRetryable reports whether err looks transient: a retryable HTTP status
// from the OpenAI API, a network error, or a response body cut short.
// Context cancellation never retries.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return reliability.IsRetryableHTTPStatus(apiErr.StatusCode)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF)
}

type retryingProvider struct {
	next   Provider
	policy reliability.Policy
}

func (r *retryingProvider) Transcribe(ctx context.Context, recordingPath string) (string, error) {
	var out string
	err := r.do(ctx, "transcribe", func(ctx context.Context) error {
		var err error
		out, err = r.next.Transcribe(ctx, recordingPath)
		return err
	})
	return out, err
}

func (r *retryingProvider) Converse(ctx context.Context, systemPrompt, text string) (string, error) {
	var out string
	err := r.do(ctx, "converse", func(ctx context.Context) error {
		var err error
		out, err = r.next.Converse(ctx, systemPrompt, text)
		return err
	})
	return out, err
}

func (r *retryingProvider) Synthesize(ctx context.Context, text string) ([]byte, error) {
	var out []byte
	err := r.do(ctx, "synthesize", func(ctx context.Context) error {
		var err error
		out, err = r.next.Synthesize(ctx, text)
		return err
	})
	return out, err
}

func (r *retryingProvider) do(ctx context.Context, op string, fn func(context.Context) error) error {
	attempt := 0
	return reliability.Do(ctx, r.policy, IsRetryable, func(ctx context.Context) error {
		attempt++
		err := fn(ctx)
		if err != nil && attempt <= r.policy.Retries && IsRetryable(err) {
			log.Printf("voice %s attempt %d failed, retrying: %v", op, attempt, err)
		}
		return err
	})
}

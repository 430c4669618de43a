// Package providers defines the generation backends a model profile can
// name and the registry the synthesizer resolves them from.
package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Provider produces one completion per call. Implementations do not retry.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req *Request) (*Completion, error)

	// Ping reports whether the backend answers at all.
	Ping(ctx context.Context) error
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a provider-neutral completion request. Zero values leave the
// backend defaults in place.
type Request struct {
	Model       string
	Messages    []Message
	MaxTokens   int
	Temperature *float32
	TopP        *float32
	Stop        []string
}

// Completion holds the first choice a backend returned. Text is empty when
// the backend returned no choice at all.
type Completion struct {
	Provider     string
	Model        string
	Text         string
	FinishReason string
	Usage        Usage
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// BackendError is a failed call to a generation backend.
type BackendError struct {
	Provider string

	// Status is the HTTP status of the reply, zero when none arrived.
	Status int

	// Kind is the error type the backend reported, if any.
	Kind    string
	Message string

	// Transient is set when the same call may succeed later.
	Transient bool
	Err       error
}

func (e *BackendError) Error() string {
	msg := e.Provider + ": " + e.Message
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// Unreachable reports a call that never got a reply.
func Unreachable(provider string, err error) *BackendError {
	return &BackendError{Provider: provider, Message: "backend unreachable", Transient: true, Err: err}
}

// Rejected reports a non-2xx reply. Throttling and server errors are
// transient.
func Rejected(provider string, status int, kind, message string) *BackendError {
	if message == "" {
		message = http.StatusText(status)
	}
	return &BackendError{
		Provider:  provider,
		Status:    status,
		Kind:      kind,
		Message:   message,
		Transient: status == http.StatusTooManyRequests || status >= http.StatusInternalServerError,
	}
}

// ProbeModels asks an OpenAI-compatible server for its model list. Any
// 200 reply counts as healthy.
func ProbeModels(ctx context.Context, client *http.Client, baseURL, apiKey string) error {
	if baseURL == "" {
		return errors.New("no base URL configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/models", nil)
	if err != nil {
		return err
	}
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("model listing returned %d", resp.StatusCode)
	}
	return nil
}

package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const (
	MissingAPIKeyText    = "Missing API key."
	NoResponseText       = "No response"
	RequestFailedText    = "Request failed."
	GroundingInstruction = "Use Google Search for accurate facts and cite your sources."

	imageMimeType = "image/jpeg"
)

var (
	ErrMissingAPIKey = errors.New("missing api key")
	ErrNoResponse    = errors.New("no response candidate")
	ErrRequestFailed = errors.New("request failed")
)

// RequestOptions modifies a single Send call.
// Google takes precedence over System.
type RequestOptions struct {
	Image  string
	Google bool
	System string
}

// Result is what every Send call resolves to. Text is always displayable;
// Err is non-nil when Text is a failure message rather than a model answer.
type Result struct {
	Text string
	Err  error
}

func (r Result) Failed() bool {
	return r.Err != nil
}

// APIError is a non-2xx reply from the generateContent endpoint.
type APIError struct {
	StatusCode int
	Status     string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("gemini API %d", e.StatusCode)
	}
	if e.Status == "" {
		return fmt.Sprintf("gemini API %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("gemini API %d %s: %s", e.StatusCode, e.Status, e.Message)
}

// Credentials resolves the API key for one call. It is consulted on every
// Send and never cached.
type Credentials interface {
	APIKey(ctx context.Context) string
}

type CredentialsFunc func(ctx context.Context) string

func (f CredentialsFunc) APIKey(ctx context.Context) string {
	return f(ctx)
}

type StaticKey string

func (k StaticKey) APIKey(context.Context) string {
	return string(k)
}

type apiKeyCtxKey struct{}

// WithAPIKey stores a per-call key for ContextKey to pick up.
func WithAPIKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, apiKeyCtxKey{}, strings.TrimSpace(key))
}

// ContextKey reads the key set by WithAPIKey and falls back to Fallback when
// the context carries none.
type ContextKey struct {
	Fallback Credentials
}

func (c ContextKey) APIKey(ctx context.Context) string {
	if key, ok := ctx.Value(apiKeyCtxKey{}).(string); ok && key != "" {
		return key
	}
	if c.Fallback != nil {
		return c.Fallback.APIKey(ctx)
	}
	return ""
}

type generateContentRequest struct {
	Contents          []content `json:"contents"`
	Tools             []tool    `json:"tools,omitempty"`
	SystemInstruction *content  `json:"systemInstruction,omitempty"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       *string `json:"text,omitempty"`
	InlineData *blob   `json:"inlineData,omitempty"`
}

type blob struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type tool struct {
	GoogleSearch *googleSearch `json:"google_search,omitempty"`
}

type googleSearch struct{}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

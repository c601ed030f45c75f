package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

const (
	DefaultBaseURL    = "https://generativelanguage.googleapis.com"
	DefaultAPIVersion = "v1beta"
	DefaultModel      = "gemini-2.5-flash-preview-09-2025"
)

type Options struct {
	Credentials Credentials
	BaseURL     string
	APIVersion  string
	Model       string
	HTTPClient  *http.Client
	Logger      *slog.Logger
}

// Client is the request adapter. It keeps no per-call state and is safe for
// concurrent use.
type Client struct {
	creds      Credentials
	baseURL    string
	apiVersion string
	model      string
	httpClient *http.Client
	logger     *slog.Logger
}

func New(opts Options) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	apiVersion := strings.Trim(strings.TrimSpace(opts.APIVersion), "/")
	if apiVersion == "" {
		apiVersion = DefaultAPIVersion
	}

	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = DefaultModel
	}

	creds := opts.Credentials
	if creds == nil {
		creds = ContextKey{}
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Client{
		creds:      creds,
		baseURL:    baseURL,
		apiVersion: apiVersion,
		model:      model,
		httpClient: httpClient,
		logger:     logger,
	}
}

func (c *Client) Model() string {
	return c.model
}

// Send issues one generateContent call and reduces the reply to text.
// It never returns a bare error: every failure comes back as a Result with
// Err set and a fixed Text.
func (c *Client) Send(ctx context.Context, prompt string, opts RequestOptions) Result {
	apiKey := strings.TrimSpace(c.creds.APIKey(ctx))
	if apiKey == "" {
		return Result{Text: MissingAPIKeyText, Err: ErrMissingAPIKey}
	}

	payload := buildRequest(prompt, opts)

	text, err := c.generateContent(ctx, apiKey, payload)
	if err != nil {
		c.logger.Error("gemini request failed", "model", c.model, "err", err)
		return Result{Text: RequestFailedText, Err: fmt.Errorf("%w: %w", ErrRequestFailed, err)}
	}
	if text == "" {
		c.logger.Warn("gemini returned no text candidate", "model", c.model)
		return Result{Text: NoResponseText, Err: ErrNoResponse}
	}

	return Result{Text: text}
}

func buildRequest(prompt string, opts RequestOptions) generateContentRequest {
	parts := []part{{Text: &prompt}}
	if opts.Image != "" {
		parts = append(parts, part{InlineData: &blob{
			MimeType: imageMimeType,
			Data:     opts.Image,
		}})
	}

	req := generateContentRequest{
		Contents: []content{{Parts: parts}},
	}

	switch {
	case opts.Google:
		instruction := GroundingInstruction
		req.Tools = []tool{{GoogleSearch: &googleSearch{}}}
		req.SystemInstruction = &content{Parts: []part{{Text: &instruction}}}
	case opts.System != "":
		instruction := opts.System
		req.SystemInstruction = &content{Parts: []part{{Text: &instruction}}}
	}

	return req
}

func (c *Client) endpoint(apiKey string) string {
	q := url.Values{}
	q.Set("key", apiKey)
	return fmt.Sprintf("%s/%s/models/%s:generateContent?%s", c.baseURL, c.apiVersion, url.PathEscape(c.model), q.Encode())
}

func (c *Client) generateContent(ctx context.Context, apiKey string, payload generateContentRequest) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(apiKey), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	c.logger.Debug("gemini request", "model", c.model, "bytes", len(body))

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		// url.Error embeds the full URL, key included.
		return "", fmt.Errorf("request: %w", redactKey(err, apiKey))
	}
	defer httpResp.Body.Close()

	rawBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return "", newAPIError(httpResp, rawBody)
	}

	// Only invalid JSON is a decode failure. A reply of unexpected shape is
	// walked like any other and ends up with no text.
	var decoded any
	if err := json.Unmarshal(rawBody, &decoded); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	return firstText(decoded), nil
}

// firstText walks candidates[0].content.parts[0].text. A missing link or one
// of the wrong type yields "".
func firstText(resp any) string {
	root, _ := resp.(map[string]any)
	cand := firstObject(root["candidates"])
	content, _ := cand["content"].(map[string]any)
	part := firstObject(content["parts"])
	text, _ := part["text"].(string)
	return text
}

func firstObject(v any) map[string]any {
	list, _ := v.([]any)
	if len(list) == 0 {
		return nil
	}
	obj, _ := list[0].(map[string]any)
	return obj
}

func newAPIError(resp *http.Response, body []byte) *APIError {
	apiErr := &APIError{StatusCode: resp.StatusCode}

	var decoded errorResponse
	if err := json.Unmarshal(body, &decoded); err == nil && decoded.Error.Message != "" {
		apiErr.Message = decoded.Error.Message
		apiErr.Status = decoded.Error.Status
		return apiErr
	}

	apiErr.Message = strings.TrimSpace(string(body))
	if len(apiErr.Message) > 512 {
		apiErr.Message = apiErr.Message[:512]
	}
	return apiErr
}

type redactedError struct {
	msg   string
	cause error
}

func (e *redactedError) Error() string { return e.msg }
func (e *redactedError) Unwrap() error { return e.cause }

// redactKey hides the key in both its raw and query-escaped forms; the URL
// inside a url.Error carries the escaped one.
func redactKey(err error, apiKey string) error {
	msg := err.Error()
	redacted := strings.ReplaceAll(msg, apiKey, "REDACTED")
	if escaped := url.QueryEscape(apiKey); escaped != apiKey {
		redacted = strings.ReplaceAll(redacted, escaped, "REDACTED")
	}
	if redacted == msg {
		return err
	}
	return &redactedError{msg: redacted, cause: err}
}

package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"testing"
)

type capture struct {
	mu     sync.Mutex
	calls  int
	bodies []map[string]any
	reqs   []*http.Request
}

func (c *capture) last(t *testing.T) (map[string]any, *http.Request) {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.bodies) == 0 {
		t.Fatal("no request captured")
	}
	return c.bodies[len(c.bodies)-1], c.reqs[len(c.reqs)-1]
}

func newUpstream(t *testing.T, status int, reply string) (*httptest.Server, *capture) {
	t.Helper()
	c := &capture{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		_ = json.Unmarshal(raw, &body)

		c.mu.Lock()
		c.calls++
		c.bodies = append(c.bodies, body)
		c.reqs = append(c.reqs, r)
		c.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, reply)
	}))
	t.Cleanup(srv.Close)
	return srv, c
}

const okReply = `{"candidates":[{"content":{"parts":[{"text":"42"}]},"finishReason":"STOP"}]}`

func newTestClient(srv *httptest.Server, key string) *Client {
	return New(Options{
		Credentials: StaticKey(key),
		BaseURL:     srv.URL,
		HTTPClient:  srv.Client(),
	})
}

func parts(t *testing.T, body map[string]any) []any {
	t.Helper()
	contents, ok := body["contents"].([]any)
	if !ok || len(contents) != 1 {
		t.Fatalf("contents = %#v, want one turn", body["contents"])
	}
	turn := contents[0].(map[string]any)
	ps, ok := turn["parts"].([]any)
	if !ok {
		t.Fatalf("parts = %#v", turn["parts"])
	}
	return ps
}

func systemText(t *testing.T, body map[string]any) string {
	t.Helper()
	si, ok := body["systemInstruction"].(map[string]any)
	if !ok {
		t.Fatalf("systemInstruction missing: %#v", body)
	}
	ps := si["parts"].([]any)
	return ps[0].(map[string]any)["text"].(string)
}

func TestSendMissingKeySkipsNetwork(t *testing.T) {
	srv, c := newUpstream(t, http.StatusOK, okReply)

	for _, key := range []string{"", "   "} {
		for _, opts := range []RequestOptions{{}, {Google: true}, {Image: "abc", System: "x"}} {
			res := newTestClient(srv, key).Send(context.Background(), "hello", opts)
			if res.Text != MissingAPIKeyText {
				t.Fatalf("Text = %q, want %q", res.Text, MissingAPIKeyText)
			}
			if !errors.Is(res.Err, ErrMissingAPIKey) {
				t.Fatalf("Err = %v, want ErrMissingAPIKey", res.Err)
			}
		}
	}

	if c.calls != 0 {
		t.Fatalf("upstream called %d times, want 0", c.calls)
	}
}

func TestSendTextOnlyPayload(t *testing.T) {
	srv, c := newUpstream(t, http.StatusOK, okReply)

	res := newTestClient(srv, "k-1").Send(context.Background(), "hello", RequestOptions{})
	if res.Failed() {
		t.Fatalf("unexpected failure: %v", res.Err)
	}

	body, req := c.last(t)
	ps := parts(t, body)
	if len(ps) != 1 {
		t.Fatalf("len(parts) = %d, want 1", len(ps))
	}
	if got := ps[0].(map[string]any)["text"]; got != "hello" {
		t.Fatalf("text part = %v, want hello", got)
	}
	if _, ok := body["tools"]; ok {
		t.Fatal("tools present on plain request")
	}
	if _, ok := body["systemInstruction"]; ok {
		t.Fatal("systemInstruction present on plain request")
	}

	if req.Method != http.MethodPost {
		t.Fatalf("method = %s", req.Method)
	}
	if got := req.URL.Query().Get("key"); got != "k-1" {
		t.Fatalf("key query = %q", got)
	}
	if got := req.Header.Get("Content-Type"); got != "application/json" {
		t.Fatalf("content-type = %q", got)
	}
	wantPath := "/v1beta/models/" + DefaultModel + ":generateContent"
	if req.URL.Path != wantPath {
		t.Fatalf("path = %q, want %q", req.URL.Path, wantPath)
	}
}

func TestSendEmptyPromptPassesThrough(t *testing.T) {
	srv, c := newUpstream(t, http.StatusOK, okReply)

	newTestClient(srv, "k").Send(context.Background(), "", RequestOptions{})

	body, _ := c.last(t)
	text, ok := parts(t, body)[0].(map[string]any)["text"]
	if !ok || text != "" {
		t.Fatalf("text part = %#v, want empty string", text)
	}
}

func TestSendImageAttachment(t *testing.T) {
	srv, c := newUpstream(t, http.StatusOK, okReply)

	newTestClient(srv, "k").Send(context.Background(), "describe", RequestOptions{Image: "aGVsbG8="})

	body, _ := c.last(t)
	ps := parts(t, body)
	if len(ps) != 2 {
		t.Fatalf("len(parts) = %d, want 2", len(ps))
	}
	inline, ok := ps[1].(map[string]any)["inlineData"].(map[string]any)
	if !ok {
		t.Fatalf("second part = %#v, want inlineData", ps[1])
	}
	if inline["mimeType"] != "image/jpeg" || inline["data"] != "aGVsbG8=" {
		t.Fatalf("inlineData = %#v", inline)
	}
}

func TestSendGroundingOverridesSystem(t *testing.T) {
	srv, c := newUpstream(t, http.StatusOK, okReply)

	newTestClient(srv, "k").Send(context.Background(), "p", RequestOptions{Google: true, System: "ignored"})

	body, _ := c.last(t)
	tools, ok := body["tools"].([]any)
	if !ok || len(tools) != 1 {
		t.Fatalf("tools = %#v", body["tools"])
	}
	if _, ok := tools[0].(map[string]any)["google_search"]; !ok {
		t.Fatalf("tool = %#v, want google_search", tools[0])
	}
	if got := systemText(t, body); got != GroundingInstruction {
		t.Fatalf("system = %q, want grounding instruction", got)
	}
}

func TestSendPlainSystemInstruction(t *testing.T) {
	srv, c := newUpstream(t, http.StatusOK, okReply)

	newTestClient(srv, "k").Send(context.Background(), "p", RequestOptions{System: "be terse"})

	body, _ := c.last(t)
	if got := systemText(t, body); got != "be terse" {
		t.Fatalf("system = %q", got)
	}
	if _, ok := body["tools"]; ok {
		t.Fatal("tools present without google flag")
	}
}

func TestSendExtraction(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  string
		err   error
	}{
		{name: "happy path", reply: okReply, want: "42"},
		{name: "empty candidates", reply: `{"candidates":[]}`, want: NoResponseText, err: ErrNoResponse},
		{name: "no candidates field", reply: `{"promptFeedback":{"blockReason":"SAFETY"}}`, want: NoResponseText, err: ErrNoResponse},
		{name: "no content", reply: `{"candidates":[{"finishReason":"SAFETY"}]}`, want: NoResponseText, err: ErrNoResponse},
		{name: "no parts", reply: `{"candidates":[{"content":{"parts":[]}}]}`, want: NoResponseText, err: ErrNoResponse},
		{name: "empty text", reply: `{"candidates":[{"content":{"parts":[{"text":""}]}}]}`, want: NoResponseText, err: ErrNoResponse},
		{name: "candidates not a list", reply: `{"candidates":"oops"}`, want: NoResponseText, err: ErrNoResponse},
		{name: "content not an object", reply: `{"candidates":[{"content":"blocked"}]}`, want: NoResponseText, err: ErrNoResponse},
		{name: "text not a string", reply: `{"candidates":[{"content":{"parts":[{"text":42}]}}]}`, want: NoResponseText, err: ErrNoResponse},
		{name: "top level array", reply: `[]`, want: NoResponseText, err: ErrNoResponse},
		{name: "null body", reply: `null`, want: NoResponseText, err: ErrNoResponse},
		{name: "first part only", reply: `{"candidates":[{"content":{"parts":[{"text":"a"},{"text":"b"}]}},{"content":{"parts":[{"text":"c"}]}}]}`, want: "a"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newUpstream(t, http.StatusOK, tt.reply)
			res := newTestClient(srv, "k").Send(context.Background(), "q", RequestOptions{})
			if res.Text != tt.want {
				t.Fatalf("Text = %q, want %q", res.Text, tt.want)
			}
			if tt.err == nil && res.Err != nil {
				t.Fatalf("Err = %v, want nil", res.Err)
			}
			if tt.err != nil && !errors.Is(res.Err, tt.err) {
				t.Fatalf("Err = %v, want %v", res.Err, tt.err)
			}
		})
	}
}

func TestSendTransportFailures(t *testing.T) {
	t.Run("http status", func(t *testing.T) {
		srv, _ := newUpstream(t, http.StatusBadRequest, `{"error":{"code":400,"message":"API key not valid","status":"INVALID_ARGUMENT"}}`)
		res := newTestClient(srv, "bad").Send(context.Background(), "q", RequestOptions{})
		if res.Text != RequestFailedText || !errors.Is(res.Err, ErrRequestFailed) {
			t.Fatalf("res = %+v", res)
		}
		var apiErr *APIError
		if !errors.As(res.Err, &apiErr) {
			t.Fatalf("Err = %v, want *APIError", res.Err)
		}
		if apiErr.StatusCode != http.StatusBadRequest || apiErr.Message != "API key not valid" || apiErr.Status != "INVALID_ARGUMENT" {
			t.Fatalf("apiErr = %+v", apiErr)
		}
	})

	t.Run("invalid json", func(t *testing.T) {
		srv, _ := newUpstream(t, http.StatusOK, `<html>oops`)
		res := newTestClient(srv, "k").Send(context.Background(), "q", RequestOptions{})
		if res.Text != RequestFailedText || !errors.Is(res.Err, ErrRequestFailed) {
			t.Fatalf("res = %+v", res)
		}
	})

	t.Run("network", func(t *testing.T) {
		srv, _ := newUpstream(t, http.StatusOK, okReply)
		client := newTestClient(srv, "secret-key")
		srv.Close()

		res := client.Send(context.Background(), "q", RequestOptions{})
		if res.Text != RequestFailedText || !errors.Is(res.Err, ErrRequestFailed) {
			t.Fatalf("res = %+v", res)
		}
		if strings.Contains(res.Err.Error(), "secret-key") {
			t.Fatalf("error leaks key: %v", res.Err)
		}
	})

	t.Run("network with escaped key", func(t *testing.T) {
		srv, _ := newUpstream(t, http.StatusOK, okReply)
		client := newTestClient(srv, "a/b+c=d")
		srv.Close()

		res := client.Send(context.Background(), "q", RequestOptions{})
		if !errors.Is(res.Err, ErrRequestFailed) {
			t.Fatalf("res = %+v", res)
		}
		msg := res.Err.Error()
		if strings.Contains(msg, "a/b+c=d") || strings.Contains(msg, "a%2Fb%2Bc%3Dd") {
			t.Fatalf("error leaks key: %v", res.Err)
		}
	})

	t.Run("canceled context", func(t *testing.T) {
		srv, _ := newUpstream(t, http.StatusOK, okReply)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		res := newTestClient(srv, "k").Send(ctx, "q", RequestOptions{})
		if !errors.Is(res.Err, context.Canceled) {
			t.Fatalf("Err = %v, want context.Canceled", res.Err)
		}
	})
}

func TestSendIsStateless(t *testing.T) {
	srv, c := newUpstream(t, http.StatusOK, okReply)
	client := newTestClient(srv, "k")

	opts := RequestOptions{Image: "eA==", System: "s"}
	client.Send(context.Background(), "same", opts)
	client.Send(context.Background(), "same", opts)

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.bodies) != 2 {
		t.Fatalf("calls = %d, want 2", len(c.bodies))
	}
	if !reflect.DeepEqual(c.bodies[0], c.bodies[1]) {
		t.Fatalf("payloads differ:\n%#v\n%#v", c.bodies[0], c.bodies[1])
	}
}

func TestContextKeyCredentials(t *testing.T) {
	creds := ContextKey{Fallback: StaticKey("server")}

	if got := creds.APIKey(context.Background()); got != "server" {
		t.Fatalf("fallback = %q", got)
	}
	if got := creds.APIKey(WithAPIKey(context.Background(), " user ")); got != "user" {
		t.Fatalf("context key = %q", got)
	}
	if got := creds.APIKey(WithAPIKey(context.Background(), "")); got != "server" {
		t.Fatalf("empty context key = %q, want fallback", got)
	}
	if got := (ContextKey{}).APIKey(context.Background()); got != "" {
		t.Fatalf("no key = %q", got)
	}
}

func TestNewDefaults(t *testing.T) {
	c := New(Options{BaseURL: "https://example.test/", APIVersion: "/v1/", Model: " m "})
	got := c.endpoint("a b")
	want := "https://example.test/v1/models/m:generateContent?key=a+b"
	if got != want {
		t.Fatalf("endpoint = %q, want %q", got, want)
	}
}

func TestRedactKey(t *testing.T) {
	cause := errors.New(`Post "http://x/v1beta/models/m:generateContent?key=k%2B1": refused (raw k+1)`)

	err := redactKey(cause, "k+1")
	if got := err.Error(); strings.Contains(got, "k+1") || strings.Contains(got, "k%2B1") {
		t.Fatalf("redacted = %q", got)
	}
	if !errors.Is(err, cause) {
		t.Fatal("redacted error does not unwrap to its cause")
	}

	plain := errors.New("connection refused")
	if got := redactKey(plain, "k+1"); got != plain {
		t.Fatalf("untouched error replaced: %v", got)
	}
}

package web

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"radarsafi/internal/chat"
	"radarsafi/internal/gemini"
	"radarsafi/internal/inflight"
	"radarsafi/internal/quiz"
	"radarsafi/internal/render"
	"radarsafi/internal/verify"
)

//go:embed static/*
var staticFS embed.FS

const (
	apiKeyHeader   = "X-API-Key"
	sessionCookie  = "radarsafi_sid"
	maxBodyBytes   = 10 << 20
	supersededCode = "superseded"
)

type Options struct {
	Chat           *chat.Service
	Quiz           *quiz.Generator
	Quizzes        *quiz.Store
	Verify         *verify.Service
	Inflight       *inflight.Tracker
	Logger         *slog.Logger
	RequestTimeout time.Duration
}

type Server struct {
	chat     *chat.Service
	quiz     *quiz.Generator
	quizzes  *quiz.Store
	verify   *verify.Service
	inflight *inflight.Tracker
	logger   *slog.Logger
	timeout  time.Duration
}

type apiError struct {
	Error string `json:"error"`
	Text  string `json:"text,omitempty"`
}

type textResponse struct {
	Text   string `json:"text"`
	HTML   string `json:"html,omitempty"`
	Failed bool   `json:"failed"`
	Error  string `json:"error,omitempty"`
}

type chatRequest struct {
	Message string `json:"message"`
	Image   string `json:"image,omitempty"`
}

type historyResponse struct {
	Messages []chat.Message `json:"messages"`
}

type quizResponse struct {
	ID       string   `json:"id"`
	Question string   `json:"question"`
	Options  []string `json:"options"`
}

type answerRequest struct {
	ID       string `json:"id"`
	Selected string `json:"selected"`
}

type verifyTextRequest struct {
	Message string `json:"message"`
}

type verifyPhoneRequest struct {
	Number string `json:"number"`
	Org    string `json:"org"`
}

func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	tracker := opts.Inflight
	if tracker == nil {
		tracker = inflight.New()
	}

	quizzes := opts.Quizzes
	if quizzes == nil {
		quizzes = quiz.NewStore(0)
	}

	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 150 * time.Second
	}

	return &Server{
		chat:     opts.Chat,
		quiz:     opts.Quiz,
		quizzes:  quizzes,
		verify:   opts.Verify,
		inflight: tracker,
		logger:   logger,
		timeout:  timeout,
	}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(withLogging(s.logger))
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Use(withSession)
		r.Use(withAPIKey)

		r.Post("/chat", s.handleChat)
		r.Get("/chat/history", s.handleHistory)
		r.Delete("/chat/history", s.handleClearHistory)
		r.Post("/quiz", s.handleQuiz)
		r.Post("/quiz/answer", s.handleQuizAnswer)
		r.Post("/verify/text", s.handleVerifyText)
		r.Post("/verify/phone", s.handleVerifyPhone)
	})

	staticSub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(err)
	}
	r.Handle("/*", http.FileServer(http.FS(staticSub)))

	return r
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	sid := sessionID(r.Context())
	ctx, done := s.begin(r.Context(), sid, "chat")
	defer done()

	res, err := s.chat.Reply(ctx, sid, req.Message, stripDataURLPrefix(req.Image))
	if s.superseded(r.Context(), ctx, w) {
		return
	}
	if errors.Is(err, chat.ErrEmptyMessage) {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "empty message"})
		return
	}
	if errors.Is(err, context.DeadlineExceeded) {
		writeJSON(w, http.StatusGatewayTimeout, textResponse{Text: gemini.RequestFailedText, Failed: true, Error: "timeout"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, apiError{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, textResponse{Text: res.Text, Failed: res.Failed(), Error: errorCode(res.Err)})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	msgs := s.chat.History().Snapshot(sessionID(r.Context()))
	if msgs == nil {
		msgs = []chat.Message{}
	}
	writeJSON(w, http.StatusOK, historyResponse{Messages: msgs})
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	s.chat.History().Clear(sessionID(r.Context()))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleQuiz(w http.ResponseWriter, r *http.Request) {
	ctx, done := s.begin(r.Context(), sessionID(r.Context()), "quiz")
	defer done()

	q, res, err := s.quiz.Next(ctx)
	if s.superseded(r.Context(), ctx, w) {
		return
	}
	switch {
	case errors.Is(err, quiz.ErrMalformedQuiz):
		writeJSON(w, http.StatusBadGateway, apiError{Error: "malformed_quiz", Text: "Could not read the quiz question."})
		return
	case err != nil:
		writeJSON(w, http.StatusBadGateway, apiError{Error: errorCode(res.Err), Text: res.Text})
		return
	}

	id := s.quizzes.Put(q)
	writeJSON(w, http.StatusOK, quizResponse{ID: id, Question: q.Question, Options: q.Options})
}

func (s *Server) handleQuizAnswer(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	fb, err := s.quizzes.Answer(req.ID, req.Selected)
	if errors.Is(err, quiz.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, apiError{Error: "question not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, apiError{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, fb)
}

func (s *Server) handleVerifyText(w http.ResponseWriter, r *http.Request) {
	var req verifyTextRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	s.runVerify(w, r, func(ctx context.Context) (gemini.Result, error) {
		return s.verify.AnalyzeMessage(ctx, req.Message)
	})
}

func (s *Server) handleVerifyPhone(w http.ResponseWriter, r *http.Request) {
	var req verifyPhoneRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	s.runVerify(w, r, func(ctx context.Context) (gemini.Result, error) {
		return s.verify.CheckPhone(ctx, req.Number, req.Org)
	})
}

func (s *Server) runVerify(w http.ResponseWriter, r *http.Request, call func(context.Context) (gemini.Result, error)) {
	ctx, done := s.begin(r.Context(), sessionID(r.Context()), "verify")
	defer done()

	res, err := call(ctx)
	if s.superseded(r.Context(), ctx, w) {
		return
	}
	if errors.Is(err, verify.ErrEmptyInput) {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "nothing to check"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, apiError{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, textResponse{
		Text:   res.Text,
		HTML:   render.HTML(res.Text),
		Failed: res.Failed(),
		Error:  errorCode(res.Err),
	})
}

// begin applies the per-session request timeout and replaces any request of
// the same flow still running for this session.
func (s *Server) begin(parent context.Context, sid, flow string) (context.Context, func()) {
	ctx, cancel := context.WithTimeout(parent, s.timeout)
	reqCtx, done := s.inflight.Begin(ctx, sid+":"+flow)
	return reqCtx, func() {
		done()
		cancel()
	}
}

func (s *Server) superseded(parent, ctx context.Context, w http.ResponseWriter) bool {
	if parent.Err() != nil {
		// Client went away; nobody reads the reply.
		return true
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		writeJSON(w, http.StatusConflict, apiError{Error: supersededCode})
		return true
	}
	return false
}

func errorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, gemini.ErrMissingAPIKey):
		return "missing_api_key"
	case errors.Is(err, gemini.ErrNoResponse):
		return "no_response"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "request_failed"
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct != "application/json" {
		writeJSON(w, http.StatusUnsupportedMediaType, apiError{Error: "Content-Type must be application/json"})
		return false
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "invalid JSON: " + err.Error()})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func stripDataURLPrefix(value string) string {
	value = strings.TrimSpace(value)
	if !strings.HasPrefix(value, "data:") {
		return value
	}
	if idx := strings.IndexByte(value, ','); idx >= 0 {
		return value[idx+1:]
	}
	return value
}

package quiz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"radarsafi/internal/gemini"
)

const Prompt = `Generate a cybersecurity quiz question with 4 options and correct answer.
Reply with a single JSON object and nothing else, in this shape:
{"question": "...", "options": ["...", "...", "...", "..."], "answer": "..."}
The answer must be the exact text of one of the options.`

const (
	CorrectText = "✅ Correct!"
	wrongPrefix = "❌ Wrong. Correct answer: "
)

var ErrMalformedQuiz = errors.New("quiz: malformed question data")

type Question struct {
	Question string   `json:"question"`
	Options  []string `json:"options"`
	Answer   string   `json:"answer"`
}

type Feedback struct {
	Correct bool   `json:"correct"`
	Text    string `json:"text"`
	Answer  string `json:"answer"`
}

// Parse reads the model's reply as a question. The reply is free text, so
// fences are stripped and broken JSON is repaired before validation.
func Parse(text string) (Question, error) {
	raw := stripFences(text)
	if raw == "" {
		return Question{}, fmt.Errorf("%w: empty reply", ErrMalformedQuiz)
	}

	var q Question
	if err := json.Unmarshal([]byte(raw), &q); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(raw)
		if repairErr != nil {
			return Question{}, fmt.Errorf("%w: %v", ErrMalformedQuiz, err)
		}
		q = Question{}
		if err := json.Unmarshal([]byte(repaired), &q); err != nil {
			return Question{}, fmt.Errorf("%w: %v", ErrMalformedQuiz, err)
		}
	}

	return normalize(q)
}

func normalize(q Question) (Question, error) {
	q.Question = strings.TrimSpace(q.Question)
	if q.Question == "" {
		return Question{}, fmt.Errorf("%w: missing question", ErrMalformedQuiz)
	}

	options := make([]string, 0, len(q.Options))
	for _, opt := range q.Options {
		if opt = strings.TrimSpace(opt); opt != "" {
			options = append(options, opt)
		}
	}
	if len(options) < 2 {
		return Question{}, fmt.Errorf("%w: need at least 2 options, got %d", ErrMalformedQuiz, len(options))
	}
	q.Options = options

	answer, ok := resolveAnswer(strings.TrimSpace(q.Answer), options)
	if !ok {
		return Question{}, fmt.Errorf("%w: answer %q is not one of the options", ErrMalformedQuiz, q.Answer)
	}
	q.Answer = answer

	return q, nil
}

// resolveAnswer accepts the option text, a letter (A-D) or a 1-based index.
func resolveAnswer(answer string, options []string) (string, bool) {
	if answer == "" {
		return "", false
	}
	for _, opt := range options {
		if opt == answer {
			return opt, true
		}
	}
	for _, opt := range options {
		if strings.EqualFold(opt, answer) {
			return opt, true
		}
	}

	label := strings.TrimRight(answer, ".):")
	if len(label) == 1 {
		c := label[0] | 0x20
		if c >= 'a' && int(c-'a') < len(options) {
			return options[c-'a'], true
		}
	}
	if n, err := strconv.Atoi(label); err == nil && n >= 1 && n <= len(options) {
		return options[n-1], true
	}

	// "B) Phishing" or "B. Phishing"
	if len(answer) > 3 && (answer[1] == ')' || answer[1] == '.') {
		rest := strings.TrimSpace(answer[2:])
		for _, opt := range options {
			if strings.EqualFold(opt, rest) {
				return opt, true
			}
		}
	}

	return "", false
}

func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if nl := strings.IndexByte(text, '\n'); nl >= 0 {
			text = text[nl+1:]
		} else {
			text = strings.TrimPrefix(text, "json")
		}
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	}

	// Tolerate prose around the object.
	if start := strings.IndexByte(text, '{'); start > 0 {
		if end := strings.LastIndexByte(text, '}'); end > start {
			text = text[start : end+1]
		}
	}
	return strings.TrimSpace(text)
}

func Check(q Question, selected string) Feedback {
	if strings.TrimSpace(selected) == q.Answer {
		return Feedback{Correct: true, Text: CorrectText, Answer: q.Answer}
	}
	return Feedback{Text: wrongPrefix + q.Answer, Answer: q.Answer}
}

type Sender interface {
	Send(ctx context.Context, prompt string, opts gemini.RequestOptions) gemini.Result
}

type Generator struct {
	sender Sender
	logger *slog.Logger
}

func NewGenerator(sender Sender, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Generator{sender: sender, logger: logger}
}

// Next asks for a fresh question. A failed adapter call comes back as the
// Result's error; the Result is returned too so callers can show its Text.
func (g *Generator) Next(ctx context.Context) (Question, gemini.Result, error) {
	res := g.sender.Send(ctx, Prompt, gemini.RequestOptions{})
	if res.Failed() {
		return Question{}, res, res.Err
	}

	q, err := Parse(res.Text)
	if err != nil {
		g.logger.Warn("quiz reply not usable", "err", err, "reply_len", len(res.Text))
		return Question{}, res, err
	}
	return q, res, nil
}

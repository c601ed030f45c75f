package chat

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"

	"radarsafi/internal/gemini"
)

const Persona = "You are RadarSafi, speak in Swahili + English blend."

var ErrEmptyMessage = errors.New("chat: empty message")

type Sender interface {
	Send(ctx context.Context, prompt string, opts gemini.RequestOptions) gemini.Result
}

type Options struct {
	Sender  Sender
	History *History
	Logger  *slog.Logger
}

type Service struct {
	sender  Sender
	history *History
	logger  *slog.Logger
}

func New(opts Options) *Service {
	history := opts.History
	if history == nil {
		history = NewHistory(0)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Service{
		sender:  opts.Sender,
		history: history,
		logger:  logger,
	}
}

func (s *Service) History() *History {
	return s.history
}

// Reply sends one user message with the persona instruction and records both
// bubbles. A failed call is still recorded: its Text is what the user sees.
func (s *Service) Reply(ctx context.Context, conversationID, message, image string) (gemini.Result, error) {
	message = strings.TrimSpace(message)
	if message == "" && image == "" {
		return gemini.Result{}, ErrEmptyMessage
	}

	s.history.Append(conversationID, Message{Role: RoleUser, Text: message})

	res := s.sender.Send(ctx, message, gemini.RequestOptions{
		Image:  image,
		System: Persona,
	})
	if err := ctx.Err(); err != nil {
		// Abandoned by the caller, typically replaced by a newer message.
		return res, err
	}
	if res.Failed() {
		s.logger.Warn("chat reply failed", "conversation", conversationID, "err", res.Err)
	}

	s.history.Append(conversationID, Message{Role: RoleAI, Text: res.Text})
	return res, nil
}

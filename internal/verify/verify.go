package verify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"radarsafi/internal/gemini"
)

var ErrEmptyInput = errors.New("verify: nothing to check")

type Sender interface {
	Send(ctx context.Context, prompt string, opts gemini.RequestOptions) gemini.Result
}

type Service struct {
	sender Sender
	logger *slog.Logger
}

func New(sender Sender, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{sender: sender, logger: logger}
}

func MessagePrompt(message string) string {
	return "Analyze this message for scams:\n" + message
}

func PhonePrompt(number, org string) string {
	return fmt.Sprintf("Check if phone number %s is linked to scam. They claim to be %s.", number, org)
}

// AnalyzeMessage asks for a scam assessment of a pasted message.
func (s *Service) AnalyzeMessage(ctx context.Context, message string) (gemini.Result, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return gemini.Result{}, ErrEmptyInput
	}
	return s.send(ctx, "message", MessagePrompt(message), gemini.RequestOptions{})
}

// CheckPhone looks a caller up with search grounding enabled. org is the
// organization the caller claims to represent and may be empty.
func (s *Service) CheckPhone(ctx context.Context, number, org string) (gemini.Result, error) {
	number = strings.TrimSpace(number)
	if number == "" {
		return gemini.Result{}, ErrEmptyInput
	}
	return s.send(ctx, "phone", PhonePrompt(number, strings.TrimSpace(org)), gemini.RequestOptions{Google: true})
}

func (s *Service) send(ctx context.Context, kind, prompt string, opts gemini.RequestOptions) (gemini.Result, error) {
	res := s.sender.Send(ctx, prompt, opts)
	if res.Failed() {
		s.logger.Warn("verification failed", "kind", kind, "err", res.Err)
	}
	return res, nil
}

// ParsePhoneArgs splits "<number> | <org>" as typed in chat commands. Without
// a separator the first field is the number and the rest is the organization.
func ParsePhoneArgs(args string) (number, org string) {
	args = strings.TrimSpace(args)
	if before, after, ok := strings.Cut(args, "|"); ok {
		return strings.TrimSpace(before), strings.TrimSpace(after)
	}
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return "", ""
	}
	return fields[0], strings.Join(fields[1:], " ")
}

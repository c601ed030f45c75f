package handlers

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"radarsafi/internal/inflight"
	"radarsafi/internal/quiz"
	"radarsafi/internal/telegram"
)

const (
	quizCallbackPrefix = "qz"
	quizNextData       = quizCallbackPrefix + ":next"
)

var optionLabels = []string{"A", "B", "C", "D", "E", "F"}

func (h *Handler) sendQuiz(ctx context.Context, chatID int64) error {
	h.tg.SendTyping(chatID)

	reqCtx, done := h.inflight.Begin(ctx, flowKey(chatID, "quiz"))
	defer done()

	q, res, err := h.quiz.Next(reqCtx)
	if inflight.Superseded(ctx, reqCtx) {
		return nil
	}
	switch {
	case errors.Is(err, quiz.ErrMalformedQuiz):
		h.logger.Warn("quiz question unreadable", "chat_id", chatID, "err", err)
		return h.tg.SendTextWithButtons(chatID, "❌ Could not read the quiz question.", []telegram.Button{{Text: "Try again", Data: quizNextData}})
	case err != nil:
		return h.tg.SendText(chatID, res.Text)
	}

	id := h.quizzes.Put(q)
	return h.tg.SendTextWithButtons(chatID, q.Question, quizButtons(id, q))
}

func quizButtons(id string, q quiz.Question) []telegram.Button {
	buttons := make([]telegram.Button, 0, len(q.Options))
	for i, opt := range q.Options {
		label := opt
		if i < len(optionLabels) {
			label = optionLabels[i] + ") " + opt
		}
		buttons = append(buttons, telegram.Button{
			Text: label,
			Data: fmt.Sprintf("%s:%s:%d", quizCallbackPrefix, id, i),
		})
	}
	return buttons
}

func (h *Handler) handleCallback(ctx context.Context, q *tgbotapi.CallbackQuery) error {
	if q == nil || q.Message == nil {
		return nil
	}
	data := strings.TrimSpace(q.Data)
	if !strings.HasPrefix(data, quizCallbackPrefix+":") {
		return nil
	}

	chatID := q.Message.Chat.ID

	if data == quizNextData {
		_ = h.tg.AnswerCallback(q.ID, "", false)
		return h.sendQuiz(ctx, chatID)
	}

	id, index, ok := parseQuizCallback(data)
	if !ok {
		return h.tg.AnswerCallback(q.ID, "Unknown answer.", false)
	}

	question, err := h.quizzes.Get(id)
	if err != nil {
		return h.tg.AnswerCallback(q.ID, "This question has expired. Use /quiz.", true)
	}
	if index < 0 || index >= len(question.Options) {
		return h.tg.AnswerCallback(q.ID, "Unknown answer.", false)
	}

	fb := quiz.Check(question, question.Options[index])
	_ = h.tg.AnswerCallback(q.ID, fb.Text, false)
	if err := h.tg.FinishButtons(chatID, q.Message.MessageID); err != nil {
		h.logger.Debug("remove quiz buttons failed", "chat_id", chatID, "err", err)
	}

	return h.tg.SendTextWithButtons(chatID, "Result\n"+fb.Text, []telegram.Button{{Text: "Next question", Data: quizNextData}})
}

func parseQuizCallback(data string) (id string, index int, ok bool) {
	parts := strings.Split(data, ":")
	if len(parts) != 3 || parts[0] != quizCallbackPrefix || parts[1] == "" {
		return "", 0, false
	}
	index, err := strconv.Atoi(parts[2])
	if err != nil {
		return "", 0, false
	}
	return parts[1], index, true
}

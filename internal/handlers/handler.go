package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"radarsafi/internal/chat"
	"radarsafi/internal/gemini"
	"radarsafi/internal/inflight"
	"radarsafi/internal/mediagroup"
	"radarsafi/internal/quiz"
	"radarsafi/internal/telegram"
	"radarsafi/internal/verify"
)

const helpText = "🛡 RadarSafi\n\n" +
	"Send a message to chat, or a photo with a caption.\n\n" +
	"Commands:\n" +
	"/quiz - cybersecurity quiz question\n" +
	"/scam <message> - check a message for scams\n" +
	"/phone <number> | <organization> - check a caller\n" +
	"/clear - clear chat history\n" +
	"/help - this help"

type Messenger interface {
	SendText(chatID int64, text string) error
	SendTextWithButtons(chatID int64, text string, buttons []telegram.Button) error
	SendTyping(chatID int64)
	AnswerCallback(callbackID, text string, alert bool) error
	FinishButtons(chatID int64, messageID int) error
	DownloadPhotoBase64(ctx context.Context, fileID string) (string, error)
}

type Options struct {
	Messenger Messenger
	Chat      *chat.Service
	Quiz      *quiz.Generator
	Quizzes   *quiz.Store
	Verify    *verify.Service
	Inflight  *inflight.Tracker
	Logger    *slog.Logger
}

type Handler struct {
	tg       Messenger
	chat     *chat.Service
	quiz     *quiz.Generator
	quizzes  *quiz.Store
	verify   *verify.Service
	inflight *inflight.Tracker
	albums   *mediagroup.Aggregator
	logger   *slog.Logger
}

func New(opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	tracker := opts.Inflight
	if tracker == nil {
		tracker = inflight.New()
	}

	quizzes := opts.Quizzes
	if quizzes == nil {
		quizzes = quiz.NewStore(0)
	}

	return &Handler{
		tg:       opts.Messenger,
		chat:     opts.Chat,
		quiz:     opts.Quiz,
		quizzes:  quizzes,
		verify:   opts.Verify,
		inflight: tracker,
		logger:   logger,
	}
}

// SetAlbumAggregator routes album photos through agg. Without one every photo
// of an album is answered on its own.
func (h *Handler) SetAlbumAggregator(agg *mediagroup.Aggregator) {
	h.albums = agg
}

func (h *Handler) HandleUpdate(ctx context.Context, update telegram.Update) error {
	if update.CallbackQuery != nil {
		return h.handleCallback(ctx, update.CallbackQuery)
	}

	if update.Message == nil {
		return nil
	}

	msg := update.Message
	chatID := msg.Chat.ID

	if msg.IsCommand() {
		return h.handleCommand(ctx, chatID, msg)
	}

	if len(msg.Photo) > 0 {
		return h.handlePhoto(ctx, chatID, msg)
	}

	if msg.Text != "" {
		return h.handleText(ctx, chatID, msg.Text, "")
	}

	return nil
}

func (h *Handler) handleCommand(ctx context.Context, chatID int64, msg *tgbotapi.Message) error {
	args := strings.TrimSpace(msg.CommandArguments())

	switch msg.Command() {
	case "start", "help":
		return h.tg.SendText(chatID, helpText)
	case "clear":
		h.chat.History().Clear(conversationID(chatID))
		return h.tg.SendText(chatID, "✅ Chat history cleared.")
	case "quiz":
		return h.sendQuiz(ctx, chatID)
	case "scam":
		if args == "" {
			return h.tg.SendText(chatID, "❌ Paste the message to check.\nExample: /scam You have won a prize, send 500 KES to claim")
		}
		return h.runVerify(ctx, chatID, func(ctx context.Context) (gemini.Result, error) {
			return h.verify.AnalyzeMessage(ctx, args)
		})
	case "phone":
		number, org := verify.ParsePhoneArgs(args)
		if number == "" {
			return h.tg.SendText(chatID, "❌ Give the phone number.\nExample: /phone 0712345678 | Safaricom")
		}
		return h.runVerify(ctx, chatID, func(ctx context.Context) (gemini.Result, error) {
			return h.verify.CheckPhone(ctx, number, org)
		})
	default:
		return h.tg.SendText(chatID, "❌ Unknown command. Use /help.")
	}
}

func (h *Handler) handleText(ctx context.Context, chatID int64, text, image string) error {
	text = strings.TrimSpace(text)
	if text == "" && image == "" {
		return nil
	}

	h.tg.SendTyping(chatID)

	reqCtx, done := h.inflight.Begin(ctx, flowKey(chatID, "chat"))
	defer done()

	res, err := h.chat.Reply(reqCtx, conversationID(chatID), text, image)
	if inflight.Superseded(ctx, reqCtx) {
		return nil
	}
	if err != nil {
		return err
	}

	return h.tg.SendText(chatID, res.Text)
}

func (h *Handler) handlePhoto(ctx context.Context, chatID int64, msg *tgbotapi.Message) error {
	photo := msg.Photo[len(msg.Photo)-1]

	if h.albums != nil && h.albums.Add(mediagroup.Photo{
		ChatID:       chatID,
		MediaGroupID: msg.MediaGroupID,
		Caption:      msg.Caption,
		FileID:       photo.FileID,
	}) {
		return nil
	}

	return h.replyWithPhoto(ctx, chatID, msg.Caption, photo.FileID)
}

// HandleAlbum answers a whole album at once. Only one image fits in a request,
// so the first photo is sent along with the album caption.
func (h *Handler) HandleAlbum(ctx context.Context, album mediagroup.Album) error {
	if len(album.FileIDs) == 0 {
		return nil
	}
	if len(album.FileIDs) > 1 {
		if err := h.tg.SendText(album.ChatID, "ℹ️ Albums: only the first photo is checked."); err != nil {
			h.logger.Warn("album notice failed", "chat_id", album.ChatID, "err", err)
		}
	}
	return h.replyWithPhoto(ctx, album.ChatID, album.Caption, album.FileIDs[0])
}

func (h *Handler) replyWithPhoto(ctx context.Context, chatID int64, caption, fileID string) error {
	h.tg.SendTyping(chatID)

	image, err := h.tg.DownloadPhotoBase64(ctx, fileID)
	if err != nil {
		h.logger.Error("photo download failed", "chat_id", chatID, "err", err)
		return h.tg.SendText(chatID, "❌ Could not download the photo.")
	}

	return h.handleText(ctx, chatID, caption, image)
}

func (h *Handler) runVerify(ctx context.Context, chatID int64, call func(context.Context) (gemini.Result, error)) error {
	h.tg.SendTyping(chatID)

	reqCtx, done := h.inflight.Begin(ctx, flowKey(chatID, "verify"))
	defer done()

	res, err := call(reqCtx)
	if inflight.Superseded(ctx, reqCtx) {
		return nil
	}
	if errors.Is(err, verify.ErrEmptyInput) {
		return h.tg.SendText(chatID, "❌ Nothing to check.")
	}
	if err != nil {
		return err
	}

	return h.tg.SendText(chatID, res.Text)
}

func conversationID(chatID int64) string {
	return fmt.Sprintf("tg:%d", chatID)
}

func flowKey(chatID int64, flow string) string {
	return fmt.Sprintf("tg:%d:%s", chatID, flow)
}

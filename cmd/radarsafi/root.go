package main

import (
	"os"
	"strings"

	"github.com/spf13/cobra"

	"radarsafi/internal/chat"
	"radarsafi/internal/config"
	"radarsafi/internal/gemini"
	"radarsafi/internal/httpclient"
	"radarsafi/internal/logging"
	"radarsafi/internal/quiz"
	"radarsafi/internal/render"
	"radarsafi/internal/verify"
)

type app struct {
	apiKey string
	model  string
	width  int
	plain  bool

	gem    *gemini.Client
	chat   *chat.Service
	quiz   *quiz.Generator
	verify *verify.Service
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "radarsafi",
		Short:         "Cybersecurity assistant: chat, quiz and scam checks",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.apiKey, "api-key", "", "Gemini API key (default $GEMINI_API_KEY)")
	flags.StringVar(&a.model, "model", "", "model name (default $GEMINI_MODEL)")
	flags.IntVar(&a.width, "width", 100, "word wrap width for rendered replies")
	flags.BoolVar(&a.plain, "plain", false, "print replies as raw markdown")

	root.AddCommand(newChatCmd(a), newQuizCmd(a), newVerifyCmd(a))
	return root
}

func (a *app) init() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Logs go to stderr so they never mix with replies.
	logger := logging.New(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile, Output: os.Stderr})

	apiKey := strings.TrimSpace(a.apiKey)
	if apiKey == "" {
		apiKey = cfg.GeminiAPIKey
	}
	model := strings.TrimSpace(a.model)
	if model == "" {
		model = cfg.GeminiModel
	}

	a.gem = gemini.New(gemini.Options{
		Credentials: gemini.StaticKey(apiKey),
		BaseURL:     cfg.GeminiBaseURL,
		APIVersion:  cfg.GeminiAPIVersion,
		Model:       model,
		HTTPClient: httpclient.New(httpclient.Options{
			PreferIPv4: cfg.PreferIPv4,
			Timeout:    cfg.HTTPTimeout(),
		}),
		Logger: logger,
	})
	a.chat = chat.New(chat.Options{Sender: a.gem, History: chat.NewHistory(cfg.MaxHistoryMessages), Logger: logger})
	a.quiz = quiz.NewGenerator(a.gem, logger)
	a.verify = verify.New(a.gem, logger)
	return nil
}

func (a *app) render(text string) string {
	if a.plain {
		return strings.TrimRight(text, "\n") + "\n"
	}
	return render.Terminal(text, a.width)
}

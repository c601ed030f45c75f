package main

import (
	"bufio"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"radarsafi/internal/chat"
)

const cliConversation = "cli"

func newChatCmd(a *app) *cobra.Command {
	var imagePath string

	cmd := &cobra.Command{
		Use:   "chat [message...]",
		Short: "Chat with RadarSafi; without a message it starts a prompt loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			image := ""
			if imagePath != "" {
				raw, err := os.ReadFile(imagePath)
				if err != nil {
					return fmt.Errorf("read image: %w", err)
				}
				image = base64.StdEncoding.EncodeToString(raw)
			}

			if len(args) > 0 {
				return a.chatOnce(cmd, strings.Join(args, " "), image)
			}
			return a.chatLoop(cmd, image)
		},
	}
	cmd.Flags().StringVar(&imagePath, "image", "", "image file sent with the first message")
	return cmd
}

func (a *app) chatOnce(cmd *cobra.Command, message, image string) error {
	res, err := a.chat.Reply(cmd.Context(), cliConversation, message, image)
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), a.render(res.Text))
	return nil
}

func (a *app) chatLoop(cmd *cobra.Command, image string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "RadarSafi chat. /clear resets, exit quits.")

	sc := bufio.NewScanner(cmd.InOrStdin())
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for {
		fmt.Fprint(out, "> ")
		if !sc.Scan() {
			fmt.Fprintln(out)
			return sc.Err()
		}

		line := strings.TrimSpace(sc.Text())
		switch line {
		case "":
			continue
		case "exit", "/exit", "/quit":
			return nil
		case "/clear":
			a.chat.History().Clear(cliConversation)
			fmt.Fprintln(out, "History cleared.")
			continue
		}

		err := a.chatOnce(cmd, line, image)
		image = ""
		if errors.Is(err, chat.ErrEmptyMessage) {
			continue
		}
		if err != nil {
			return err
		}
	}
}

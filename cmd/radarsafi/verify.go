package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"radarsafi/internal/gemini"
	"radarsafi/internal/verify"
)

func newVerifyCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check a message or phone number for scams",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "text [message...]",
		Short: "Analyze a message; reads stdin when no message is given",
		RunE: func(cmd *cobra.Command, args []string) error {
			message := strings.Join(args, " ")
			if message == "" {
				raw, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return err
				}
				message = string(raw)
			}
			res, err := a.verify.AnalyzeMessage(cmd.Context(), message)
			return a.printResult(cmd, res, err)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "phone <number> [claimed organization...]",
		Short: "Look up a phone number with Google Search grounding",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			number, org := verify.ParsePhoneArgs(strings.Join(args, " "))
			res, err := a.verify.CheckPhone(cmd.Context(), number, org)
			return a.printResult(cmd, res, err)
		},
	})

	return cmd
}

func (a *app) printResult(cmd *cobra.Command, res gemini.Result, err error) error {
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), a.render(res.Text))
	if res.Failed() {
		return res.Err
	}
	return nil
}

package main

import (
	"bufio"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"radarsafi/internal/quiz"
)

var errQuit = errors.New("quit")

func newQuizCmd(a *app) *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "quiz",
		Short: "Answer cybersecurity quiz questions until you type q",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			in := bufio.NewScanner(cmd.InOrStdin())
			asked, score := 0, 0
			for count <= 0 || asked < count {
				ok, err := a.askQuestion(cmd, in)
				if errors.Is(err, errQuit) {
					break
				}
				if err != nil {
					return err
				}
				asked++
				if ok {
					score++
				}
			}
			if asked > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "\nScore: %d/%d\n", score, asked)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 0, "stop after this many questions (0 asks until q)")
	return cmd
}

func (a *app) askQuestion(cmd *cobra.Command, in *bufio.Scanner) (bool, error) {
	out := cmd.OutOrStdout()

	q, res, err := a.quiz.Next(cmd.Context())
	if errors.Is(err, quiz.ErrMalformedQuiz) {
		return false, errors.New("could not read the quiz question")
	}
	if err != nil {
		return false, errors.New(res.Text)
	}

	fmt.Fprintf(out, "\n%s\n", q.Question)
	for i, opt := range q.Options {
		fmt.Fprintf(out, "  %c) %s\n", 'A'+i, opt)
	}

	for {
		fmt.Fprint(out, "Your answer (q quits): ")
		if !in.Scan() {
			if err := in.Err(); err != nil {
				return false, err
			}
			return false, errQuit
		}
		line := strings.TrimSpace(in.Text())
		if strings.EqualFold(line, "q") {
			return false, errQuit
		}
		idx, ok := parseChoice(line, len(q.Options))
		if !ok {
			fmt.Fprintf(out, "Pick A-%c or 1-%d.\n", 'A'+len(q.Options)-1, len(q.Options))
			continue
		}
		fb := quiz.Check(q, q.Options[idx])
		fmt.Fprintln(out, fb.Text)
		return fb.Correct, nil
	}
}

// parseChoice accepts a letter or a 1-based number.
func parseChoice(input string, n int) (int, bool) {
	input = strings.TrimSpace(input)
	if input == "" {
		return 0, false
	}
	if len(input) == 1 {
		c := strings.ToUpper(input)[0]
		if c >= 'A' && int(c-'A') < n {
			return int(c - 'A'), true
		}
	}
	if v, err := strconv.Atoi(input); err == nil && v >= 1 && v <= n {
		return v - 1, true
	}
	return 0, false
}

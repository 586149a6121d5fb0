package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"convoforge/internal/conversation"
	"convoforge/internal/models"
)

const chatHelp = `Commands: /decisions, /reset, /quit`

func newChatCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Run one conversation in the terminal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(opts, nil)
			if err != nil {
				return err
			}
			s := &chatSession{
				conversation: a.conversation,
				in:           cmd.InOrStdin(),
				out:          cmd.OutOrStdout(),
			}
			return s.run(cmd)
		},
	}
}

type chatSession struct {
	conversation *conversation.Orchestrator
	in           io.Reader
	out          io.Writer
}

func (s *chatSession) run(cmd *cobra.Command) error {
	ctx := cmd.Context()

	fmt.Fprintln(s.out, conversation.WelcomeMessage)
	fmt.Fprintln(s.out, chatHelp)
	s.printSuggestions(s.conversation.Suggestions())

	scanner := bufio.NewScanner(s.in)
	for {
		fmt.Fprint(s.out, "you> ")
		if !scanner.Scan() {
			fmt.Fprintln(s.out)
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/reset":
			if err := s.conversation.Reset(ctx); err != nil {
				return err
			}
			fmt.Fprintln(s.out, conversation.WelcomeMessage)
			continue
		case "/decisions":
			s.printDecisions()
			continue
		}

		fmt.Fprint(s.out, "assistant> ")
		res, err := s.conversation.SendTurn(ctx, line, func(chunk models.StreamChunk) {
			fmt.Fprint(s.out, chunk.Content)
		})
		fmt.Fprintln(s.out)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, conversation.ErrTurnFailed) {
				fmt.Fprintf(s.out, "error: %v\n", err)
				continue
			}
			return err
		}

		for _, d := range res.Decisions {
			fmt.Fprintf(s.out, "  decision [%s] %s (%s)\n", d.Status, d.Title, conversation.Bucket(d.Category))
		}
		s.printSuggestions(res.Suggestions)
	}
}

func (s *chatSession) printSuggestions(suggestions []string) {
	for i, sug := range suggestions {
		fmt.Fprintf(s.out, "  %d. %s\n", i+1, sug)
	}
}

func (s *chatSession) printDecisions() {
	if len(s.conversation.Decisions()) == 0 {
		fmt.Fprintln(s.out, "no decisions yet")
		return
	}
	for _, g := range s.conversation.DecisionsByCategory() {
		if len(g.Decisions) == 0 {
			continue
		}
		fmt.Fprintf(s.out, "%s\n", g.Category.Title)
		for _, d := range g.Decisions {
			fmt.Fprintf(s.out, "  [%s] %s: %s\n", d.Status, d.Title, d.Details)
		}
	}
}

package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/krunaln/macrs-ecom-recommender/internal/flow"
)

const chatHelp = `Commands:
  /help    show this help
  /state   print the stored conversation state
  /reset   forget this session and start over
  /exit    quit (also /quit or Ctrl-D)
`

var chatSession string

// chatCmd runs an interactive session
var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the recommender interactively",
	Long: `Start an interactive conversation. Each line is one user turn.

Examples:
  # Rule-based chat over a local catalog
  macrs chat --no-llm --catalog products.json

  # Resume an earlier session
  macrs chat --session 3f2a...`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatSession, "session", "", "session id to resume")
}

func runChat(cmd *cobra.Command, _ []string) error {
	a, err := buildApp(cmd.Context(), cfg, "chat")
	if err != nil {
		return err
	}
	defer a.Close()

	sessionID := chatSession
	if sessionID == "" {
		sessionID = flow.NewSessionID()
	}
	return chatLoop(cmd, a.service, sessionID, cmd.InOrStdin())
}

func chatLoop(cmd *cobra.Command, svc *flow.Service, sessionID string, in io.Reader) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "session %s, type /help for commands\n", sessionID)

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/exit", "/quit":
			return nil
		case "/help":
			fmt.Fprint(out, chatHelp)
			continue
		case "/reset":
			if err := svc.Reset(ctx, sessionID); err != nil {
				return err
			}
			fmt.Fprintln(out, "session reset")
			continue
		case "/state":
			state, err := svc.Conversation(ctx, sessionID)
			if err != nil {
				return err
			}
			if state == nil {
				fmt.Fprintln(out, "no turns yet")
				continue
			}
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			if err := enc.Encode(state); err != nil {
				return err
			}
			continue
		}
		if strings.HasPrefix(line, "/") {
			fmt.Fprintf(out, "unknown command %s\n", line)
			continue
		}

		res, err := svc.Turn(ctx, sessionID, line)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		fmt.Fprintf(out, "[%s] %s\n", res.Decision.Act, res.Response)
	}
}

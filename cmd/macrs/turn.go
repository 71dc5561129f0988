package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/krunaln/macrs-ecom-recommender/internal/flow"
)

var (
	turnSession string
	turnStream  bool
	turnJSON    bool
)

// turnCmd runs a single turn
var turnCmd = &cobra.Command{
	Use:   "turn <message>",
	Short: "Run one conversation turn",
	Long: `Run one turn against a stored session and print the system response.

Without --session a new session is started and its id is printed to stderr so
later turns can continue it.

Examples:
  # Start a session
  macrs turn "I need running shoes under 100"

  # Continue it and show every phase of the turn
  macrs turn --session 3f2a... --stream "something cheaper"

  # Full turn result as JSON
  macrs turn --session 3f2a... --json "show me Acme"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runTurn,
}

func init() {
	turnCmd.Flags().StringVar(&turnSession, "session", "", "session id to continue")
	turnCmd.Flags().BoolVar(&turnStream, "stream", false, "print phase transitions to stderr")
	turnCmd.Flags().BoolVar(&turnJSON, "json", false, "print the full turn result as JSON")
}

func runTurn(cmd *cobra.Command, args []string) error {
	var opts []flow.OrchestratorOption
	if turnStream {
		opts = append(opts, flow.WithPhaseObserver(phasePrinter(cmd)))
	}
	a, err := buildApp(cmd.Context(), cfg, "turn", opts...)
	if err != nil {
		return err
	}
	defer a.Close()

	sessionID := turnSession
	if sessionID == "" {
		sessionID = flow.NewSessionID()
		fmt.Fprintf(cmd.ErrOrStderr(), "session: %s\n", sessionID)
	}
	res, err := a.service.Turn(cmd.Context(), sessionID, strings.Join(args, " "))
	if err != nil {
		return err
	}
	if turnJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	printf(cmd, "%s\n", res.Response)
	return nil
}

func phasePrinter(cmd *cobra.Command) flow.PhaseObserver {
	return flow.PhaseObserverFunc(func(e flow.PhaseEvent) {
		line := fmt.Sprintf("[turn %d] %s", e.TurnID, e.Phase)
		for _, k := range []string{"candidates", "act", "candidate_id", "source"} {
			if v, ok := e.Detail[k]; ok {
				line += fmt.Sprintf(" %s=%v", k, v)
			}
		}
		fmt.Fprintln(cmd.ErrOrStderr(), line)
	})
}

package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var purgeOlderThan time.Duration

// sessionsCmd groups session maintenance commands
var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect and maintain stored sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored session ids",
	Args:  cobra.NoArgs,
	RunE:  runSessionsList,
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Print a session's stored state as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsShow,
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>...",
	Short: "Delete stored sessions",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSessionsDelete,
}

var sessionsPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete sessions idle for longer than --older-than",
	Long: `Delete sessions whose state has not been saved within --older-than.

Examples:
  macrs sessions purge --older-than 720h`,
	Args: cobra.NoArgs,
	RunE: runSessionsPurge,
}

func init() {
	sessionsPurgeCmd.Flags().DurationVar(&purgeOlderThan, "older-than", 0, "idle duration, e.g. 24h (default store.retention)")
	sessionsCmd.AddCommand(sessionsListCmd, sessionsShowCmd, sessionsDeleteCmd, sessionsPurgeCmd)
}

func runSessionsList(cmd *cobra.Command, _ []string) error {
	a, err := buildApp(cmd.Context(), cfg, "sessions")
	if err != nil {
		return err
	}
	defer a.Close()
	ids, err := a.service.Sessions(cmd.Context())
	if err != nil {
		return err
	}
	for _, id := range ids {
		printf(cmd, "%s\n", id)
	}
	return nil
}

func runSessionsShow(cmd *cobra.Command, args []string) error {
	a, err := buildApp(cmd.Context(), cfg, "sessions")
	if err != nil {
		return err
	}
	defer a.Close()
	state, err := a.service.Conversation(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if state == nil {
		return fmt.Errorf("session %s not found", args[0])
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(state)
}

func runSessionsDelete(cmd *cobra.Command, args []string) error {
	a, err := buildApp(cmd.Context(), cfg, "sessions")
	if err != nil {
		return err
	}
	defer a.Close()
	for _, id := range args {
		if err := a.service.Reset(cmd.Context(), id); err != nil {
			return err
		}
		printf(cmd, "deleted %s\n", id)
	}
	return nil
}

func runSessionsPurge(cmd *cobra.Command, _ []string) error {
	olderThan := purgeOlderThan
	if olderThan == 0 {
		olderThan = cfg.Store.Retention
	}
	if olderThan <= 0 {
		return fmt.Errorf("set --older-than or store.retention")
	}
	a, err := buildApp(cmd.Context(), cfg, "sessions")
	if err != nil {
		return err
	}
	defer a.Close()
	n, err := a.service.PurgeIdle(cmd.Context(), olderThan)
	if err != nil {
		return err
	}
	printf(cmd, "purged %d sessions\n", n)
	return nil
}

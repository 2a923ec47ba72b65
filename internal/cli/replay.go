package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/island/internal/models"
	"github.com/roach88/island/internal/replay"
	"github.com/roach88/island/internal/store"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database string
	Session  string // optional - specific session only
}

// ReplaySessionResult holds the replay result for a single session.
type ReplaySessionResult struct {
	Session string `json:"session"`
	// Skipped is set for sessions with no checkpoints to verify.
	Skipped bool           `json:"skipped,omitempty"`
	Report  *replay.Report `json:"report,omitempty"`
}

// ReplayResult holds the overall replay result.
type ReplayResult struct {
	Sessions         []ReplaySessionResult `json:"sessions"`
	TotalSessions    int                   `json:"total_sessions"`
	AllDeterministic bool                  `json:"all_deterministic"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay stored sessions and verify determinism",
		Long: `Replay the reflector's stored message log against its checkpoints.

Each checkpoint is restored, the messages up to the next checkpoint are
replayed, and the resulting snapshot hash is compared with the one the
clients reported. Message digests are checked too.

Exit codes:
  0 - All sessions are deterministic
  1 - Determinism verification failed (divergent checkpoint or tampered log)
  2 - Command error (database not found, etc.)

Examples:
  island replay --db ./island.db
  island replay --db ./island.db --session room
  island replay --db ./island.db --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Session, "session", "", "replay specific session only")

	return cmd
}

func runReplay(ctx context.Context, opts *ReplayOptions, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	reg, err := models.NewRegistry()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build registry", err)
	}

	sessions, err := st.ListSessions(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list sessions", err)
	}
	if opts.Session != "" {
		var found []store.SessionInfo
		for _, s := range sessions {
			if s.ID == opts.Session {
				found = append(found, s)
			}
		}
		if len(found) == 0 {
			return NewExitError(ExitCommandError, fmt.Sprintf("session not found: %s", opts.Session))
		}
		sessions = found
	}

	result := ReplayResult{
		Sessions:         make([]ReplaySessionResult, 0, len(sessions)),
		TotalSessions:    len(sessions),
		AllDeterministic: true,
	}

	if len(sessions) == 0 {
		if opts.Format == "json" {
			return outputReplayJSON(cmd, result)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "No sessions found in database.")
		return nil
	}

	f := newFormatter(cmd, opts.RootOptions)
	for _, s := range sessions {
		f.VerboseLog("replaying session %s: %d message(s), %d checkpoint(s)", s.ID, s.Messages, s.Snapshots)
		if s.Snapshots == 0 {
			result.Sessions = append(result.Sessions, ReplaySessionResult{Session: s.ID, Skipped: true})
			continue
		}
		report, err := replay.Verify(ctx, st, reg, s.ID)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to replay session %s", s.ID), err)
		}
		result.Sessions = append(result.Sessions, ReplaySessionResult{Session: s.ID, Report: &report})
		if !report.Deterministic {
			result.AllDeterministic = false
		}
	}

	if opts.Format == "json" {
		return outputReplayJSON(cmd, result)
	}
	return outputReplayText(cmd, result, opts.Verbose)
}

// outputReplayJSON outputs the replay result as JSON.
func outputReplayJSON(cmd *cobra.Command, result ReplayResult) error {
	response := CLIResponse{
		Status: "ok",
		Data:   result,
	}

	if !result.AllDeterministic {
		response.Status = "error"
		response.Error = &CLIError{
			Code:    "E_DETERMINISM",
			Message: "determinism verification failed",
		}
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(response); err != nil {
		return err
	}

	if !result.AllDeterministic {
		// Determinism failure = exit code 1
		return NewExitError(ExitFailure, "determinism verification failed")
	}
	return nil
}

// outputReplayText outputs the replay result as text.
func outputReplayText(cmd *cobra.Command, result ReplayResult, verbose bool) error {
	w := cmd.OutOrStdout()

	fmt.Fprintf(w, "Replay Summary: %d session(s)\n", result.TotalSessions)
	fmt.Fprintln(w)

	for _, s := range result.Sessions {
		if s.Skipped {
			fmt.Fprintf(w, "- Session: %s (no checkpoints)\n\n", s.Session)
			continue
		}
		r := s.Report
		status := "✓"
		if !r.Deterministic {
			status = "✗"
		}

		fmt.Fprintf(w, "%s Session: %s\n", status, s.Session)
		fmt.Fprintf(w, "  Checkpoints: %d, messages: %d\n", len(r.Checks), r.Messages)

		for _, c := range r.Checks {
			if c.OK && !verbose {
				continue
			}
			mark := "ok"
			if !c.OK {
				mark = "MISMATCH"
			}
			fmt.Fprintf(w, "  seq=%d time=%d replayed=%d %s\n", c.Seq, c.Time, c.Replayed, mark)
			if !c.OK {
				fmt.Fprintf(w, "    expected %s\n", c.Expected)
				fmt.Fprintf(w, "    actual   %s\n", c.Actual)
				if c.Error != "" {
					fmt.Fprintf(w, "    error    %s\n", c.Error)
				}
			}
		}
		if len(r.BadDigests) > 0 {
			fmt.Fprintf(w, "  Tampered messages: %v\n", r.BadDigests)
		}
		if !r.Deterministic {
			fmt.Fprintln(w, "  Warning: Non-deterministic replay detected!")
		}
		fmt.Fprintln(w)
	}

	if result.AllDeterministic {
		fmt.Fprintln(w, "✓ All sessions verified deterministic")
		return nil
	}

	fmt.Fprintln(w, "✗ Determinism verification failed")
	// Determinism failure = exit code 1
	return NewExitError(ExitFailure, "determinism verification failed")
}

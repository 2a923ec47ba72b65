package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/island/internal/ir"
	"github.com/roach88/island/internal/island"
	"github.com/roach88/island/internal/store"
)

// InspectOptions holds flags for the inspect command.
type InspectOptions struct {
	*RootOptions
	Database string
	Session  string
	Full     bool // print the whole snapshot
}

// ModelSummary is one model of a snapshot.
type ModelSummary struct {
	ID    string `json:"id"`
	Kind  string `json:"kind"`
	State string `json:"state"` // canonical JSON
}

// InspectResult summarizes a snapshot.
type InspectResult struct {
	Source        string         `json:"source"`
	Session       string         `json:"session"`
	Version       string         `json:"version"`
	Time          int64          `json:"time"`
	Seq           uint64         `json:"seq"`
	ExternalSeq   uint64         `json:"external_seq"`
	Hash          string         `json:"hash"`
	StoredHash    string         `json:"stored_hash,omitempty"`
	Models        []ModelSummary `json:"models"`
	Messages      int            `json:"messages"`
	Subscriptions int            `json:"subscriptions"`
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InspectOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "inspect [snapshot-file]",
		Short: "Summarize a snapshot",
		Long: `Summarize an island snapshot and compute its hash.

The snapshot is read from a file, or with --db from the latest checkpoint
stored for --session. For stored checkpoints the computed hash is compared
with the one the client reported.

Exit codes:
  0 - Snapshot is valid (and matches its stored hash)
  1 - Stored hash does not match the snapshot
  2 - Command error (file not found, malformed snapshot, etc.)

Examples:
  island inspect snapshot.json
  island inspect --db ./island.db --session room
  island inspect snapshot.json --full`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(cmd.Context(), opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "read the latest stored checkpoint from this database")
	cmd.Flags().StringVar(&opts.Session, "session", "room", "session whose checkpoint to read (with --db)")
	cmd.Flags().BoolVar(&opts.Full, "full", false, "print the whole snapshot as canonical JSON")

	return cmd
}

func runInspect(ctx context.Context, opts *InspectOptions, args []string, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var (
		data       []byte
		source     string
		storedHash string
	)
	switch {
	case len(args) == 1 && opts.Database != "":
		return NewExitError(ExitCommandError, "give either a snapshot file or --db, not both")
	case len(args) == 1:
		b, err := os.ReadFile(args[0])
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read snapshot", err)
		}
		data, source = b, args[0]
	case opts.Database != "":
		snap, err := latestCheckpoint(ctx, opts.Database, opts.Session)
		if err != nil {
			return err
		}
		data, storedHash = snap.Body, snap.Hash
		source = fmt.Sprintf("%s (session %s, seq %d)", opts.Database, opts.Session, snap.Seq)
	default:
		return NewExitError(ExitCommandError, "a snapshot file or --db is required")
	}

	st, err := island.ParseState(data)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to parse snapshot", err)
	}
	hash, err := st.Hash()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to hash snapshot", err)
	}

	result := InspectResult{
		Source:        source,
		Session:       st.ID,
		Version:       st.Version,
		Time:          st.Time,
		Seq:           st.Seq,
		ExternalSeq:   st.ExternalSeq,
		Hash:          hash,
		StoredHash:    storedHash,
		Models:        summarizeModels(st),
		Messages:      len(st.Messages),
		Subscriptions: len(st.Subscriptions),
	}
	mismatch := storedHash != "" && storedHash != hash

	f := newFormatter(cmd, opts.RootOptions)
	switch {
	case opts.Full:
		canonical, err := st.Marshal()
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to marshal snapshot", err)
		}
		fmt.Fprintln(f.Writer, string(canonical))
	case mismatch && opts.Format == "json":
		if err := f.Error("E_HASH_MISMATCH", "stored hash does not match snapshot", result); err != nil {
			return err
		}
	default:
		if err := f.Success(result, result.print); err != nil {
			return err
		}
	}

	if mismatch {
		return NewExitError(ExitFailure, "stored hash does not match snapshot")
	}
	return nil
}

func latestCheckpoint(ctx context.Context, path, session string) (store.Snapshot, error) {
	if _, err := os.Stat(path); err != nil {
		return store.Snapshot{}, WrapExitError(ExitCommandError, "database not found", err)
	}
	st, err := store.Open(path)
	if err != nil {
		return store.Snapshot{}, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	snap, ok, err := st.LatestSnapshot(ctx, session)
	if err != nil {
		return store.Snapshot{}, WrapExitError(ExitCommandError, "failed to read checkpoint", err)
	}
	if !ok {
		return store.Snapshot{}, NewExitError(ExitCommandError, fmt.Sprintf("no checkpoint stored for session %s", session))
	}
	return snap, nil
}

// summarizeModels lists a state's models in creation order.
func summarizeModels(st *island.State) []ModelSummary {
	out := make([]ModelSummary, 0, len(st.Models))
	for _, m := range st.Models {
		state := "{}"
		if b, err := ir.MarshalCanonical(m.State); err == nil {
			state = string(b)
		}
		out = append(out, ModelSummary{ID: m.ID, Kind: m.Kind, State: state})
	}
	return out
}

func (r InspectResult) print(w io.Writer) {
	fmt.Fprintf(w, "Snapshot: %s\n", r.Source)
	fmt.Fprintf(w, "  Session:       %s\n", r.Session)
	fmt.Fprintf(w, "  Version:       %s\n", r.Version)
	fmt.Fprintf(w, "  Time:          %d\n", r.Time)
	fmt.Fprintf(w, "  Seq:           %d (external %d)\n", r.Seq, r.ExternalSeq)
	fmt.Fprintf(w, "  Queued:        %d message(s)\n", r.Messages)
	fmt.Fprintf(w, "  Subscriptions: %d\n", r.Subscriptions)
	fmt.Fprintf(w, "  Hash:          %s\n", r.Hash)
	if r.StoredHash != "" {
		if r.StoredHash == r.Hash {
			fmt.Fprintln(w, "  ✓ matches stored hash")
		} else {
			fmt.Fprintf(w, "  ✗ stored hash %s\n", r.StoredHash)
		}
	}
	fmt.Fprintf(w, "Models: %d\n", len(r.Models))
	for _, m := range r.Models {
		fmt.Fprintf(w, "  %s %s %s\n", m.ID, m.Kind, m.State)
	}
}

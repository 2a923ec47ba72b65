package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/island/internal/config"
	"github.com/roach88/island/internal/controller"
	"github.com/roach88/island/internal/island"
	"github.com/roach88/island/internal/models"
	"github.com/roach88/island/internal/transport"
)

// JoinOptions holds flags for the join command.
type JoinOptions struct {
	*RootOptions
	URL      string
	Session  string
	ClientID string
	Duration time.Duration
	Send     []string // wire payloads sent once the island is live
}

// JoinSummary is printed when the join command exits.
type JoinSummary struct {
	Session    string             `json:"session"`
	Client     string             `json:"client"`
	State      string             `json:"state"`
	Time       int64              `json:"time"`
	Hash       string             `json:"hash,omitempty"`
	Models     []ModelSummary     `json:"models"`
	ViewEvents []models.ViewEvent `json:"view_events"`
}

// NewJoinCommand creates the join command.
func NewJoinCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &JoinOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "join",
		Short: "Join a session as a headless replica",
		Long: `Join a session on a reflector and run the sample room as a replica.

The replica logs every view event it receives. Payloads given with --send
are sent once the island is live, in wire form:

  {receiver}.{part}.{selector}[args...]

On exit (after --duration, or on interrupt) a summary of the replica's
island is printed.

Examples:
  island join --session room
  island join --url ws://localhost:8080/ws --send 'M1..add[1]' --duration 5s
  island join --format json --duration 2s`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			opts.apply(cmd, cfg)
			logger, err := opts.newLogger(cmd, cfg)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if opts.Duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, opts.Duration)
				defer cancel()
			}

			summary, err := runJoin(ctx, cfg.Client, opts.Send, logger)
			if err != nil {
				return err
			}
			return newFormatter(cmd, opts.RootOptions).Success(summary, summary.print)
		},
	}

	cmd.Flags().StringVar(&opts.URL, "url", "", "reflector websocket URL (config: client.url)")
	cmd.Flags().StringVar(&opts.Session, "session", "", "session id (config: client.session)")
	cmd.Flags().StringVar(&opts.ClientID, "id", "", "client id (config: client.id, default: generated)")
	cmd.Flags().DurationVar(&opts.Duration, "duration", 0, "leave after this long (0: until interrupted)")
	cmd.Flags().StringArrayVar(&opts.Send, "send", nil, "wire payload to send once live (repeatable)")

	return cmd
}

func (o *JoinOptions) apply(cmd *cobra.Command, cfg *config.Config) {
	c := &cfg.Client
	if cmd.Flags().Changed("url") {
		c.URL = o.URL
	}
	if cmd.Flags().Changed("session") {
		c.Session = o.Session
	}
	if cmd.Flags().Changed("id") {
		c.ID = o.ClientID
	}
}

// runJoin runs a replica until ctx is done and summarizes its island.
func runJoin(ctx context.Context, cfg config.Client, send []string, logger *slog.Logger) (JoinSummary, error) {
	reg, err := models.NewRegistry()
	if err != nil {
		return JoinSummary{}, WrapExitError(ExitCommandError, "failed to build registry", err)
	}

	watcher := models.NewRoomWatcher(logger)
	var (
		ctrl     *controller.Controller
		attached *island.Island
		sent     bool
	)
	ctrlOpts := []controller.Option{
		controller.WithLogger(logger),
		controller.WithOnInstall(func(isl *island.Island) {
			if isl != attached {
				if err := watcher.Attach(isl); err != nil {
					logger.Error("attach view failed", "error", err)
				}
				attached = isl
			}
			if sent {
				return
			}
			sent = true
			for _, payload := range send {
				if err := ctrl.Send(payload); err != nil {
					logger.Warn("send failed", "payload", payload, "error", err)
				}
			}
		}),
	}
	if cfg.ID != "" {
		ctrlOpts = append(ctrlOpts, controller.WithClientID(cfg.ID))
	}
	ctrl = controller.New(cfg.Session, reg, models.InitRoom, ctrlOpts...)

	lo, hi := cfg.Backoff()
	ws := transport.NewWebSocket(cfg.URL, ctrl,
		transport.WithBackoff(lo, hi),
		transport.WithWebSocketLogger(logger),
	)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = ctrl.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		_ = ws.Run(ctx)
	}()
	wg.Wait()

	return summarize(ctrl, watcher)
}

// summarize describes the controller's island. Call only once Run has
// returned.
func summarize(ctrl *controller.Controller, watcher *models.Watcher) (JoinSummary, error) {
	s := JoinSummary{
		Session:    ctrl.Session(),
		Client:     ctrl.ClientID(),
		State:      ctrl.State().String(),
		Models:     []ModelSummary{},
		ViewEvents: watcher.Events(),
	}
	isl := ctrl.Island()
	if isl == nil {
		return s, nil
	}
	st, err := isl.AsState()
	if err != nil {
		return s, err
	}
	hash, err := st.Hash()
	if err != nil {
		return s, err
	}
	s.Time, s.Hash = st.Time, hash
	s.Models = summarizeModels(st)
	return s, nil
}

func (s JoinSummary) print(w io.Writer) {
	fmt.Fprintf(w, "Session: %s (client %s)\n", s.Session, s.Client)
	fmt.Fprintf(w, "State: %s\n", s.State)
	if s.Hash == "" {
		fmt.Fprintln(w, "No island installed.")
		return
	}
	fmt.Fprintf(w, "Time: %d\n", s.Time)
	fmt.Fprintf(w, "Hash: %s\n", s.Hash)
	fmt.Fprintf(w, "View events: %d\n", len(s.ViewEvents))
	for _, m := range s.Models {
		fmt.Fprintf(w, "  %s %s %s\n", m.ID, m.Kind, m.State)
	}
}

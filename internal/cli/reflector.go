package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/island/internal/config"
	"github.com/roach88/island/internal/reflector"
	"github.com/roach88/island/internal/store"
)

// ReflectorOptions holds flags for the reflector command.
type ReflectorOptions struct {
	*RootOptions
	Addr     string
	Path     string
	Database string
	Tick     time.Duration
	Snapshot time.Duration
}

// NewReflectorCommand creates the reflector command.
func NewReflectorCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReflectorOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "reflector",
		Short: "Run a reflector",
		Long: `Run a websocket reflector that orders messages for every session.

Flags override the corresponding values of the config file. With --db the
message log and checkpoints are stored in SQLite, and sessions survive a
restart.

Endpoints:
  <path>     websocket reflector protocol (default /ws)
  /sessions  JSON status of every session

Examples:
  island reflector
  island reflector --addr :9000 --db ./island.db
  island reflector --config island.cue --tick 20ms`,
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
			return runReflector(ctx, cfg.Reflector, logger, nil)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (config: reflector.addr)")
	cmd.Flags().StringVar(&opts.Path, "path", "", "websocket path (config: reflector.path)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "SQLite database for the message log (config: reflector.db)")
	cmd.Flags().DurationVar(&opts.Tick, "tick", 0, "TICK interval (config: reflector.tick_interval_ms)")
	cmd.Flags().DurationVar(&opts.Snapshot, "snapshot", 0, "checkpoint interval, 0 keeps the config value")

	return cmd
}

// apply overrides cfg with the flags that were set.
func (o *ReflectorOptions) apply(cmd *cobra.Command, cfg *config.Config) {
	r := &cfg.Reflector
	if cmd.Flags().Changed("addr") {
		r.Addr = o.Addr
	}
	if cmd.Flags().Changed("path") {
		r.Path = o.Path
	}
	if cmd.Flags().Changed("db") {
		r.DB = o.Database
	}
	if o.Tick > 0 {
		r.TickIntervalMS = o.Tick.Milliseconds()
	}
	if o.Snapshot > 0 {
		r.SnapshotIntervalMS = o.Snapshot.Milliseconds()
	}
}

// runReflector serves until ctx is cancelled. ready, when non-nil,
// receives the bound address once the listener is open.
func runReflector(ctx context.Context, cfg config.Reflector, logger *slog.Logger, ready chan<- net.Addr) error {
	opts := []reflector.HubOption{
		reflector.WithLogger(logger),
		reflector.WithSnapshotInterval(cfg.SnapshotInterval()),
	}
	if cfg.DB != "" {
		st, err := store.Open(cfg.DB)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open database", err)
		}
		defer st.Close()
		opts = append(opts, reflector.WithStore(st))
	}
	hub := reflector.NewHub(opts...)

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to listen", err)
	}
	srv := &http.Server{
		Handler:           newReflectorMux(hub, cfg.Path, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	logger.Info("reflector listening", "addr", ln.Addr().String(), "path", cfg.Path, "db", cfg.DB)
	if ready != nil {
		ready <- ln.Addr()
	}

	errc := make(chan error, 1)
	go func() {
		errc <- srv.Serve(ln)
	}()
	go hub.Run(ctx, cfg.TickInterval())

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("reflector stopped")
	return nil
}

// newReflectorMux routes the websocket endpoint and the status endpoint.
func newReflectorMux(hub *reflector.Hub, path string, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.Handle(path, reflector.NewHandler(hub, logger))
	mux.HandleFunc("/sessions", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(hub.Sessions()); err != nil {
			logger.Warn("write sessions failed", "error", err)
		}
	})
	return mux
}

package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/coedit/internal/config"
	"github.com/roach88/coedit/internal/editor"
	"github.com/roach88/coedit/internal/httpd"
	"github.com/roach88/coedit/internal/journal"
	"github.com/roach88/coedit/internal/render"
	"github.com/roach88/coedit/internal/watch"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Config   string
	Root     string
	Addr     string
	Database string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the live editing server",
		Long: `Start the coedit server: WebSocket editing sessions, markdown preview
rendering, autosave, and reconciliation of edits made on disk, for every
document under the content root.

The config file must set autosaveIntervalMs; every other timing knob has
a documented default. Unsaved drafts recovered from the journal are
reported at startup and never applied automatically (inspect them with
"coedit drafts").

Example:
  coedit serve --config coedit.yaml --root ./content
  coedit serve --config coedit.yaml --root ./content --addr :8080 --db ./coedit.db`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Config, "config", "coedit.yaml", "path to the timing config file")
	cmd.Flags().StringVar(&opts.Root, "root", "", "content root directory (required)")
	cmd.Flags().StringVar(&opts.Addr, "addr", ":4100", "HTTP listen address")
	cmd.Flags().StringVar(&opts.Database, "db", "coedit.db", "path to the journal database")
	_ = cmd.MarkFlagRequired("root")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}

	if fi, err := os.Stat(opts.Root); err != nil || !fi.IsDir() {
		return NewExitError(ExitCommandError, fmt.Sprintf("content root not found: %s", opts.Root))
	}

	slog.Info("opening journal", "path", opts.Database)
	jnl, err := journal.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	defer func() {
		if closeErr := jnl.Close(); closeErr != nil {
			slog.Error("error closing journal", "error", closeErr)
		}
	}()

	// Setup signal handling for graceful shutdown.
	// Use command's context if available (for testing), otherwise create one.
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	// Pending drafts are recovery candidates, not instructions: surface
	// them and leave the files alone.
	drafts, err := jnl.PendingDrafts(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list pending drafts", err)
	}
	for _, d := range drafts {
		slog.Warn("unsaved draft from a previous session",
			"path", d.Path,
			"bytes", len(d.Content),
			"updatedAt", d.UpdatedAt.Format(time.RFC3339),
		)
	}

	eng := editor.New(cfg,
		editor.WithLogger(slog.Default()),
		editor.WithFileStore(editor.RootedFileStore{Root: opts.Root}),
		editor.WithWatcher(editor.NewRootedWatcher(opts.Root, watch.NewPoller())),
		editor.WithRenderer(render.NewMarkdown()),
		editor.WithJournal(jnl),
	)

	srv := httpd.New(eng, cfg.StaleThreshold, slog.Default())
	httpSrv := &http.Server{
		Addr:              opts.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	engErr := make(chan error, 1)
	go func() { engErr <- eng.Run(ctx) }()

	httpErr := make(chan error, 1)
	go func() { httpErr <- httpSrv.ListenAndServe() }()

	slog.Info("server starting", "addr", opts.Addr, "root", opts.Root, "db", opts.Database)
	fmt.Fprintf(cmd.OutOrStdout(), "Serving %s on %s. Press Ctrl-C to stop.\n", opts.Root, opts.Addr)

	select {
	case err := <-httpErr:
		cancel()
		<-engErr
		return WrapExitError(ExitCommandError, "http server error", err)
	case <-ctx.Done():
	}

	// Stop accepting connections first; the engine shutdown below closes
	// every session, which ends the WebSocket handlers.
	shutCtx, shutCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutCancel()
	if err := httpSrv.Shutdown(shutCtx); err != nil {
		httpSrv.Close()
	}

	if err := <-engErr; err != nil && err != context.Canceled && err != context.DeadlineExceeded {
		return WrapExitError(ExitFailure, "engine error", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

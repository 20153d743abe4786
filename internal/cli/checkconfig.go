package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/coedit/internal/config"
)

// CheckConfigOptions holds flags for the check-config command.
type CheckConfigOptions struct {
	*RootOptions
	Config string
}

// ResolvedTiming is the resolved configuration as reported to the
// operator: every knob in milliseconds, defaults applied.
type ResolvedTiming struct {
	PingIntervalMs      int64 `json:"pingIntervalMs"`
	StaleThresholdMs    int64 `json:"staleThresholdMs"`
	CursorThrottleMs    int64 `json:"cursorThrottleMs"`
	ContentDebounceMs   int64 `json:"contentDebounceMs"`
	RenderIntervalMs    int64 `json:"renderIntervalMs"`
	KeepaliveIntervalMs int64 `json:"keepaliveIntervalMs"`
	ReconnectDelayMs    int64 `json:"reconnectDelayMs"`
	AutosaveIntervalMs  int64 `json:"autosaveIntervalMs"`
}

// NewCheckConfigCommand creates the check-config command.
func NewCheckConfigCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CheckConfigOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "check-config",
		Short: "Validate a config file and print the resolved timing",
		Long: `Validate a timing config file against the schema and print every knob
with defaults applied.

autosaveIntervalMs is the one required key; a config file that does not
set it fails with MISSING_CONFIG. Values below their documented minimums
fail with INVALID_CONFIG.

Example:
  coedit check-config --config coedit.yaml
  coedit check-config --config coedit.yaml --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheckConfig(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Config, "config", "coedit.yaml", "path to the timing config file")

	return cmd
}

func runCheckConfig(opts *CheckConfigOptions, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	cfg, err := config.Load(opts.Config)
	if err != nil {
		code := configErrorCode(err)
		_ = formatter.Error(code, err.Error(), nil)
		// Config errors are command-level errors (exit code 2)
		return NewExitError(ExitCommandError, fmt.Sprintf("%s: %v", code, err))
	}

	resolved := resolvedView(cfg)

	if opts.Format == "json" {
		return formatter.Success(resolved)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "✓ %s valid\n\n", opts.Config)
	fmt.Fprintf(w, "  pingIntervalMs:      %d\n", resolved.PingIntervalMs)
	fmt.Fprintf(w, "  staleThresholdMs:    %d\n", resolved.StaleThresholdMs)
	fmt.Fprintf(w, "  cursorThrottleMs:    %d\n", resolved.CursorThrottleMs)
	fmt.Fprintf(w, "  contentDebounceMs:   %d\n", resolved.ContentDebounceMs)
	fmt.Fprintf(w, "  renderIntervalMs:    %d\n", resolved.RenderIntervalMs)
	fmt.Fprintf(w, "  keepaliveIntervalMs: %d\n", resolved.KeepaliveIntervalMs)
	fmt.Fprintf(w, "  reconnectDelayMs:    %d\n", resolved.ReconnectDelayMs)
	fmt.Fprintf(w, "  autosaveIntervalMs:  %d\n", resolved.AutosaveIntervalMs)
	return nil
}

// resolvedView flattens a TimingConfig to milliseconds for display.
func resolvedView(cfg *config.TimingConfig) ResolvedTiming {
	return ResolvedTiming{
		PingIntervalMs:      cfg.PingInterval.Milliseconds(),
		StaleThresholdMs:    cfg.StaleThreshold.Milliseconds(),
		CursorThrottleMs:    cfg.CursorThrottle.Milliseconds(),
		ContentDebounceMs:   cfg.ContentDebounce.Milliseconds(),
		RenderIntervalMs:    cfg.RenderInterval.Milliseconds(),
		KeepaliveIntervalMs: cfg.KeepaliveInterval.Milliseconds(),
		ReconnectDelayMs:    cfg.ReconnectDelay.Milliseconds(),
		AutosaveIntervalMs:  cfg.AutosaveInterval.Milliseconds(),
	}
}

// configErrorCode maps a config load failure to its envelope code.
func configErrorCode(err error) string {
	var ce *config.Error
	if errors.As(err, &ce) {
		return string(ce.Code)
	}
	return string(config.ErrCodeInvalidConfig)
}

package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/coedit/internal/journal"
)

// DraftsOptions holds flags shared by the drafts commands.
type DraftsOptions struct {
	*RootOptions
	Database string
}

// DraftInfo is one pending draft in a listing.
type DraftInfo struct {
	Path      string    `json:"path"`
	Bytes     int       `json:"bytes"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// DraftList is the payload of a drafts listing.
type DraftList struct {
	Drafts []DraftInfo `json:"drafts"`
	Total  int         `json:"total"`
}

// RestoredDraft is the payload of a successful restore.
type RestoredDraft struct {
	Path  string `json:"path"`
	Out   string `json:"out"`
	Bytes int    `json:"bytes"`
}

// NewDraftsCommand creates the drafts command and its restore subcommand.
func NewDraftsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DraftsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "drafts",
		Short: "List pending crash-recovery drafts",
		Long: `List drafts left behind by sessions that never saved.

The engine journals the newest unsaved content for every dirty document.
After a crash those drafts stay in the journal until an operator restores
or discards them; they are never applied automatically.

A draft is pending when its content differs from what is on disk right
now. Paths are listed as the engine saw them, relative to the content
root, so run this command from that root.

Example:
  coedit drafts --db coedit.db
  coedit drafts restore docs/guide.md --out recovered.md`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDraftsList(opts, cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.Database, "db", "coedit.db", "path to the journal database")

	cmd.AddCommand(newDraftsRestoreCommand(opts))

	return cmd
}

func newDraftsRestoreCommand(opts *DraftsOptions) *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "restore <path>",
		Short: "Write a draft's content back to its file",
		Long: `Write a pending draft's content to its document file, or to --out.

This is the explicit recovery action: the server only reports drafts at
startup and never writes them itself.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDraftsRestore(opts, args[0], out, cmd)
		},
	}

	cmd.Flags().StringVar(&out, "out", "", "write the draft to this file instead of the document path")

	return cmd
}

func runDraftsList(opts *DraftsOptions, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	jnl, err := openJournalAt(opts.Database)
	if err != nil {
		return err
	}
	defer jnl.Close()

	formatter.VerboseLog("Reading drafts from %s", opts.Database)

	drafts, err := jnl.PendingDrafts(context.Background())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list drafts", err)
	}

	list := DraftList{Drafts: make([]DraftInfo, 0, len(drafts)), Total: len(drafts)}
	for _, d := range drafts {
		list.Drafts = append(list.Drafts, DraftInfo{
			Path:      d.Path,
			Bytes:     len(d.Content),
			UpdatedAt: d.UpdatedAt,
		})
	}

	if opts.Format == "json" {
		return formatter.Success(list)
	}

	w := cmd.OutOrStdout()
	if list.Total == 0 {
		fmt.Fprintln(w, "No pending drafts.")
		return nil
	}
	fmt.Fprintf(w, "%d pending draft(s):\n", list.Total)
	for _, d := range list.Drafts {
		fmt.Fprintf(w, "  %s  (%d bytes, updated %s)\n", d.Path, d.Bytes, d.UpdatedAt.Format(time.RFC3339))
	}
	return nil
}

func runDraftsRestore(opts *DraftsOptions, path, out string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	jnl, err := openJournalAt(opts.Database)
	if err != nil {
		return err
	}
	defer jnl.Close()

	draft, err := jnl.DraftFor(context.Background(), path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read draft", err)
	}
	if draft == nil {
		return NewExitError(ExitCommandError, fmt.Sprintf("no draft for %s", path))
	}

	dest := out
	if dest == "" {
		dest = draft.Path
	}
	if dir := filepath.Dir(dest); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return WrapExitError(ExitCommandError, "failed to create directory", err)
		}
	}
	if err := os.WriteFile(dest, []byte(draft.Content), 0o644); err != nil {
		return WrapExitError(ExitCommandError, "failed to write draft", err)
	}

	if opts.Format == "json" {
		return formatter.Success(RestoredDraft{
			Path:  draft.Path,
			Out:   dest,
			Bytes: len(draft.Content),
		})
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Restored draft for %s to %s (%d bytes)\n", draft.Path, dest, len(draft.Content))
	return nil
}

// openJournalAt opens an existing journal database. Unlike the server,
// inspection commands refuse to create one: a missing file here means a
// wrong path, not a fresh install.
func openJournalAt(path string) (*journal.Journal, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("journal not found: %s", path))
	}
	jnl, err := journal.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	return jnl, nil
}

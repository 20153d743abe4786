package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// RevisionsOptions holds flags shared by the revisions commands.
type RevisionsOptions struct {
	*RootOptions
	Database string
	Limit    int
}

// RevisionInfo is one entry in a revision listing.
type RevisionInfo struct {
	ID      string    `json:"id"`
	Path    string    `json:"path"`
	SavedAt time.Time `json:"savedAt"`
	Bytes   int       `json:"bytes"`
}

// RevisionList is the payload of a revision listing.
type RevisionList struct {
	Path      string         `json:"path"`
	Revisions []RevisionInfo `json:"revisions"`
	Total     int            `json:"total"`
}

// RevisionBody is the payload of a single revision fetch.
type RevisionBody struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

// NewRevisionsCommand creates the revisions command and its show subcommand.
func NewRevisionsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RevisionsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "revisions <path>",
		Short: "List the save history for a document",
		Long: `List a document's save history, newest first.

Every successful save records a revision: the exact content that reached
disk plus when it got there. Paths are listed as the engine saw them,
relative to the content root.

Example:
  coedit revisions docs/guide.md --db coedit.db
  coedit revisions docs/guide.md --limit 5
  coedit revisions show 01J0000000000000000000000A`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRevisionsList(opts, args[0], cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.Database, "db", "coedit.db", "path to the journal database")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum revisions to list (0 means all)")

	cmd.AddCommand(newRevisionsShowCommand(opts))

	return cmd
}

func newRevisionsShowCommand(opts *RevisionsOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "show <id>",
		Short:         "Print one revision's content",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRevisionsShow(opts, args[0], cmd)
		},
	}
}

func runRevisionsList(opts *RevisionsOptions, path string, cmd *cobra.Command) error {
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

	formatter.VerboseLog("Reading revisions from %s", opts.Database)

	revisions, err := jnl.Revisions(context.Background(), path, opts.Limit)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list revisions", err)
	}

	list := RevisionList{Path: path, Revisions: make([]RevisionInfo, 0, len(revisions)), Total: len(revisions)}
	for _, r := range revisions {
		list.Revisions = append(list.Revisions, RevisionInfo{
			ID:      r.ID,
			Path:    r.Path,
			SavedAt: r.SavedAt,
			Bytes:   r.ByteSize,
		})
	}

	if opts.Format == "json" {
		return formatter.Success(list)
	}

	w := cmd.OutOrStdout()
	if list.Total == 0 {
		fmt.Fprintf(w, "No revisions for %s.\n", path)
		return nil
	}
	fmt.Fprintf(w, "%d revision(s) for %s:\n", list.Total, path)
	for _, r := range list.Revisions {
		fmt.Fprintf(w, "  %s  %s  %d bytes\n", r.ID, r.SavedAt.Format(time.RFC3339), r.Bytes)
	}
	return nil
}

func runRevisionsShow(opts *RevisionsOptions, id string, cmd *cobra.Command) error {
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

	content, err := jnl.RevisionContent(context.Background(), id)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read revision", err)
	}

	if opts.Format == "json" {
		return formatter.Success(RevisionBody{ID: id, Content: content})
	}

	// Raw content, exactly as saved.
	fmt.Fprint(cmd.OutOrStdout(), content)
	return nil
}

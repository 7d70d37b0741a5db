package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"taleweave.ai/internal/compat"
	"taleweave.ai/internal/persistence/vcs"
	"taleweave.ai/internal/transcript"
)

// transcriptFile matches the name the server writes under the save dir.
const transcriptFile = "transcript.jsonl.zst"

// openSave refuses to create a lineage: vcs.Open initializes empty
// directories, which an inspection tool must not do.
func openSave(ctx context.Context, dir string) (*vcs.Repo, error) {
	if _, err := os.Stat(filepath.Join(dir, vcs.DBPath)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("no save lineage in %s", dir)
		}
		return nil, err
	}
	return vcs.Open(ctx, dir, vcs.Options{})
}

func newHashCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "hash",
		Short: "Print the content hash of the game directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			h, err := compat.GenerateContentHash(opts.gameDir, compat.ContentFiles())
			if err != nil {
				return err
			}
			if opts.asJSON {
				return writeJSON(cmd.OutOrStdout(), map[string]string{"contentHash": h})
			}
			fmt.Fprintln(cmd.OutOrStdout(), h)
			return nil
		},
	}
}

func newCheckCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Check whether the save can be resumed against the game content",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			current, err := compat.GenerateContentHash(opts.gameDir, compat.ContentFiles())
			if err != nil {
				return err
			}
			var saved *compat.SaveMetadata
			raw, err := os.ReadFile(filepath.Join(opts.saveDir, vcs.MetaFile))
			switch {
			case errors.Is(err, os.ErrNotExist):
			case err != nil:
				return err
			default:
				var meta compat.SaveMetadata
				if err := json.Unmarshal(raw, &meta); err != nil {
					return fmt.Errorf("decode %s: %w", vcs.MetaFile, err)
				}
				saved = &meta
			}
			res := compat.CheckCompatibility(current, saved)
			if opts.asJSON {
				if err := writeJSON(cmd.OutOrStdout(), res); err != nil {
					return err
				}
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "compatible=%v reason=%s\n", res.Compatible, res.Reason)
				if saved != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "saved=%s current=%s turn=%d branch=%s\n",
						res.SavedHash, res.Current, saved.TurnCount, saved.CurrentBranch)
				}
			}
			if !res.Compatible {
				return errors.New("save is incompatible with current content")
			}
			return nil
		},
	}
}

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	var (
		branch string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List commits on a branch, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			repo, err := openSave(ctx, opts.saveDir)
			if err != nil {
				return err
			}
			defer repo.Close()
			commits, err := repo.History(ctx, branch, limit)
			if err != nil {
				return err
			}
			if opts.asJSON {
				return writeJSON(cmd.OutOrStdout(), commits)
			}
			for _, c := range commits {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s %-8s %s\n",
					c.Short(), c.Timestamp.Format("2006-01-02 15:04:05"), c.Branch, c.Message)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&branch, "branch", "", "branch (default: current)")
	cmd.Flags().IntVar(&limit, "limit", 20, "max commits")
	return cmd
}

func newBranchesCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "branches",
		Short: "List timelines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			repo, err := openSave(ctx, opts.saveDir)
			if err != nil {
				return err
			}
			defer repo.Close()
			branches, err := repo.Branches(ctx)
			if err != nil {
				return err
			}
			if opts.asJSON {
				return writeJSON(cmd.OutOrStdout(), branches)
			}
			for _, b := range branches {
				mark := " "
				if b.Current {
					mark = "*"
				}
				head := b.Head
				if len(head) > 8 {
					head = head[:8]
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s\n", mark, b.Name, head)
			}
			return nil
		},
	}
}

func newDiffCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "diff <from> <to>",
		Short: "Show files added, removed and modified between two refs",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			repo, err := openSave(ctx, opts.saveDir)
			if err != nil {
				return err
			}
			defer repo.Close()
			d, err := repo.Diff(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			if opts.asJSON {
				return writeJSON(cmd.OutOrStdout(), d)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "from: %s\nto:   %s\n", d.FromMessage, d.ToMessage)
			for _, f := range d.Added {
				fmt.Fprintln(out, "A", f)
			}
			for _, f := range d.Removed {
				fmt.Fprintln(out, "D", f)
			}
			for _, f := range d.Modified {
				fmt.Fprintln(out, "M", f)
			}
			return nil
		},
	}
}

func newTranscriptCmd(opts *rootOptions) *cobra.Command {
	var last int
	cmd := &cobra.Command{
		Use:   "transcript",
		Short: "Print the most recent recorded turns",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := filepath.Join(opts.saveDir, transcriptFile)
			if _, err := os.Stat(path); err != nil {
				return fmt.Errorf("no transcript: %w", err)
			}
			tr, err := transcript.Open(transcript.Options{Path: path})
			if err != nil {
				return err
			}
			turns := tr.Recent(last)
			if opts.asJSON {
				return writeJSON(cmd.OutOrStdout(), turns)
			}
			for _, t := range turns {
				line := strings.TrimSpace(t.PlayerAction)
				if line == "" {
					line = "-"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "#%d > %s\n  %s\n", t.TurnNumber, line, truncate(t.Narrative, 160))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&last, "last", 10, "number of turns")
	return cmd
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

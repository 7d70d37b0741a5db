// Command taleadmin inspects a game directory and its save lineage offline:
// content hashes, compatibility, commit history, branches, diffs and the
// recorded transcript.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	gameDir string
	saveDir string
	asJSON  bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "taleadmin:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "taleadmin",
		Short:         "Inspect game content and saves",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.gameDir, "game", "./game", "game content directory")
	root.PersistentFlags().StringVar(&opts.saveDir, "save", "./data/save", "save directory")
	root.PersistentFlags().BoolVar(&opts.asJSON, "json", false, "print JSON instead of text")

	root.AddCommand(
		newHashCmd(opts),
		newCheckCmd(opts),
		newHistoryCmd(opts),
		newBranchesCmd(opts),
		newDiffCmd(opts),
		newTranscriptCmd(opts),
	)
	return root
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

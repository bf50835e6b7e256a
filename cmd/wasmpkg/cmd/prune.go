package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove layers no cached image references",
	Args:  cobra.NoArgs,
	RunE:  runPrune,
}

func init() {
	rootCmd.AddCommand(pruneCmd)
}

func runPrune(cmd *cobra.Command, _ []string) (err error) {
	ctx := cmd.Context()
	m, err := openManager(ctx)
	if err != nil {
		return err
	}
	defer closeManager(m, &err)

	n, err := m.Prune(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("removed %d blobs\n", n)
	return nil
}

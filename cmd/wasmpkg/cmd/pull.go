package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var pullCmd = &cobra.Command{
	Use:   "pull <ref> [refs...]",
	Short: "Pull components into the local cache",
	Long:  "Fetch one or more component images from their registries and record them in the local cache.",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runPull,
}

func init() {
	rootCmd.AddCommand(pullCmd)
}

func runPull(cmd *cobra.Command, args []string) (err error) {
	ctx := cmd.Context()
	m, err := openManager(ctx)
	if err != nil {
		return err
	}
	defer closeManager(m, &err)

	for _, arg := range args {
		ref, err := parseRef(m, arg)
		if err != nil {
			return err
		}
		res, err := m.Pull(ctx, ref)
		if err != nil {
			return err
		}
		fmt.Printf("%s\t%s\n", ref, res)
	}
	return nil
}

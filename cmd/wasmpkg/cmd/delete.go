package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var deleteCmd = &cobra.Command{
	Use:     "delete <ref>",
	Aliases: []string{"rm"},
	Short:   "Remove a cached image",
	Long:    "Remove the images matching ref and every layer no other image still uses.",
	Args:    cobra.ExactArgs(1),
	RunE:    runDelete,
}

func init() {
	rootCmd.AddCommand(deleteCmd)
}

func runDelete(cmd *cobra.Command, args []string) (err error) {
	ctx := cmd.Context()
	m, err := openManager(ctx)
	if err != nil {
		return err
	}
	defer closeManager(m, &err)

	ref, err := parseRef(m, args[0])
	if err != nil {
		return err
	}
	ok, err := m.Delete(ctx, ref)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s: not in cache", ref)
	}
	fmt.Printf("deleted %s\n", ref)
	return nil
}

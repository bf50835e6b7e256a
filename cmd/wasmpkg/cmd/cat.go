package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var catCmd = &cobra.Command{
	Use:   "cat <digest>",
	Short: "Write a cached layer to stdout",
	Args:  cobra.ExactArgs(1),
	RunE:  runCat,
}

func init() {
	rootCmd.AddCommand(catCmd)
}

func runCat(cmd *cobra.Command, args []string) (err error) {
	ctx := cmd.Context()
	m, err := openManager(ctx)
	if err != nil {
		return err
	}
	defer closeManager(m, &err)

	data, err := m.Read(ctx, args[0])
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(data)
	return err
}

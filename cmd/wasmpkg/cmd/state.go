package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aweris/wasmpkg"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Show cache locations and usage",
	Args:  cobra.NoArgs,
	RunE:  runState,
}

func init() {
	rootCmd.AddCommand(stateCmd)
}

func runState(cmd *cobra.Command, _ []string) (err error) {
	ctx := cmd.Context()
	m, err := openManager(ctx)
	if err != nil {
		return err
	}
	defer closeManager(m, &err)

	s, err := m.StateInfo(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("executable:  %s\n", s.Executable)
	fmt.Printf("config:      %s\n", s.ConfigFile)
	fmt.Printf("data dir:    %s\n", s.DataDir)
	fmt.Printf("layers:      %s (%s)\n", s.LayersDir, wasmpkg.FormatSize(s.LayersSize))
	fmt.Printf("metadata:    %s (%s)\n", s.MetadataFile, wasmpkg.FormatSize(s.MetadataSize))
	fmt.Printf("migrations:  %d/%d\n", s.MigrationCurrent, s.MigrationTotal)
	fmt.Printf("offline:     %t\n", s.Offline)
	return nil
}

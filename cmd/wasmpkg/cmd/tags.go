package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var tagsCmd = &cobra.Command{
	Use:   "tags <ref>",
	Short: "List the tags of a repository",
	Long:  "List the tags of a repository. With --offline the tags seen so far are listed instead.",
	Args:  cobra.ExactArgs(1),
	RunE:  runTags,
}

func init() {
	rootCmd.AddCommand(tagsCmd)
}

func runTags(cmd *cobra.Command, args []string) (err error) {
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
	tags, err := m.ListTags(ctx, ref)
	if err != nil {
		return err
	}
	if len(tags) == 0 {
		fmt.Println("(no tags)")
	}
	for _, t := range tags {
		fmt.Println(t)
	}
	return nil
}

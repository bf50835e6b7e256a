package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/aweris/wasmpkg"
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List cached images",
	Args:    cobra.NoArgs,
	RunE:    runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, _ []string) (err error) {
	ctx := cmd.Context()
	m, err := openManager(ctx)
	if err != nil {
		return err
	}
	defer closeManager(m, &err)

	images, err := m.ListImages(ctx)
	if err != nil {
		return err
	}
	if len(images) == 0 {
		fmt.Println("(no images)")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tREFERENCE\tDIGEST\tSIZE\tPULLED")
	for _, img := range images {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
			img.ID, img.Reference(), shortDigest(img.RefDigest),
			wasmpkg.FormatSize(img.SizeOnDisk), humanize.Time(img.CreatedAt))
	}
	return w.Flush()
}

func shortDigest(d string) string {
	const n = len("sha256:") + 12
	if len(d) > n {
		return d[:n]
	}
	return d
}

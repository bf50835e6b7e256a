package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/aweris/wasmpkg"
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search known packages",
	Long:  "Search packages seen in earlier pulls and tag listings. Without a query every known package is listed.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) (err error) {
	ctx := cmd.Context()
	m, err := openManager(ctx)
	if err != nil {
		return err
	}
	defer closeManager(m, &err)

	var pkgs []wasmpkg.KnownPackage
	if len(args) == 1 {
		pkgs, err = m.SearchPackages(ctx, args[0])
	} else {
		pkgs, err = m.ListKnownPackages(ctx)
	}
	if err != nil {
		return err
	}
	if len(pkgs) == 0 {
		fmt.Println("(no packages)")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PACKAGE\tTAGS\tLAST SEEN\tDESCRIPTION")
	for _, p := range pkgs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			p.Reference(), strings.Join(p.Tags, ","), humanize.Time(p.LastSeenAt), p.Description)
	}
	return w.Flush()
}

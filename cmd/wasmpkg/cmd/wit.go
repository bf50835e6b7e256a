package cmd

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var witCmd = &cobra.Command{
	Use:     "wit [image-id]",
	Aliases: []string{"interfaces"},
	Short:   "Show extracted WIT interfaces",
	Long:    "List extracted WIT interfaces with the images they came from, or print the WIT text of one image.",
	Args:    cobra.MaximumNArgs(1),
	RunE:    runWit,
}

func init() {
	rootCmd.AddCommand(witCmd)
}

func runWit(cmd *cobra.Command, args []string) (err error) {
	ctx := cmd.Context()
	m, err := openManager(ctx)
	if err != nil {
		return err
	}
	defer closeManager(m, &err)

	if len(args) == 1 {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid image id %q", args[0])
		}
		iface, err := m.WitInterfaceForImage(ctx, id)
		if err != nil {
			return err
		}
		fmt.Print(iface.WitText)
		return nil
	}

	rows, err := m.ListWitInterfacesWithImages(ctx)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Println("(no interfaces)")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "IMAGE\tREFERENCE\tPACKAGE\tWORLD\tIMPORTS\tEXPORTS")
	for _, r := range rows {
		pkg := r.Interface.PackageName
		if pkg == "" {
			pkg = "-"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%d\n",
			r.ImageID, r.Reference, pkg, r.Interface.WorldName,
			r.Interface.ImportCount, r.Interface.ExportCount)
	}
	return w.Flush()
}

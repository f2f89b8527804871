package cli

import (
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "title <text>",
		Short: "Rename the live meeting",
		Args:  cobra.MinimumNArgs(1),
		Run:   runTitle,
	}

	RootCmd.AddCommand(cmd)
}

func runTitle(cmd *cobra.Command, args []string) {
	f, s := openFacade(cmd.Context())
	defer s.Close()

	if err := f.SetTitle(cmd.Context(), strings.Join(args, " ")); err != nil {
		exitErr("set title", err)
	}
	printOK()
}

package cli

import (
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "speaker <label> [name]",
		Short: "Name a speaker label, e.g. speaker_1",
		Long:  "Map a raw speaker label to a display name. Without a name the mapping is removed.",
		Args:  cobra.MinimumNArgs(1),
		Run:   runSpeaker,
	}

	RootCmd.AddCommand(cmd)
}

func runSpeaker(cmd *cobra.Command, args []string) {
	f, s := openFacade(cmd.Context())
	defer s.Close()

	if err := f.SetSpeakerName(cmd.Context(), args[0], strings.Join(args[1:], " ")); err != nil {
		exitErr("set speaker", err)
	}
	printOK()
}

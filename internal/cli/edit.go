package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rcliao/live-meeting/internal/improve"
	"github.com/spf13/cobra"
)

func init() {
	editCmd := &cobra.Command{
		Use:   "edit <chunk-id> [text]",
		Short: "Correct the text of a transcript chunk",
		Long:  "Correct the text of a transcript chunk. A manual edit is never overwritten by a model improvement. --revert restores the raw transcription.",
		Args:  cobra.MinimumNArgs(1),
		Run:   runEdit,
	}
	editCmd.Flags().Bool("revert", false, "Drop any edit and show the raw text again")

	improveCmd := &cobra.Command{
		Use:   "improve <chunk-id>",
		Short: "Ask the model to clean up a transcript chunk",
		Args:  cobra.ExactArgs(1),
		Run:   runImprove,
	}

	RootCmd.AddCommand(editCmd, improveCmd)
}

func parseChunkID(s string) int64 {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id < 0 {
		exitErr("chunk id", fmt.Errorf("invalid chunk id %q", s))
	}
	return id
}

func runEdit(cmd *cobra.Command, args []string) {
	id := parseChunkID(args[0])
	revert, _ := cmd.Flags().GetBool("revert")

	f, s := openFacade(cmd.Context())
	defer s.Close()

	if revert {
		if err := f.RevertChunk(cmd.Context(), id); err != nil {
			exitErr("revert chunk", err)
		}
		printOK()
		return
	}
	if len(args) < 2 {
		exitErr("edit chunk", fmt.Errorf("text is required unless --revert is set"))
	}

	edit, err := f.EditChunk(cmd.Context(), id, strings.Join(args[1:], " "))
	if err != nil {
		exitErr("edit chunk", err)
	}
	if textOutput() {
		fmt.Println(improve.Render(edit.Diff))
		return
	}
	printJSON(edit)
}

func runImprove(cmd *cobra.Command, args []string) {
	id := parseChunkID(args[0])

	f, s := openFacade(cmd.Context())
	defer s.Close()

	imp, err := f.ImproveChunk(cmd.Context(), id)
	if err != nil {
		exitErr("improve chunk", err)
	}
	if imp == nil {
		fmt.Println(`{"ok":true,"applied":false}`)
		return
	}
	if textOutput() {
		fmt.Println(improve.Render(imp.Diff))
		return
	}
	printJSON(imp)
}

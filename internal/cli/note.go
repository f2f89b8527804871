package cli

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func init() {
	noteCmd := &cobra.Command{
		Use:   "note",
		Short: "Manage notes on the live meeting",
	}

	addCmd := &cobra.Command{
		Use:   "add <text>",
		Short: "Add a note",
		Args:  cobra.MinimumNArgs(1),
		Run:   runNoteAdd,
	}
	addCmd.Flags().String("device", "", "Device the note refers to")
	addCmd.Flags().Bool("input", false, "Note is about the input (microphone) side")

	lsCmd := &cobra.Command{
		Use:   "ls",
		Short: "List notes",
		Run:   runNoteLs,
	}

	editCmd := &cobra.Command{
		Use:   "edit <id> <text>",
		Short: "Replace the text of a note",
		Args:  cobra.MinimumNArgs(2),
		Run:   runNoteEdit,
	}

	rmCmd := &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete a note",
		Args:  cobra.ExactArgs(1),
		Run:   runNoteRm,
	}

	improveCmd := &cobra.Command{
		Use:   "improve <id>",
		Short: "Rewrite a note with the model, using the nearest transcript chunk as context",
		Args:  cobra.ExactArgs(1),
		Run:   runNoteImprove,
	}

	noteCmd.AddCommand(addCmd, lsCmd, editCmd, rmCmd, improveCmd)
	RootCmd.AddCommand(noteCmd)
}

func runNoteAdd(cmd *cobra.Command, args []string) {
	device, _ := cmd.Flags().GetString("device")
	input, _ := cmd.Flags().GetBool("input")

	f, s := openFacade(cmd.Context())
	defer s.Close()

	n, err := f.AddNote(cmd.Context(), strings.Join(args, " "), device, input)
	if err != nil {
		exitErr("add note", err)
	}
	printJSON(n)
}

func runNoteLs(cmd *cobra.Command, args []string) {
	f, s := openFacade(cmd.Context())
	defer s.Close()

	notes := f.View().Notes
	if !textOutput() {
		printJSON(notes)
		return
	}
	for _, n := range notes {
		fmt.Printf("%s  %-14s  %s\n", n.ID, humanize.Time(n.Timestamp), n.Text)
	}
}

func runNoteEdit(cmd *cobra.Command, args []string) {
	f, s := openFacade(cmd.Context())
	defer s.Close()

	n, err := f.EditNote(cmd.Context(), args[0], strings.Join(args[1:], " "))
	if err != nil {
		exitErr("edit note", err)
	}
	printJSON(n)
}

func runNoteRm(cmd *cobra.Command, args []string) {
	f, s := openFacade(cmd.Context())
	defer s.Close()

	if err := f.DeleteNote(cmd.Context(), args[0]); err != nil {
		exitErr("delete note", err)
	}
	printOK()
}

func runNoteImprove(cmd *cobra.Command, args []string) {
	f, s := openFacade(cmd.Context())
	defer s.Close()

	n, err := f.ImproveNote(cmd.Context(), args[0])
	if err != nil {
		exitErr("improve note", err)
	}
	printJSON(n)
}

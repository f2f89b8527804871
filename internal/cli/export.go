package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/rcliao/live-meeting/internal/model"
	"github.com/spf13/cobra"
)

func init() {
	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Export all meetings as JSON",
		Run:   runExport,
	}

	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Import meetings from JSON",
		Long:  "Import meetings from JSON on stdin. Expects the format produced by export. Imported meetings are stored as archived; meetings already stored are skipped unless --overwrite is set.",
		Run:   runImport,
	}
	importCmd.Flags().Bool("overwrite", false, "Replace meetings that are already stored")

	RootCmd.AddCommand(exportCmd, importCmd)
}

func runExport(cmd *cobra.Command, args []string) {
	repo, s := openRepo(cmd.Context())
	defer s.Close()

	recs, err := repo.ListAll(cmd.Context())
	if err != nil {
		exitErr("export", err)
	}
	if recs == nil {
		recs = []*model.SessionRecord{}
	}
	printJSON(recs)
}

func runImport(cmd *cobra.Command, args []string) {
	overwrite, _ := cmd.Flags().GetBool("overwrite")

	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		exitErr("read stdin", err)
	}

	var recs []*model.SessionRecord
	if err := json.Unmarshal(data, &recs); err != nil {
		exitErr("parse json", err)
	}

	repo, s := openRepo(cmd.Context())
	defer s.Close()

	// The live meeting must be known so an import cannot overwrite it.
	if _, err := repo.Load(cmd.Context()); err != nil {
		exitErr("load", err)
	}
	res, err := repo.Import(cmd.Context(), recs, overwrite)
	if err != nil {
		exitErr("import", err)
	}

	fmt.Printf(`{"ok":true,"imported":%d,"archived":%d,"skipped":%d}`+"\n", res.Imported, res.Archived, res.Skipped)
}

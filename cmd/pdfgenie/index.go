package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var indexRebuild bool

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Build or load the document index",
	Long: `Loads every supported document under DOCS_DIR and opens the index at
INDEX_PATH, embedding and saving it first if it does not exist yet.`,
	Args: cobra.NoArgs,
	RunE: runIndex,
}

func init() {
	indexCmd.Flags().BoolVar(&indexRebuild, "rebuild", false, "discard the saved index and embed every chunk again")
	rootCmd.AddCommand(indexCmd)
}

func runIndex(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd.Context(), newLogger(cmd), appOptions{rebuild: indexRebuild, noLLM: true})
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	verb := "Loaded"
	if a.built {
		verb = "Built"
	}
	fmt.Fprintf(w, "%s index %s (%d chunks)\n", verb, a.cfg.IndexPath, a.index.Len())
	for _, s := range a.corpus.Sources() {
		fmt.Fprintf(w, "  %s: %d pages, %d chunks\n", s.SourceID, s.Pages, s.Chunks)
	}
	return nil
}

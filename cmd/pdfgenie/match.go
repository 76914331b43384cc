package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dgallion1/pdfgenie/internal/match"
	"github.com/dgallion1/pdfgenie/internal/parser"
)

var matchCmd = &cobra.Command{
	Use:   "match <pattern> <file>",
	Short: "Locate a phrase in a document",
	Long: `Runs the fuzzy span matcher against the text of a file and prints the
character span of the best match. Documents in a supported format are parsed
first; anything else is read as plain text.`,
	Args: cobra.ExactArgs(2),
	RunE: runMatch,
}

func init() {
	rootCmd.AddCommand(matchCmd)
}

func runMatch(cmd *cobra.Command, args []string) error {
	pattern, path := args[0], args[1]

	text, err := readText(path)
	if err != nil {
		return err
	}

	span := match.FindMatch(pattern, text)
	if !span.Found() {
		fmt.Fprintln(cmd.OutOrStdout(), "no match")
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "[%d, %d) %q\n", span.Start, span.End, span.Slice(text))
	return nil
}

func readText(path string) (string, error) {
	if parser.IsSupportedExtension(path) {
		tree, err := parser.ParseFile(path, parser.Options{PDFFallbackPdftotext: true})
		if err != nil {
			return "", err
		}
		return tree.Text(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
}

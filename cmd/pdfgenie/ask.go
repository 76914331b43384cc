package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dgallion1/pdfgenie/internal/docqa"
)

var (
	askK    int
	askEval bool
	askJSON bool
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer a question from the indexed documents",
	Long: `Retrieves the chunks most similar to the question, asks the model to
answer from them and locates the answer in the chunk it came from.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().IntVar(&askK, "k", docqa.DefaultK, "number of chunks to retrieve")
	askCmd.Flags().BoolVar(&askEval, "eval", false, "grade the answer against the retrieved context")
	askCmd.Flags().BoolVar(&askJSON, "json", false, "output the result as JSON")
	rootCmd.AddCommand(askCmd)
}

type askOutput struct {
	docqa.RetrievalResult
	Grade *docqa.Evaluation `json:"grade,omitempty"`
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := loadApp(ctx, newLogger(cmd), appOptions{})
	if err != nil {
		return err
	}

	question := strings.Join(args, " ")
	model := docqa.NewRetrievalModel(a.index, a.completer, askK, a.log)
	res, err := model.Run(ctx, docqa.Query{Question: question, K: askK})
	if err != nil {
		return fmt.Errorf("ask failed: %w", err)
	}
	out := askOutput{RetrievalResult: res}

	if askEval {
		ev, err := docqa.NewEvaluator(a.completer).Grade(ctx, question, res.Context, res.Answer)
		if err != nil {
			return fmt.Errorf("grade failed: %w", err)
		}
		out.Grade = &ev
	}

	w := cmd.OutOrStdout()
	if askJSON {
		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal result: %w", err)
		}
		fmt.Fprintln(w, string(data))
		return nil
	}

	fmt.Fprintln(w, res.Answer)
	fmt.Fprintln(w)
	if res.Attributed() {
		fmt.Fprintf(w, "Source: %s, page %d, chars [%d, %d)\n", res.SourceID, res.PageID, res.Span.Start, res.Span.End)
	} else {
		fmt.Fprintln(w, "Source: answer not found in the retrieved chunks")
	}
	if out.Grade != nil {
		fmt.Fprintf(w, "Grade: %s\n", out.Grade.Grade)
	}
	return nil
}

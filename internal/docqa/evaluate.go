package docqa

import (
	"context"
	"fmt"
	"strings"

	"github.com/dgallion1/pdfgenie/internal/llm"
)

// Grade is the verdict on an answer.
type Grade string

const (
	GradeCorrect   Grade = "CORRECT"
	GradeIncorrect Grade = "INCORRECT"
	GradeUnknown   Grade = "UNKNOWN"
)

// EvalInput is an answer to grade and what it was based on.
type EvalInput struct {
	Query   string `json:"query"`
	Context string `json:"context"`
	Result  string `json:"result"`
}

// Evaluation is a grade plus the grader's raw reply.
type Evaluation struct {
	Grade Grade  `json:"grade"`
	Raw   string `json:"raw"`
}

// Evaluator asks the model to grade an answer without a reference answer.
type Evaluator struct {
	llm    llm.Completer
	prompt *Template
}

func NewEvaluator(c llm.Completer) *Evaluator {
	return &Evaluator{llm: c, prompt: NewTemplate(EvalPrompt)}
}

func (e *Evaluator) Prompt() *Template { return e.prompt }

// Grade grades result as an answer to query given context.
func (e *Evaluator) Grade(ctx context.Context, query, contextText, result string) (Evaluation, error) {
	return e.Run(ctx, EvalInput{Query: query, Context: contextText, Result: result})
}

func (e *Evaluator) Run(ctx context.Context, in EvalInput) (Evaluation, error) {
	prompt, err := e.prompt.Format(map[string]string{
		"query":   in.Query,
		"context": in.Context,
		"result":  in.Result,
	})
	if err != nil {
		return Evaluation{}, err
	}
	raw, err := e.llm.Complete(ctx, []llm.Message{llm.User(prompt)})
	if err != nil {
		return Evaluation{}, fmt.Errorf("%w: completion: %w", ErrUpstream, err)
	}
	raw = strings.TrimSpace(raw)
	return Evaluation{Grade: parseGrade(raw), Raw: raw}, nil
}

// parseGrade reads the first verdict word in raw.
func parseGrade(raw string) Grade {
	for _, w := range strings.FieldsFunc(strings.ToUpper(raw), func(r rune) bool {
		return !(r >= 'A' && r <= 'Z')
	}) {
		switch w {
		case "CORRECT":
			return GradeCorrect
		case "INCORRECT":
			return GradeIncorrect
		}
	}
	return GradeUnknown
}

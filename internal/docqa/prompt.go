package docqa

import (
	"errors"
	"fmt"
	"maps"
	"regexp"
	"slices"
)

// SearchPrompt answers a question from retrieved context, quoting the
// document verbatim so the answer can be located again.
const SearchPrompt = `Use the following pieces of context to answer the question at the end.
If you don't know the answer, just say that you don't know, don't try to make up an answer.
Return answers as they appear in the document.

Context:
{context}
Question:
{question}
Answer:`

// ExtractPrompt fills a schema from a single chunk.
const ExtractPrompt = `Use the following pieces of context to answer the question at the end.
If you don't know the answer, just say that you don't know, don't try to make up an answer.
{format_instructions}

Context:
{context}
Question:
{question}
Answer:`

// EvalPrompt grades an answer against the context it was drawn from.
const EvalPrompt = `You are a teacher grading a quiz.
You are given a question, the student's answer, and the context the question is about. You are asked to score it as either CORRECT or INCORRECT.

Example Format:
QUESTION: question here
CONTEXT: context the question is about here
STUDENT ANSWER: student's answer here
GRADE: CORRECT or INCORRECT here

Please remember to grade them based on being factually accurate. Begin!

QUESTION: {query}
CONTEXT: {context}
STUDENT ANSWER: {result}
GRADE:`

// ErrMissingVariable is returned by Template.Format when a placeholder has
// no value.
var ErrMissingVariable = errors.New("missing template variable")

var placeholderRe = regexp.MustCompile(`\{([a-z_]+)\}`)

// Template is prompt text with {name} placeholders. Substituted values are
// never re-scanned, so document text containing braces is safe.
type Template struct {
	text    string
	vars    []string
	partial map[string]string
}

// NewTemplate parses the placeholders in text.
func NewTemplate(text string) *Template {
	var vars []string
	for _, m := range placeholderRe.FindAllStringSubmatch(text, -1) {
		if !slices.Contains(vars, m[1]) {
			vars = append(vars, m[1])
		}
	}
	return &Template{text: text, vars: vars}
}

// Vars returns the placeholders still to be supplied to Format, in order of
// first appearance.
func (t *Template) Vars() []string {
	var out []string
	for _, v := range t.vars {
		if _, ok := t.partial[v]; !ok {
			out = append(out, v)
		}
	}
	return out
}

// Partial returns a copy of t with some placeholders bound.
func (t *Template) Partial(vars map[string]string) *Template {
	p := maps.Clone(t.partial)
	if p == nil {
		p = make(map[string]string, len(vars))
	}
	maps.Copy(p, vars)
	return &Template{text: t.text, vars: t.vars, partial: p}
}

// Format substitutes every placeholder.
func (t *Template) Format(vars map[string]string) (string, error) {
	for _, v := range t.Vars() {
		if _, ok := vars[v]; !ok {
			return "", fmt.Errorf("%w: %s", ErrMissingVariable, v)
		}
	}
	return placeholderRe.ReplaceAllStringFunc(t.text, func(m string) string {
		name := m[1 : len(m)-1]
		if v, ok := vars[name]; ok {
			return v
		}
		if v, ok := t.partial[name]; ok {
			return v
		}
		return m
	}), nil
}

// String returns the raw template text.
func (t *Template) String() string { return t.text }

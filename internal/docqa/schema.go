package docqa

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

const maxFieldNameLen = 64

// injectionPattern matches instruction-shaped phrases aimed at the model.
// Each alternative needs its object so ordinary legal or financial wording
// ("overrides prior terms", "act as trustee") still passes.
var injectionPattern = regexp.MustCompile(
	`(?i)(` +
		`(ignore|disregard)\s+(all\s+)?(the\s+)?(previous|prior|above)\s+(instructions|prompts?|rules)|` +
		`override\s+(your|the|all|any|previous|prior)\s+(instructions|prompts?|rules)|` +
		`forget\s+(everything|all\s+(previous|prior)\s+instructions)|` +
		`system\s*prompt|you\s+are\s+now\b|` +
		`pretend\s+(to\s+be|you\s+are)|` +
		`act\s+as\s+(if\s+you|an?\s+(ai|assistant|language\s+model))|` +
		`new\s+instructions\s*:` +
		`)`,
)

// Field is one value to extract.
type Field struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Schema is the ordered set of fields an extraction asks the model to fill.
// It encodes to and from JSON as an object of name to description, keeping
// key order.
type Schema struct {
	Fields []Field
}

// NewSchema builds and validates a schema.
func NewSchema(fields ...Field) (Schema, error) {
	s := Schema{Fields: fields}
	if err := s.Validate(); err != nil {
		return Schema{}, err
	}
	return s, nil
}

// ParseSchemaJSON decodes {"field": "description", ...} preserving key order.
func ParseSchemaJSON(data []byte) (Schema, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return Schema{}, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return Schema{}, fmt.Errorf("%w: expected a JSON object of field descriptions", ErrInvalidSchema)
	}

	var s Schema
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return Schema{}, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
		}
		name, _ := tok.(string)
		var desc string
		if err := dec.Decode(&desc); err != nil {
			return Schema{}, fmt.Errorf("%w: field %q: description must be a string", ErrInvalidSchema, name)
		}
		s.Fields = append(s.Fields, Field{Name: name, Description: desc})
	}
	if _, err := dec.Token(); err != nil {
		return Schema{}, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}

	if err := s.Validate(); err != nil {
		return Schema{}, err
	}
	return s, nil
}

// Validate reports whether the schema can drive an extraction.
func (s Schema) Validate() error {
	if len(s.Fields) == 0 {
		return fmt.Errorf("%w: no fields", ErrInvalidSchema)
	}
	seen := make(map[string]bool, len(s.Fields))
	for i, f := range s.Fields {
		name := strings.TrimSpace(f.Name)
		switch {
		case name == "":
			return fmt.Errorf("%w: field %d has no name", ErrInvalidSchema, i)
		case name != f.Name:
			return fmt.Errorf("%w: field %q has surrounding whitespace", ErrInvalidSchema, f.Name)
		case utf8.RuneCountInString(name) > maxFieldNameLen:
			return fmt.Errorf("%w: field name %q longer than %d characters", ErrInvalidSchema, name, maxFieldNameLen)
		case seen[name]:
			return fmt.Errorf("%w: duplicate field %q", ErrInvalidSchema, name)
		case injectionPattern.MatchString(f.Name), injectionPattern.MatchString(f.Description):
			return fmt.Errorf("%w: field %q contains prompt instructions", ErrInvalidSchema, name)
		}
		seen[name] = true
	}
	return nil
}

// Names returns the field names in schema order.
func (s Schema) Names() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

// Question is the query used both to prompt extraction and to select chunks
// by similarity, e.g. "What is the revenue, ceo, of the document?".
func (s Schema) Question() string {
	var sb strings.Builder
	sb.WriteString("What is the ")
	for _, f := range s.Fields {
		sb.WriteString(f.Name)
		sb.WriteString(", ")
	}
	sb.WriteString("of the document?")
	return sb.String()
}

// FormatInstructions tells the model how to shape its answer.
func (s Schema) FormatInstructions() string {
	var sb strings.Builder
	sb.WriteString("Return a JSON object with exactly the keys below. Each value must be a string copied verbatim from the context. ")
	sb.WriteString("If the context does not contain a value, use \"I don't know\" for that key.\n{\n")
	for i, f := range s.Fields {
		k, _ := json.Marshal(f.Name)
		v, _ := json.Marshal(f.Description)
		fmt.Fprintf(&sb, "  %s: %s", k, v)
		if i < len(s.Fields)-1 {
			sb.WriteByte(',')
		}
		sb.WriteByte('\n')
	}
	sb.WriteString("}\nRespond with ONLY the JSON object, no other text.")
	return sb.String()
}

// Parse reads a completion into one value per schema field. Fields the model
// omitted or declined map to "". A single-field schema also accepts a bare
// answer with no JSON around it.
func (s Schema) Parse(raw string) (map[string]string, error) {
	text := stripCodeBlock(raw)
	start, end := strings.Index(text, "{"), strings.LastIndex(text, "}")
	if start < 0 || end < start {
		if len(s.Fields) == 1 {
			return map[string]string{s.Fields[0].Name: fieldValue(text)}, nil
		}
		return nil, fmt.Errorf("%w: no JSON object in %q", ErrMalformedOutput, truncate(raw, 200))
	}

	dec := json.NewDecoder(strings.NewReader(text[start : end+1]))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}

	out := make(map[string]string, len(s.Fields))
	for _, f := range s.Fields {
		out[f.Name] = fieldValue(obj[f.Name])
	}
	return out, nil
}

// MarshalJSON encodes the schema as an ordered object.
func (s Schema) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range s.Fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(f.Name)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(f.Description)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes and validates an ordered schema object.
func (s *Schema) UnmarshalJSON(data []byte) error {
	parsed, err := ParseSchemaJSON(data)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

var declinedValues = map[string]bool{
	"i don't know":  true,
	"i do not know": true,
	"unknown":       true,
	"n/a":           true,
	"none":          true,
	"null":          true,
	"not found":     true,
	"not available": true,
}

func fieldValue(v any) string {
	var s string
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		s = v
	case json.Number:
		s = v.String()
	case bool:
		s = strconv.FormatBool(v)
	case []any:
		var parts []string
		for _, e := range v {
			if p := fieldValue(e); p != "" {
				parts = append(parts, p)
			}
		}
		s = strings.Join(parts, ", ")
	default:
		b, _ := json.Marshal(v)
		s = string(b)
	}
	s = strings.TrimSpace(s)
	if declined(s) {
		return ""
	}
	return s
}

func declined(s string) bool {
	s = strings.ToLower(strings.TrimRight(strings.TrimSpace(s), "."))
	s = strings.ReplaceAll(s, "’", "'")
	return s == "" || declinedValues[s]
}

var codeBlockRe = regexp.MustCompile("(?s)^```(?:json)?\\s*(.*?)\\s*```$")

func stripCodeBlock(s string) string {
	s = strings.TrimSpace(s)
	if m := codeBlockRe.FindStringSubmatch(s); len(m) > 1 {
		return m[1]
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

package parser

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTextParser_Paragraphs(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"multi-line paragraph", "Line one.\nLine two.\n\nSecond.", []string{"Line one.\nLine two.", "Second."}},
		{"blank runs", "Para one.\n\n\n\nPara two.", []string{"Para one.", "Para two."}},
		{"whitespace-only lines", "Para one.\n   \nPara two.", []string{"Para one.", "Para two."}},
		{"single line", "Hello world", []string{"Hello world"}},
		{"empty", "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tree, err := (&TextParser{}).Parse(strings.NewReader(tt.input), "notes.txt")
			require.NoError(t, err)
			assert.Equal(t, "notes", tree.Title)
			require.Len(t, tree.Children, len(tt.want))
			for i, w := range tt.want {
				assert.Equal(t, w, tree.Children[i].Text)
				assert.Equal(t, 0, tree.Children[i].Page)
			}
		})
	}
}

func TestTextParser_FormFeedPages(t *testing.T) {
	input := "Cover.\n\fContents.\nMore contents.\f\fRevenue was $12 million.\n"
	tree, err := (&TextParser{}).Parse(strings.NewReader(input), "10k.txt")
	require.NoError(t, err)

	pages := tree.Pages()
	want := []struct {
		num  int
		text string
	}{
		{0, "Cover."},
		{1, "Contents.\nMore contents."},
		{3, "Revenue was $12 million."},
	}
	require.Len(t, pages, len(want))
	for i, w := range want {
		assert.Equal(t, w.num, pages[i].Number)
		assert.Equal(t, w.text, pages[i].Text)
	}
	assert.Equal(t, 4, tree.NumPages())
}

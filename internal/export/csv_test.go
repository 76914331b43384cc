package export

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgallion1/pdfgenie/internal/docqa"
)

func TestWriteCSV(t *testing.T) {
	schema, err := docqa.NewSchema(
		docqa.Field{Name: "company"},
		docqa.Field{Name: "revenue"},
	)
	require.NoError(t, err)

	results := []docqa.ExtractionResult{
		{
			PageID: 0, SourceID: "acme.pdf",
			Entities: map[string]string{"company": "Acme, Corp", "revenue": "$12 million"},
		},
		{
			PageID: 3, SourceID: "10k.pdf",
			Entities: map[string]string{"revenue": "$5 million"},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, schema, results))
	assert.Equal(t,
		"source,page_id,company,revenue\n"+
			"acme.pdf,0,\"Acme, Corp\",$12 million\n"+
			"10k.pdf,3,,$5 million\n",
		buf.String())
}

func TestWriteCSV_NoResults(t *testing.T) {
	schema, err := docqa.NewSchema(docqa.Field{Name: "ceo"})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, schema, nil))
	assert.Equal(t, "source,page_id,ceo\n", buf.String())
}

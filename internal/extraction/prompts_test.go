package extraction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPromptCatalog_Select(t *testing.T) {
	c := DefaultPrompts()

	generic := c.Select(DocumentTypeUnknown)
	assert.Contains(t, generic.Render(), "single most prominent identifying number or code")
	assert.Equal(t, generic, c.Select("library_card"))

	dl := c.Select(DocumentTypeDriversLicense)
	rendered := dl.Render()
	assert.Contains(t, rendered, "NDL")
	assert.Contains(t, rendered, "7 to 9 digits")
	assert.Contains(t, rendered, "issuing_authority")

	for _, typ := range []DocumentType{
		DocumentTypePassport, DocumentTypeHealthCard, DocumentTypeBCServices, DocumentTypeBCID,
		DocumentTypeBirthCertificate, DocumentTypeSINCard, DocumentTypeIDCard,
	} {
		assert.NotEqual(t, generic, c.Select(typ), typ)
	}
}

func TestLoadPromptCatalog(t *testing.T) {
	c, err := LoadPromptCatalog([]byte(`
generic:
  instructions: find the number
types:
  passport:
    instructions: read the passport
`))
	require.NoError(t, err)
	assert.Equal(t, "read the passport", c.Select(DocumentTypePassport).Instructions)
	assert.Equal(t, "find the number", c.Select(DocumentTypeSINCard).Instructions)

	_, err = LoadPromptCatalog([]byte("types: {}"))
	assert.Error(t, err)

	_, err = LoadPromptCatalog([]byte("generic: [unclosed"))
	assert.Error(t, err)
}

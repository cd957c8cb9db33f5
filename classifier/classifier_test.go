package classifier

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicgrid/civic-issues-api/models"
)

func TestParseResult_PlainJSON(t *testing.T) {
	result, err := ParseResult(`{"category": "pothole", "confidence": 0.92, "explanation": "large crack in asphalt"}`)

	require.NoError(t, err)
	assert.Equal(t, models.CategoryPothole, result.Category)
	assert.Equal(t, 0.92, result.Confidence)
	assert.Equal(t, "large crack in asphalt", result.Explanation)
}

func TestParseResult_CodeFencedJSON(t *testing.T) {
	content := "```json\n{\"category\": \"sewage\", \"confidence\": 0.8, \"explanation\": \"open drain\"}\n```"

	result, err := ParseResult(content)

	require.NoError(t, err)
	assert.Equal(t, models.CategorySewage, result.Category)
	assert.Equal(t, 0.8, result.Confidence)
}

func TestParseResult_ProseWrappedJSON(t *testing.T) {
	content := `Looking at the photo, I'd say: {"category": "Streetlight", "confidence": 0.7, "explanation": "dark lamp post"} Hope that helps!`

	result, err := ParseResult(content)

	require.NoError(t, err)
	assert.Equal(t, models.CategoryStreetlight, result.Category)
}

func TestParseResult_NoJSON(t *testing.T) {
	_, err := ParseResult("I cannot classify this image.")
	assert.Error(t, err)
}

func TestParseResult_MalformedJSON(t *testing.T) {
	_, err := ParseResult(`{"category": "pothole", "confidence": }`)
	assert.Error(t, err)
}

func TestNew_DefaultsModel(t *testing.T) {
	c := New("test-key", "")
	assert.NotNil(t, c.client)
	assert.NotEmpty(t, c.model)
}

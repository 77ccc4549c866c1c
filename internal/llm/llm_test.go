package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/echotab/internal/models"
)

var (
	testTabs = []*models.Tab{
		{URL: "https://go.dev/doc", Title: "Go docs"},
		{URL: "https://news.ycombinator.com"},
	}
	testTags = []*models.Tag{{Name: "Golang"}, {Name: "news"}}
)

func TestBuildSuggestPrompt(t *testing.T) {
	t.Run("with existing tags", func(t *testing.T) {
		system, user := buildSuggestPrompt(testTabs, testTags)

		assert.Contains(t, system, "JSON array")
		assert.Contains(t, system, `"url"`)
		assert.Contains(t, system, `"tags"`)
		assert.Contains(t, system, "1 to 3")

		assert.Contains(t, user, "Existing tags: Golang, news")
		assert.Contains(t, user, "- https://go.dev/doc | Go docs\n")
		assert.Contains(t, user, "- https://news.ycombinator.com\n")
	})

	t.Run("without tags", func(t *testing.T) {
		_, user := buildSuggestPrompt(testTabs, nil)
		assert.NotContains(t, user, "Existing tags")
	})
}

func TestStripFences(t *testing.T) {
	assert.Equal(t, `[1]`, stripFences("```json\n[1]\n```"))
	assert.Equal(t, `[1]`, stripFences("  [1]  "))
}

func TestParseSuggestions(t *testing.T) {
	text := "```json\n" + `[
  {"url": "https://go.dev/doc", "tags": ["golang", " docs ", "GOLANG", "reference", "extra"]},
  {"url": "https://unknown.example", "tags": ["x"]},
  {"url": "https://news.ycombinator.com", "tags": ["  "]},
  {"url": "https://go.dev/doc", "tags": ["dup"]}
]` + "\n```"

	got, err := parseSuggestions(text, testTabs, testTags)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "https://go.dev/doc", got[0].URL)
	assert.Equal(t, []string{"Golang", "docs", "reference"}, got[0].Tags)
}

func TestParseSuggestions_InvalidJSON(t *testing.T) {
	_, err := parseSuggestions("sure! here are tags", testTabs, testTags)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "raw response")
}

func TestSuggestTags_NoTabs(t *testing.T) {
	c := NewClient("", "claude-haiku-4-5-20251001")
	got, err := c.SuggestTags(context.Background(), nil, testTags)
	require.NoError(t, err)
	assert.Nil(t, got)
}

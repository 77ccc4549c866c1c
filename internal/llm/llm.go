package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/joescharf/echotab/internal/models"
)

// MaxTagsPerTab bounds how many tags are kept per suggestion.
const MaxTagsPerTab = 3

// Suggestion is the set of tags proposed for one tab.
type Suggestion struct {
	URL  string   `json:"url"`
	Tags []string `json:"tags"`
}

// Client wraps the Anthropic API for tag suggestions.
type Client struct {
	api   *anthropic.Client
	model anthropic.Model
}

// NewClient creates an LLM client with the given API key and model.
func NewClient(apiKey, model string) *Client {
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	client := anthropic.NewClient(opts...)
	return &Client{
		api:   &client,
		model: anthropic.Model(model),
	}
}

// buildSuggestPrompt constructs the system and user prompts for tagging tabs.
func buildSuggestPrompt(tabs []*models.Tab, tags []*models.Tag) (system string, user string) {
	system = fmt.Sprintf(`You organise browser tabs with short tags. Return ONLY a JSON array of objects with these fields:
- "url": the tab URL exactly as given
- "tags": 1 to %d tag names for that tab

Rules:
- Prefer the existing tags when one fits
- New tags are lowercase, one or two words
- Every input tab appears exactly once
- Return valid JSON only, no markdown fencing or explanation`, MaxTagsPerTab)

	var sb strings.Builder
	if len(tags) > 0 {
		names := make([]string, 0, len(tags))
		for _, t := range tags {
			names = append(names, t.Name)
		}
		sb.WriteString("Existing tags: ")
		sb.WriteString(strings.Join(names, ", "))
		sb.WriteString("\n\n")
	}
	sb.WriteString("Tabs:\n")
	for _, t := range tabs {
		fmt.Fprintf(&sb, "- %s", t.URL)
		if t.Title != "" {
			fmt.Fprintf(&sb, " | %s", t.Title)
		}
		sb.WriteString("\n")
	}
	user = sb.String()
	return
}

// SuggestTags asks the model to tag each tab, reusing existing tag names
// where they fit.
func (c *Client) SuggestTags(ctx context.Context, tabs []*models.Tab, tags []*models.Tag) ([]Suggestion, error) {
	if len(tabs) == 0 {
		return nil, nil
	}
	systemPrompt, userPrompt := buildSuggestPrompt(tabs, tags)

	msg, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 2048,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic API call: %w", err)
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}
	if text == "" {
		return nil, fmt.Errorf("no text content in API response")
	}

	return parseSuggestions(text, tabs, tags)
}

// stripFences removes a surrounding markdown code fence.
func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		lines := strings.SplitN(text, "\n", 2)
		if len(lines) > 1 {
			text = lines[1]
		}
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}
	return text
}

// parseSuggestions decodes the model output and keeps only suggestions for
// the requested tabs. Tag names are trimmed, deduplicated, matched
// case-insensitively to existing tags, and capped at MaxTagsPerTab.
func parseSuggestions(text string, tabs []*models.Tab, tags []*models.Tag) ([]Suggestion, error) {
	text = stripFences(text)

	var raw []Suggestion
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, fmt.Errorf("parse LLM response as JSON: %w\nraw response: %s", err, text)
	}

	wanted := make(map[string]bool, len(tabs))
	for _, t := range tabs {
		wanted[t.URL] = true
	}
	canonical := make(map[string]string, len(tags))
	for _, t := range tags {
		canonical[strings.ToLower(t.Name)] = t.Name
	}

	seenURL := make(map[string]bool)
	var out []Suggestion
	for _, s := range raw {
		if !wanted[s.URL] || seenURL[s.URL] {
			continue
		}
		seenURL[s.URL] = true

		var names []string
		seen := make(map[string]bool)
		for _, name := range s.Tags {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			key := strings.ToLower(name)
			if c, ok := canonical[key]; ok {
				name = c
			}
			if seen[key] {
				continue
			}
			seen[key] = true
			names = append(names, name)
			if len(names) == MaxTagsPerTab {
				break
			}
		}
		if len(names) > 0 {
			out = append(out, Suggestion{URL: s.URL, Tags: names})
		}
	}
	return out, nil
}

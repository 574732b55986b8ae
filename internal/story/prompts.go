// Package story holds the storybook prompts and the parsers that turn
// provider text into traits and narratives.
package story

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/iago/storybook-back/internal/domain"
)

// DefaultPageCount is the number of pages in every book.
const DefaultPageCount = 12

const consistencyClause = "Consistent main character across pages; same eye color, hair color, hairstyle, clothing elements as previously described. " +
	"Square composition, full-bleed to the edges, 8.5x8.5 inch feel, high resolution. Embed the page text clearly and without typos."

// Title returns the human name of a tale.
func Title(story domain.Story) string {
	switch story {
	case domain.StoryJackAndBeanstalk:
		return "Jack and the Beanstalk"
	default:
		return "Little Red Riding Hood"
	}
}

func AnalysisPrompt() string {
	return "Analyze this child's face and return a concise JSON with keys: eye_color, hair_color, hair_style, skin_tone, age_guess, notable_features. " +
		"Keep values short and specific."
}

// NarrativePrompt asks for a fixed-length outline with the traits embedded.
func NarrativePrompt(story domain.Story, gender domain.Gender, traits Traits, pages int) string {
	if pages <= 0 {
		pages = DefaultPageCount
	}
	genderText := "boy"
	if gender == domain.GenderGirl {
		genderText = "girl"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Create a JSON structure for a %d-page children's book version of %s featuring a %s as the main character.\n", pages, Title(story), genderText)
	b.WriteString("For each page, provide:\n")
	fmt.Fprintf(&b, "1. Page number (1-%d)\n", pages)
	b.WriteString("2. Scene description\n")
	b.WriteString("3. Text for the page (2-3 sentences, age-appropriate)\n")
	b.WriteString("4. Detailed image generation prompt in a consistent, friendly storybook illustration style.\n")
	fmt.Fprintf(&b, "Maintain character consistency throughout. The main character has traits: %s.\n", traits.JSON())
	b.WriteString("IMPORTANT: Ensure image prompts request a square 8.5 x 8.5 inch full-bleed composition, high quality, and include the page text embedded within the illustration (no separate overlay), legible, with no typos.\n")
	b.WriteString("Return ONLY valid JSON with keys: story_title, pages[] where each page has page_number, scene_description, text, image_prompt.")
	return b.String()
}

// ImagePrompt joins the page prompt with the consistency clause and the
// character traits, so every page is drawn from the same description.
func ImagePrompt(page Page, traits Traits) string {
	base := strings.TrimSpace(page.ImagePrompt)
	if base == "" {
		base = strings.TrimSpace(page.Text)
	}

	var b strings.Builder
	b.WriteString(base)
	b.WriteString("\n\n")
	b.WriteString(consistencyClause)
	if line := traits.PromptLine(); line != "" {
		b.WriteString(" ")
		b.WriteString(line)
	}
	if text := strings.TrimSpace(page.Text); text != "" {
		b.WriteString(" Page text: \"")
		b.WriteString(text)
		b.WriteString("\"")
	}
	return b.String()
}

func marshalFields(fields map[string]string) string {
	encoded, err := json.Marshal(fields)
	if err != nil {
		return "{}"
	}
	return string(encoded)
}

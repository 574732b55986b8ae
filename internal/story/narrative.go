package story

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidOutline = errors.New("AI did not return valid JSON for story outline")

// ShortOutlineError reports an outline with fewer pages than the book needs.
type ShortOutlineError struct {
	Want int
	Got  int
}

func (e *ShortOutlineError) Error() string {
	return fmt.Sprintf("Story JSON missing %d pages", e.Want)
}

type Page struct {
	Number           int    `json:"page_number"`
	SceneDescription string `json:"scene_description,omitempty"`
	Text             string `json:"text"`
	ImagePrompt      string `json:"image_prompt"`
}

type Narrative struct {
	Title string `json:"story_title"`
	Pages []Page `json:"pages"`
}

type rawNarrative struct {
	Title    string    `json:"story_title"`
	TitleAlt string    `json:"title"`
	Pages    []rawPage `json:"pages"`
}

type rawPage struct {
	Scene       string `json:"scene_description"`
	Text        string `json:"text"`
	PageText    string `json:"page_text"`
	ImagePrompt string `json:"image_prompt"`
	Prompt      string `json:"image_generation_prompt"`
}

// ParseNarrative decodes a provider outline and validates it. The outline
// must carry at least want pages; extra pages are dropped and the rest are
// renumbered 1..want in order.
func ParseNarrative(text string, want int) (Narrative, error) {
	if want <= 0 {
		want = DefaultPageCount
	}

	var raw rawNarrative
	if err := json.Unmarshal([]byte(stripCodeFence(text)), &raw); err != nil {
		return Narrative{}, ErrInvalidOutline
	}
	if len(raw.Pages) < want {
		return Narrative{}, &ShortOutlineError{Want: want, Got: len(raw.Pages)}
	}

	title := strings.TrimSpace(raw.Title)
	if title == "" {
		title = strings.TrimSpace(raw.TitleAlt)
	}

	pages := make([]Page, 0, want)
	for i, item := range raw.Pages[:want] {
		body := strings.TrimSpace(item.Text)
		if body == "" {
			body = strings.TrimSpace(item.PageText)
		}
		prompt := strings.TrimSpace(item.ImagePrompt)
		if prompt == "" {
			prompt = strings.TrimSpace(item.Prompt)
		}
		if prompt == "" {
			prompt = body
		}
		pages = append(pages, Page{
			Number:           i + 1,
			SceneDescription: strings.TrimSpace(item.Scene),
			Text:             body,
			ImagePrompt:      prompt,
		})
	}

	return Narrative{Title: title, Pages: pages}, nil
}

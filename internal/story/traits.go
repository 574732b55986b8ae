package story

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

type TraitsKind int

const (
	TraitsUnstructured TraitsKind = iota
	TraitsStructured
)

// Traits is the character description threaded through every page prompt.
// It is either a key/value mapping or, when the provider answered with free
// text, the raw text itself.
type Traits struct {
	kind   TraitsKind
	fields map[string]string
	raw    string
}

func StructuredTraits(fields map[string]string) Traits {
	clone := make(map[string]string, len(fields))
	for key, value := range fields {
		clone[key] = value
	}
	return Traits{kind: TraitsStructured, fields: clone}
}

func UnstructuredTraits(raw string) Traits {
	return Traits{kind: TraitsUnstructured, raw: strings.TrimSpace(raw)}
}

func (t Traits) Kind() TraitsKind {
	return t.kind
}

func (t Traits) Structured() (map[string]string, bool) {
	if t.kind != TraitsStructured {
		return nil, false
	}
	clone := make(map[string]string, len(t.fields))
	for key, value := range t.fields {
		clone[key] = value
	}
	return clone, true
}

func (t Traits) Unstructured() (string, bool) {
	if t.kind != TraitsUnstructured {
		return "", false
	}
	return t.raw, true
}

// JSON renders the traits for embedding in the narrative prompt. Free text
// is wrapped under a single "notes" key.
func (t Traits) JSON() string {
	switch t.kind {
	case TraitsStructured:
		return marshalFields(t.fields)
	default:
		return marshalFields(map[string]string{"notes": t.raw})
	}
}

// PromptLine renders the traits for a page image prompt.
func (t Traits) PromptLine() string {
	switch t.kind {
	case TraitsStructured:
		keys := make([]string, 0, len(t.fields))
		for key := range t.fields {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, key := range keys {
			value := strings.TrimSpace(t.fields[key])
			if value == "" {
				continue
			}
			parts = append(parts, strings.ReplaceAll(key, "_", " ")+": "+value)
		}
		if len(parts) == 0 {
			return ""
		}
		return "Main character traits: " + strings.Join(parts, "; ") + "."
	default:
		if t.raw == "" {
			return ""
		}
		return "Main character description: " + t.raw
	}
}

// ParseTraits never fails: anything that is not a non-empty JSON object
// degrades to unstructured text.
func ParseTraits(text string) Traits {
	cleaned := stripCodeFence(text)

	var decoded map[string]any
	if err := json.Unmarshal([]byte(cleaned), &decoded); err != nil || len(decoded) == 0 {
		return UnstructuredTraits(text)
	}

	fields := make(map[string]string, len(decoded))
	for key, value := range decoded {
		switch typed := value.(type) {
		case nil:
			continue
		case string:
			fields[key] = strings.TrimSpace(typed)
		case []any:
			items := make([]string, 0, len(typed))
			for _, item := range typed {
				items = append(items, fmt.Sprint(item))
			}
			fields[key] = strings.Join(items, ", ")
		default:
			fields[key] = fmt.Sprint(typed)
		}
	}
	if len(fields) == 0 {
		return UnstructuredTraits(text)
	}
	return StructuredTraits(fields)
}

// stripCodeFence removes a surrounding Markdown ``` block if present.
func stripCodeFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	if newline := strings.Index(trimmed, "\n"); newline >= 0 {
		trimmed = trimmed[newline+1:]
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}

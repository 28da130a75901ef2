// Package format renders heterogeneous node outputs into labeled text blocks
// that can be handed to a language model or embedded in an email body.
package format

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

const separator = "=================================================="

var whitespace = regexp.MustCompile(`\s+`)

// CleanText strips zero-width characters and collapses whitespace runs.
func CleanText(text string) string {
	text = strings.NewReplacer("\ufeff", "", "\u200d", "", "\u200c", "").Replace(text)
	return strings.TrimSpace(whitespace.ReplaceAllString(text, " "))
}

// Inputs renders every input as one labeled block and joins the blocks with a
// blank line. Blocks keep the order of inputs. Maps are rendered as JSON with
// sorted keys so identical inputs always produce identical text.
func Inputs(inputs []any) string {
	if len(inputs) == 0 {
		return "No input data provided."
	}

	blocks := make([]string, 0, len(inputs))
	for i, raw := range inputs {
		blocks = append(blocks, block(i+1, Normalize(raw)))
	}
	return strings.Join(blocks, "\n\n")
}

func block(position int, data any) string {
	switch v := data.(type) {
	case string:
		return fmt.Sprintf("Input %d:\n%s", position, CleanText(v))
	case map[string]any:
		if emails, ok := v["emails"].([]any); ok {
			return "Gmail Data:\n" + Emails(emails)
		}
		if events, ok := v["events"].([]any); ok {
			return "Calendar Data:\n" + calendarEvents(events)
		}
		if hasAny(v, "repositories", "issues", "pull_requests") {
			return "GitHub Data:\n" + Render(v)
		}
		if hasAny(v, "rows", "data") {
			return "Database Data:\n" + Render(v)
		}
		return fmt.Sprintf("Data %d:\n%s", position, Render(v))
	case nil:
		return fmt.Sprintf("Input %d:\nnull", position)
	default:
		return fmt.Sprintf("Input %d:\n%s", position, Render(v))
	}
}

// Emails renders a list of fetched messages. Items that are not objects are
// printed verbatim.
func Emails(emails []any) string {
	if len(emails) == 0 {
		return "No emails to process."
	}

	entries := make([]string, 0, len(emails))
	for i, item := range emails {
		email, ok := item.(map[string]any)
		if !ok {
			entries = append(entries, fmt.Sprintf("Email %d:\n%v\n", i+1, item))
			continue
		}

		var b strings.Builder
		fmt.Fprintf(&b, "Email %d:\n", i+1)
		fmt.Fprintf(&b, "ID: %v\n", valueOr(email, "id", "N/A"))
		if subject, ok := email["subject"]; ok {
			fmt.Fprintf(&b, "Subject: %s\n", CleanText(fmt.Sprint(subject)))
		}
		if sender, ok := email["sender"]; ok {
			fmt.Fprintf(&b, "From: %s\n", CleanText(fmt.Sprint(sender)))
		}
		if date, ok := email["date"]; ok {
			fmt.Fprintf(&b, "Date: %v\n", date)
		}
		if snippet, ok := email["snippet"]; ok {
			fmt.Fprintf(&b, "Content: %s\n", CleanText(fmt.Sprint(snippet)))
		}
		entries = append(entries, b.String())
	}
	return "\n" + separator + strings.Join(entries, "\n") + separator + "\n"
}

func calendarEvents(events []any) string {
	lines := make([]string, 0, len(events))
	for _, item := range events {
		event, _ := item.(map[string]any)
		summary := valueOr(event, "summary", "No title")
		start := "No date"
		if s, ok := event["start"].(map[string]any); ok {
			start = fmt.Sprint(valueOr(s, "dateTime", "No date"))
		}
		lines = append(lines, fmt.Sprintf("Event: %v - %s", summary, start))
	}
	return strings.Join(lines, "\n")
}

// Render prints a value as compact JSON, falling back to %v for values that
// cannot be marshalled.
func Render(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

// Normalize converts arbitrary Go values (structs, typed slices and maps) into
// the generic shapes produced by encoding/json so shape detection works the
// same for values built in-process and values decoded from a request.
func Normalize(v any) any {
	switch v.(type) {
	case nil, string, bool, float64:
		return v
	}
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}

func hasAny(m map[string]any, keys ...string) bool {
	for _, k := range keys {
		if _, ok := m[k]; ok {
			return true
		}
	}
	return false
}

func valueOr(m map[string]any, key string, fallback any) any {
	if m == nil {
		return fallback
	}
	if v, ok := m[key]; ok && v != nil {
		return v
	}
	return fallback
}

package email

import (
	"fmt"
	"strings"

	"flowstudio/internal/format"
)

// Details is a message extracted from a task value.
type Details struct {
	To      []string
	Subject string
	Body    string
}

// Matcher recognizes one task shape. Matchers never fail; they report
// whether the shape applied.
type Matcher struct {
	Name  string
	Match func(value any) (Details, bool)
}

// Matchers are tried in this order and the first match wins:
//
//  1. direct:  an object with a "to" field
//  2. nested:  an object whose "email" field is an object
//  3. list:    a non-empty list whose first item has a "to" field
//  4. loose:   an object with any of recipient, email, to or department_email
var Matchers = []Matcher{
	{Name: "direct", Match: matchDirect},
	{Name: "nested", Match: matchNested},
	{Name: "list", Match: matchList},
	{Name: "loose", Match: matchLoose},
}

// Extract returns the details of the first matching shape.
func Extract(value any) (Details, bool) {
	value = format.Normalize(value)
	for _, m := range Matchers {
		if d, ok := m.Match(value); ok {
			return d, true
		}
	}
	return Details{}, false
}

func matchDirect(value any) (Details, bool) {
	obj, ok := value.(map[string]any)
	if !ok {
		return Details{}, false
	}
	if _, ok := obj["to"]; !ok {
		return Details{}, false
	}
	return fromObject(obj)
}

func matchNested(value any) (Details, bool) {
	obj, ok := value.(map[string]any)
	if !ok {
		return Details{}, false
	}
	nested, ok := obj["email"].(map[string]any)
	if !ok {
		return Details{}, false
	}
	return fromObject(nested)
}

func matchList(value any) (Details, bool) {
	list, ok := value.([]any)
	if !ok || len(list) == 0 {
		return Details{}, false
	}
	first, ok := list[0].(map[string]any)
	if !ok {
		return Details{}, false
	}
	if _, ok := first["to"]; !ok {
		return Details{}, false
	}
	return fromObject(first)
}

func matchLoose(value any) (Details, bool) {
	obj, ok := value.(map[string]any)
	if !ok {
		return Details{}, false
	}

	var to []string
	for _, key := range []string{"recipient", "email", "to", "department_email"} {
		if to = recipients(obj[key]); len(to) > 0 {
			break
		}
	}
	if len(to) == 0 {
		return Details{}, false
	}

	department := firstString(obj, "department")
	if department == "" {
		department = "System"
	}
	subject := firstString(obj, "subject", "title")
	if subject == "" {
		subject = "Message from " + department
	}
	body := firstString(obj, "body", "content", "message")
	if body == "" {
		body = departmentDigest(obj)
	}
	return Details{To: to, Subject: subject, Body: body}, true
}

func fromObject(obj map[string]any) (Details, bool) {
	to := recipients(obj["to"])
	if len(to) == 0 {
		return Details{}, false
	}
	subject := firstString(obj, "subject")
	if subject == "" {
		subject = DefaultSubject
	}
	return Details{To: to, Subject: subject, Body: firstString(obj, "body", "content")}, true
}

// recipients accepts a single address, a comma separated list or a list.
func recipients(v any) []string {
	var out []string
	switch r := v.(type) {
	case string:
		for _, part := range strings.Split(r, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	case []any:
		for _, item := range r {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
	}
	return out
}

func firstString(obj map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := obj[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func departmentDigest(obj map[string]any) string {
	if emails, ok := obj["emails"].([]any); ok {
		department := firstString(obj, "department")
		if department == "" {
			department = "Unknown"
		}
		var b strings.Builder
		fmt.Fprintf(&b, "Department: %s\n\n", department)
		fmt.Fprintf(&b, "Total emails: %d\n\n", len(emails))
		for i, item := range emails {
			if m, ok := item.(map[string]any); ok {
				id := firstString(m, "id")
				if id == "" {
					id = "N/A"
				}
				snippet := firstString(m, "snippet")
				if snippet == "" {
					snippet = "No snippet"
				}
				fmt.Fprintf(&b, "%d. Email ID: %s\n", i+1, id)
				fmt.Fprintf(&b, "   Snippet: %s\n\n", snippet)
			} else {
				fmt.Fprintf(&b, "%d. %v\n\n", i+1, item)
			}
		}
		return b.String()
	}
	if s := firstString(obj, "summary", "description"); s != "" {
		return s
	}
	return format.Render(obj)
}

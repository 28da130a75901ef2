// Package email holds the provider-independent half of the email tools:
// turning upstream (often model generated) content into messages to send,
// building MIME payloads and shaping the fetch and send results.
package email

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/kaptinlin/jsonrepair"
	gomail "github.com/wneessen/go-mail"

	"flowstudio/internal/format"
)

var (
	ErrNoInput     = errors.New("no input data provided")
	ErrInvalidJSON = errors.New("invalid JSON format in upstream output")
	ErrNotObject   = errors.New("upstream output must be an object")
)

const (
	FetchQuery      = "is:unread newer_than:1d"
	MaxFetchResults = 10
	DefaultSubject  = "No Subject"
	noMatchMessage  = "no recognizable email shape"
)

const (
	StatusSent    = "sent"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

var skippedKeys = map[string]bool{"metadata": true, "timestamp": true, "fetched_at": true}

// Message is one fetched email.
type Message struct {
	ID      string `json:"id"`
	Snippet string `json:"snippet"`
	Subject string `json:"subject,omitempty"`
	Sender  string `json:"sender,omitempty"`
	Date    string `json:"date,omitempty"`
}

type FetchResult struct {
	Emails    []Message `json:"emails"`
	FetchedAt string    `json:"fetched_at"`
}

func NewFetchResult(emails []Message) FetchResult {
	if emails == nil {
		emails = []Message{}
	}
	return FetchResult{Emails: emails, FetchedAt: time.Now().UTC().Format(time.RFC3339)}
}

// Task is one top-level entry of the send payload.
type Task struct {
	Name  string
	Value any
}

type SentEmail struct {
	Task      string   `json:"task"`
	Recipient []string `json:"recipient,omitempty"`
	Subject   string   `json:"subject,omitempty"`
	Status    string   `json:"status"`
	MessageID string   `json:"message_id,omitempty"`
	Error     string   `json:"error,omitempty"`
}

type SendReport struct {
	SentEmails  []SentEmail `json:"sent_emails"`
	TotalSent   int         `json:"total_sent"`
	TotalFailed int         `json:"total_failed"`
	SentAt      string      `json:"sent_at"`
}

// Deliver sends one message and returns the provider message id, if any.
type Deliver func(ctx context.Context, d Details) (string, error)

// ParseTasks reads the first input as the send payload. JSON strings are
// repaired before decoding since they usually come straight from a model.
// Tasks are returned sorted by key.
func ParseTasks(inputs []any) ([]Task, error) {
	if len(inputs) == 0 || inputs[0] == nil {
		return nil, ErrNoInput
	}

	payload := format.Normalize(inputs[0])
	if s, ok := payload.(string); ok {
		decoded, err := decodeLoose(s)
		if err != nil {
			return nil, ErrInvalidJSON
		}
		payload = decoded
	}

	obj, ok := payload.(map[string]any)
	if !ok {
		return nil, ErrNotObject
	}

	keys := make([]string, 0, len(obj))
	for k := range obj {
		if !skippedKeys[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	tasks := make([]Task, 0, len(keys))
	for _, k := range keys {
		tasks = append(tasks, Task{Name: k, Value: obj[k]})
	}
	return tasks, nil
}

func decodeLoose(s string) (any, error) {
	var out any
	if err := json.Unmarshal([]byte(s), &out); err == nil {
		return out, nil
	}
	repaired, err := jsonrepair.JSONRepair(stripFences(s))
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(repaired), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	return strings.TrimSuffix(strings.TrimSpace(s), "```")
}

// Send runs every task of the payload through the matchers and delivers the
// ones that match. Payload problems are reported as a structured error value.
func Send(ctx context.Context, inputs []any, deliver Deliver) (any, error) {
	tasks, err := ParseTasks(inputs)
	if err != nil {
		return map[string]any{"error": err.Error()}, nil
	}

	report := SendReport{SentEmails: make([]SentEmail, 0, len(tasks))}
	for _, task := range tasks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		details, ok := Extract(task.Value)
		if !ok {
			report.SentEmails = append(report.SentEmails, SentEmail{Task: task.Name, Status: StatusSkipped, Error: noMatchMessage})
			continue
		}

		entry := SentEmail{Task: task.Name, Recipient: details.To, Subject: details.Subject}
		id, err := deliver(ctx, details)
		if err != nil {
			entry.Status = StatusFailed
			entry.Error = err.Error()
			report.TotalFailed++
		} else {
			entry.Status = StatusSent
			entry.MessageID = id
			report.TotalSent++
		}
		report.SentEmails = append(report.SentEmails, entry)
	}
	report.SentAt = time.Now().UTC().Format(time.RFC3339)
	return report, nil
}

// BuildMessage creates a plain text message. from may be empty when the
// provider fills in the sender itself.
func BuildMessage(from string, d Details) (*gomail.Msg, error) {
	m := gomail.NewMsg()
	if from != "" {
		if err := m.From(from); err != nil {
			return nil, fmt.Errorf("failed to set from: %w", err)
		}
	}
	if err := m.To(d.To...); err != nil {
		return nil, fmt.Errorf("failed to set to: %w", err)
	}
	m.Subject(d.Subject)
	m.SetBodyString(gomail.TypeTextPlain, d.Body)
	return m, nil
}

// RawMessage renders d as RFC 5322 bytes.
func RawMessage(d Details) ([]byte, error) {
	m, err := BuildMessage("", d)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if _, err := m.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to render message: %w", err)
	}
	return buf.Bytes(), nil
}

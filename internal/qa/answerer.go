package qa

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"flowstudio/internal/llm"
)

var (
	ErrAnswerCountMismatch = errors.New("answer count does not match question count")
	ErrUnparsableAnswers   = errors.New("model reply did not contain an answers object")
)

const answerInstructions = "You are a specialist in insurance, legal, HR, and compliance language. " +
	"For each question, give a concise and precise answer that uses the exact numbers, terms and conditions found in its context. " +
	"If the context does not contain the answer, say so.\n" +
	"Only return a JSON object with this schema:\n" +
	`{"answers": ["Answer to Q1", "Answer to Q2", ...]}` + "\n" +
	"Do not include any additional text, explanation, or formatting."

type Completer interface {
	Complete(ctx context.Context, req llm.Request) (string, error)
}

// Answerer asks a model for every answer in a single call.
type Answerer struct {
	models   Completer
	provider string
	model    string
	apiKey   string
}

func NewAnswerer(models Completer, provider, model, apiKey string) *Answerer {
	return &Answerer{models: models, provider: provider, model: model, apiKey: apiKey}
}

// GenerateBatchAnswers returns the answers as parsed from the reply. The
// caller checks that there is one per question.
func (slf *Answerer) GenerateBatchAnswers(ctx context.Context, contexts [][]string, questions []string) ([]string, error) {
	if len(contexts) != len(questions) {
		return nil, fmt.Errorf("got %d contexts for %d questions", len(contexts), len(questions))
	}

	reply, err := slf.models.Complete(ctx, llm.Request{
		Provider:     slf.provider,
		Model:        slf.model,
		APIKey:       slf.apiKey,
		SystemPrompt: "You are a helpful assistant.",
		Prompt:       batchPrompt(contexts, questions),
		Temperature:  0,
	})
	if err != nil {
		return nil, err
	}
	return parseAnswers(reply)
}

func batchPrompt(contexts [][]string, questions []string) string {
	var b strings.Builder
	for i, q := range questions {
		fmt.Fprintf(&b, "Question %d:\n%s\n\n", i+1, q)
		fmt.Fprintf(&b, "Context %d:\n%s\n\n", i+1, strings.Join(contexts[i], "\n"))
	}
	b.WriteString(answerInstructions)
	return b.String()
}

// parseAnswers extracts {"answers": [...]} from a model reply, repairing
// the JSON when the model got it slightly wrong.
func parseAnswers(reply string) ([]string, error) {
	raw := strings.TrimSpace(reply)
	if !strings.HasPrefix(raw, "{") {
		start, end := strings.Index(raw, "{"), strings.LastIndex(raw, "}")
		if start == -1 || end <= start {
			return nil, ErrUnparsableAnswers
		}
		raw = raw[start : end+1]
	}

	var payload struct {
		Answers []any `json:"answers"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		repaired, rerr := jsonrepair.JSONRepair(raw)
		if rerr != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnparsableAnswers, err)
		}
		if err := json.Unmarshal([]byte(repaired), &payload); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnparsableAnswers, err)
		}
	}
	if payload.Answers == nil {
		return nil, ErrUnparsableAnswers
	}

	answers := make([]string, len(payload.Answers))
	for i, a := range payload.Answers {
		if s, ok := a.(string); ok {
			answers[i] = strings.TrimSpace(s)
		} else {
			answers[i] = strings.TrimSpace(fmt.Sprint(a))
		}
	}
	return answers, nil
}

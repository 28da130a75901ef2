package response

import (
	"time"

	"flowstudio/internal/engine"
)

type Health struct {
	Status    string    `json:"status"`
	Service   string    `json:"service,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func Healthy(service string) Health {
	return Health{Status: "healthy", Service: service, Timestamp: time.Now().UTC()}
}

// Validation is the dry-run verdict
type Validation struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

func FromReport(r engine.Report) Validation {
	return Validation{Valid: r.Valid, Errors: r.Errors, Warnings: r.Warnings}
}

type Cancelled struct {
	ExecutionID string `json:"executionId"`
	Cancelled   bool   `json:"cancelled"`
}

type DocumentAnswers struct {
	Answers []string `json:"answers"`
}

package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"flowstudio/internal/engine"
)

// NodeStates is the per-node status map of a run, stored as jsonb.
type NodeStates map[string]engine.NodeState

// Scan implements sql.Scanner interface
func (n *NodeStates) Scan(value any) error {
	if value == nil {
		*n = nil
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("cannot scan type %T into NodeStates", value)
	}
	return json.Unmarshal(data, n)
}

// Value implements driver.Valuer interface
func (n NodeStates) Value() (driver.Value, error) {
	if n == nil {
		return nil, nil
	}
	return json.Marshal(n)
}

// StringList is a jsonb array of strings.
type StringList []string

func (l *StringList) Scan(value any) error {
	if value == nil {
		*l = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	default:
		return fmt.Errorf("cannot scan type %T into StringList", value)
	}
}

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	return json.Marshal(l)
}

// WorkflowExecution is the audit row of one finished run. The workflow
// definition itself is not kept.
type WorkflowExecution struct {
	ID         string     `gorm:"primaryKey;type:varchar(36)" json:"executionId"`
	Outcome    string     `gorm:"type:varchar(16);index" json:"outcome"`
	Success    bool       `json:"success"`
	Error      string     `gorm:"type:text" json:"error,omitempty"`
	FailedNode string     `json:"failedNode,omitempty"`
	NodeCount  int        `json:"nodeCount"`
	Order      StringList `gorm:"type:jsonb" json:"order"`
	Statuses   NodeStates `gorm:"type:jsonb" json:"status"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt time.Time  `json:"finishedAt"`
	CreatedAt  time.Time  `json:"createdAt"`
}

func NewWorkflowExecution(result *engine.Result) WorkflowExecution {
	return WorkflowExecution{
		ID:         result.ExecutionID,
		Outcome:    string(result.Outcome),
		Success:    result.Success,
		Error:      result.Error,
		FailedNode: result.FailedNode,
		NodeCount:  len(result.Statuses),
		Order:      StringList(result.Order),
		Statuses:   NodeStates(result.Statuses),
		StartedAt:  result.StartedAt,
		FinishedAt: result.FinishedAt,
	}
}

// Duration of the run.
func (e WorkflowExecution) Duration() time.Duration {
	return e.FinishedAt.Sub(e.StartedAt)
}

package engine

import (
	"errors"
	"fmt"
	"strings"
)

// Report is the verdict of a dry run.
type Report struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

func newReport() Report {
	return Report{Errors: []string{}, Warnings: []string{}}
}

func (r *Report) finish() Report {
	r.Valid = len(r.Errors) == 0
	return *r
}

// Validate checks a built graph: cycles and per-type payload problems are
// errors, unreachable or dangling nodes are warnings. It never mutates g.
func Validate(g *Graph) Report {
	r := newReport()

	if _, err := g.Order(); err != nil {
		var gerr *GraphError
		if errors.As(err, &gerr) {
			r.Errors = append(r.Errors, gerr.Problems...)
		} else {
			r.Errors = append(r.Errors, err.Error())
		}
	}

	for _, id := range g.ids {
		r.Errors = append(r.Errors, payloadProblems(*g.nodes[id])...)
	}

	r.Warnings = append(r.Warnings, g.warnings...)
	r.Warnings = append(r.Warnings, structuralWarnings(g)...)
	return r.finish()
}

func structuralWarnings(g *Graph) []string {
	var warnings []string
	if g.Len() == 0 {
		return append(warnings, "workflow has no nodes")
	}

	inputs := g.NodesOfType(NodeInput)
	if len(inputs) == 0 {
		warnings = append(warnings, "workflow has no input node")
	} else {
		reachable := g.Reachable(inputs)
		var unreachable []string
		for _, id := range g.ids {
			if !reachable[id] {
				unreachable = append(unreachable, id)
			}
		}
		if len(unreachable) > 0 {
			warnings = append(warnings, fmt.Sprintf("nodes not reachable from any input node: %s", strings.Join(unreachable, ", ")))
		}
	}

	if len(g.NodesOfType(NodeOutput)) == 0 {
		warnings = append(warnings, "workflow has no output node")
	}

	for _, id := range g.ids {
		n := g.nodes[id]
		switch data := n.Data.(type) {
		case OutputData:
			if len(g.preds[id]) == 0 {
				warnings = append(warnings, fmt.Sprintf("output node %q has no incoming edge", id))
			}
		case ToolData:
			if data.Operation() == "" {
				warnings = append(warnings, fmt.Sprintf("tool node %q has no action selected", id))
			}
			if len(data.AvailableTools) > 0 && !containsFold(data.AvailableTools, data.SelectedTool) {
				warnings = append(warnings, fmt.Sprintf("tool node %q selects %q which is not among its available tools", id, data.SelectedTool))
			}
		case LLMData:
			if strings.TrimSpace(data.SystemPrompt) == "" {
				warnings = append(warnings, fmt.Sprintf("llm node %q has no system prompt", id))
			}
		}
	}
	return warnings
}

// ValidateRequest is the dry run over a wire request. Every problem is
// reported, including those that would stop the graph from being built.
func ValidateRequest(req Request) Report {
	nodes, problems := DecodeNodes(req.Nodes)

	g, err := Build(nodes, req.Edges)
	if err != nil {
		r := newReport()
		r.Errors = append(r.Errors, problems...)
		var gerr *GraphError
		if errors.As(err, &gerr) {
			r.Errors = append(r.Errors, gerr.Problems...)
		} else {
			r.Errors = append(r.Errors, err.Error())
		}
		return r.finish()
	}

	r := Validate(g)
	r.Errors = append(decodeOnly(problems, nodes), r.Errors...)
	return r.finish()
}

// decodeOnly drops payload problems from the decode list since Validate
// reports them again.
func decodeOnly(problems []string, nodes []Node) []string {
	payload := make(map[string]bool)
	for _, n := range nodes {
		for _, p := range payloadProblems(n) {
			payload[p] = true
		}
	}
	out := make([]string, 0, len(problems))
	for _, p := range problems {
		if !payload[p] {
			out = append(out, p)
		}
	}
	return out
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

type NodeType string

const (
	NodeInput  NodeType = "customInput"
	NodeTool   NodeType = "toolNode"
	NodeLLM    NodeType = "llm"
	NodeOutput NodeType = "customOutput"
)

var nodeTypes = map[string]NodeType{
	"custominput":  NodeInput,
	"input":        NodeInput,
	"toolnode":     NodeTool,
	"tool":         NodeTool,
	"llm":          NodeLLM,
	"customoutput": NodeOutput,
	"output":       NodeOutput,
}

// ParseNodeType accepts the editor type names and their short aliases.
func ParseNodeType(s string) (NodeType, bool) {
	t, ok := nodeTypes[strings.ToLower(strings.TrimSpace(s))]
	return t, ok
}

type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// NodeData keeps the node payload as raw JSON until its type is known.
type NodeData []byte

func (n NodeData) MarshalJSON() ([]byte, error) {
	if n == nil {
		return []byte("null"), nil
	}
	return n, nil
}

func (n *NodeData) UnmarshalJSON(data []byte) error {
	if data == nil {
		*n = nil
		return nil
	}
	*n = append((*n)[:0], data...)
	return nil
}

// RawNode is a node as received on the wire.
type RawNode struct {
	ID       string    `json:"id"`
	Type     string    `json:"type"`
	Position *Position `json:"position,omitempty"`
	Data     NodeData  `json:"data,omitempty"`
}

type Edge struct {
	ID           string `json:"id,omitempty"`
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceHandle string `json:"sourceHandle,omitempty"`
	TargetHandle string `json:"targetHandle,omitempty"`
	Type         string `json:"type,omitempty"`
}

// Request is a workflow definition: the unit the engine runs.
type Request struct {
	Nodes []RawNode `json:"nodes"`
	Edges []Edge    `json:"edges"`
}

// Payload is the typed data of one node kind.
type Payload interface {
	Kind() NodeType
}

type InputData struct {
	Query string `json:"query" validate:"required"`
}

type ToolData struct {
	SelectedTool        string                     `json:"selectedTool" validate:"required"`
	ToolActions         string                     `json:"toolActions"`
	Action              string                     `json:"action"`
	Connections         map[string]json.RawMessage `json:"connections"`
	Connection          json.RawMessage            `json:"connection"`
	AvailableTools      []string                   `json:"availableTools"`
	ToolAPIKey          string                     `json:"toolApiKey"`
	AccountLinkRequired bool                       `json:"accountLinkRequired"`
}

type LLMData struct {
	ModelProvider string   `json:"modelProvider" validate:"required"`
	ModelName     string   `json:"modelName"`
	SystemPrompt  string   `json:"systemPrompt"`
	APIKey        string   `json:"apiKey"`
	Temperature   *float64 `json:"temperature" validate:"omitempty,gte=0,lte=2"`
	MaxTokens     int      `json:"maxTokens" validate:"gte=0"`
}

type OutputData struct{}

func (InputData) Kind() NodeType  { return NodeInput }
func (ToolData) Kind() NodeType   { return NodeTool }
func (LLMData) Kind() NodeType    { return NodeLLM }
func (OutputData) Kind() NodeType { return NodeOutput }

// Operation returns the requested action, whichever key carried it.
func (slf ToolData) Operation() string {
	if slf.ToolActions != "" {
		return slf.ToolActions
	}
	return slf.Action
}

// ConnectionFor picks the credential bundle for tool: an inline connection
// first, then the connections map by lower-case name, exact name, or its
// only entry.
func (slf ToolData) ConnectionFor(tool string) json.RawMessage {
	if len(slf.Connection) > 0 {
		return slf.Connection
	}
	if c, ok := slf.Connections[strings.ToLower(tool)]; ok {
		return c
	}
	if c, ok := slf.Connections[tool]; ok {
		return c
	}
	if len(slf.Connections) == 1 {
		for _, c := range slf.Connections {
			return c
		}
	}
	return nil
}

func (slf LLMData) TemperatureOr(def float64) float64 {
	if slf.Temperature == nil {
		return def
	}
	return *slf.Temperature
}

// Node is a decoded node. Data is nil when the payload could not be decoded.
type Node struct {
	ID       string
	Type     NodeType
	Position *Position
	Data     Payload
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// GetTypedData deserializes the JSON data into the expected type.
func GetTypedData[T any](data NodeData) (T, error) {
	var result T
	if len(data) == 0 || string(data) == "null" {
		return result, nil
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return result, fmt.Errorf("failed to unmarshal data: %w", err)
	}
	return result, nil
}

// DecodeNode turns a wire node into a typed one. The node is always returned
// so the graph can still be built; problems lists everything wrong with it.
func DecodeNode(raw RawNode) (Node, []string) {
	node := Node{ID: raw.ID, Position: raw.Position}
	var problems []string

	if strings.TrimSpace(raw.ID) == "" {
		problems = append(problems, "node with empty id")
	}

	t, ok := ParseNodeType(raw.Type)
	if !ok {
		problems = append(problems, fmt.Sprintf("node %q: unknown node type %q", raw.ID, raw.Type))
		node.Type = NodeType(raw.Type)
		return node, problems
	}
	node.Type = t

	var err error
	switch t {
	case NodeInput:
		node.Data, err = decodePayload[InputData](raw.Data)
	case NodeTool:
		node.Data, err = decodePayload[ToolData](raw.Data)
	case NodeLLM:
		node.Data, err = decodePayload[LLMData](raw.Data)
	case NodeOutput:
		node.Data = OutputData{}
	}
	if err != nil {
		problems = append(problems, fmt.Sprintf("node %q: invalid %s data: %s", raw.ID, t, err))
		return node, problems
	}

	return node, append(problems, payloadProblems(node)...)
}

func decodePayload[T Payload](data NodeData) (Payload, error) {
	v, err := GetTypedData[T](data)
	if err != nil {
		return nil, err
	}
	return v, nil
}

// payloadProblems reports missing required fields and out of range values.
func payloadProblems(node Node) []string {
	if node.Data == nil {
		return nil
	}
	err := validate.Struct(node.Data)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{fmt.Sprintf("node %q: %s", node.ID, err)}
	}
	problems := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			problems = append(problems, fmt.Sprintf("node %q (%s): missing required field %q", node.ID, node.Type, fe.Field()))
		case "gte", "lte":
			problems = append(problems, fmt.Sprintf("node %q (%s): field %q out of range (%s %s)", node.ID, node.Type, fe.Field(), fe.Tag(), fe.Param()))
		default:
			problems = append(problems, fmt.Sprintf("node %q (%s): field %q failed %s", node.ID, node.Type, fe.Field(), fe.Tag()))
		}
	}
	return problems
}

// DecodeNodes decodes every node, collecting all problems.
func DecodeNodes(raws []RawNode) ([]Node, []string) {
	nodes := make([]Node, 0, len(raws))
	var problems []string
	for _, raw := range raws {
		n, p := DecodeNode(raw)
		nodes = append(nodes, n)
		problems = append(problems, p...)
	}
	return nodes, problems
}

package engine

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateRequest_ListsEveryProblem(t *testing.T) {
	report := ValidateRequest(Request{
		Nodes: []RawNode{
			input("in1", "hi"),
			input("in1", "dup"),
			rawNode("x", "spaceship", `{}`),
			rawNode("bad", NodeInput, `{}`),
		},
		Edges: []Edge{edge("in1", "ghost")},
	})

	assert.False(t, report.Valid)
	assert.ElementsMatch(t, []string{
		`node "x": unknown node type "spaceship"`,
		`node "bad" (customInput): missing required field "query"`,
		`duplicate node id "in1"`,
		`edge in1-ghost references unknown target node "ghost"`,
	}, report.Errors)
}

func TestValidateRequest_Cycle(t *testing.T) {
	report := ValidateRequest(Request{
		Nodes: []RawNode{input("in", "q"), tool("a", "x"), tool("b", "x")},
		Edges: []Edge{edge("in", "a"), edge("a", "b"), edge("b", "a")},
	})

	assert.False(t, report.Valid)
	assert.Equal(t, []string{"cycle detected: a -> b -> a"}, report.Errors)
}

func TestValidateRequest_CycleNextToDanglingEdge(t *testing.T) {
	report := ValidateRequest(Request{
		Nodes: []RawNode{input("a", "q"), tool("b", "x"), tool("c", "x")},
		Edges: []Edge{edge("b", "c"), edge("c", "b"), edge("a", "ghost")},
	})

	assert.False(t, report.Valid)
	assert.Equal(t, []string{
		`edge a-ghost references unknown target node "ghost"`,
		"cycle detected: b -> c -> b",
	}, report.Errors)
}

func TestValidateRequest_Warnings(t *testing.T) {
	report := ValidateRequest(Request{
		Nodes: []RawNode{
			input("in", "q"),
			output("out"),
			tool("orphan", "x"),
			rawNode("m", NodeLLM, `{"modelProvider":"OpenAI"}`),
		},
		Edges: []Edge{edge("in", "out"), edge("in", "out")},
	})

	assert.True(t, report.Valid)
	assert.Contains(t, report.Warnings, "nodes not reachable from any input node: m, orphan")
	assert.Contains(t, report.Warnings, `llm node "m" has no system prompt`)
	assert.Contains(t, report.Warnings, "edge in-out duplicates in -> out and was ignored")
}

func TestValidateRequest_TemperatureRange(t *testing.T) {
	report := ValidateRequest(Request{
		Nodes: []RawNode{rawNode("m", NodeLLM, `{"modelProvider":"Google","systemPrompt":"s","temperature":2.5}`)},
	})
	assert.False(t, report.Valid)
	assert.Equal(t, []string{`node "m" (llm): field "temperature" out of range (lte 2)`}, report.Errors)
}

func TestLLMData_TemperatureOr(t *testing.T) {
	assert.Equal(t, 0.3, LLMData{}.TemperatureOr(0.3))
	zero := 0.0
	assert.Equal(t, 0.0, LLMData{Temperature: &zero}.TemperatureOr(0.3))

	data, err := GetTypedData[LLMData](NodeData(`{"modelProvider":"OpenAI","temperature":0}`))
	require.NoError(t, err)
	require.NotNil(t, data.Temperature)
	assert.Equal(t, 0.0, *data.Temperature)
}

func TestValidateRequest_IsIdempotentAndPure(t *testing.T) {
	req := Request{
		Nodes: []RawNode{input("in", "q"), tool("t", "Gmail"), output("out"), tool("loose", "x")},
		Edges: []Edge{edge("in", "t"), edge("t", "out")},
	}
	before, err := json.Marshal(req)
	require.NoError(t, err)

	first := ValidateRequest(req)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, ValidateRequest(req))
	}

	after, err := json.Marshal(req)
	require.NoError(t, err)
	assert.JSONEq(t, string(before), string(after))
}

func TestOrder_TopologicalAndDeterministic(t *testing.T) {
	nodes, problems := DecodeNodes([]RawNode{
		tool("d", "x"), tool("c", "x"), tool("a", "x"), tool("b", "x"), tool("e", "x"),
	})
	require.Empty(t, problems)
	edges := []Edge{edge("c", "a"), edge("a", "d"), edge("b", "d"), edge("d", "e"), edge("c", "e")}

	g, err := Build(nodes, edges)
	require.NoError(t, err)

	order, err := g.Order()
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c", "a", "d", "e"}, order)

	position := make(map[string]int)
	for i, id := range order {
		position[id] = i
	}
	for _, e := range edges {
		assert.Less(t, position[e.Source], position[e.Target], "%s -> %s", e.Source, e.Target)
	}

	for i := 0; i < 10; i++ {
		again, err := g.Order()
		require.NoError(t, err)
		assert.Equal(t, order, again)
	}
}

func TestOrder_SelfLoopIsCycle(t *testing.T) {
	nodes, _ := DecodeNodes([]RawNode{tool("a", "x")})
	g, err := Build(nodes, []Edge{edge("a", "a")})
	require.NoError(t, err)

	_, err = g.Order()
	assert.ErrorIs(t, err, ErrCyclicGraph)
	assert.Contains(t, err.Error(), "a -> a")
}

func TestBuild_PredecessorsFollowEdgeOrder(t *testing.T) {
	nodes, _ := DecodeNodes([]RawNode{tool("z", "x"), tool("a", "x"), tool("m", "x")})
	g, err := Build(nodes, []Edge{edge("z", "m"), edge("a", "m"), edge("z", "m")})
	require.NoError(t, err)

	assert.Equal(t, []string{"z", "a"}, g.Predecessors("m"))
	assert.Equal(t, []string{"a", "m", "z"}, g.IDs())
	assert.Len(t, g.Warnings(), 1)
}

func TestReadySet(t *testing.T) {
	nodes, _ := DecodeNodes([]RawNode{tool("a", "x"), tool("b", "x"), tool("c", "x")})
	g, err := Build(nodes, []Edge{edge("a", "c"), edge("b", "c")})
	require.NoError(t, err)

	ec := NewExecutionContext(g.IDs())
	assert.Equal(t, []string{"a", "b"}, ReadySet(g, ec))

	ec.Complete("a", 1)
	assert.Equal(t, []string{"b"}, ReadySet(g, ec))

	ec.Complete("b", 2)
	assert.Equal(t, []string{"c"}, ReadySet(g, ec))
}

func TestExecutionContext_WaitIsABarrier(t *testing.T) {
	ec := NewExecutionContext([]string{"a"})

	got := make(chan Status, 1)
	go func() {
		s, err := ec.Wait(context.Background(), "a")
		assert.NoError(t, err)
		got <- s
	}()

	select {
	case <-got:
		t.Fatal("wait returned before the node finished")
	case <-time.After(20 * time.Millisecond):
	}

	require.True(t, ec.Complete("a", "out"))
	assert.Equal(t, StatusDone, <-got)
	assert.False(t, ec.Complete("a", "again"))
	assert.False(t, ec.Fail("a", "late", ""))

	out, ok := ec.Output("a")
	assert.True(t, ok)
	assert.Equal(t, "out", out)
}

func TestExecutionContext_WaitHonoursContext(t *testing.T) {
	ec := NewExecutionContext([]string{"a"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ec.Wait(ctx, "a")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseNodeType(t *testing.T) {
	for in, want := range map[string]NodeType{
		"customInput": NodeInput, "input": NodeInput, "toolNode": NodeTool,
		"tool": NodeTool, "llm": NodeLLM, "LLM": NodeLLM, "customOutput": NodeOutput, "output": NodeOutput,
	} {
		got, ok := ParseNodeType(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	_, ok := ParseNodeType("webhook")
	assert.False(t, ok)
}

package endpoints

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowstudio/internal/api/handler/response"
	"flowstudio/internal/api/service"
	"flowstudio/internal/capability"
	"flowstudio/internal/llm"
	"flowstudio/internal/qa"
)

type stubPipeline struct {
	answers []string
	err     error
}

func (s stubPipeline) Run(_ context.Context, _ string, questions []string) ([]string, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.answers[:len(questions)], nil
}

func newTestRouter(pipeline service.Answers) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()

	workflows := service.NewWorkflowServiceWith(
		capability.NewRegistry(zerolog.Nop()),
		llm.NewClient(zerolog.Nop(), 0),
		nil,
		zerolog.Nop(),
	)
	registerRootRoutes(router)
	registerWorkflowRoutes(router, &workflowHandler{workflowService: workflows, logger: zerolog.Nop()})
	registerQARoutes(router, &qaHandler{qaService: service.NewQAServiceWith(pipeline, zerolog.Nop()), logger: zerolog.Nop()})
	return router
}

func perform(router http.Handler, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return body
}

const linearWorkflow = `{
	"nodes": [
		{"id": "in1", "type": "customInput", "position": {"x": 0, "y": 0}, "data": {"query": "hello"}},
		{"id": "tool1", "type": "toolNode", "data": {"selectedTool": "Unknown", "toolActions": "x"}},
		{"id": "out1", "type": "customOutput", "data": {}}
	],
	"edges": [
		{"id": "e1", "source": "in1", "target": "tool1"},
		{"id": "e2", "source": "tool1", "target": "out1"}
	]
}`

func TestExecute_RunsWorkflow(t *testing.T) {
	router := newTestRouter(nil)

	w := perform(router, http.MethodPost, "/workflow/execute", linearWorkflow)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decode(t, w)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "completed", body["outcome"])
	assert.NotEmpty(t, body["executionId"])
	assert.Equal(t, []any{"in1", "tool1", "out1"}, body["order"])

	result := body["result"].(map[string]any)
	assert.Equal(t, map[string]any{"error": "Unsupported tool or action"}, result["out1"])
}

func TestExecute_RejectsCycle(t *testing.T) {
	router := newTestRouter(nil)

	payload := `{
		"nodes": [
			{"id": "a", "type": "customInput", "data": {"query": "q"}},
			{"id": "b", "type": "customOutput", "data": {}}
		],
		"edges": [{"source": "a", "target": "b"}, {"source": "b", "target": "a"}]
	}`
	w := perform(router, http.MethodPost, "/workflow/execute", payload)
	require.Equal(t, http.StatusBadRequest, w.Code)

	var apiErr response.APIError
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &apiErr))
	assert.Contains(t, apiErr.Message, "cyclic graph")
	assert.Contains(t, fmt.Sprint(apiErr.Data), "cycle detected")
}

func TestExecute_RejectsMalformedRequests(t *testing.T) {
	router := newTestRouter(nil)

	w := perform(router, http.MethodPost, "/workflow/execute", `{"nodes": [`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = perform(router, http.MethodPost, "/workflow/execute", `{"nodes": [], "executionId": "nope"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = perform(router, http.MethodPost, "/workflow/execute", `{"nodes": [{"id": "x", "type": "mystery", "data": {}}]}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `unknown node type \"mystery\"`)
}

func TestValidate_ListsProblems(t *testing.T) {
	router := newTestRouter(nil)

	payload := `{
		"nodes": [
			{"id": "in1", "type": "customInput", "data": {}},
			{"id": "llm1", "type": "llm", "data": {"modelProvider": "OpenAI", "temperature": 3}}
		],
		"edges": [{"source": "in1", "target": "ghost"}]
	}`
	w := perform(router, http.MethodPost, "/workflow/validate", payload)
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.Equal(t, false, body["valid"])
	errs := fmt.Sprint(body["errors"])
	assert.Contains(t, errs, "query")
	assert.Contains(t, errs, "temperature")
	assert.Contains(t, errs, "ghost")

	w = perform(router, http.MethodPost, "/workflow/validate", linearWorkflow)
	body = decode(t, w)
	assert.Equal(t, true, body["valid"])
	assert.Empty(t, body["errors"])
}

func TestExecutionHistoryAndCancel(t *testing.T) {
	router := newTestRouter(nil)

	w := perform(router, http.MethodGet, "/workflow/executions/abc", "")
	assert.Equal(t, http.StatusNotImplemented, w.Code)

	w = perform(router, http.MethodGet, "/workflow/executions", "")
	assert.Equal(t, http.StatusNotImplemented, w.Code)

	w = perform(router, http.MethodPost, "/workflow/executions/abc/cancel", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthAndCapabilities(t *testing.T) {
	router := newTestRouter(nil)

	for _, path := range []string{"/", "/health", "/workflow/health"} {
		w := perform(router, http.MethodGet, path, "")
		require.Equal(t, http.StatusOK, w.Code, path)
		assert.Equal(t, "healthy", decode(t, w)["status"], path)
	}

	w := perform(router, http.MethodGet, "/workflow/capabilities", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["nodeTypes"], 4)

	w = perform(router, http.MethodGet, "/api/v1/hackrx/health", "")
	assert.Equal(t, "degraded", decode(t, w)["status"])
}

func TestDocumentQA(t *testing.T) {
	router := newTestRouter(stubPipeline{answers: []string{"30 days", "2 years"}})

	w := perform(router, http.MethodPost, "/api/v1/hackrx/run",
		`{"documents": "https://docs.example/policy.txt", "questions": ["grace period?", "waiting period?"]}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"answers": ["30 days", "2 years"]}`, w.Body.String())

	w = perform(router, http.MethodPost, "/api/v1/hackrx/run", `{"documents": "https://docs.example/policy.txt", "questions": []}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, []any{`field "questions" failed on min=1`}, decode(t, w)["data"])

	w = perform(router, http.MethodPost, "/api/v1/hackrx/run", `{"documents": "not a url", "questions": ["q", ""]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.ElementsMatch(t, []any{
		`field "documents" failed on url`,
		`field "questions[1]" failed on required`,
	}, decode(t, w)["data"])
}

func TestDocumentQA_Errors(t *testing.T) {
	body := `{"documents": "https://docs.example/policy.pdf", "questions": ["q"]}`

	w := perform(newTestRouter(nil), http.MethodPost, "/api/v1/hackrx/run", body)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = perform(newTestRouter(stubPipeline{err: qa.ErrUnsupportedFormat}), http.MethodPost, "/api/v1/hackrx/run", body)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = perform(newTestRouter(stubPipeline{err: qa.ErrAnswerCountMismatch}), http.MethodPost, "/api/v1/hackrx/run", body)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

package gmail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowstudio/internal/capability"
	"flowstudio/internal/capability/email"
)

type fakeGmail struct {
	mu          sync.Mutex
	refreshOK   bool
	authHeaders []string
	sentRaw     []string
	messageIDs  int
}

func (f *fakeGmail) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "rt-1", r.PostForm.Get("refresh_token"))
		assert.Equal(t, "client-1", r.PostForm.Get("client_id"))
		if !f.refreshOK {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"error":"invalid_grant"}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token":"fresh","token_type":"Bearer","expires_in":3600}`)
	})
	mux.HandleFunc("/users/me/messages", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		assert.Equal(t, email.FetchQuery, r.URL.Query().Get("q"))
		ids := make([]string, 0, f.messageIDs)
		for i := 1; i <= f.messageIDs; i++ {
			ids = append(ids, fmt.Sprintf(`{"id":"m%d"}`, i))
		}
		_, _ = io.WriteString(w, `{"messages":[`+strings.Join(ids, ",")+`]}`)
	})
	mux.HandleFunc("/users/me/messages/send", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		raw, err := base64.URLEncoding.DecodeString(body["raw"])
		require.NoError(t, err)
		f.mu.Lock()
		f.sentRaw = append(f.sentRaw, string(raw))
		f.mu.Unlock()
		_, _ = io.WriteString(w, `{"id":"sent-1"}`)
	})
	mux.HandleFunc("/users/me/messages/", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		id := strings.TrimPrefix(r.URL.Path, "/users/me/messages/")
		_, _ = io.WriteString(w, `{"id":"`+id+`","snippet":"snippet of `+id+`","payload":{"headers":[{"name":"Subject","value":"About `+id+`"}]}}`)
	})
	return mux
}

func (f *fakeGmail) record(r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.authHeaders = append(f.authHeaders, r.Header.Get("Authorization"))
}

func newAdapter(server *httptest.Server) *Adapter {
	return New(Config{
		TokenURL:   server.URL + "/token",
		BaseURL:    server.URL,
		HTTPClient: server.Client(),
	}, zerolog.Nop())
}

func connection(authHeader string) json.RawMessage {
	return json.RawMessage(`{
		"credentials": {"client_id": "client-1", "refresh_token": "rt-1", "access_token": "old"},
		"execution_context": {"user_id": "me", "auth_header": "` + authHeader + `"}
	}`)
}

func TestFetchEmails_RefreshesTokenAndCapsResults(t *testing.T) {
	fake := &fakeGmail{refreshOK: true, messageIDs: 12}
	server := httptest.NewServer(fake.handler(t))
	defer server.Close()

	out, err := newAdapter(server).fetchEmails(context.Background(), capability.Call{Connection: connection("Bearer stale")})
	require.NoError(t, err)

	result := out.(email.FetchResult)
	require.Len(t, result.Emails, email.MaxFetchResults)
	assert.Equal(t, email.Message{ID: "m1", Snippet: "snippet of m1", Subject: "About m1"}, result.Emails[0])
	assert.NotEmpty(t, result.FetchedAt)
	for _, h := range fake.authHeaders {
		assert.Equal(t, "Bearer fresh", h)
	}
}

func TestFetchEmails_FallsBackToStoredHeader(t *testing.T) {
	fake := &fakeGmail{refreshOK: false, messageIDs: 1}
	server := httptest.NewServer(fake.handler(t))
	defer server.Close()

	_, err := newAdapter(server).fetchEmails(context.Background(), capability.Call{Connection: connection("Bearer stale")})
	require.NoError(t, err)
	assert.Equal(t, "Bearer stale", fake.authHeaders[0])
}

func TestSendEmails(t *testing.T) {
	fake := &fakeGmail{refreshOK: true}
	server := httptest.NewServer(fake.handler(t))
	defer server.Close()

	payload := `{"welcome": {"to": "new@x.io", "subject": "Welcome", "body": "Hello there"}, "metadata": {}}`
	out, err := newAdapter(server).sendEmails(context.Background(), capability.Call{
		Connection: connection(""),
		Inputs:     []any{payload},
	})
	require.NoError(t, err)

	report := out.(email.SendReport)
	assert.Equal(t, 1, report.TotalSent)
	assert.Equal(t, "sent-1", report.SentEmails[0].MessageID)
	require.Len(t, fake.sentRaw, 1)
	assert.Contains(t, fake.sentRaw[0], "Subject: Welcome")
	assert.Contains(t, fake.sentRaw[0], "Hello there")
}

func TestRegistryDispatchesToGmail(t *testing.T) {
	fake := &fakeGmail{refreshOK: true}
	server := httptest.NewServer(fake.handler(t))
	defer server.Close()

	registry := capability.NewRegistry(zerolog.Nop(), newAdapter(server))
	out, err := registry.Invoke(context.Background(), capability.Call{Tool: "Gmail", Action: "fetch_emails", Connection: connection("")})
	require.NoError(t, err)
	assert.Empty(t, out.(email.FetchResult).Emails)

	_, err = registry.Invoke(context.Background(), capability.Call{Tool: "Gmail", Action: "fetch_emails"})
	assert.ErrorIs(t, err, capability.ErrAdapterFailure)
	assert.ErrorIs(t, err, capability.ErrMissingCredentials)
}

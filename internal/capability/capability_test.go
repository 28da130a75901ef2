package capability

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAdapter struct {
	name string
	ops  map[string]Operation
}

func (s stubAdapter) Name() string                     { return s.name }
func (s stubAdapter) Operations() map[string]Operation { return s.ops }

func newStub() stubAdapter {
	return stubAdapter{
		name: "Gmail",
		ops: map[string]Operation{
			"fetch_emails": func(_ context.Context, call Call) (any, error) {
				return map[string]any{"inputs": len(call.Inputs)}, nil
			},
			"send_emails": func(context.Context, Call) (any, error) {
				return nil, errors.New("smtp down")
			},
		},
	}
}

func TestRegistry_UnknownToolYieldsUnsupportedValue(t *testing.T) {
	r := NewRegistry(zerolog.Nop(), newStub())

	out, err := r.Invoke(context.Background(), Call{Tool: "Unknown", Action: "fetch_emails"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"error": "Unsupported tool or action"}, out)
	assert.True(t, IsUnsupported(out))
}

func TestRegistry_UnknownActionYieldsUnsupportedValue(t *testing.T) {
	r := NewRegistry(zerolog.Nop(), newStub())

	out, err := r.Invoke(context.Background(), Call{Tool: "gmail", Action: "delete_emails"})
	require.NoError(t, err)
	assert.True(t, IsUnsupported(out))
}

func TestRegistry_CaseInsensitiveDispatch(t *testing.T) {
	r := NewRegistry(zerolog.Nop(), newStub())

	out, err := r.Invoke(context.Background(), Call{Tool: "GMAIL", Action: "Fetch_Emails", Inputs: []any{1, 2}})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"inputs": 2}, out)
}

func TestRegistry_OperationErrorIsAdapterFailure(t *testing.T) {
	r := NewRegistry(zerolog.Nop(), newStub())

	_, err := r.Invoke(context.Background(), Call{Tool: "Gmail", Action: "send_emails"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAdapterFailure)
	assert.Contains(t, err.Error(), "smtp down")
}

func TestRegistry_Capabilities(t *testing.T) {
	r := NewRegistry(zerolog.Nop(), newStub())

	caps := r.Capabilities()
	require.Len(t, caps, 1)
	assert.Equal(t, "Gmail", caps[0].Tool)
	assert.Equal(t, []string{"fetch_emails", "send_emails"}, caps[0].Actions)
}

func TestDecodeConnection(t *testing.T) {
	type creds struct {
		User string `json:"user"`
	}

	_, err := DecodeConnection[creds](nil)
	assert.ErrorIs(t, err, ErrMissingCredentials)

	c, err := DecodeConnection[creds](json.RawMessage(`{"user":"bob"}`))
	require.NoError(t, err)
	assert.Equal(t, "bob", c.User)
}

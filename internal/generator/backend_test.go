package generator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const completionBody = `{
  "id": "chatcmpl-1",
  "object": "chat.completion",
  "model": "m",
  "choices": [{"index": 0, "message": {"role": "assistant", "content": "int f;"}, "finish_reason": "stop"}],
  "usage": {"prompt_tokens": 12, "completion_tokens": 3, "total_tokens": 15}
}`

func chatServer(t *testing.T, status int, body string, check func(r *http.Request, req chatRequest)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if check != nil {
			check(r, req)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

var testMessages = []Message{{Role: RoleSystem, Content: "sys"}, {Role: RoleUser, Content: "go"}}

func TestHTTP_Complete(t *testing.T) {
	srv := chatServer(t, http.StatusOK, completionBody, func(r *http.Request, req chatRequest) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		assert.Equal(t, "m", req.Model)
		assert.InDelta(t, 0.5, req.Temperature, 1e-6)
		assert.Equal(t, testMessages, req.Messages)
	})

	reply, usage, err := NewHTTP(srv.URL, "k", 5*time.Second).Complete(context.Background(), "m", 0.5, testMessages)
	require.NoError(t, err)
	assert.Equal(t, "int f;", reply)
	assert.Equal(t, Usage{PromptTokens: 12, CompletionTokens: 3}, usage)
}

func TestHTTP_NoKeyNoAuthHeader(t *testing.T) {
	srv := chatServer(t, http.StatusOK, completionBody, func(r *http.Request, _ chatRequest) {
		assert.Empty(t, r.Header.Get("Authorization"))
	})
	_, _, err := NewHTTP(srv.URL, "", time.Second).Complete(context.Background(), "m", 0, testMessages)
	require.NoError(t, err)
}

func TestHTTP_StatusClassification(t *testing.T) {
	tests := []struct {
		status    int
		permanent bool
	}{
		{http.StatusUnauthorized, true},
		{http.StatusBadRequest, true},
		{http.StatusTooManyRequests, false},
		{http.StatusBadGateway, false},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := chatServer(t, tt.status, `{"error":"nope"}`, nil)
			_, _, err := NewHTTP(srv.URL, "", time.Second).Complete(context.Background(), "m", 0, testMessages)
			require.Error(t, err)
			var perm *PermanentError
			assert.Equal(t, tt.permanent, errors.As(err, &perm))
		})
	}
}

func TestHTTP_EmptyChoices(t *testing.T) {
	srv := chatServer(t, http.StatusOK, `{"choices":[]}`, nil)
	_, _, err := NewHTTP(srv.URL, "", time.Second).Complete(context.Background(), "m", 0, testMessages)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no choices")
}

func TestOpenAI_Complete(t *testing.T) {
	srv := chatServer(t, http.StatusOK, completionBody, func(r *http.Request, req chatRequest) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.Equal(t, testMessages, req.Messages)
	})

	reply, usage, err := NewOpenAI("sk-test", srv.URL).Complete(context.Background(), "m", 0.9, testMessages)
	require.NoError(t, err)
	assert.Equal(t, "int f;", reply)
	assert.Equal(t, 15, usage.PromptTokens+usage.CompletionTokens)
}

func TestOpenAI_UnauthorizedIsPermanent(t *testing.T) {
	srv := chatServer(t, http.StatusUnauthorized,
		`{"error":{"message":"bad key","type":"invalid_request_error","code":"invalid_api_key"}}`, nil)

	_, _, err := NewOpenAI("sk-bad", srv.URL).Complete(context.Background(), "m", 0.9, testMessages)
	var perm *PermanentError
	require.ErrorAs(t, err, &perm)
}

func TestClientOverHTTPBackend(t *testing.T) {
	srv := chatServer(t, http.StatusOK, completionBody, nil)
	c := NewClient(NewHTTP(srv.URL, "", time.Second), "m", WithRetryDelay(0))

	progs, err := c.Generate(context.Background(), Prompt{Messages: testMessages, Samples: 3})
	require.NoError(t, err)
	assert.Len(t, progs, 3)
	assert.Equal(t, int64(3), c.Stats().Requests)
}

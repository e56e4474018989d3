package openai_provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LordFoxFairy/deepseek-deepsearch-quickstart/internal/agent/core"
)

func TestDraftSendsChatCompletion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		var req request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "deepseek-chat", req.Model)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.Equal(t, "plan the research", req.Messages[1].Content)
		_, _ = w.Write([]byte(`{"choices": [{"message": {"role": "assistant", "content": "{\"plan\": []}"}, "finish_reason": "stop"}]}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient("key", srv.URL+"/v1/", "deepseek-chat", 0.2, 512, time.Second, 0)
	out, err := c.Draft(context.Background(), core.Prompt{Stage: core.StageOutlinePlanner, System: "You plan.", User: "plan the research"})
	require.NoError(t, err)
	assert.Equal(t, `{"plan": []}`, out)
}

func TestDraftOmitsEmptySystemMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Len(t, req.Messages, 1)
		_, _ = w.Write([]byte(`{"choices": [{"message": {"content": "ok"}}]}`))
	}))
	defer srv.Close()

	out, err := NewOpenAIClient("key", srv.URL, "m", 0, 0, time.Second, 0).Draft(context.Background(), core.Prompt{User: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
}

func TestDraftErrorsAreModelErrors(t *testing.T) {
	for name, handler := range map[string]http.HandlerFunc{
		"status": func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "invalid key", http.StatusUnauthorized)
		},
		"no choices": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"choices": []}`))
		},
	} {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(handler)
			defer srv.Close()
			_, err := NewOpenAIClient("key", srv.URL, "m", 0, 0, time.Second, 0).Draft(context.Background(), core.Prompt{Stage: core.StageWriter, User: "x"})
			require.Error(t, err)
			assert.True(t, core.IsModelError(err))
		})
	}
}

package reasoner

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPClientComplete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.Equal(t, "user", req.Messages[1].Role)
		require.NotNil(t, req.ResponseFormat)
		assert.Equal(t, "json_object", req.ResponseFormat.Type)
		assert.InDelta(t, 0.4, req.Temperature, 0.001)

		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"{\"answer\":42}"}}]}`))
	}))
	defer server.Close()

	c := NewHTTPClient(server.URL, "test-key", "test-model")
	content, err := c.Complete(context.Background(), "be terse", "what is the answer")
	require.NoError(t, err)
	assert.Equal(t, `{"answer":42}`, content)
}

func TestHTTPClientEmptyCompletion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer server.Close()

	c := NewHTTPClient(server.URL, "", "")
	_, err := c.Complete(context.Background(), "s", "u")
	assert.ErrorContains(t, err, "empty completion")
}

func TestHTTPClientAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limited"}}`))
	}))
	defer server.Close()

	c := NewHTTPClient(server.URL, "", "")
	_, err := c.Complete(context.Background(), "s", "u")
	assert.ErrorContains(t, err, "429")
}

func TestCompleteMessagesNoJSONMode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Nil(t, req.ResponseFormat)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"plain text"}}]}`))
	}))
	defer server.Close()

	c := NewHTTPClient(server.URL, "", "")
	content, err := c.CompleteMessages(context.Background(), []Message{{Role: "user", Content: "hi"}}, false)
	require.NoError(t, err)
	assert.Equal(t, "plain text", content)
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		What string `json:"what"`
	}

	t.Run("valid", func(t *testing.T) {
		r := DecodeJSON[payload](`{"what":"ship it"}`)
		v, ok := r.Value()
		require.True(t, ok)
		assert.Equal(t, "ship it", v.What)
	})

	t.Run("fenced", func(t *testing.T) {
		r := DecodeJSON[payload]("```json\n{\"what\":\"fenced\"}\n```")
		v, ok := r.Value()
		require.True(t, ok)
		assert.Equal(t, "fenced", v.What)
	})

	t.Run("invalid falls back", func(t *testing.T) {
		r := DecodeJSON[payload](`not json at all`)
		assert.Error(t, r.Err())
		got := r.OrElse(payload{What: "fallback"})
		assert.Equal(t, "fallback", got.What)
	})
}

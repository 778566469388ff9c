package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sseHandler(t *testing.T, chunks []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req completionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.True(t, req.Stream)
		require.Equal(t, "test-model", req.Model)

		w.Header().Set("Content-Type", "text/event-stream")
		for _, c := range chunks {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", c)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}
}

func TestStreamChatConcatenatesChunks(t *testing.T) {
	srv := httptest.NewServer(sseHandler(t, []string{"Hel", "lo ", "there"}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key", "test-model")

	var got strings.Builder
	err := c.StreamChat(context.Background(), "be brief", []Message{TextMessage(RoleUser, "hi")}, func(chunk string) error {
		got.WriteString(chunk)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello there", got.String())
}

func TestStreamChatSendsSystemFirst(t *testing.T) {
	var wire []wireMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req completionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		wire = req.Messages
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", "test-model")
	err := c.StreamChat(context.Background(), "system prompt", []Message{
		TextMessage(RoleUser, "first"),
		TextMessage(RoleAssistant, "second"),
	}, func(string) error { return nil })
	require.NoError(t, err)

	require.Len(t, wire, 3)
	assert.Equal(t, RoleSystem, wire[0].Role)
	assert.Equal(t, "system prompt", wire[0].Content)
	assert.Equal(t, RoleUser, wire[1].Role)
	assert.Equal(t, RoleAssistant, wire[2].Role)
}

func TestStreamChatEncodesImageParts(t *testing.T) {
	var raw json.RawMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []struct {
				Content json.RawMessage `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Messages, 1)
		raw = req.Messages[0].Content
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", "test-model")
	msg := Message{Role: RoleUser, Parts: []Part{
		{Text: "what is this"},
		{ImageURL: "https://cdn.example.com/cat.png"},
	}}
	require.NoError(t, c.StreamChat(context.Background(), "", []Message{msg}, func(string) error { return nil }))

	var parts []wirePart
	require.NoError(t, json.Unmarshal(raw, &parts))
	require.Len(t, parts, 2)
	assert.Equal(t, "text", parts[0].Type)
	assert.Equal(t, "what is this", parts[0].Text)
	assert.Equal(t, "image_url", parts[1].Type)
	require.NotNil(t, parts[1].ImageURL)
	assert.Equal(t, "https://cdn.example.com/cat.png", parts[1].ImageURL.URL)
}

func TestStreamChatErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", "test-model")
	err := c.StreamChat(context.Background(), "", []Message{TextMessage(RoleUser, "hi")}, func(string) error { return nil })
	require.ErrorIs(t, err, ErrGenerationFailed)
	assert.Contains(t, err.Error(), "503")
}

func TestStreamChatChunkCallbackAborts(t *testing.T) {
	srv := httptest.NewServer(sseHandler(t, []string{"a", "b", "c"}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key", "test-model")
	abort := fmt.Errorf("stop now")
	var seen int
	err := c.StreamChat(context.Background(), "", []Message{TextMessage(RoleUser, "hi")}, func(string) error {
		seen++
		return abort
	})
	require.ErrorIs(t, err, abort)
	assert.Equal(t, 1, seen)
}

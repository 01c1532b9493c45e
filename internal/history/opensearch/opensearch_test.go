package opensearch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/agentdeck/internal/history"
)

func TestOpenSearchSink_Send(t *testing.T) {
	var (
		receivedBody   []byte
		receivedURL    string
		receivedMethod string
		contentType    string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedMethod = r.Method
		receivedURL = r.URL.Path
		contentType = r.Header.Get("Content-Type")
		receivedBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"result":"created"}`))
	}))
	defer server.Close()

	sink := New(server.URL+"/", "agent-history")
	event := history.Event{
		Type:       history.EventStart,
		OccurredAt: time.Now().UTC(),
		AgentID:    "42",
		Handle:     "agent-42",
		PID:        777,
		Status:     "ONLINE",
	}
	require.NoError(t, sink.Send(context.Background(), event))

	assert.Equal(t, http.MethodPost, receivedMethod)
	assert.Equal(t, "/agent-history/_doc", receivedURL)
	assert.Equal(t, "application/json", contentType)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(receivedBody, &doc))
	assert.Equal(t, "start", doc["type"])
	assert.Equal(t, "42", doc["agent_id"])
	assert.Equal(t, "agent-42", doc["handle"])
	assert.EqualValues(t, 777, doc["pid"])
	_, hasErr := doc["error"]
	assert.False(t, hasErr)
}

func TestOpenSearchSink_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	err := New(server.URL, "idx").Send(context.Background(), history.Event{Type: history.EventStop})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

func TestOpenSearchSink_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	assert.Error(t, New(url, "idx").Send(context.Background(), history.Event{Type: history.EventStop}))
}

func TestOpenSearchSink_DailyIndexAndAuth(t *testing.T) {
	var path, user, pass string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		user, pass, _ = r.BasicAuth()
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	sink := Open(Options{BaseURL: server.URL, Index: "audit", Username: "ops", Password: "pw", Daily: true})
	at := time.Date(2025, 1, 31, 23, 0, 0, 0, time.UTC)
	require.NoError(t, sink.Send(context.Background(), history.Event{Type: history.EventStop, OccurredAt: at}))
	assert.Equal(t, "/audit-2025.01.31/_doc", path)
	assert.Equal(t, "ops", user)
	assert.Equal(t, "pw", pass)
}

package opensearch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/loykin/swabra/internal/history"
)

func TestOpenSearchSink_Send(t *testing.T) {
	var receivedBody []byte
	var receivedURL string
	var receivedMethod string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedMethod = r.Method
		receivedURL = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		receivedBody = body

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"_id":"test","_index":"test-index","result":"created"}`))
	}))
	defer server.Close()

	sink := New(server.URL, "test-index")

	event := history.Event{
		Type:       history.EventExpired,
		OccurredAt: time.Now().UTC(),
		Owner:      "Project_Build",
		Cause:      "Project_Gone",
		Reason:     history.ReasonUnknownCause,
	}
	if err := sink.Send(context.Background(), event); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if receivedMethod != "POST" {
		t.Errorf("Expected POST method, got: %s", receivedMethod)
	}
	if expectedPath := "/test-index/_doc"; receivedURL != expectedPath {
		t.Errorf("Expected URL path %s, got: %s", expectedPath, receivedURL)
	}

	var receivedEvent map[string]interface{}
	if err := json.Unmarshal(receivedBody, &receivedEvent); err != nil {
		t.Fatalf("Failed to parse received JSON: %v", err)
	}
	if receivedEvent["type"] != string(history.EventExpired) {
		t.Errorf("Expected type %s, got: %v", history.EventExpired, receivedEvent["type"])
	}
	if receivedEvent["owner"] != event.Owner || receivedEvent["cause"] != event.Cause {
		t.Errorf("Unexpected owner/cause in %v", receivedEvent)
	}
	if receivedEvent["reason"] != history.ReasonUnknownCause {
		t.Errorf("Expected reason %s, got: %v", history.ReasonUnknownCause, receivedEvent["reason"])
	}
}

func TestOpenSearchSink_SendError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"bad request"}`))
	}))
	defer server.Close()

	sink := New(server.URL, "test-index")
	event := history.Event{Type: history.EventRecorded, OccurredAt: time.Now().UTC(), Owner: "a", Cause: "b"}

	err := sink.Send(context.Background(), event)
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if !strings.Contains(err.Error(), "opensearch sink status 400") {
		t.Errorf("Expected status error message, got: %v", err)
	}
}

func TestOpenSearchSink_TrailingSlash(t *testing.T) {
	var receivedURL string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedURL = r.URL.String()
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	sink := New(server.URL+"/", "events")
	if err := sink.Send(context.Background(), history.Event{Type: history.EventRecorded, OccurredAt: time.Now()}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if receivedURL != "/events/_doc" {
		t.Errorf("Expected URL path /events/_doc, got: %s", receivedURL)
	}
}

package nats

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/saviobatista/ogn-feed/internal/ogn"
	"github.com/saviobatista/ogn-feed/internal/testutils"
	"github.com/saviobatista/ogn-feed/internal/types"
)

type mockPublisher struct {
	subjects []string
	payloads [][]byte
	err      error
}

func (m *mockPublisher) Publish(subj string, data []byte) error {
	if m.err != nil {
		return m.err
	}
	m.subjects = append(m.subjects, subj)
	m.payloads = append(m.payloads, data)
	return nil
}

func TestNew_Unit_URLs(t *testing.T) {
	tests := []struct {
		name string
		url  string
	}{
		{name: "invalid scheme should fail", url: "invalid://url:12345"},
		{name: "closed port should fail", url: "nats://127.0.0.1:1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := New(tt.url)
			if err == nil {
				client.Close()
				t.Fatal("Expected error, got none")
			}
			if client != nil {
				t.Error("Expected nil client on error")
			}
			if !strings.Contains(err.Error(), "failed to connect to NATS") {
				t.Errorf("Unexpected error: %v", err)
			}
		})
	}
}

func TestClient_Close_Unit_NilSafety(t *testing.T) {
	client := &Client{conn: nil}
	client.Close()
	if err := client.Flush(); err != nil {
		t.Errorf("Flush on nil connection should be a no-op, got %v", err)
	}
}

func TestSubject(t *testing.T) {
	tests := []struct {
		kind types.EventKind
		want string
	}{
		{types.KindDisplayLine, "ogn.events.display_line"},
		{types.KindServerComment, "ogn.events.server_comment"},
		{types.KindParseError, "ogn.events.parse_error"},
		{types.KindUnknownData, "ogn.events.unknown_data"},
	}

	for _, tt := range tests {
		if got := Subject(tt.kind); got != tt.want {
			t.Errorf("Subject(%s) = %s, want %s", tt.kind, got, tt.want)
		}
	}
	if SubjectAll != "ogn.events.*" {
		t.Errorf("Unexpected SubjectAll %s", SubjectAll)
	}
}

func TestClient_PublishEvent_Unit(t *testing.T) {
	mock := &mockPublisher{}
	client := &Client{pub: mock}

	event := testutils.MockDisplayEvent("123456", ogn.Paraglider)
	if err := client.PublishEvent(event); err != nil {
		t.Fatalf("PublishEvent() failed: %v", err)
	}
	if err := client.PublishEvent(types.ServerComment("#keepalive")); err != nil {
		t.Fatalf("PublishEvent() failed: %v", err)
	}

	if len(mock.subjects) != 2 {
		t.Fatalf("Expected 2 publishes, got %d", len(mock.subjects))
	}
	if mock.subjects[0] != "ogn.events.display_line" || mock.subjects[1] != "ogn.events.server_comment" {
		t.Errorf("Unexpected subjects %v", mock.subjects)
	}

	var decoded types.Event
	if err := json.Unmarshal(mock.payloads[0], &decoded); err != nil {
		t.Fatalf("Payload is not JSON: %v", err)
	}
	if decoded.Display == nil || decoded.Display.Address != "123456" {
		t.Errorf("Unexpected payload %s", mock.payloads[0])
	}
}

func TestClient_PublishEvent_Unit_Error(t *testing.T) {
	client := &Client{pub: &mockPublisher{err: errors.New("nats: connection closed")}}

	err := client.PublishEvent(types.UnknownData("x"))
	if err == nil {
		t.Fatal("Expected error")
	}
	if !strings.Contains(err.Error(), "failed to publish event") || !strings.Contains(err.Error(), "connection closed") {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestClient_SubscribeEvents_Unit_NotConnected(t *testing.T) {
	client := &Client{}
	if _, err := client.SubscribeEvents(SubjectAll, func(*types.Event) {}); err == nil {
		t.Error("Expected error without a connection")
	}
}

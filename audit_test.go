package goSession

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/MrEthical07/goSession/session"
)

type captureSink struct {
	events chan AuditEvent
}

func newCaptureSink(buffer int) *captureSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &captureSink{
		events: make(chan AuditEvent, buffer),
	}
}

func (s *captureSink) Emit(ctx context.Context, event AuditEvent) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *captureSink) next(t *testing.T) AuditEvent {
	t.Helper()
	select {
	case ev := <-s.events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for audit event")
	}
	return AuditEvent{}
}

func auditConfig(baseURL string) Config {
	cfg := testConfig(baseURL)
	cfg.Audit.Enabled = true
	cfg.Audit.BufferSize = 64
	return cfg
}

func TestAuditLoginEvents(t *testing.T) {
	api := newFakeAPI(t, time.Hour)
	sink := newCaptureSink(16)
	c := mustBuild(t, New().WithConfig(auditConfig(api.URL())).WithAuditSink(sink))
	ctx := WithRequestID(context.Background(), "req-42")

	_, _ = c.Login(ctx, session.Credentials{Username: "mallory", Password: "x"})
	ev := sink.next(t)
	if ev.EventType != AuditLoginFailure || ev.Success || ev.Username != "mallory" {
		t.Fatalf("unexpected failure event %+v", ev)
	}
	if ev.Error != "invalid credentials" {
		t.Fatalf("unexpected error kind %q", ev.Error)
	}
	if ev.Metadata["request_id"] != "req-42" {
		t.Fatalf("request id not propagated: %+v", ev.Metadata)
	}

	if _, err := c.Login(ctx, alice); err != nil {
		t.Fatalf("login failed: %v", err)
	}
	ev = sink.next(t)
	if ev.EventType != AuditLoginSuccess || !ev.Success || ev.UserID != "7" || ev.Role != "user" {
		t.Fatalf("unexpected success event %+v", ev)
	}
	if ev.EventID == "" || ev.Timestamp.IsZero() {
		t.Fatalf("event not stamped: %+v", ev)
	}
}

func TestAuditRefreshAndExpiry(t *testing.T) {
	api := newFakeAPI(t, time.Hour)
	sink := newCaptureSink(16)
	c := mustBuild(t, New().WithConfig(auditConfig(api.URL())).WithAuditSink(sink))
	ctx := context.Background()

	if _, err := c.Login(ctx, alice); err != nil {
		t.Fatalf("login failed: %v", err)
	}
	_ = sink.next(t)

	if _, err := c.Refresh(ctx); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if ev := sink.next(t); ev.EventType != AuditRefreshSuccess || ev.Username != "alice" {
		t.Fatalf("unexpected refresh event %+v", ev)
	}

	api.failRefresh.Store(true)
	if _, err := c.Refresh(ctx); err == nil {
		t.Fatal("expected refresh failure")
	}
	if ev := sink.next(t); ev.EventType != AuditRefreshFailure || ev.Success {
		t.Fatalf("unexpected refresh failure event %+v", ev)
	}
	if ev := sink.next(t); ev.EventType != AuditSessionExpired || ev.Metadata["cause"] == "" {
		t.Fatalf("unexpected expiry event %+v", ev)
	}
}

func TestAuditDisabledEmitsNothing(t *testing.T) {
	api := newFakeAPI(t, time.Hour)
	sink := newCaptureSink(4)
	c := mustBuild(t, New().WithConfig(testConfig(api.URL())).WithAuditSink(sink))

	if _, err := c.Login(context.Background(), alice); err != nil {
		t.Fatalf("login failed: %v", err)
	}
	select {
	case ev := <-sink.events:
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
	if c.AuditDropped() != 0 {
		t.Fatalf("unexpected drops %d", c.AuditDropped())
	}
}

func TestJSONWriterSinkNeverWritesTokens(t *testing.T) {
	api := newFakeAPI(t, time.Hour)
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)
	c, err := New().WithConfig(auditConfig(api.URL())).WithAuditSink(sink).Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	if _, err := c.Login(context.Background(), alice); err != nil {
		t.Fatalf("login failed: %v", err)
	}
	c.Close()

	line := strings.TrimSpace(buf.String())
	var ev AuditEvent
	if err := json.Unmarshal([]byte(line), &ev); err != nil {
		t.Fatalf("decode %q: %v", line, err)
	}
	if ev.EventType != AuditLoginSuccess {
		t.Fatalf("unexpected event %+v", ev)
	}
	if strings.Contains(line, "R1") || strings.Contains(line, "access_token") {
		t.Fatalf("token leaked into audit log: %s", line)
	}
}

package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) Store {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// ─── Audit events ─────────────────────────────────────────────────────────────

func TestAuditEventAppendAndQuery(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now().Round(time.Second)

	events := []*AuditRecord{
		{CorrelationID: "req-1", EventType: "analysis.requested", Description: "requested", Resource: "Fed raises rates", Action: "analyze", Result: "pending", Timestamp: now},
		{CorrelationID: "req-1", EventType: "analysis.completed", Description: "completed", Resource: "Fed raises rates", Action: "analyze", Result: "success", DurationMs: 1200, Metadata: `{"steps":3}`, Timestamp: now.Add(time.Second)},
		{CorrelationID: "req-2", EventType: "ratelimit.denied", Description: "blocked", SourceIP: "10.0.0.7", Result: "denied", Timestamp: now.Add(2 * time.Second)},
	}

	for _, e := range events {
		if err := s.AppendAuditEvent(ctx, e); err != nil {
			t.Fatalf("AppendAuditEvent: %v", err)
		}
		if e.ID == 0 {
			t.Errorf("expected ID to be assigned for %s", e.EventType)
		}
	}

	// Query all, newest first
	all, err := s.QueryAuditEvents(ctx, AuditQuery{Limit: 10})
	if err != nil {
		t.Fatalf("QueryAuditEvents: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 events, got %d", len(all))
	}
	if all[0].EventType != "ratelimit.denied" {
		t.Errorf("expected newest event first, got %s", all[0].EventType)
	}
	if all[0].SourceIP != "10.0.0.7" {
		t.Errorf("expected source ip to round-trip, got %q", all[0].SourceIP)
	}
	if all[1].DurationMs != 1200 || all[1].Metadata != `{"steps":3}` {
		t.Errorf("unexpected completed record: %+v", all[1])
	}
	if all[2].Metadata != "{}" {
		t.Errorf("expected default metadata {}, got %q", all[2].Metadata)
	}
	if !all[2].Timestamp.Equal(now) {
		t.Errorf("expected timestamp %v, got %v", now, all[2].Timestamp)
	}

	// Query by correlation id
	byCorrelation, err := s.QueryAuditEvents(ctx, AuditQuery{CorrelationID: "req-1", Limit: 10})
	if err != nil {
		t.Fatalf("QueryAuditEvents by correlation: %v", err)
	}
	if len(byCorrelation) != 2 {
		t.Errorf("expected 2 events for req-1, got %d", len(byCorrelation))
	}

	// Query by type and result
	byType, err := s.QueryAuditEvents(ctx, AuditQuery{EventType: "analysis.completed", Result: "success"})
	if err != nil {
		t.Fatalf("QueryAuditEvents by type: %v", err)
	}
	if len(byType) != 1 {
		t.Errorf("expected 1 completed event, got %d", len(byType))
	}

	// Query by time range
	byTime, err := s.QueryAuditEvents(ctx, AuditQuery{
		From:  now,
		To:    now.Add(time.Second),
		Limit: 10,
	})
	if err != nil {
		t.Fatalf("QueryAuditEvents by time: %v", err)
	}
	if len(byTime) != 2 {
		t.Errorf("expected 2 events in time range, got %d", len(byTime))
	}

	// Pagination
	page, err := s.QueryAuditEvents(ctx, AuditQuery{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("QueryAuditEvents page: %v", err)
	}
	if len(page) != 1 || page[0].EventType != "analysis.completed" {
		t.Errorf("unexpected page: %+v", page)
	}
}

func TestAuditEventZeroTimestamp(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	before := time.Now().Add(-time.Second)
	if err := s.AppendAuditEvent(ctx, &AuditRecord{EventType: "system.server_started"}); err != nil {
		t.Fatalf("AppendAuditEvent: %v", err)
	}

	got, err := s.QueryAuditEvents(ctx, AuditQuery{})
	if err != nil {
		t.Fatalf("QueryAuditEvents: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 event, got %d", len(got))
	}
	if got[0].Timestamp.Before(before) {
		t.Errorf("expected timestamp to default to now, got %v", got[0].Timestamp)
	}
}

// ─── Persistence health ───────────────────────────────────────────────────────

func TestPing(t *testing.T) {
	s := newTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestIdempotentMigration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")

	s, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	if err := s.AppendAuditEvent(context.Background(), &AuditRecord{EventType: "system.server_started"}); err != nil {
		t.Fatalf("AppendAuditEvent: %v", err)
	}
	_ = s.Close()

	// Reopening must skip applied migrations and keep data
	s, err = NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	defer s.Close()

	got, err := s.QueryAuditEvents(context.Background(), AuditQuery{})
	if err != nil {
		t.Fatalf("QueryAuditEvents: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("expected 1 persisted event, got %d", len(got))
	}
}

func TestParseTime(t *testing.T) {
	cases := []string{
		"2025-03-14T09:30:00.000000000Z",
		"2025-03-14T09:30:00Z",
		"2025-03-14 09:30:00",
	}
	want := time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)
	for _, c := range cases {
		got, err := parseTime(c)
		if err != nil {
			t.Errorf("parseTime(%q): %v", c, err)
			continue
		}
		if !got.Equal(want) {
			t.Errorf("parseTime(%q) = %v, want %v", c, got, want)
		}
	}
	if _, err := parseTime("yesterday"); err == nil {
		t.Error("expected error for unparseable time")
	}
}

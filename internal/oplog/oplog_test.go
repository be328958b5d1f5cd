package oplog

import (
	"encoding/json"
	"fmt"
	"testing"
)

func TestAppendAndSnapshot(t *testing.T) {
	l := New(10)
	l.Info("send-message", "message sent", map[string]string{"number": "5511987654321"})
	l.Error("configuration", "api key missing", nil)

	entries := l.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Kind != KindInfo || entries[0].Op != "send-message" {
		t.Fatalf("unexpected first entry: %+v", entries[0])
	}
	if entries[1].Kind != KindError || entries[1].Detail != nil {
		t.Fatalf("unexpected second entry: %+v", entries[1])
	}

	var detail map[string]string
	if err := json.Unmarshal(entries[0].Detail, &detail); err != nil {
		t.Fatalf("detail not valid JSON: %v", err)
	}
	if detail["number"] != "5511987654321" {
		t.Fatalf("unexpected detail: %v", detail)
	}
}

func TestCapDropsOldest(t *testing.T) {
	l := New(3)
	for i := 0; i < 5; i++ {
		l.Info("send-message", fmt.Sprintf("msg %d", i), nil)
	}
	entries := l.Entries()
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].Message != "msg 2" || entries[2].Message != "msg 4" {
		t.Fatalf("expected oldest dropped, got %q..%q", entries[0].Message, entries[2].Message)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	l := New(10)
	l.Info("api-request", "one", nil)
	first := l.Entries()
	l.Info("api-request", "two", nil)
	if len(first) != 1 {
		t.Fatalf("snapshot mutated after append: %d entries", len(first))
	}
}

func TestClear(t *testing.T) {
	l := New(10)
	l.Info("send-message", "one", nil)
	l.Clear()
	if l.Len() != 0 {
		t.Fatalf("expected empty log after Clear, got %d", l.Len())
	}
}

func TestUnmarshalableDetailDegradesToString(t *testing.T) {
	l := New(10)
	l.Error("api-request", "bad payload", make(chan int))
	entries := l.Entries()
	if len(entries) != 1 {
		t.Fatalf("entry dropped")
	}
	var s string
	if err := json.Unmarshal(entries[0].Detail, &s); err != nil {
		t.Fatalf("expected quoted string detail, got %s", entries[0].Detail)
	}
}

package store

import (
	"strings"
	"testing"
)

func TestTicketListQueryWithPredicate(t *testing.T) {
	q, args := ticketListQuery("pending")
	if !strings.Contains(q, "WHERE status = $1") {
		t.Errorf("expected status predicate in query, got %q", q)
	}
	if len(args) != 1 || args[0] != "pending" {
		t.Errorf("expected single arg \"pending\", got %v", args)
	}
}

func TestTicketListQueryWithoutPredicate(t *testing.T) {
	q, args := ticketListQuery("")
	if strings.Contains(q, "WHERE") {
		t.Errorf("empty predicate must not add a WHERE clause, got %q", q)
	}
	if len(args) != 0 {
		t.Errorf("empty predicate must bind no args, got %v", args)
	}
	if !strings.Contains(q, "ORDER BY created_at DESC") {
		t.Errorf("missing ordering clause: %q", q)
	}
}

func TestProjectListQuery(t *testing.T) {
	q, args := projectListQuery("on-hold")
	if !strings.Contains(q, "WHERE status = $1") || len(args) != 1 {
		t.Errorf("expected project status predicate, got %q %v", q, args)
	}
	q, args = projectListQuery("")
	if strings.Contains(q, "WHERE") || len(args) != 0 {
		t.Errorf("empty predicate leaked into project query: %q %v", q, args)
	}
}

func TestEncodeDecodeStrings(t *testing.T) {
	if got := string(encodeStrings(nil)); got != "[]" {
		t.Errorf("nil slice should encode as empty array, got %q", got)
	}
	got := decodeStrings([]byte(`["billing","vip"]`))
	if len(got) != 2 || got[0] != "billing" || got[1] != "vip" {
		t.Errorf("decode mismatch: %v", got)
	}
	if got := decodeStrings(nil); got == nil || len(got) != 0 {
		t.Errorf("nil bytes should decode to empty slice, got %v", got)
	}
}

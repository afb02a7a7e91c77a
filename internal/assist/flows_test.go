package assist

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/genai"
)

// fakeGenerator returns canned output and records the last prompt.
type fakeGenerator struct {
	output     string
	err        error
	lastPrompt string
}

func (f *fakeGenerator) Generate(ctx context.Context, prompt string, schema *genai.Schema) (string, error) {
	f.lastPrompt = prompt
	if f.err != nil {
		return "", f.err
	}
	return f.output, nil
}

func TestSuggestTags(t *testing.T) {
	gen := &fakeGenerator{output: `{"tags": ["Billing", " refund ", ""]}`}
	svc := NewService(gen)

	tags, err := svc.SuggestTags(context.Background(), "Refund request", "I want my money back")
	if err != nil {
		t.Fatalf("SuggestTags() error = %v", err)
	}
	if len(tags) != 2 || tags[0] != "billing" || tags[1] != "refund" {
		t.Fatalf("unexpected tags: %v", tags)
	}
	if gen.lastPrompt == "" {
		t.Fatal("expected prompt to reach the generator")
	}
}

func TestSuggestTagsEmptyOutput(t *testing.T) {
	svc := NewService(&fakeGenerator{output: `{"tags": []}`})
	if _, err := svc.SuggestTags(context.Background(), "x", "y"); !errors.Is(err, ErrFailed) {
		t.Fatalf("expected ErrFailed, got %v", err)
	}
}

func TestSmartReplies(t *testing.T) {
	gen := &fakeGenerator{output: `{"replies": ["Thanks for reaching out.", "We are on it."]}`}
	svc := NewService(gen)

	replies, err := svc.SmartReplies(context.Background(), "Login broken", "Cannot sign in", []string{"Customer: still broken"})
	if err != nil {
		t.Fatalf("SmartReplies() error = %v", err)
	}
	if len(replies) != 2 {
		t.Fatalf("unexpected replies: %v", replies)
	}
}

func TestAdminNotification(t *testing.T) {
	gen := &fakeGenerator{output: `{"message": "A new urgent ticket arrived from Acme Corp."}`}
	svc := NewService(gen)

	msg, err := svc.AdminNotification(context.Background(), "new ticket: Acme Corp, urgent")
	if err != nil {
		t.Fatalf("AdminNotification() error = %v", err)
	}
	if msg != "A new urgent ticket arrived from Acme Corp." {
		t.Fatalf("unexpected message: %q", msg)
	}
}

func TestSummarizeReports(t *testing.T) {
	gen := &fakeGenerator{output: `{"summary": "Ticket volume rose this month."}`}
	svc := NewService(gen)

	summary, err := svc.SummarizeReports(context.Background(), ReportStats{
		TicketsByStatus: map[string]int{"new": 4, "closed": 10},
	})
	if err != nil {
		t.Fatalf("SummarizeReports() error = %v", err)
	}
	if summary == "" {
		t.Fatal("expected non-empty summary")
	}
}

func TestTicketFromEmail(t *testing.T) {
	gen := &fakeGenerator{output: `{
		"title": "Server down",
		"description": "Production server is unreachable.",
		"customerName": "Jo",
		"customerEmail": "jo@example.com",
		"priority": "URGENT"
	}`}
	svc := NewService(gen)

	draft, err := svc.TicketFromEmail(context.Background(), "help, everything is down!!!")
	if err != nil {
		t.Fatalf("TicketFromEmail() error = %v", err)
	}
	if draft.Title != "Server down" || draft.Priority != "urgent" {
		t.Fatalf("unexpected draft: %+v", draft)
	}
}

func TestTicketFromEmailDefaultsInvalidPriority(t *testing.T) {
	gen := &fakeGenerator{output: `{"title": "Hi", "description": "x", "priority": "apocalyptic"}`}
	svc := NewService(gen)

	draft, err := svc.TicketFromEmail(context.Background(), "hello")
	if err != nil {
		t.Fatalf("TicketFromEmail() error = %v", err)
	}
	if draft.Priority != "medium" {
		t.Fatalf("invalid priority should default to medium, got %q", draft.Priority)
	}
}

func TestUnparsableOutput(t *testing.T) {
	svc := NewService(&fakeGenerator{output: `not json at all`})
	if _, err := svc.AdminNotification(context.Background(), "event"); !errors.Is(err, ErrFailed) {
		t.Fatalf("expected ErrFailed for unparsable output, got %v", err)
	}
}

func TestNilGenerator(t *testing.T) {
	svc := NewService(nil)
	if _, err := svc.SuggestTags(context.Background(), "a", "b"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

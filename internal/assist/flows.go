package assist

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"experted/api/internal/status"
	"google.golang.org/genai"
)

// Service exposes the app's generative flows over a Generator.
type Service struct {
	gen Generator
}

// NewService creates the assist service. gen may be nil when no backend
// is configured; every flow then returns ErrUnavailable.
func NewService(gen Generator) *Service {
	return &Service{gen: gen}
}

func (s *Service) generate(ctx context.Context, prompt string, schema *genai.Schema, out any) error {
	if s.gen == nil {
		return ErrUnavailable
	}
	raw, err := s.gen.Generate(ctx, prompt, schema)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("%w: unparsable output: %v", ErrFailed, err)
	}
	return nil
}

// SuggestTags proposes short categorization tags for a ticket.
func (s *Service) SuggestTags(ctx context.Context, title, description string) ([]string, error) {
	prompt := fmt.Sprintf(`You are a helpdesk triage assistant. Suggest between 3 and 5 short,
lowercase tags that categorize this support ticket.

Title: %s
Description: %s`, title, description)

	schema := &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"tags": {
				Type:  genai.TypeArray,
				Items: &genai.Schema{Type: genai.TypeString},
			},
		},
		Required: []string{"tags"},
	}

	var out struct {
		Tags []string `json:"tags"`
	}
	if err := s.generate(ctx, prompt, schema, &out); err != nil {
		return nil, err
	}

	tags := make([]string, 0, len(out.Tags))
	for _, tag := range out.Tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag != "" {
			tags = append(tags, tag)
		}
	}
	if len(tags) == 0 {
		return nil, fmt.Errorf("%w: no tags produced", ErrFailed)
	}
	return tags, nil
}

// SmartReplies drafts candidate agent responses for a ticket thread.
func (s *Service) SmartReplies(ctx context.Context, title, description string, replies []string) ([]string, error) {
	var thread strings.Builder
	for _, r := range replies {
		fmt.Fprintf(&thread, "- %s\n", r)
	}

	prompt := fmt.Sprintf(`You are a support agent assistant. Draft 3 distinct, professional
reply suggestions for the next agent response on this ticket. Keep each
reply under 80 words.

Title: %s
Description: %s
Conversation so far:
%s`, title, description, thread.String())

	schema := &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"replies": {
				Type:  genai.TypeArray,
				Items: &genai.Schema{Type: genai.TypeString},
			},
		},
		Required: []string{"replies"},
	}

	var out struct {
		Replies []string `json:"replies"`
	}
	if err := s.generate(ctx, prompt, schema, &out); err != nil {
		return nil, err
	}
	if len(out.Replies) == 0 {
		return nil, fmt.Errorf("%w: no replies produced", ErrFailed)
	}
	return out.Replies, nil
}

// AdminNotification writes the one-sentence admin-facing message for a
// workspace event.
func (s *Service) AdminNotification(ctx context.Context, event string) (string, error) {
	prompt := fmt.Sprintf(`You write one-sentence notification messages for a helpdesk
administrator. Given the event below, produce a single clear sentence
describing what happened. No greetings, no sign-off.

Event: %s`, event)

	schema := &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"message": {Type: genai.TypeString},
		},
		Required: []string{"message"},
	}

	var out struct {
		Message string `json:"message"`
	}
	if err := s.generate(ctx, prompt, schema, &out); err != nil {
		return "", err
	}
	msg := strings.TrimSpace(out.Message)
	if msg == "" {
		return "", fmt.Errorf("%w: empty message", ErrFailed)
	}
	return msg, nil
}

// ReportStats is the aggregate input to SummarizeReports.
type ReportStats struct {
	TicketsByStatus    map[string]int `json:"ticketsByStatus"`
	ProjectsByStatus   map[string]int `json:"projectsByStatus"`
	MonthlyVolume      map[string]int `json:"monthlyVolume"`
	AvgResolutionHours float64        `json:"avgResolutionHours"`
}

// SummarizeReports produces a short narrative summary of workspace metrics.
func (s *Service) SummarizeReports(ctx context.Context, stats ReportStats) (string, error) {
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return "", fmt.Errorf("marshal stats: %w", err)
	}

	prompt := fmt.Sprintf(`You are an analyst for a helpdesk. Write a concise summary (3-5
sentences) of the metrics below. Call out notable trends and the overall
workload picture. Plain prose, no bullet points.

Metrics: %s`, statsJSON)

	schema := &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"summary": {Type: genai.TypeString},
		},
		Required: []string{"summary"},
	}

	var out struct {
		Summary string `json:"summary"`
	}
	if err := s.generate(ctx, prompt, schema, &out); err != nil {
		return "", err
	}
	summary := strings.TrimSpace(out.Summary)
	if summary == "" {
		return "", fmt.Errorf("%w: empty summary", ErrFailed)
	}
	return summary, nil
}

// TicketDraft is the structured output of TicketFromEmail.
type TicketDraft struct {
	Title         string `json:"title"`
	Description   string `json:"description"`
	CustomerName  string `json:"customerName"`
	CustomerEmail string `json:"customerEmail"`
	Priority      string `json:"priority"`
}

// TicketFromEmail extracts a ticket draft from a raw customer email.
// Invalid or missing model output falls back to field defaults rather
// than failing the whole flow.
func (s *Service) TicketFromEmail(ctx context.Context, emailBody string) (TicketDraft, error) {
	prompt := fmt.Sprintf(`You are a helpdesk intake assistant. Extract a support ticket from
this customer email. Derive a short title, a cleaned-up description, the
customer's name and email if present, and a priority of low, medium,
high, or urgent based on tone and content.

Email:
%s`, emailBody)

	schema := &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"title":         {Type: genai.TypeString},
			"description":   {Type: genai.TypeString},
			"customerName":  {Type: genai.TypeString},
			"customerEmail": {Type: genai.TypeString},
			"priority":      {Type: genai.TypeString},
		},
		Required: []string{"title", "description"},
	}

	var draft TicketDraft
	if err := s.generate(ctx, prompt, schema, &draft); err != nil {
		return TicketDraft{}, err
	}

	draft.Title = strings.TrimSpace(draft.Title)
	if draft.Title == "" {
		return TicketDraft{}, fmt.Errorf("%w: no title produced", ErrFailed)
	}
	draft.Priority = strings.ToLower(strings.TrimSpace(draft.Priority))
	if !status.ValidPriority(draft.Priority) {
		draft.Priority = "medium"
	}
	return draft, nil
}

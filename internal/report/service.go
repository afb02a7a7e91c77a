// Package report computes dashboard and reporting aggregates.
package report

import (
	"context"
	"fmt"
	"time"

	"experted/api/internal/status"
	"experted/api/internal/store"
)

// dataStore is the slice of storage the report service reads from.
type dataStore interface {
	TicketStatusCounts(ctx context.Context) ([]store.StatusCount, error)
	ProjectStatusCounts(ctx context.Context) ([]store.StatusCount, error)
	TicketMonthlyCounts(ctx context.Context, months int) ([]store.MonthCount, error)
	AvgResolutionHours(ctx context.Context) (float64, error)
	CountTicketsCreatedSince(ctx context.Context, since time.Time) (int, error)
	ListRecentTickets(ctx context.Context, limit int) ([]store.Ticket, error)
	UnreadNotificationCount(ctx context.Context, userID string) (int, error)
}

// Service computes aggregates over the ticket and project tables.
type Service struct {
	store dataStore
}

func NewService(store dataStore) *Service {
	return &Service{store: store}
}

// Dashboard is the at-a-glance view for the home screen.
type Dashboard struct {
	TotalTickets        int            `json:"totalTickets"`
	OpenTickets         int            `json:"openTickets"`
	TicketsToday        int            `json:"ticketsToday"`
	ActiveProjects      int            `json:"activeProjects"`
	UnreadNotifications int            `json:"unreadNotifications"`
	RecentTickets       []store.Ticket `json:"recentTickets"`
}

// Report is the full aggregate payload for the reports screen.
type Report struct {
	TicketsByStatus    map[string]int     `json:"ticketsByStatus"`
	ProjectsByStatus   map[string]int     `json:"projectsByStatus"`
	MonthlyVolume      []store.MonthCount `json:"monthlyVolume"`
	AvgResolutionHours float64            `json:"avgResolutionHours"`
	GeneratedAt        time.Time          `json:"generatedAt"`
}

// Dashboard builds the home-screen counters for a user.
func (s *Service) Dashboard(ctx context.Context, userID string) (Dashboard, error) {
	ticketCounts, err := s.store.TicketStatusCounts(ctx)
	if err != nil {
		return Dashboard{}, fmt.Errorf("ticket counts: %w", err)
	}

	total := 0
	open := 0
	for _, c := range ticketCounts {
		total += c.Count
		if status.TicketOpen(c.Status) {
			open += c.Count
		}
	}

	startOfDay := time.Now().Truncate(24 * time.Hour)
	today, err := s.store.CountTicketsCreatedSince(ctx, startOfDay)
	if err != nil {
		return Dashboard{}, fmt.Errorf("tickets today: %w", err)
	}

	projectCounts, err := s.store.ProjectStatusCounts(ctx)
	if err != nil {
		return Dashboard{}, fmt.Errorf("project counts: %w", err)
	}
	active := 0
	for _, c := range projectCounts {
		if c.Status == "active" {
			active += c.Count
		}
	}

	unread, err := s.store.UnreadNotificationCount(ctx, userID)
	if err != nil {
		return Dashboard{}, fmt.Errorf("unread count: %w", err)
	}

	recent, err := s.store.ListRecentTickets(ctx, 5)
	if err != nil {
		return Dashboard{}, fmt.Errorf("recent tickets: %w", err)
	}

	return Dashboard{
		TotalTickets:        total,
		OpenTickets:         open,
		TicketsToday:        today,
		ActiveProjects:      active,
		UnreadNotifications: unread,
		RecentTickets:       recent,
	}, nil
}

// Build computes the full report over the last twelve months.
func (s *Service) Build(ctx context.Context) (Report, error) {
	ticketCounts, err := s.store.TicketStatusCounts(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("ticket counts: %w", err)
	}
	projectCounts, err := s.store.ProjectStatusCounts(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("project counts: %w", err)
	}
	monthly, err := s.store.TicketMonthlyCounts(ctx, 12)
	if err != nil {
		return Report{}, fmt.Errorf("monthly counts: %w", err)
	}
	avgHours, err := s.store.AvgResolutionHours(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("avg resolution: %w", err)
	}

	return Report{
		TicketsByStatus:    countsToMap(ticketCounts),
		ProjectsByStatus:   countsToMap(projectCounts),
		MonthlyVolume:      monthly,
		AvgResolutionHours: avgHours,
		GeneratedAt:        time.Now(),
	}, nil
}

func countsToMap(counts []store.StatusCount) map[string]int {
	m := make(map[string]int, len(counts))
	for _, c := range counts {
		m[c.Status] = c.Count
	}
	return m
}

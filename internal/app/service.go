package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"experted/api/internal/assist"
	"experted/api/internal/auth"
	"experted/api/internal/authpw"
	"experted/api/internal/config"
	"experted/api/internal/export"
	"experted/api/internal/media"
	"experted/api/internal/notify"
	"experted/api/internal/rbac"
	"experted/api/internal/report"
	"experted/api/internal/search"
	"experted/api/internal/status"
	"experted/api/internal/store"
	"experted/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Email        string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

type CreateTicketInput struct {
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	CustomerName  string   `json:"customerName"`
	CustomerEmail string   `json:"customerEmail"`
	Status        string   `json:"status"`
	Priority      string   `json:"priority"`
	Channel       string   `json:"channel"`
	Tags          []string `json:"tags"`
	AssignedTo    string   `json:"assignedTo"`
}

// UpdateTicketInput carries a partial update. Nil fields are left
// unchanged.
type UpdateTicketInput struct {
	Title         *string   `json:"title"`
	Description   *string   `json:"description"`
	CustomerName  *string   `json:"customerName"`
	CustomerEmail *string   `json:"customerEmail"`
	Status        *string   `json:"status"`
	Priority      *string   `json:"priority"`
	Channel       *string   `json:"channel"`
	Tags          *[]string `json:"tags"`
	AssignedTo    *string   `json:"assignedTo"`
}

type ReplyInput struct {
	Content string `json:"content"`
}

type CreateProjectInput struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Status      string   `json:"status"`
	Deadline    string   `json:"deadline"` // RFC 3339 or YYYY-MM-DD, empty = none
	TeamMembers []string `json:"teamMembers"`
}

// UpdateProjectInput carries a partial update. Nil fields are left
// unchanged. A provided empty Deadline clears the deadline.
type UpdateProjectInput struct {
	Name        *string   `json:"name"`
	Description *string   `json:"description"`
	Status      *string   `json:"status"`
	Deadline    *string   `json:"deadline"`
	TeamMembers *[]string `json:"teamMembers"`
}

// UpdateSettingsInput carries a partial settings update.
type UpdateSettingsInput struct {
	DisplayName *string            `json:"displayName"`
	Preferences *store.Preferences `json:"preferences"`
}

type dataStore interface {
	ListTickets(ctx context.Context, statusPredicate string) ([]store.Ticket, error)
	GetTicket(ctx context.Context, id string) (store.Ticket, error)
	InsertTicket(ctx context.Context, t store.Ticket) error
	UpdateTicket(ctx context.Context, t store.Ticket) error
	DeleteTicket(ctx context.Context, id string) error
	ListProjects(ctx context.Context, statusPredicate string) ([]store.Project, error)
	GetProject(ctx context.Context, id string) (store.Project, error)
	InsertProject(ctx context.Context, p store.Project) error
	UpdateProject(ctx context.Context, p store.Project) error
	DeleteProject(ctx context.Context, id string) error
	ListNotifications(ctx context.Context, userID string) ([]store.Notification, error)
	MarkNotificationRead(ctx context.Context, userID, id string) error
	MarkAllNotificationsRead(ctx context.Context, userID string) error
	GetUserByID(ctx context.Context, id string) (store.User, error)
	UpdateUser(ctx context.Context, u store.User) error
	RevokeAccessToken(ctx context.Context, jti string, expiresAt time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)
	Ping(ctx context.Context) error
}

// refreshStore holds refresh sessions. Redis when available, Postgres
// otherwise.
type refreshStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID, jti string, expiresAt time.Time) error
	GetRefreshSession(ctx context.Context, tokenHash string) (userID, jti string, err error)
	DeleteRefreshSession(ctx context.Context, tokenHash string) error
}

// searchIndex is the slice of the search service the app uses.
type searchIndex interface {
	Search(q search.Query) search.Response
	IndexTicket(t search.TicketRecord)
	IndexProject(p search.ProjectRecord)
	DeleteTicket(id string)
	DeleteProject(id string)
}

// assistFlows is the generative surface the app calls into.
type assistFlows interface {
	SuggestTags(ctx context.Context, title, description string) ([]string, error)
	SmartReplies(ctx context.Context, title, description string, replies []string) ([]string, error)
	SummarizeReports(ctx context.Context, stats assist.ReportStats) (string, error)
	TicketFromEmail(ctx context.Context, emailBody string) (assist.TicketDraft, error)
}

// eventNotifier fans workspace events out to the admin.
type eventNotifier interface {
	NotifyAsync(ev notify.Event)
}

type emailService interface {
	IsConfigured() bool
	SendVerificationEmail(to, userName, verificationURL string) error
	SendPasswordResetEmail(to, userName, resetURL string) error
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions refreshStore
	authpw   *authpw.Service
	email    emailService
	search   searchIndex
	assist   assistFlows
	notifier eventNotifier
	reports  *report.Service
	exporter *export.Service
	media    *media.Storage
}

// Deps bundles the collaborators the service needs.
type Deps struct {
	Store    dataStore
	Sessions refreshStore
	AuthPW   *authpw.Service
	Email    emailService
	Search   searchIndex
	Assist   assistFlows
	Notifier eventNotifier
	Reports  *report.Service
	Exporter *export.Service
	Media    *media.Storage
}

func New(cfg config.Config, deps Deps) *Service {
	return &Service{
		cfg:      cfg,
		store:    deps.Store,
		sessions: deps.Sessions,
		authpw:   deps.AuthPW,
		email:    deps.Email,
		search:   deps.Search,
		assist:   deps.Assist,
		notifier: deps.Notifier,
		reports:  deps.Reports,
		exporter: deps.Exporter,
		media:    deps.Media,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) AuthPasswordService() *authpw.Service {
	return s.authpw
}

func (s *Service) SMTPConfigured() bool {
	return s.email != nil && s.email.IsConfigured()
}

func (s *Service) SendVerificationEmail(to, userName, token string) error {
	if s.email == nil {
		return fmt.Errorf("email not configured")
	}
	url := s.cfg.AppBaseURL + "/verify-email?token=" + token + "&email=" + to
	return s.email.SendVerificationEmail(to, userName, url)
}

func (s *Service) SendPasswordResetEmail(to, userName, token string) error {
	if s.email == nil {
		return fmt.Errorf("email not configured")
	}
	url := s.cfg.AppBaseURL + "/reset-password?token=" + token
	return s.email.SendPasswordResetEmail(to, userName, url)
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

// ----- sessions -----

func (s *Service) CreateSession(ctx context.Context, userID string) (Session, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	userID, _, err := s.sessions.GetRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.DeleteRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.TokenSecret), auth.Claims{
		Sub:   user.ID,
		Name:  user.DisplayName,
		Email: user.Email,
		Role:  user.Role,
		JTI:   jti,
		Exp:   expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, jti, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Email:        user.Email,
		Role:         user.Role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.TokenSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Email:     user.Email,
		Role:      user.Role,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.DeleteRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// ----- tickets -----

// ListTickets resolves the status token and returns the matching
// tickets. The "all" token selects everything.
func (s *Service) ListTickets(ctx context.Context, statusToken string) ([]map[string]any, error) {
	filter, err := status.ParseTicketFilter(statusToken)
	if err != nil {
		return nil, domainError(http.StatusUnprocessableEntity, "INVALID_STATUS",
			fmt.Sprintf("unknown ticket status %q", statusToken), nil)
	}

	tickets, err := s.store.ListTickets(ctx, filter.Predicate)
	if err != nil {
		return nil, err
	}

	payload := make([]map[string]any, 0, len(tickets))
	for _, t := range tickets {
		payload = append(payload, ticketPayload(t))
	}
	return payload, nil
}

func (s *Service) GetTicket(ctx context.Context, id string) (map[string]any, error) {
	ticket, err := s.store.GetTicket(ctx, id)
	if err != nil {
		return nil, err
	}
	return ticketPayload(ticket), nil
}

func (s *Service) CreateTicket(ctx context.Context, session Session, input CreateTicketInput) (map[string]any, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}

	ticketStatus := strings.ToLower(strings.TrimSpace(input.Status))
	if ticketStatus == "" {
		ticketStatus = "new"
	}
	if !status.ValidTicketStatus(ticketStatus) {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR",
			fmt.Sprintf("invalid ticket status %q", input.Status), nil)
	}

	priority := strings.ToLower(strings.TrimSpace(input.Priority))
	if priority == "" {
		priority = "medium"
	}
	if !status.ValidPriority(priority) {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR",
			fmt.Sprintf("invalid priority %q", input.Priority), nil)
	}

	channel := strings.ToLower(strings.TrimSpace(input.Channel))
	if channel == "" {
		channel = "manual"
	}
	if !status.ValidChannel(channel) {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR",
			fmt.Sprintf("invalid channel %q", input.Channel), nil)
	}

	now := time.Now()
	ticket := store.Ticket{
		ID:            util.NewID("tkt"),
		Title:         title,
		Description:   input.Description,
		CustomerName:  input.CustomerName,
		CustomerEmail: input.CustomerEmail,
		Status:        ticketStatus,
		Priority:      priority,
		Channel:       channel,
		Tags:          nonNilStrings(input.Tags),
		AssignedTo:    input.AssignedTo,
		UserID:        session.UserID,
		Replies:       "[]",
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.store.InsertTicket(ctx, ticket); err != nil {
		return nil, err
	}

	s.indexTicket(ticket)
	if s.notifier != nil {
		s.notifier.NotifyAsync(notify.Event{
			Kind:    notify.KindNewTicket,
			Subject: ticket.Title,
			Detail:  fmt.Sprintf("priority %s, from %s", ticket.Priority, ticket.Channel),
			Href:    "/tickets/" + ticket.ID,
		})
	}

	return ticketPayload(ticket), nil
}

// UpdateTicket merges the provided fields onto the stored ticket and
// saves the whole row. Last write wins.
func (s *Service) UpdateTicket(ctx context.Context, id string, input UpdateTicketInput) (map[string]any, error) {
	ticket, err := s.store.GetTicket(ctx, id)
	if err != nil {
		return nil, err
	}

	prevStatus := ticket.Status
	prevAssignee := ticket.AssignedTo

	if input.Title != nil {
		title := strings.TrimSpace(*input.Title)
		if title == "" {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title cannot be empty", nil)
		}
		ticket.Title = title
	}
	if input.Description != nil {
		ticket.Description = *input.Description
	}
	if input.CustomerName != nil {
		ticket.CustomerName = *input.CustomerName
	}
	if input.CustomerEmail != nil {
		ticket.CustomerEmail = *input.CustomerEmail
	}
	if input.Status != nil {
		next := strings.ToLower(strings.TrimSpace(*input.Status))
		if !status.ValidTicketStatus(next) {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR",
				fmt.Sprintf("invalid ticket status %q", *input.Status), nil)
		}
		ticket.Status = next
	}
	if input.Priority != nil {
		next := strings.ToLower(strings.TrimSpace(*input.Priority))
		if !status.ValidPriority(next) {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR",
				fmt.Sprintf("invalid priority %q", *input.Priority), nil)
		}
		ticket.Priority = next
	}
	if input.Channel != nil {
		next := strings.ToLower(strings.TrimSpace(*input.Channel))
		if !status.ValidChannel(next) {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR",
				fmt.Sprintf("invalid channel %q", *input.Channel), nil)
		}
		ticket.Channel = next
	}
	if input.Tags != nil {
		ticket.Tags = nonNilStrings(*input.Tags)
	}
	if input.AssignedTo != nil {
		ticket.AssignedTo = *input.AssignedTo
	}
	ticket.UpdatedAt = time.Now()

	if err := s.store.UpdateTicket(ctx, ticket); err != nil {
		return nil, err
	}

	s.indexTicket(ticket)
	if s.notifier != nil {
		if ticket.Status != prevStatus {
			s.notifier.NotifyAsync(notify.Event{
				Kind:    notify.KindStatusChange,
				Subject: ticket.Title,
				Detail:  fmt.Sprintf("moved from %s to %s", prevStatus, ticket.Status),
				Href:    "/tickets/" + ticket.ID,
			})
		}
		if ticket.AssignedTo != prevAssignee && ticket.AssignedTo != "" {
			s.notifier.NotifyAsync(notify.Event{
				Kind:    notify.KindTicketAssigned,
				Subject: ticket.Title,
				Detail:  "assigned to " + ticket.AssignedTo,
				Href:    "/tickets/" + ticket.ID,
			})
		}
	}

	return ticketPayload(ticket), nil
}

func (s *Service) DeleteTicket(ctx context.Context, id string) error {
	if err := s.store.DeleteTicket(ctx, id); err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeleteTicket(id)
	}
	return nil
}

// AddReply appends a reply to the ticket's reply list.
func (s *Service) AddReply(ctx context.Context, session Session, ticketID string, input ReplyInput) (map[string]any, error) {
	content := strings.TrimSpace(input.Content)
	if content == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "content is required", nil)
	}

	ticket, err := s.store.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}

	replies, err := decodeReplies(ticket.Replies)
	if err != nil {
		return nil, fmt.Errorf("decode replies for %s: %w", ticketID, err)
	}

	reply := store.Reply{
		ID:        util.NewID("rpl"),
		UserID:    session.UserID,
		UserName:  session.UserName,
		Content:   content,
		CreatedAt: time.Now().Format(time.RFC3339),
	}
	replies = append(replies, reply)

	encoded, err := json.Marshal(replies)
	if err != nil {
		return nil, fmt.Errorf("encode replies: %w", err)
	}
	ticket.Replies = string(encoded)
	ticket.UpdatedAt = time.Now()

	if err := s.store.UpdateTicket(ctx, ticket); err != nil {
		return nil, err
	}

	if s.notifier != nil {
		s.notifier.NotifyAsync(notify.Event{
			Kind:    notify.KindNewReply,
			Subject: ticket.Title,
			Detail:  "reply by " + session.UserName,
			Href:    "/tickets/" + ticket.ID,
		})
	}

	return ticketPayload(ticket), nil
}

func (s *Service) indexTicket(t store.Ticket) {
	if s.search == nil {
		return
	}
	s.search.IndexTicket(search.TicketRecord{
		ID:           t.ID,
		Title:        t.Title,
		Description:  t.Description,
		CustomerName: t.CustomerName,
		Status:       t.Status,
		Priority:     t.Priority,
	})
}

func ticketPayload(t store.Ticket) map[string]any {
	replies, err := decodeReplies(t.Replies)
	if err != nil {
		replies = []store.Reply{}
	}
	return map[string]any{
		"id":            t.ID,
		"title":         t.Title,
		"description":   t.Description,
		"customerName":  t.CustomerName,
		"customerEmail": t.CustomerEmail,
		"status":        t.Status,
		"priority":      t.Priority,
		"channel":       t.Channel,
		"tags":          t.Tags,
		"assignedTo":    t.AssignedTo,
		"userId":        t.UserID,
		"replies":       replies,
		"createdAt":     t.CreatedAt,
		"updatedAt":     t.UpdatedAt,
	}
}

func decodeReplies(raw string) ([]store.Reply, error) {
	replies := []store.Reply{}
	if strings.TrimSpace(raw) == "" {
		return replies, nil
	}
	if err := json.Unmarshal([]byte(raw), &replies); err != nil {
		return nil, err
	}
	return replies, nil
}

// ----- projects -----

func (s *Service) ListProjects(ctx context.Context, statusToken string) ([]map[string]any, error) {
	filter, err := status.ParseProjectFilter(statusToken)
	if err != nil {
		return nil, domainError(http.StatusUnprocessableEntity, "INVALID_STATUS",
			fmt.Sprintf("unknown project status %q", statusToken), nil)
	}

	projects, err := s.store.ListProjects(ctx, filter.Predicate)
	if err != nil {
		return nil, err
	}

	payload := make([]map[string]any, 0, len(projects))
	for _, p := range projects {
		payload = append(payload, projectPayload(p))
	}
	return payload, nil
}

func (s *Service) GetProject(ctx context.Context, id string) (map[string]any, error) {
	project, err := s.store.GetProject(ctx, id)
	if err != nil {
		return nil, err
	}
	return projectPayload(project), nil
}

func (s *Service) CreateProject(ctx context.Context, session Session, input CreateProjectInput) (map[string]any, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}

	projectStatus := strings.ToLower(strings.TrimSpace(input.Status))
	if projectStatus == "" {
		projectStatus = "new"
	}
	if !status.ValidProjectStatus(projectStatus) {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR",
			fmt.Sprintf("invalid project status %q", input.Status), nil)
	}

	deadline, err := parseDeadline(input.Deadline)
	if err != nil {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
	}

	now := time.Now()
	project := store.Project{
		ID:          util.NewID("prj"),
		Name:        name,
		Description: input.Description,
		Status:      projectStatus,
		Deadline:    deadline,
		TeamMembers: nonNilStrings(input.TeamMembers),
		UserID:      session.UserID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.store.InsertProject(ctx, project); err != nil {
		return nil, err
	}

	s.indexProject(project)
	if s.notifier != nil {
		s.notifier.NotifyAsync(notify.Event{
			Kind:    notify.KindNewProject,
			Subject: project.Name,
			Href:    "/projects/" + project.ID,
		})
	}

	return projectPayload(project), nil
}

func (s *Service) UpdateProject(ctx context.Context, id string, input UpdateProjectInput) (map[string]any, error) {
	project, err := s.store.GetProject(ctx, id)
	if err != nil {
		return nil, err
	}

	if input.Name != nil {
		name := strings.TrimSpace(*input.Name)
		if name == "" {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name cannot be empty", nil)
		}
		project.Name = name
	}
	if input.Description != nil {
		project.Description = *input.Description
	}
	if input.Status != nil {
		next := strings.ToLower(strings.TrimSpace(*input.Status))
		if !status.ValidProjectStatus(next) {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR",
				fmt.Sprintf("invalid project status %q", *input.Status), nil)
		}
		project.Status = next
	}
	if input.Deadline != nil {
		deadline, err := parseDeadline(*input.Deadline)
		if err != nil {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
		}
		project.Deadline = deadline
	}
	if input.TeamMembers != nil {
		project.TeamMembers = nonNilStrings(*input.TeamMembers)
	}
	project.UpdatedAt = time.Now()

	if err := s.store.UpdateProject(ctx, project); err != nil {
		return nil, err
	}

	s.indexProject(project)
	return projectPayload(project), nil
}

func (s *Service) DeleteProject(ctx context.Context, id string) error {
	if err := s.store.DeleteProject(ctx, id); err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeleteProject(id)
	}
	return nil
}

func (s *Service) indexProject(p store.Project) {
	if s.search == nil {
		return
	}
	s.search.IndexProject(search.ProjectRecord{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Status:      p.Status,
	})
}

func projectPayload(p store.Project) map[string]any {
	var deadline any
	if p.Deadline != nil {
		deadline = p.Deadline.Format(time.RFC3339)
	}
	return map[string]any{
		"id":          p.ID,
		"name":        p.Name,
		"description": p.Description,
		"status":      p.Status,
		"deadline":    deadline,
		"teamMembers": p.TeamMembers,
		"userId":      p.UserID,
		"createdAt":   p.CreatedAt,
		"updatedAt":   p.UpdatedAt,
	}
}

// parseDeadline accepts RFC 3339 or a bare date. Empty means no deadline.
func parseDeadline(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return &t, nil
	}
	return nil, fmt.Errorf("invalid deadline %q", raw)
}

func nonNilStrings(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

// ----- notifications -----

func (s *Service) ListNotifications(ctx context.Context, session Session) ([]map[string]any, error) {
	notifications, err := s.store.ListNotifications(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	payload := make([]map[string]any, 0, len(notifications))
	for _, n := range notifications {
		payload = append(payload, map[string]any{
			"id":        n.ID,
			"message":   n.Message,
			"href":      n.Href,
			"isRead":    n.IsRead,
			"createdAt": n.CreatedAt,
		})
	}
	return payload, nil
}

func (s *Service) MarkNotificationRead(ctx context.Context, session Session, id string) error {
	return s.store.MarkNotificationRead(ctx, session.UserID, id)
}

func (s *Service) MarkAllNotificationsRead(ctx context.Context, session Session) error {
	return s.store.MarkAllNotificationsRead(ctx, session.UserID)
}

// ----- dashboard and reports -----

func (s *Service) Dashboard(ctx context.Context, session Session) (report.Dashboard, error) {
	return s.reports.Dashboard(ctx, session.UserID)
}

func (s *Service) BuildReport(ctx context.Context) (report.Report, error) {
	return s.reports.Build(ctx)
}

// ReportSummary builds the full report and asks the generative backend
// for a narrative summary.
func (s *Service) ReportSummary(ctx context.Context) (report.Report, string, error) {
	r, err := s.reports.Build(ctx)
	if err != nil {
		return report.Report{}, "", err
	}
	if s.assist == nil {
		return report.Report{}, "", mapAssistError(assist.ErrUnavailable)
	}

	summary, err := s.assist.SummarizeReports(ctx, assist.ReportStats{
		TicketsByStatus:    r.TicketsByStatus,
		ProjectsByStatus:   r.ProjectsByStatus,
		MonthlyVolume:      monthMap(r.MonthlyVolume),
		AvgResolutionHours: r.AvgResolutionHours,
	})
	if err != nil {
		return report.Report{}, "", mapAssistError(err)
	}
	return r, summary, nil
}

// ExportReport renders the current report as a downloadable file. The
// summary is best-effort; export proceeds without it.
func (s *Service) ExportReport(ctx context.Context, format export.Format) (*export.Result, error) {
	r, err := s.reports.Build(ctx)
	if err != nil {
		return nil, err
	}

	summary := ""
	if s.assist != nil {
		if text, err := s.assist.SummarizeReports(ctx, assist.ReportStats{
			TicketsByStatus:    r.TicketsByStatus,
			ProjectsByStatus:   r.ProjectsByStatus,
			MonthlyVolume:      monthMap(r.MonthlyVolume),
			AvgResolutionHours: r.AvgResolutionHours,
		}); err == nil {
			summary = text
		}
	}

	result, err := s.exporter.Export(r, summary, format)
	if err != nil {
		if errors.Is(err, export.ErrPDFDependencyMissing) || errors.Is(err, export.ErrDOCXDependencyMissing) {
			return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Export dependency missing", nil)
		}
		return nil, err
	}
	return result, nil
}

func monthMap(months []store.MonthCount) map[string]int {
	m := make(map[string]int, len(months))
	for _, mc := range months {
		m[mc.Month] = mc.Count
	}
	return m
}

// ----- settings -----

func (s *Service) GetSettings(ctx context.Context, session Session) (map[string]any, error) {
	user, err := s.store.GetUserByID(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	return settingsPayload(user)
}

func (s *Service) UpdateSettings(ctx context.Context, session Session, input UpdateSettingsInput) (map[string]any, error) {
	user, err := s.store.GetUserByID(ctx, session.UserID)
	if err != nil {
		return nil, err
	}

	if input.DisplayName != nil {
		name := strings.TrimSpace(*input.DisplayName)
		if name == "" {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "displayName cannot be empty", nil)
		}
		user.DisplayName = name
	}
	if input.Preferences != nil {
		encoded, err := json.Marshal(input.Preferences)
		if err != nil {
			return nil, fmt.Errorf("encode preferences: %w", err)
		}
		user.Preferences = string(encoded)
	}
	user.UpdatedAt = time.Now()

	if err := s.store.UpdateUser(ctx, user); err != nil {
		return nil, err
	}
	return settingsPayload(user)
}

// UploadAvatar stores the avatar and records its URL in preferences.
func (s *Service) UploadAvatar(ctx context.Context, session Session, contentType string, body io.Reader, size int64) (map[string]any, error) {
	if s.media == nil {
		return nil, domainError(http.StatusServiceUnavailable, "MEDIA_UNAVAILABLE", "Object storage not configured", nil)
	}

	url, err := s.media.UploadAvatar(ctx, session.UserID, contentType, body, size)
	if err != nil {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
	}

	user, err := s.store.GetUserByID(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	var prefs store.Preferences
	if user.Preferences != "" {
		_ = json.Unmarshal([]byte(user.Preferences), &prefs)
	}
	prefs.AvatarURL = url
	encoded, err := json.Marshal(prefs)
	if err != nil {
		return nil, fmt.Errorf("encode preferences: %w", err)
	}
	user.Preferences = string(encoded)
	user.UpdatedAt = time.Now()
	if err := s.store.UpdateUser(ctx, user); err != nil {
		return nil, err
	}

	return map[string]any{"avatarUrl": url}, nil
}

func settingsPayload(user store.User) (map[string]any, error) {
	var prefs store.Preferences
	if user.Preferences != "" {
		if err := json.Unmarshal([]byte(user.Preferences), &prefs); err != nil {
			return nil, fmt.Errorf("decode preferences: %w", err)
		}
	}
	return map[string]any{
		"userId":      user.ID,
		"displayName": user.DisplayName,
		"email":       user.Email,
		"role":        user.Role,
		"preferences": prefs,
	}, nil
}

// ----- search -----

func (s *Service) Search(q search.Query) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.search.Search(q)
}

// ----- assist -----

func (s *Service) SuggestTags(ctx context.Context, title, description string) ([]string, error) {
	if s.assist == nil {
		return nil, mapAssistError(assist.ErrUnavailable)
	}
	tags, err := s.assist.SuggestTags(ctx, title, description)
	if err != nil {
		return nil, mapAssistError(err)
	}
	return tags, nil
}

// SmartReplies loads the ticket thread and drafts candidate responses.
func (s *Service) SmartReplies(ctx context.Context, ticketID string) ([]string, error) {
	if s.assist == nil {
		return nil, mapAssistError(assist.ErrUnavailable)
	}

	ticket, err := s.store.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	replies, err := decodeReplies(ticket.Replies)
	if err != nil {
		return nil, fmt.Errorf("decode replies for %s: %w", ticketID, err)
	}
	thread := make([]string, 0, len(replies))
	for _, r := range replies {
		thread = append(thread, fmt.Sprintf("%s: %s", r.UserName, r.Content))
	}

	suggestions, err := s.assist.SmartReplies(ctx, ticket.Title, ticket.Description, thread)
	if err != nil {
		return nil, mapAssistError(err)
	}
	return suggestions, nil
}

// TicketFromEmail extracts a draft ticket from a raw email and creates
// it on the email channel.
func (s *Service) TicketFromEmail(ctx context.Context, session Session, emailBody string) (map[string]any, error) {
	if strings.TrimSpace(emailBody) == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "email body is required", nil)
	}
	if s.assist == nil {
		return nil, mapAssistError(assist.ErrUnavailable)
	}

	draft, err := s.assist.TicketFromEmail(ctx, emailBody)
	if err != nil {
		return nil, mapAssistError(err)
	}

	return s.CreateTicket(ctx, session, CreateTicketInput{
		Title:         draft.Title,
		Description:   draft.Description,
		CustomerName:  draft.CustomerName,
		CustomerEmail: draft.CustomerEmail,
		Priority:      draft.Priority,
		Channel:       "email",
	})
}

func mapAssistError(err error) error {
	if errors.Is(err, assist.ErrUnavailable) {
		return domainError(http.StatusServiceUnavailable, "ASSIST_UNAVAILABLE", "Generative backend not configured", nil)
	}
	if errors.Is(err, assist.ErrFailed) {
		return domainError(http.StatusBadGateway, "ASSIST_FAILED", "Generative backend failed", nil)
	}
	return err
}

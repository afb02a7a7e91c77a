package app

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"experted/api/internal/assist"
	"experted/api/internal/authpw"
	"experted/api/internal/config"
	"experted/api/internal/notify"
	"experted/api/internal/report"
	"experted/api/internal/search"
	"experted/api/internal/store"
)

// fakeStore is an in-memory stand-in for the Postgres store. It also
// satisfies the authpw and report storage interfaces so one fake can
// back the whole service.
type fakeStore struct {
	mu sync.Mutex

	tickets       map[string]store.Ticket
	projects      map[string]store.Project
	users         map[string]store.User
	emailIndex    map[string]string
	notifications []store.Notification
	resets        map[string]struct {
		userID    string
		expiresAt time.Time
	}
	revoked map[string]bool

	listTicketCalls int
	lastPredicate   string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		tickets:    map[string]store.Ticket{},
		projects:   map[string]store.Project{},
		users:      map[string]store.User{},
		emailIndex: map[string]string{},
		resets: map[string]struct {
			userID    string
			expiresAt time.Time
		}{},
		revoked: map[string]bool{},
	}
}

func (f *fakeStore) ListTickets(_ context.Context, statusPredicate string) ([]store.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listTicketCalls++
	f.lastPredicate = statusPredicate
	var out []store.Ticket
	for _, t := range f.tickets {
		if statusPredicate == "" || t.Status == statusPredicate {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeStore) GetTicket(_ context.Context, id string) (store.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tickets[id]
	if !ok {
		return store.Ticket{}, sql.ErrNoRows
	}
	return t, nil
}

func (f *fakeStore) InsertTicket(_ context.Context, t store.Ticket) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tickets[t.ID] = t
	return nil
}

func (f *fakeStore) UpdateTicket(_ context.Context, t store.Ticket) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tickets[t.ID]; !ok {
		return sql.ErrNoRows
	}
	f.tickets[t.ID] = t
	return nil
}

func (f *fakeStore) DeleteTicket(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tickets[id]; !ok {
		return sql.ErrNoRows
	}
	delete(f.tickets, id)
	return nil
}

func (f *fakeStore) ListProjects(_ context.Context, statusPredicate string) ([]store.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Project
	for _, p := range f.projects {
		if statusPredicate == "" || p.Status == statusPredicate {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeStore) GetProject(_ context.Context, id string) (store.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.projects[id]
	if !ok {
		return store.Project{}, sql.ErrNoRows
	}
	return p, nil
}

func (f *fakeStore) InsertProject(_ context.Context, p store.Project) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.projects[p.ID] = p
	return nil
}

func (f *fakeStore) UpdateProject(_ context.Context, p store.Project) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.projects[p.ID]; !ok {
		return sql.ErrNoRows
	}
	f.projects[p.ID] = p
	return nil
}

func (f *fakeStore) DeleteProject(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.projects[id]; !ok {
		return sql.ErrNoRows
	}
	delete(f.projects, id)
	return nil
}

func (f *fakeStore) ListNotifications(_ context.Context, userID string) ([]store.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Notification
	for _, n := range f.notifications {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	return out, nil
}

func (f *fakeStore) MarkNotificationRead(_ context.Context, userID, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, n := range f.notifications {
		if n.ID == id && n.UserID == userID {
			f.notifications[i].IsRead = true
			return nil
		}
	}
	return sql.ErrNoRows
}

func (f *fakeStore) MarkAllNotificationsRead(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, n := range f.notifications {
		if n.UserID == userID {
			f.notifications[i].IsRead = true
		}
	}
	return nil
}

func (f *fakeStore) GetUserByID(_ context.Context, id string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return u, nil
}

func (f *fakeStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.emailIndex[strings.ToLower(email)]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return f.users[id], nil
}

func (f *fakeStore) InsertUser(_ context.Context, u store.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[u.ID] = u
	f.emailIndex[strings.ToLower(u.Email)] = u.ID
	return nil
}

func (f *fakeStore) UpdateUser(_ context.Context, u store.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[u.ID]; !ok {
		return sql.ErrNoRows
	}
	f.users[u.ID] = u
	return nil
}

func (f *fakeStore) InsertPasswordReset(_ context.Context, userID, tokenHash string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets[tokenHash] = struct {
		userID    string
		expiresAt time.Time
	}{userID, expiresAt}
	return nil
}

func (f *fakeStore) ConsumePasswordReset(_ context.Context, tokenHash string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.resets[tokenHash]
	if !ok || time.Now().After(entry.expiresAt) {
		return "", sql.ErrNoRows
	}
	delete(f.resets, tokenHash)
	return entry.userID, nil
}

func (f *fakeStore) RevokeAccessToken(_ context.Context, jti string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked[jti] = true
	return nil
}

func (f *fakeStore) IsAccessTokenRevoked(_ context.Context, jti string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.revoked[jti], nil
}

func (f *fakeStore) Ping(context.Context) error { return nil }

func (f *fakeStore) TicketStatusCounts(context.Context) ([]store.StatusCount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	byStatus := map[string]int{}
	for _, t := range f.tickets {
		byStatus[t.Status]++
	}
	var out []store.StatusCount
	for s, c := range byStatus {
		out = append(out, store.StatusCount{Status: s, Count: c})
	}
	return out, nil
}

func (f *fakeStore) ProjectStatusCounts(context.Context) ([]store.StatusCount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	byStatus := map[string]int{}
	for _, p := range f.projects {
		byStatus[p.Status]++
	}
	var out []store.StatusCount
	for s, c := range byStatus {
		out = append(out, store.StatusCount{Status: s, Count: c})
	}
	return out, nil
}

func (f *fakeStore) TicketMonthlyCounts(_ context.Context, months int) ([]store.MonthCount, error) {
	return []store.MonthCount{}, nil
}

func (f *fakeStore) AvgResolutionHours(context.Context) (float64, error) { return 0, nil }

func (f *fakeStore) CountTicketsCreatedSince(_ context.Context, since time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, t := range f.tickets {
		if !t.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (f *fakeStore) ListRecentTickets(_ context.Context, limit int) ([]store.Ticket, error) {
	all, _ := f.ListTickets(context.Background(), "")
	f.mu.Lock()
	f.listTicketCalls--
	f.mu.Unlock()
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (f *fakeStore) UnreadNotificationCount(_ context.Context, userID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, n := range f.notifications {
		if n.UserID == userID && !n.IsRead {
			count++
		}
	}
	return count, nil
}

// fakeRefresh keeps refresh sessions in a map.
type fakeRefresh struct {
	mu       sync.Mutex
	sessions map[string][2]string
}

func newFakeRefresh() *fakeRefresh {
	return &fakeRefresh{sessions: map[string][2]string{}}
}

func (f *fakeRefresh) SaveRefreshSession(_ context.Context, tokenHash, userID, jti string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[tokenHash] = [2]string{userID, jti}
	return nil
}

func (f *fakeRefresh) GetRefreshSession(_ context.Context, tokenHash string) (string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.sessions[tokenHash]
	if !ok {
		return "", "", sql.ErrNoRows
	}
	return entry[0], entry[1], nil
}

func (f *fakeRefresh) DeleteRefreshSession(_ context.Context, tokenHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, tokenHash)
	return nil
}

// fakeNotifier records events synchronously so tests can assert on them.
type fakeNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (f *fakeNotifier) NotifyAsync(ev notify.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
}

func (f *fakeNotifier) byKind(kind string) []notify.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []notify.Event
	for _, ev := range f.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

// fakeSearch records index operations and returns a canned response.
type fakeSearch struct {
	mu       sync.Mutex
	indexed  []string
	response search.Response
}

func (f *fakeSearch) Search(q search.Query) search.Response {
	resp := f.response
	resp.Query = q.Text
	return resp
}

func (f *fakeSearch) IndexTicket(t search.TicketRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, t.ID)
}

func (f *fakeSearch) IndexProject(p search.ProjectRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, p.ID)
}

func (f *fakeSearch) DeleteTicket(id string)  {}
func (f *fakeSearch) DeleteProject(id string) {}

// fakeAssist returns canned generative results.
type fakeAssist struct {
	tags    []string
	replies []string
	draft   assist.TicketDraft
	err     error
}

func (f *fakeAssist) SuggestTags(context.Context, string, string) ([]string, error) {
	return f.tags, f.err
}

func (f *fakeAssist) SmartReplies(context.Context, string, string, []string) ([]string, error) {
	return f.replies, f.err
}

func (f *fakeAssist) SummarizeReports(context.Context, assist.ReportStats) (string, error) {
	return "summary", f.err
}

func (f *fakeAssist) TicketFromEmail(context.Context, string) (assist.TicketDraft, error) {
	return f.draft, f.err
}

type testEnv struct {
	server   *httptest.Server
	store    *fakeStore
	notifier *fakeNotifier
	search   *fakeSearch
}

type envOptions struct {
	assist assistFlows
	search *fakeSearch
}

func newTestEnv(t *testing.T, opts envOptions) *testEnv {
	t.Helper()

	fs := newFakeStore()
	notifier := &fakeNotifier{}
	fsearch := opts.search
	if fsearch == nil {
		fsearch = &fakeSearch{}
	}

	cfg := config.Config{
		TokenSecret: "test-secret",
		AccessTTL:   time.Hour,
		RefreshTTL:  24 * time.Hour,
	}

	svc := New(cfg, Deps{
		Store:    fs,
		Sessions: newFakeRefresh(),
		AuthPW:   authpw.NewService(fs),
		Search:   fsearch,
		Assist:   opts.assist,
		Notifier: notifier,
		Reports:  report.NewService(fs),
	})

	server := httptest.NewServer(NewHTTPServer(svc, "*").Handler())
	t.Cleanup(server.Close)

	return &testEnv{server: server, store: fs, notifier: notifier, search: fsearch}
}

func (e *testEnv) request(t *testing.T, method, path, token string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, e.server.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	payload := map[string]any{}
	_ = json.NewDecoder(resp.Body).Decode(&payload)
	return resp, payload
}

// signIn runs the full signup, verify, signin flow and returns tokens.
func (e *testEnv) signIn(t *testing.T, email string) (access, refresh string) {
	t.Helper()
	resp, payload := e.request(t, http.MethodPost, "/api/auth/signup", "", map[string]string{
		"email":       email,
		"password":    "password-123",
		"displayName": "Test Agent",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("signup status = %d, payload %v", resp.StatusCode, payload)
	}
	verifyToken, _ := payload["devVerificationToken"].(string)
	if verifyToken == "" {
		t.Fatal("signup response missing dev verification token")
	}

	resp, payload = e.request(t, http.MethodPost, "/api/auth/verify-email", "", map[string]string{
		"email": email,
		"token": verifyToken,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("verify status = %d, payload %v", resp.StatusCode, payload)
	}

	resp, payload = e.request(t, http.MethodPost, "/api/auth/signin", "", map[string]string{
		"email":    email,
		"password": "password-123",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("signin status = %d, payload %v", resp.StatusCode, payload)
	}
	access, _ = payload["accessToken"].(string)
	refresh, _ = payload["refreshToken"].(string)
	if access == "" || refresh == "" {
		t.Fatalf("signin response missing tokens: %v", payload)
	}
	return access, refresh
}

func TestHealthAndReady(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	resp, payload := env.request(t, http.MethodGet, "/api/health", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d", resp.StatusCode)
	}
	if ok, _ := payload["ok"].(bool); !ok {
		t.Fatalf("health payload = %v", payload)
	}

	resp, payload = env.request(t, http.MethodGet, "/api/ready", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("ready status = %d, payload %v", resp.StatusCode, payload)
	}
}

func TestAuthFlow(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	t.Run("signin before verification is rejected", func(t *testing.T) {
		resp, payload := env.request(t, http.MethodPost, "/api/auth/signup", "", map[string]string{
			"email":       "unverified@example.com",
			"password":    "password-123",
			"displayName": "Unverified",
		})
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("signup status = %d, payload %v", resp.StatusCode, payload)
		}
		resp, payload = env.request(t, http.MethodPost, "/api/auth/signin", "", map[string]string{
			"email":    "unverified@example.com",
			"password": "password-123",
		})
		if resp.StatusCode != http.StatusForbidden {
			t.Fatalf("signin status = %d, want 403, payload %v", resp.StatusCode, payload)
		}
		if payload["code"] != "EMAIL_NOT_VERIFIED" {
			t.Fatalf("code = %v, want EMAIL_NOT_VERIFIED", payload["code"])
		}
	})

	t.Run("duplicate email conflicts", func(t *testing.T) {
		resp, _ := env.request(t, http.MethodPost, "/api/auth/signup", "", map[string]string{
			"email":       "unverified@example.com",
			"password":    "password-123",
			"displayName": "Again",
		})
		if resp.StatusCode != http.StatusConflict {
			t.Fatalf("duplicate signup status = %d, want 409", resp.StatusCode)
		}
	})

	t.Run("full flow yields a working session", func(t *testing.T) {
		access, _ := env.signIn(t, "agent@example.com")
		resp, payload := env.request(t, http.MethodGet, "/api/session", access, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("session status = %d", resp.StatusCode)
		}
		if auth, _ := payload["authenticated"].(bool); !auth {
			t.Fatalf("session payload = %v", payload)
		}
		if payload["userName"] != "Test Agent" {
			t.Fatalf("userName = %v", payload["userName"])
		}
	})

	t.Run("wrong password is unauthorized", func(t *testing.T) {
		resp, _ := env.request(t, http.MethodPost, "/api/auth/signin", "", map[string]string{
			"email":    "agent@example.com",
			"password": "wrong-password",
		})
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("signin status = %d, want 401", resp.StatusCode)
		}
	})
}

func TestRefreshRotation(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	_, refresh := env.signIn(t, "agent@example.com")

	resp, payload := env.request(t, http.MethodPost, "/api/session/refresh", "", map[string]string{
		"refreshToken": refresh,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("refresh status = %d, payload %v", resp.StatusCode, payload)
	}
	next, _ := payload["refreshToken"].(string)
	if next == "" || next == refresh {
		t.Fatalf("expected a rotated refresh token, got %q", next)
	}

	// The consumed token must not work a second time.
	resp, _ = env.request(t, http.MethodPost, "/api/session/refresh", "", map[string]string{
		"refreshToken": refresh,
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("replayed refresh status = %d, want 401", resp.StatusCode)
	}
}

func TestLogoutRevokesAccessToken(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	access, refresh := env.signIn(t, "agent@example.com")

	resp, _ := env.request(t, http.MethodPost, "/api/session/logout", access, map[string]string{
		"refreshToken": refresh,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("logout status = %d", resp.StatusCode)
	}

	resp, _ = env.request(t, http.MethodGet, "/api/tickets", access, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("post-logout request status = %d, want 401", resp.StatusCode)
	}
}

func TestRequiresAuthentication(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	for _, path := range []string{"/api/tickets", "/api/projects", "/api/dashboard", "/api/notifications"} {
		resp, _ := env.request(t, http.MethodGet, path, "", nil)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("GET %s without token status = %d, want 401", path, resp.StatusCode)
		}
	}
}

func TestTicketLifecycle(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	access, _ := env.signIn(t, "agent@example.com")

	var ticketID string

	t.Run("create applies defaults", func(t *testing.T) {
		resp, payload := env.request(t, http.MethodPost, "/api/tickets", access, map[string]any{
			"title":        "Printer on fire",
			"description":  "Smoke reported on floor 3",
			"customerName": "Dana",
		})
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("create status = %d, payload %v", resp.StatusCode, payload)
		}
		if payload["status"] != "new" || payload["priority"] != "medium" || payload["channel"] != "manual" {
			t.Fatalf("defaults not applied: %v", payload)
		}
		ticketID, _ = payload["id"].(string)
		if ticketID == "" {
			t.Fatal("create response missing id")
		}

		events := env.notifier.byKind(notify.KindNewTicket)
		if len(events) != 1 {
			t.Fatalf("new-ticket events = %d, want 1", len(events))
		}
		if events[0].Href != "/tickets/"+ticketID {
			t.Fatalf("event href = %q", events[0].Href)
		}
	})

	t.Run("create without title is rejected", func(t *testing.T) {
		resp, payload := env.request(t, http.MethodPost, "/api/tickets", access, map[string]any{
			"description": "no title",
		})
		if resp.StatusCode != http.StatusUnprocessableEntity {
			t.Fatalf("status = %d, want 422", resp.StatusCode)
		}
		if payload["code"] != "VALIDATION_ERROR" {
			t.Fatalf("code = %v", payload["code"])
		}
	})

	t.Run("status change raises one event", func(t *testing.T) {
		resp, payload := env.request(t, http.MethodPut, "/api/tickets/"+ticketID, access, map[string]any{
			"status": "pending",
		})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("update status = %d, payload %v", resp.StatusCode, payload)
		}
		if payload["status"] != "pending" {
			t.Fatalf("status = %v, want pending", payload["status"])
		}
		// Title was not in the body and must survive the partial update.
		if payload["title"] != "Printer on fire" {
			t.Fatalf("title = %v", payload["title"])
		}

		events := env.notifier.byKind(notify.KindStatusChange)
		if len(events) != 1 {
			t.Fatalf("status-change events = %d, want 1", len(events))
		}
		if !strings.Contains(events[0].Detail, "moved from new to pending") {
			t.Fatalf("event detail = %q", events[0].Detail)
		}
	})

	t.Run("assignment raises an event", func(t *testing.T) {
		resp, _ := env.request(t, http.MethodPut, "/api/tickets/"+ticketID, access, map[string]any{
			"assignedTo": "Morgan",
		})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("update status = %d", resp.StatusCode)
		}
		events := env.notifier.byKind(notify.KindTicketAssigned)
		if len(events) != 1 {
			t.Fatalf("assignment events = %d, want 1", len(events))
		}
	})

	t.Run("replies round-trip", func(t *testing.T) {
		resp, payload := env.request(t, http.MethodPost, "/api/tickets/"+ticketID+"/replies", access, map[string]any{
			"content": "Looking into it now.",
		})
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("reply status = %d, payload %v", resp.StatusCode, payload)
		}
		replies, ok := payload["replies"].([]any)
		if !ok || len(replies) != 1 {
			t.Fatalf("replies = %v", payload["replies"])
		}
		first := replies[0].(map[string]any)
		if first["content"] != "Looking into it now." || first["userName"] != "Test Agent" {
			t.Fatalf("reply = %v", first)
		}

		resp, payload = env.request(t, http.MethodGet, "/api/tickets/"+ticketID, access, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("get status = %d", resp.StatusCode)
		}
		replies, _ = payload["replies"].([]any)
		if len(replies) != 1 {
			t.Fatalf("replies after reload = %v", payload["replies"])
		}
	})

	t.Run("delete removes the ticket", func(t *testing.T) {
		resp, _ := env.request(t, http.MethodDelete, "/api/tickets/"+ticketID, access, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("delete status = %d", resp.StatusCode)
		}
		resp, payload := env.request(t, http.MethodGet, "/api/tickets/"+ticketID, access, nil)
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("get after delete status = %d, payload %v", resp.StatusCode, payload)
		}
		if payload["code"] != "NOT_FOUND" {
			t.Fatalf("code = %v", payload["code"])
		}
	})
}

func TestTicketListFiltering(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	access, _ := env.signIn(t, "agent@example.com")

	for _, status := range []string{"new", "pending", "closed"} {
		resp, _ := env.request(t, http.MethodPost, "/api/tickets", access, map[string]any{
			"title":  "Ticket " + status,
			"status": status,
		})
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("seed create status = %d", resp.StatusCode)
		}
	}
	env.store.mu.Lock()
	env.store.listTicketCalls = 0
	env.store.mu.Unlock()

	t.Run("the all token binds no predicate", func(t *testing.T) {
		resp, payload := env.request(t, http.MethodGet, "/api/tickets?status=all", access, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("list status = %d", resp.StatusCode)
		}
		tickets, _ := payload["tickets"].([]any)
		if len(tickets) != 3 {
			t.Fatalf("tickets = %d, want 3", len(tickets))
		}
		env.store.mu.Lock()
		predicate := env.store.lastPredicate
		env.store.mu.Unlock()
		if predicate != "" {
			t.Fatalf("predicate = %q, want empty", predicate)
		}
	})

	t.Run("a concrete status filters", func(t *testing.T) {
		resp, payload := env.request(t, http.MethodGet, "/api/tickets/status/pending", access, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("list status = %d", resp.StatusCode)
		}
		tickets, _ := payload["tickets"].([]any)
		if len(tickets) != 1 {
			t.Fatalf("tickets = %d, want 1", len(tickets))
		}
		env.store.mu.Lock()
		predicate := env.store.lastPredicate
		env.store.mu.Unlock()
		if predicate != "pending" {
			t.Fatalf("predicate = %q, want pending", predicate)
		}
	})

	t.Run("an unknown token never reaches the store", func(t *testing.T) {
		env.store.mu.Lock()
		before := env.store.listTicketCalls
		env.store.mu.Unlock()

		resp, payload := env.request(t, http.MethodGet, "/api/tickets?status=bogus", access, nil)
		if resp.StatusCode != http.StatusUnprocessableEntity {
			t.Fatalf("status = %d, want 422, payload %v", resp.StatusCode, payload)
		}
		if payload["code"] != "INVALID_STATUS" {
			t.Fatalf("code = %v", payload["code"])
		}

		env.store.mu.Lock()
		after := env.store.listTicketCalls
		env.store.mu.Unlock()
		if after != before {
			t.Fatal("store list was called for an invalid status token")
		}
	})
}

func TestProjectDeadline(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	access, _ := env.signIn(t, "agent@example.com")

	resp, payload := env.request(t, http.MethodPost, "/api/projects", access, map[string]any{
		"name": "Migration",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, payload %v", resp.StatusCode, payload)
	}
	if payload["deadline"] != nil {
		t.Fatalf("deadline = %v, want null", payload["deadline"])
	}
	projectID, _ := payload["id"].(string)

	resp, payload = env.request(t, http.MethodPut, "/api/projects/"+projectID, access, map[string]any{
		"deadline": "2026-10-01",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update status = %d, payload %v", resp.StatusCode, payload)
	}
	deadline, _ := payload["deadline"].(string)
	if !strings.HasPrefix(deadline, "2026-10-01") {
		t.Fatalf("deadline = %v", payload["deadline"])
	}

	// A provided empty deadline clears it.
	resp, payload = env.request(t, http.MethodPut, "/api/projects/"+projectID, access, map[string]any{
		"deadline": "",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("clear status = %d, payload %v", resp.StatusCode, payload)
	}
	if payload["deadline"] != nil {
		t.Fatalf("deadline after clear = %v, want null", payload["deadline"])
	}

	resp, payload = env.request(t, http.MethodPut, "/api/projects/"+projectID, access, map[string]any{
		"deadline": "next tuesday",
	})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("bad deadline status = %d, payload %v", resp.StatusCode, payload)
	}
}

func TestNotificationsRead(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	access, _ := env.signIn(t, "agent@example.com")

	resp, payload := env.request(t, http.MethodGet, "/api/session", access, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("session status = %d", resp.StatusCode)
	}
	userID, _ := payload["userId"].(string)

	env.store.mu.Lock()
	for i := 0; i < 3; i++ {
		env.store.notifications = append(env.store.notifications, store.Notification{
			ID:        fmt.Sprintf("ntf_%d", i),
			UserID:    userID,
			Message:   "something happened",
			Href:      "/tickets/tkt_1",
			CreatedAt: time.Now(),
		})
	}
	env.store.mu.Unlock()

	resp, payload = env.request(t, http.MethodGet, "/api/notifications", access, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d", resp.StatusCode)
	}
	notifications, _ := payload["notifications"].([]any)
	if len(notifications) != 3 {
		t.Fatalf("notifications = %d, want 3", len(notifications))
	}

	resp, _ = env.request(t, http.MethodPost, "/api/notifications/ntf_0/read", access, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("mark read status = %d", resp.StatusCode)
	}
	resp, _ = env.request(t, http.MethodPost, "/api/notifications/read-all", access, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("read-all status = %d", resp.StatusCode)
	}

	env.store.mu.Lock()
	defer env.store.mu.Unlock()
	for _, n := range env.store.notifications {
		if !n.IsRead {
			t.Fatalf("notification %s still unread after read-all", n.ID)
		}
	}
}

func TestDashboardCounts(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	access, _ := env.signIn(t, "agent@example.com")

	for _, status := range []string{"new", "pending", "closed", "terminated"} {
		env.request(t, http.MethodPost, "/api/tickets", access, map[string]any{
			"title":  "Ticket " + status,
			"status": status,
		})
	}
	env.request(t, http.MethodPost, "/api/projects", access, map[string]any{
		"name":   "Live project",
		"status": "active",
	})

	resp, payload := env.request(t, http.MethodGet, "/api/dashboard", access, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("dashboard status = %d, payload %v", resp.StatusCode, payload)
	}
	// Closed and terminated tickets do not count as open.
	if got := payload["openTickets"].(float64); got != 2 {
		t.Fatalf("openTickets = %v, want 2", got)
	}
	if got := payload["activeProjects"].(float64); got != 1 {
		t.Fatalf("activeProjects = %v, want 1", got)
	}
	if got := payload["ticketsToday"].(float64); got != 4 {
		t.Fatalf("ticketsToday = %v, want 4", got)
	}
}

func TestSearchEndpoint(t *testing.T) {
	fsearch := &fakeSearch{response: search.Response{
		Results: []search.Result{{Type: search.ResultTicket, ID: "tkt_1", Title: "Printer on fire"}},
		Total:   1,
	}}
	env := newTestEnv(t, envOptions{search: fsearch})
	access, _ := env.signIn(t, "agent@example.com")

	resp, payload := env.request(t, http.MethodGet, "/api/search?q=printer", access, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("search status = %d", resp.StatusCode)
	}
	if payload["query"] != "printer" {
		t.Fatalf("query = %v", payload["query"])
	}
	results, _ := payload["results"].([]any)
	if len(results) != 1 {
		t.Fatalf("results = %v", payload["results"])
	}
}

func TestSearchIndexingOnWrite(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	access, _ := env.signIn(t, "agent@example.com")

	resp, payload := env.request(t, http.MethodPost, "/api/tickets", access, map[string]any{
		"title": "Index me",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	ticketID, _ := payload["id"].(string)

	env.search.mu.Lock()
	defer env.search.mu.Unlock()
	found := false
	for _, id := range env.search.indexed {
		if id == ticketID {
			found = true
		}
	}
	if !found {
		t.Fatalf("ticket %s was not indexed, indexed = %v", ticketID, env.search.indexed)
	}
}

func TestAssistEndpoints(t *testing.T) {
	t.Run("unconfigured backend returns 503", func(t *testing.T) {
		env := newTestEnv(t, envOptions{})
		access, _ := env.signIn(t, "agent@example.com")

		resp, payload := env.request(t, http.MethodPost, "/api/assist/suggest-tags", access, map[string]any{
			"title": "Printer on fire",
		})
		if resp.StatusCode != http.StatusServiceUnavailable {
			t.Fatalf("status = %d, want 503, payload %v", resp.StatusCode, payload)
		}
		if payload["code"] != "ASSIST_UNAVAILABLE" {
			t.Fatalf("code = %v", payload["code"])
		}
	})

	t.Run("backend failure returns 502", func(t *testing.T) {
		env := newTestEnv(t, envOptions{assist: &fakeAssist{err: assist.ErrFailed}})
		access, _ := env.signIn(t, "agent@example.com")

		resp, payload := env.request(t, http.MethodPost, "/api/assist/suggest-tags", access, map[string]any{
			"title": "Printer on fire",
		})
		if resp.StatusCode != http.StatusBadGateway {
			t.Fatalf("status = %d, want 502, payload %v", resp.StatusCode, payload)
		}
		if payload["code"] != "ASSIST_FAILED" {
			t.Fatalf("code = %v", payload["code"])
		}
	})

	t.Run("suggest tags", func(t *testing.T) {
		env := newTestEnv(t, envOptions{assist: &fakeAssist{tags: []string{"hardware", "urgent"}}})
		access, _ := env.signIn(t, "agent@example.com")

		resp, payload := env.request(t, http.MethodPost, "/api/assist/suggest-tags", access, map[string]any{
			"title":       "Printer on fire",
			"description": "Smoke on floor 3",
		})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, payload %v", resp.StatusCode, payload)
		}
		tags, _ := payload["tags"].([]any)
		if len(tags) != 2 {
			t.Fatalf("tags = %v", payload["tags"])
		}
	})

	t.Run("ticket from email creates on the email channel", func(t *testing.T) {
		env := newTestEnv(t, envOptions{assist: &fakeAssist{draft: assist.TicketDraft{
			Title:        "Cannot log in",
			Description:  "Password rejected since yesterday",
			CustomerName: "Sam",
			Priority:     "high",
		}}})
		access, _ := env.signIn(t, "agent@example.com")

		resp, payload := env.request(t, http.MethodPost, "/api/assist/ticket-from-email", access, map[string]any{
			"email": "From: sam@example.com\nSubject: help\n\nI cannot log in.",
		})
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("status = %d, payload %v", resp.StatusCode, payload)
		}
		if payload["channel"] != "email" {
			t.Fatalf("channel = %v, want email", payload["channel"])
		}
		if payload["title"] != "Cannot log in" || payload["priority"] != "high" {
			t.Fatalf("draft not applied: %v", payload)
		}
	})
}

func TestSettings(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	access, _ := env.signIn(t, "agent@example.com")

	resp, payload := env.request(t, http.MethodGet, "/api/settings", access, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d, payload %v", resp.StatusCode, payload)
	}
	if payload["displayName"] != "Test Agent" {
		t.Fatalf("displayName = %v", payload["displayName"])
	}

	resp, payload = env.request(t, http.MethodPut, "/api/settings", access, map[string]any{
		"displayName": "Renamed Agent",
		"preferences": map[string]any{"theme": "dark", "emailNotifications": true},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update status = %d, payload %v", resp.StatusCode, payload)
	}
	if payload["displayName"] != "Renamed Agent" {
		t.Fatalf("displayName = %v", payload["displayName"])
	}
	prefs, _ := payload["preferences"].(map[string]any)
	if prefs["theme"] != "dark" {
		t.Fatalf("preferences = %v", payload["preferences"])
	}

	resp, payload = env.request(t, http.MethodGet, "/api/settings", access, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("reload status = %d", resp.StatusCode)
	}
	if payload["displayName"] != "Renamed Agent" {
		t.Fatalf("displayName after reload = %v", payload["displayName"])
	}
}

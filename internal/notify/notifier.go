// Package notify creates admin notifications for workspace events.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"experted/api/internal/store"
	"experted/api/internal/util"
)

// Event kinds.
const (
	KindNewTicket      = "new_ticket"
	KindStatusChange   = "status_change"
	KindNewReply       = "new_reply"
	KindTicketAssigned = "ticket_assigned"
	KindNewProject     = "new_project"
)

// Event describes something that happened in the workspace.
type Event struct {
	Kind    string
	Subject string // ticket title or project name
	Detail  string // extra context, e.g. "status changed from new to pending"
	Href    string // deep link into the app, e.g. /tickets/tkt_1
}

// notificationStore is the persistence the notifier needs.
type notificationStore interface {
	InsertNotification(ctx context.Context, n store.Notification) error
	GetUserByID(ctx context.Context, id string) (store.User, error)
}

// messageWriter turns an event description into an admin-facing sentence.
type messageWriter interface {
	AdminNotification(ctx context.Context, event string) (string, error)
}

// emailSender mirrors notifications to a mailbox.
type emailSender interface {
	IsConfigured() bool
	SendNotificationEmail(to, userName, message, linkURL string) error
}

// Notifier writes one unread notification per event to the admin user.
type Notifier struct {
	store       notificationStore
	writer      messageWriter
	email       emailSender
	adminUserID string
	baseURL     string
}

func NewNotifier(st notificationStore, writer messageWriter, email emailSender, adminUserID, baseURL string) *Notifier {
	return &Notifier{
		store:       st,
		writer:      writer,
		email:       email,
		adminUserID: adminUserID,
		baseURL:     baseURL,
	}
}

// NotifyAsync fires the notification in the background. Callers never
// block on or fail from notification delivery.
func (n *Notifier) NotifyAsync(ev Event) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := n.Notify(ctx, ev); err != nil {
			log.Printf("notify: %s event for %q: %v", ev.Kind, ev.Subject, err)
		}
	}()
}

// Notify writes exactly one unread notification for the event. The
// message comes from the generative writer when available and falls back
// to a plain rendering otherwise.
func (n *Notifier) Notify(ctx context.Context, ev Event) error {
	message := n.composeMessage(ctx, ev)

	notification := store.Notification{
		ID:        util.NewID("ntf"),
		UserID:    n.adminUserID,
		Message:   message,
		Href:      ev.Href,
		IsRead:    false,
		CreatedAt: time.Now(),
	}
	if err := n.store.InsertNotification(ctx, notification); err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}

	n.maybeEmail(ctx, message, ev.Href)
	return nil
}

func (n *Notifier) composeMessage(ctx context.Context, ev Event) string {
	fallback := fallbackMessage(ev)
	if n.writer == nil {
		return fallback
	}

	desc := fmt.Sprintf("%s: %q", ev.Kind, ev.Subject)
	if ev.Detail != "" {
		desc += " (" + ev.Detail + ")"
	}
	message, err := n.writer.AdminNotification(ctx, desc)
	if err != nil {
		log.Printf("notify: generated message unavailable, using fallback: %v", err)
		return fallback
	}
	return message
}

func fallbackMessage(ev Event) string {
	switch ev.Kind {
	case KindNewTicket:
		return fmt.Sprintf("New ticket received: %q.", ev.Subject)
	case KindStatusChange:
		return fmt.Sprintf("Ticket %q %s.", ev.Subject, ev.Detail)
	case KindNewReply:
		return fmt.Sprintf("New reply on ticket %q.", ev.Subject)
	case KindTicketAssigned:
		return fmt.Sprintf("Ticket %q %s.", ev.Subject, ev.Detail)
	case KindNewProject:
		return fmt.Sprintf("New project created: %q.", ev.Subject)
	default:
		return fmt.Sprintf("Activity on %q.", ev.Subject)
	}
}

// maybeEmail mirrors the notification to the admin's mailbox when their
// preferences opt in and SMTP is configured.
func (n *Notifier) maybeEmail(ctx context.Context, message, href string) {
	if n.email == nil || !n.email.IsConfigured() {
		return
	}

	admin, err := n.store.GetUserByID(ctx, n.adminUserID)
	if err != nil {
		log.Printf("notify: load admin user: %v", err)
		return
	}

	var prefs store.Preferences
	if admin.Preferences != "" {
		if err := json.Unmarshal([]byte(admin.Preferences), &prefs); err != nil {
			log.Printf("notify: decode admin preferences: %v", err)
			return
		}
	}
	if !prefs.EmailNotifications {
		return
	}

	link := ""
	if href != "" {
		link = n.baseURL + href
	}
	if err := n.email.SendNotificationEmail(admin.Email, admin.DisplayName, message, link); err != nil {
		log.Printf("notify: send email: %v", err)
	}
}

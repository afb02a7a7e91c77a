// Package status validates the status tokens used to scope ticket and
// project listings. All route handlers go through ParseTicketFilter /
// ParseProjectFilter so the enum check lives in exactly one place.
package status

import (
	"errors"
	"fmt"
	"strings"
)

// All is the sentinel token meaning "no status predicate".
const All = "all"

var ErrInvalidToken = errors.New("invalid status token")

var ticketStatuses = map[string]struct{}{
	"new":        {},
	"pending":    {},
	"on-hold":    {},
	"closed":     {},
	"active":     {},
	"terminated": {},
}

var projectStatuses = map[string]struct{}{
	"new":       {},
	"active":    {},
	"on-hold":   {},
	"completed": {},
}

var ticketPriorities = map[string]struct{}{
	"low":    {},
	"medium": {},
	"high":   {},
	"urgent": {},
}

var ticketChannels = map[string]struct{}{
	"email":        {},
	"sms":          {},
	"social-media": {},
	"web-form":     {},
	"manual":       {},
}

// Filter is a resolved status token. Predicate is empty for the "all"
// sentinel, otherwise the equality value the store should filter on.
type Filter struct {
	Token     string
	Predicate string
}

func parseFilter(token string, allowed map[string]struct{}, kind string) (Filter, error) {
	normalized := strings.ToLower(strings.TrimSpace(token))
	if normalized == All {
		return Filter{Token: All}, nil
	}
	if _, ok := allowed[normalized]; !ok {
		return Filter{}, fmt.Errorf("%w: %q is not a %s status", ErrInvalidToken, token, kind)
	}
	return Filter{Token: normalized, Predicate: normalized}, nil
}

// ParseTicketFilter resolves a ticket listing token ("all", "new",
// "pending", "on-hold", "closed", "active", "terminated").
func ParseTicketFilter(token string) (Filter, error) {
	return parseFilter(token, ticketStatuses, "ticket")
}

// ParseProjectFilter resolves a project listing token ("all", "new",
// "active", "on-hold", "completed").
func ParseProjectFilter(token string) (Filter, error) {
	return parseFilter(token, projectStatuses, "project")
}

// ValidTicketStatus reports whether value is a persistable ticket status.
// The "all" sentinel is a listing token, not a status, and is rejected here.
func ValidTicketStatus(value string) bool {
	_, ok := ticketStatuses[value]
	return ok
}

func ValidProjectStatus(value string) bool {
	_, ok := projectStatuses[value]
	return ok
}

func ValidPriority(value string) bool {
	_, ok := ticketPriorities[value]
	return ok
}

func ValidChannel(value string) bool {
	_, ok := ticketChannels[value]
	return ok
}

// TicketOpen reports whether a ticket status counts as open for
// dashboard purposes.
func TicketOpen(value string) bool {
	return value != "closed" && value != "terminated"
}

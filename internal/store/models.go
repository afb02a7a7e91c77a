package store

import "time"

type User struct {
	ID                    string
	DisplayName           string
	Email                 string
	PasswordHash          string
	Role                  string
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	Preferences           string // JSON preference bag
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Preferences is the decoded user preference bag. Unset fields keep
// their zero values; the front end fills in its own defaults.
type Preferences struct {
	AvatarURL          string `json:"avatarUrl,omitempty"`
	FontSize           string `json:"fontSize,omitempty"`
	Theme              string `json:"theme,omitempty"`
	DarkMode           bool   `json:"darkMode,omitempty"`
	EmailNotifications bool   `json:"emailNotifications,omitempty"`
}

type Ticket struct {
	ID            string
	Title         string
	Description   string
	CustomerName  string
	CustomerEmail string
	Status        string
	Priority      string
	Channel       string
	Tags          []string
	AssignedTo    string
	UserID        string
	// Replies is a JSON-encoded ordered list of Reply records. The
	// document keeps the raw string; callers decode when they need the
	// structured form.
	Replies   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Reply is one entry in a ticket's reply list.
type Reply struct {
	ID        string `json:"id"`
	UserID    string `json:"userId"`
	UserName  string `json:"userName"`
	Content   string `json:"content"`
	CreatedAt string `json:"createdAt"`
}

type Project struct {
	ID          string
	Name        string
	Description string
	Status      string
	Deadline    *time.Time // nil means no deadline, distinct from zero time
	TeamMembers []string
	UserID      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Notification struct {
	ID        string
	UserID    string
	Message   string
	Href      string
	IsRead    bool
	CreatedAt time.Time
}

// StatusCount is one slice of a by-status breakdown.
type StatusCount struct {
	Status string
	Count  int
}

// MonthCount is one month of created-volume history.
type MonthCount struct {
	Month string // YYYY-MM
	Count int
}

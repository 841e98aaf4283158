// Package model defines the plain data records shared across the CloakTalk
// backend: users, organizations, chats, messages, and waiting-list entries.
// Records are returned by explicit repository calls; no field access triggers
// hidden I/O.
package model

import "time"

// Message types persisted in the message store.
const (
	MessageTypeText   = "text"
	MessageTypeSystem = "system"
)

// System message contents written by the session manager on chat
// transitions. These are part of the observable product surface.
const (
	ChatStartedMessage = "Chat started! You can now send messages anonymously."
	ChatEndedMessage   = "Chat has ended. Thank you for using CloakTalk!"
)

// User is the identity record supplied by the accounts collaborator.
// ServiceAccount users are not bound to a single organization and may be
// paired across organizations.
type User struct {
	ID             string
	OrganizationID *string // nil for service accounts without a home org
	ServiceAccount bool
	DisplayName    string
	CreatedAt      time.Time
}

// Organization is the read-only org record (a "college"). The daily access
// window is enforced by a collaborator before queue operations are permitted;
// the core only reports it in access snapshots.
type Organization struct {
	ID          string
	Name        string
	Active      bool
	WindowStart DayTime
	WindowEnd   DayTime
}

// WindowOpen reports whether the instant t falls inside the organization's
// daily window [start, end). Windows may cross midnight.
func (o *Organization) WindowOpen(t time.Time) bool {
	now := DayTimeOf(t)
	if o.WindowStart.Before(o.WindowEnd) {
		return !now.Before(o.WindowStart) && now.Before(o.WindowEnd)
	}
	// Window wraps past midnight, e.g. 22:00–02:00.
	return !now.Before(o.WindowStart) || now.Before(o.WindowEnd)
}

// Chat is a 1:1 session between two participants. OrganizationID is nil for
// chats between two service accounts. A user participates in at most one
// active chat at a time.
type Chat struct {
	ID             string
	OrganizationID *string
	Participant1   string
	Participant2   string
	CreatedAt      time.Time
	Active         bool
}

// IsParticipant reports whether userID is one of the two chat participants.
func (c *Chat) IsParticipant(userID string) bool {
	return userID == c.Participant1 || userID == c.Participant2
}

// Peer returns the other participant's user ID, or "" if userID is not a
// participant.
func (c *Chat) Peer(userID string) string {
	switch userID {
	case c.Participant1:
		return c.Participant2
	case c.Participant2:
		return c.Participant1
	}
	return ""
}

// Message is one append-only chat message. SenderID is nil for
// system-authored messages.
type Message struct {
	ID        string
	ChatID    string
	SenderID  *string
	Content   string
	Type      string
	CreatedAt time.Time
	Read      bool
}

// WaitingEntry is one row of the waiting list: a user queued under a scope.
// User fields needed by the matcher are denormalized onto the entry so the
// matcher never reaches back into the store for identity data.
type WaitingEntry struct {
	UserID         string
	OrganizationID *string // nil only for service accounts
	ServiceAccount bool
	CreatedAt      time.Time
}

// QueueStats summarizes a scope's waiting pool for activity broadcasts.
type QueueStats struct {
	TotalWaiting     int
	FreshUsers       int
	ExperiencedUsers int
	ReadyForMatching bool
}

package domain

import "strings"

// MemberStatus mirrors the platform-reported membership status of a user.
type MemberStatus string

const (
	StatusOwner         MemberStatus = "creator"
	StatusAdministrator MemberStatus = "administrator"
	StatusMember        MemberStatus = "member"
	StatusRestricted    MemberStatus = "restricted"
	StatusLeft          MemberStatus = "left"
	StatusKicked        MemberStatus = "kicked"
)

// IsAdmin reports whether the status grants moderation rights.
func (s MemberStatus) IsAdmin() bool {
	return s == StatusOwner || s == StatusAdministrator
}

// Present reports whether a member with this status is still in the chat.
func (s MemberStatus) Present() bool {
	return s != StatusLeft && s != StatusKicked
}

// Member is a chat member as reported by the platform. It is used transiently
// and never persisted outside the roster.
type Member struct {
	UserID    int64        `bson:"user_id" json:"user_id"`
	Username  string       `bson:"username,omitempty" json:"username,omitempty"`
	FirstName string       `bson:"first_name,omitempty" json:"first_name,omitempty"`
	LastName  string       `bson:"last_name,omitempty" json:"last_name,omitempty"`
	IsBot     bool         `bson:"is_bot" json:"is_bot"`
	Status    MemberStatus `bson:"status" json:"status"`
}

// FullName joins first and last name the way Telegram clients display them.
func (m Member) FullName() string {
	return strings.TrimSpace(m.FirstName + " " + m.LastName)
}

// DisplayName prefers @username, then the full name, then the numeric id.
func (m Member) DisplayName() string {
	if m.Username != "" {
		return "@" + m.Username
	}
	if name := m.FullName(); name != "" {
		return name
	}
	return formatID(m.UserID)
}

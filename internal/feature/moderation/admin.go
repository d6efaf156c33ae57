// Package moderation implements admin-only commands against single members.
package moderation

import (
	"context"

	"github.com/sirupsen/logrus"

	"tg_group_guard_bot/internal/domain"
	"tg_group_guard_bot/internal/logging"
)

// MemberLookup resolves a user's membership in a chat.
type MemberLookup interface {
	GetMember(ctx context.Context, chatID, userID int64) (domain.Member, error)
}

// AdminChecker answers whether a user administers a group.
type AdminChecker struct {
	members MemberLookup
	logger  *logrus.Entry
}

// NewAdminChecker constructs an AdminChecker.
func NewAdminChecker(members MemberLookup, logger *logrus.Entry) *AdminChecker {
	if logger == nil {
		logger = logging.Logger()
	}

	return &AdminChecker{
		members: members,
		logger:  logger,
	}
}

// IsAdmin reports whether userID is the creator or an administrator of chatID.
// Lookup failures count as not admin.
func (a *AdminChecker) IsAdmin(ctx context.Context, chatID, userID int64) bool {
	if a == nil || a.members == nil || chatID == 0 || userID == 0 {
		return false
	}

	member, err := a.members.GetMember(ctx, chatID, userID)
	if err != nil {
		a.logger.WithFields(logging.Fields{
			"event":   "admin_check_error",
			"chat_id": chatID,
			"user_id": userID,
		}).WithError(err).Warn("admin lookup failed, treating as non-admin")
		return false
	}

	return member.Status.IsAdmin()
}

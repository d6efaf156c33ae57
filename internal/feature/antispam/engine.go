package antispam

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"tg_group_guard_bot/internal/domain"
	"tg_group_guard_bot/internal/logging"
)

const excerptLength = 100

// Action names reported by Evaluate and counted in metrics.
const (
	ActionNone    = "none"
	ActionDeleted = "message deleted"
	ActionBanned  = "banned"
)

// Platform is the set of chat calls the engine makes.
type Platform interface {
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
	BanMember(ctx context.Context, chatID, userID int64, until time.Time) error
	SendMessage(ctx context.Context, chatID int64, text string) (int, error)
}

// PolicyReader resolves a group's anti-spam policy.
type PolicyReader interface {
	Get(ctx context.Context, groupID int64) (domain.AntiSpamSettings, error)
}

// Message is one inbound text message.
type Message struct {
	ChatID    int64
	Private   bool
	MessageID int
	Author    domain.Member
	Text      string
}

// Engine applies the anti-spam policy to inbound messages.
type Engine struct {
	policies PolicyReader
	matcher  *Matcher
	platform Platform
	logger   *logrus.Entry
}

// NewEngine constructs an Engine. A nil matcher uses DefaultTriggers.
func NewEngine(policies PolicyReader, matcher *Matcher, platform Platform, logger *logrus.Entry) *Engine {
	if logger == nil {
		logger = logging.Logger()
	}
	if matcher == nil {
		matcher = NewMatcher(DefaultTriggers)
	}

	return &Engine{
		policies: policies,
		matcher:  matcher,
		platform: platform,
		logger:   logger,
	}
}

// Evaluate checks msg and, when it is spam in a group with an active policy,
// deletes it, bans the author if configured, and posts a notice. Failures are
// logged and never returned. The action taken is reported.
func (e *Engine) Evaluate(ctx context.Context, msg Message) string {
	if e == nil || e.policies == nil || e.platform == nil || msg.Private || msg.ChatID == 0 {
		return ActionNone
	}

	settings, err := e.policies.Get(ctx, msg.ChatID)
	if err != nil {
		e.fail("policy", msg, err)
		return ActionNone
	}
	if !settings.Active || !e.matcher.Match(msg.Text) {
		return ActionNone
	}

	logger := logging.Scoped(e.logger, logging.Scope{
		ChatID:   msg.ChatID,
		TargetID: msg.Author.UserID,
	})
	logger.WithField("event", "antispam_triggered").Info("spam trigger matched")

	if err := e.platform.DeleteMessage(ctx, msg.ChatID, msg.MessageID); err != nil {
		e.fail("delete", msg, err)
	}

	action := ActionDeleted
	if settings.BanInsteadOfDelete {
		if err := e.platform.BanMember(ctx, msg.ChatID, msg.Author.UserID, time.Time{}); err != nil {
			e.fail("ban", msg, err)
		} else {
			action = ActionBanned
		}
	}
	actionsTotal.WithLabelValues(action).Inc()

	if _, err := e.platform.SendMessage(ctx, msg.ChatID, Notice(msg.Author, action, msg.Text)); err != nil {
		e.fail("notify", msg, err)
	}

	logger.WithFields(logging.Fields{
		"event":  "antispam_action",
		"action": action,
	}).Info("anti-spam action taken")

	return action
}

// Notice formats the admin-visible report of an anti-spam action.
func Notice(author domain.Member, action, content string) string {
	return fmt.Sprintf("Anti-Spam Action:\nUser: %s\nAction: %s\nContent: %s...",
		author.DisplayName(), action, excerpt(content, excerptLength))
}

func excerpt(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}

func (e *Engine) fail(op string, msg Message, err error) {
	errorsTotal.WithLabelValues(op).Inc()
	e.logger.WithFields(logging.Fields{
		"event":   "antispam_error",
		"op":      op,
		"chat_id": msg.ChatID,
		"user_id": msg.Author.UserID,
	}).WithError(err).Warn("anti-spam step failed")
}

package moderation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"tg_group_guard_bot/internal/domain"
	"tg_group_guard_bot/internal/logging"
)

// KickDuration is how long a kick's temporary ban lasts.
const KickDuration = 60 * time.Second

const (
	banUsage      = "/ban <user_id> or reply with /ban"
	kickUsage     = "/kick <user_id> or reply with /kick"
	unmuteUsage   = "/unmute <user_id> or reply with /unmute"
	warnUsage     = "/warn <user_id> or reply with /warn"
	userinfoUsage = "/userinfo <@username|user_id> or reply with /userinfo"
)

// Platform is the set of chat calls moderation commands make.
type Platform interface {
	MemberLookup
	BanMember(ctx context.Context, chatID, userID int64, until time.Time) error
	RestrictMember(ctx context.Context, chatID, userID int64, permissions domain.Permissions, until time.Time) error
}

// PolicyReader supplies the warning threshold.
type PolicyReader interface {
	Get(ctx context.Context, groupID int64) (domain.AntiSpamSettings, error)
}

// UsernameLookup finds members by username.
type UsernameLookup interface {
	FindByUsername(ctx context.Context, chatID int64, username string) (domain.Member, error)
}

type warningCollection interface {
	FindOneAndUpdate(ctx context.Context, filter interface{}, update interface{}, opts ...*options.FindOneAndUpdateOptions) *mongo.SingleResult
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
}

// Request is one invocation of a moderation command.
type Request struct {
	ChatID  int64
	ActorID int64
	Args    []string
	// ReplyTo is the author of the message the command replied to, if any.
	ReplyTo *domain.Member
}

// Service runs moderation commands. Every command requires the actor to be a
// group admin and returns the reply text for the actor.
type Service struct {
	platform  Platform
	admins    *AdminChecker
	warnings  warningCollection
	policies  PolicyReader
	usernames UsernameLookup
	now       func() time.Time
	logger    *logrus.Entry
}

// NewService constructs a Service.
func NewService(platform Platform, admins *AdminChecker, warnings warningCollection, policies PolicyReader, usernames UsernameLookup, logger *logrus.Entry) *Service {
	if logger == nil {
		logger = logging.Logger()
	}

	return &Service{
		platform:  platform,
		admins:    admins,
		warnings:  warnings,
		policies:  policies,
		usernames: usernames,
		now:       time.Now,
		logger:    logger,
	}
}

// Ban permanently bans the target.
func (s *Service) Ban(ctx context.Context, req Request) (string, error) {
	return s.run(ctx, "ban", req, func() (string, error) {
		target, _, err := resolveTarget(req, banUsage)
		if err != nil {
			return "", err
		}
		if err := s.platform.BanMember(ctx, req.ChatID, target, time.Time{}); err != nil {
			return "", domain.WrapPlatform("ban_member", err)
		}
		return fmt.Sprintf("Banned user: %d", target), nil
	})
}

// Kick removes the target with a ban that lifts after KickDuration.
func (s *Service) Kick(ctx context.Context, req Request) (string, error) {
	return s.run(ctx, "kick", req, func() (string, error) {
		target, _, err := resolveTarget(req, kickUsage)
		if err != nil {
			return "", err
		}
		if err := s.platform.BanMember(ctx, req.ChatID, target, s.now().Add(KickDuration)); err != nil {
			return "", domain.WrapPlatform("ban_member", err)
		}
		return fmt.Sprintf("Kicked user: %d", target), nil
	})
}

// Mute revokes sending for the target, permanently or for an optional
// duration.
func (s *Service) Mute(ctx context.Context, req Request) (string, error) {
	return s.run(ctx, "mute", req, func() (string, error) {
		target, rest, err := resolveTarget(req, muteUsage)
		if err != nil {
			return "", err
		}

		var (
			until    time.Time
			duration time.Duration
		)
		if len(rest) > 0 {
			duration, err = ParseDuration(rest[0])
			if err != nil {
				return "", err
			}
			until = s.now().Add(duration)
		}

		if err := s.platform.RestrictMember(ctx, req.ChatID, target, domain.MutedPermissions(), until); err != nil {
			return "", domain.WrapPlatform("restrict_member", err)
		}

		if duration > 0 {
			return fmt.Sprintf("Muted user %d for %s", target, rest[0]), nil
		}
		return fmt.Sprintf("Permanently muted user %d", target), nil
	})
}

// Unmute restores the default permissions of the target.
func (s *Service) Unmute(ctx context.Context, req Request) (string, error) {
	return s.run(ctx, "unmute", req, func() (string, error) {
		target, _, err := resolveTarget(req, unmuteUsage)
		if err != nil {
			return "", err
		}
		if err := s.platform.RestrictMember(ctx, req.ChatID, target, domain.DefaultPermissions(), time.Time{}); err != nil {
			return "", domain.WrapPlatform("restrict_member", err)
		}
		return fmt.Sprintf("Unmuted user: %d", target), nil
	})
}

// Warn records a warning. Reaching the group's threshold bans the target and
// resets the count.
func (s *Service) Warn(ctx context.Context, req Request) (string, error) {
	return s.run(ctx, "warn", req, func() (string, error) {
		target, _, err := resolveTarget(req, warnUsage)
		if err != nil {
			return "", err
		}

		count, err := s.addWarning(ctx, req.ChatID, target)
		if err != nil {
			return "", err
		}

		threshold := s.threshold(ctx, req.ChatID)
		if count < threshold {
			return fmt.Sprintf("Warned user %d (%d/%d)", target, count, threshold), nil
		}

		if err := s.platform.BanMember(ctx, req.ChatID, target, time.Time{}); err != nil {
			return "", domain.WrapPlatform("ban_member", err)
		}
		if err := s.resetWarnings(ctx, req.ChatID, target); err != nil {
			s.logger.WithFields(logging.Fields{
				"event":   "warnings_reset_error",
				"chat_id": req.ChatID,
				"user_id": target,
			}).WithError(err).Warn("failed to reset warnings after ban")
		}

		return fmt.Sprintf("User %d reached %d warnings and was banned", target, threshold), nil
	})
}

// UserInfo describes the target, resolved from a reply, a numeric id, or a
// username seen in the group.
func (s *Service) UserInfo(ctx context.Context, req Request) (string, error) {
	return s.run(ctx, "userinfo", req, func() (string, error) {
		member, err := s.lookup(ctx, req)
		if err != nil {
			return "", err
		}

		username := "-"
		if member.Username != "" {
			username = "@" + member.Username
		}
		name := member.FullName()
		if name == "" {
			name = "-"
		}

		return fmt.Sprintf("User Info\nName: %s\nUsername: %s\nID: %d\n\nTip: use /ban %d",
			name, username, member.UserID, member.UserID), nil
	})
}

func (s *Service) run(ctx context.Context, command string, req Request, fn func() (string, error)) (string, error) {
	if s == nil || s.platform == nil || s.admins == nil {
		return "", errors.New("moderation service is not initialized")
	}
	if ctx == nil {
		return "", errors.New("context is required")
	}

	logger := logging.Scoped(s.logger, logging.Scope{
		ChatID:  req.ChatID,
		UserID:  req.ActorID,
		Command: command,
	})

	if !s.admins.IsAdmin(ctx, req.ChatID, req.ActorID) {
		commandsTotal.WithLabelValues(command, "denied").Inc()
		logger.WithField("event", "moderation_denied").Info("non-admin invoked moderation command")
		return "", domain.ErrNotAdmin
	}

	reply, err := fn()
	var usageErr *domain.UsageError
	switch {
	case err == nil:
		commandsTotal.WithLabelValues(command, "ok").Inc()
		logger.WithField("event", "moderation_applied").Info("moderation command applied")
	case errors.As(err, &usageErr), errors.Is(err, domain.ErrNotFound):
		commandsTotal.WithLabelValues(command, "usage").Inc()
	default:
		commandsTotal.WithLabelValues(command, "failed").Inc()
		logger.WithField("event", "moderation_failed").WithError(err).Warn("moderation command failed")
	}

	return reply, err
}

func (s *Service) lookup(ctx context.Context, req Request) (domain.Member, error) {
	if req.ReplyTo != nil {
		return *req.ReplyTo, nil
	}
	if len(req.Args) == 0 {
		return domain.Member{}, domain.NewUsageError(userinfoUsage, "a user is required")
	}

	mention := strings.TrimPrefix(strings.TrimSpace(req.Args[0]), "@")
	if id, err := strconv.ParseInt(mention, 10, 64); err == nil && id > 0 {
		member, err := s.platform.GetMember(ctx, req.ChatID, id)
		if err != nil {
			return domain.Member{}, domain.ErrNotFound
		}
		return member, nil
	}

	if s.usernames == nil {
		return domain.Member{}, domain.ErrNotFound
	}
	member, err := s.usernames.FindByUsername(ctx, req.ChatID, mention)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.WithFields(logging.Fields{
				"event":   "userinfo_lookup_error",
				"chat_id": req.ChatID,
			}).WithError(err).Warn("username lookup failed")
		}
		return domain.Member{}, domain.ErrNotFound
	}
	return member, nil
}

func (s *Service) addWarning(ctx context.Context, chatID, userID int64) (int, error) {
	if s.warnings == nil {
		return 0, errors.New("warnings collection is not configured")
	}

	result := s.warnings.FindOneAndUpdate(ctx,
		bson.M{"chat_id": chatID, "user_id": userID},
		bson.M{
			"$inc": bson.M{"count": 1},
			"$set": bson.M{"updated_at": s.now().UTC().Truncate(time.Millisecond)},
			"$setOnInsert": bson.M{
				"chat_id": chatID,
				"user_id": userID,
			},
		},
		options.FindOneAndUpdate().
			SetUpsert(true).
			SetReturnDocument(options.After),
	)
	if result == nil {
		return 0, errors.New("record warning returned no result")
	}

	var doc struct {
		Count int `bson:"count"`
	}
	if err := result.Decode(&doc); err != nil {
		return 0, fmt.Errorf("record warning: %w", err)
	}

	return doc.Count, nil
}

func (s *Service) resetWarnings(ctx context.Context, chatID, userID int64) error {
	_, err := s.warnings.UpdateOne(ctx,
		bson.M{"chat_id": chatID, "user_id": userID},
		bson.M{"$set": bson.M{
			"count":      0,
			"updated_at": s.now().UTC().Truncate(time.Millisecond),
		}},
	)
	if err != nil {
		return fmt.Errorf("reset warnings: %w", err)
	}
	return nil
}

func (s *Service) threshold(ctx context.Context, chatID int64) int {
	if s.policies == nil {
		return domain.DefaultMaxWarnings
	}

	settings, err := s.policies.Get(ctx, chatID)
	if err != nil {
		s.logger.WithFields(logging.Fields{
			"event":   "warn_threshold_error",
			"chat_id": chatID,
		}).WithError(err).Warn("failed to read warning threshold, using default")
		return domain.DefaultMaxWarnings
	}
	return settings.WarningThreshold()
}

// resolveTarget takes the target from the first argument, or from the replied
// message when no numeric argument is given. The remaining arguments are
// returned.
func resolveTarget(req Request, usage string) (int64, []string, error) {
	if len(req.Args) > 0 {
		id, err := strconv.ParseInt(req.Args[0], 10, 64)
		switch {
		case err == nil && id > 0:
			return id, req.Args[1:], nil
		case req.ReplyTo == nil:
			return 0, nil, domain.NewUsageError(usage, "user id must be a positive integer")
		}
	}

	if req.ReplyTo != nil && req.ReplyTo.UserID != 0 {
		return req.ReplyTo.UserID, req.Args, nil
	}

	return 0, nil, domain.NewUsageError(usage, "a user id or a reply is required")
}

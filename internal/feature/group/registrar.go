// Package group provides helpers for registering and tracking group chats.
package group

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"tg_group_guard_bot/internal/domain"
	"tg_group_guard_bot/internal/logging"
)

type groupCollection interface {
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) *mongo.SingleResult
}

// TemplateApplier seeds a newly tracked group with the default feature set.
type TemplateApplier interface {
	ApplyTemplate(ctx context.Context, groupID int64) error
}

// ChatInfo is the part of the chat platform the registrar reads from.
type ChatInfo interface {
	GetMemberCount(ctx context.Context, chatID int64) (int, error)
	GetAdministrators(ctx context.Context, chatID int64) ([]domain.Member, error)
}

// Registrar ensures groups are persisted when the bot encounters them, seeds
// their feature flags on creation, and keeps ownership and the cached member
// count current. Groups are never deleted.
type Registrar struct {
	groups   groupCollection
	features TemplateApplier
	platform ChatInfo
	logger   *logrus.Entry

	mu       sync.Mutex
	unseeded map[int64]struct{}
}

// NewRegistrar constructs a Registrar for the provided groups collection.
func NewRegistrar(groups groupCollection, features TemplateApplier, platform ChatInfo, logger *logrus.Entry) *Registrar {
	if logger == nil {
		logger = logging.Logger()
	}

	return &Registrar{
		groups:   groups,
		features: features,
		platform: platform,
		logger:   logger,
		unseeded: make(map[int64]struct{}),
	}
}

// Observe records an interaction in a group. The first interaction creates
// the record and copies the default features into it. A copy that failed is
// retried on the next interaction. It reports whether the group was created,
// also when seeding its features failed.
func (r *Registrar) Observe(ctx context.Context, chatID int64, title string) (bool, error) {
	if err := r.validate(ctx, chatID); err != nil {
		return false, err
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	setFields := bson.M{"last_seen_at": now}
	if t := strings.TrimSpace(title); t != "" {
		setFields["title"] = t
	}

	created, err := r.upsert(ctx, chatID, setFields, now)
	if err != nil {
		return false, err
	}

	if created || r.pendingSeed(chatID) {
		if err := r.seed(ctx, chatID); err != nil {
			return created, err
		}
	}

	return created, nil
}

// Refresh updates the group on /start: title, owner and cached member count.
// It also re-applies the default features, which only fills flags the group
// does not have yet. The owner is the platform-reported creator when the administrator list can
// be read, otherwise the invoking user.
func (r *Registrar) Refresh(ctx context.Context, chatID int64, title string, invokerID int64) (domain.Group, error) {
	if err := r.validate(ctx, chatID); err != nil {
		return domain.Group{}, err
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	group := domain.Group{
		ChatID:     chatID,
		Title:      strings.TrimSpace(title),
		OwnerID:    r.resolveOwner(ctx, chatID, invokerID),
		LastSeenAt: now,
	}

	setFields := bson.M{
		"owner_id":     group.OwnerID,
		"last_seen_at": now,
	}
	if group.Title != "" {
		setFields["title"] = group.Title
	}

	if r.platform != nil {
		count, err := r.platform.GetMemberCount(ctx, chatID)
		if err != nil {
			r.logger.WithFields(logging.Fields{
				"event":   "group_member_count_error",
				"chat_id": chatID,
			}).WithError(err).Warn("failed to refresh member count")
		} else {
			group.MemberCount = count
			setFields["member_count"] = count
		}
	}

	if _, err := r.upsert(ctx, chatID, setFields, now); err != nil {
		return domain.Group{}, err
	}

	if err := r.seed(ctx, chatID); err != nil {
		return group, err
	}

	return group, nil
}

// MemberCount returns the cached member count of a group. When nothing is
// cached yet it is fetched from the platform and stored.
func (r *Registrar) MemberCount(ctx context.Context, chatID int64) (int, error) {
	if err := r.validate(ctx, chatID); err != nil {
		return 0, err
	}

	var cached domain.Group
	result := r.groups.FindOne(ctx, bson.M{"chat_id": chatID})
	if result == nil {
		return 0, errors.New("find group returned no result")
	}
	switch err := result.Err(); {
	case err == nil:
		if err := result.Decode(&cached); err != nil {
			return 0, fmt.Errorf("decode group: %w", err)
		}
	case errors.Is(err, mongo.ErrNoDocuments):
	default:
		return 0, fmt.Errorf("find group: %w", err)
	}

	if cached.MemberCount > 0 {
		return cached.MemberCount, nil
	}

	if r.platform == nil {
		return 0, errors.New("member count is not cached and no platform is configured")
	}

	count, err := r.platform.GetMemberCount(ctx, chatID)
	if err != nil {
		return 0, domain.WrapPlatform("get_member_count", err)
	}

	if _, err := r.groups.UpdateOne(ctx,
		bson.M{"chat_id": chatID},
		bson.M{"$set": bson.M{"member_count": count}},
	); err != nil {
		r.logger.WithFields(logging.Fields{
			"event":   "group_member_count_cache_error",
			"chat_id": chatID,
		}).WithError(err).Warn("failed to cache member count")
	}

	return count, nil
}

func (r *Registrar) upsert(ctx context.Context, chatID int64, setFields bson.M, now time.Time) (bool, error) {
	update := bson.M{
		"$set": setFields,
		"$setOnInsert": bson.M{
			"chat_id":    chatID,
			"created_at": now,
		},
	}

	result, err := r.groups.UpdateOne(ctx,
		bson.M{"chat_id": chatID},
		update,
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return false, fmt.Errorf("ensure group: %w", err)
	}

	created := result != nil && result.UpsertedCount > 0
	if !created {
		r.logger.WithFields(logging.Fields{
			"event":   "group_seen",
			"chat_id": chatID,
		}).Debug("updated group last seen")
		return false, nil
	}

	r.logger.WithFields(logging.Fields{
		"event":   "group_registered",
		"chat_id": chatID,
		"title":   setFields["title"],
	}).Info("registered new group")

	return true, nil
}

// seed copies the default features into the group. Groups whose copy failed
// stay pending until a later copy succeeds.
func (r *Registrar) seed(ctx context.Context, chatID int64) error {
	if r.features == nil {
		return nil
	}

	err := r.features.ApplyTemplate(ctx, chatID)

	r.mu.Lock()
	if err != nil {
		r.unseeded[chatID] = struct{}{}
	} else {
		delete(r.unseeded, chatID)
	}
	r.mu.Unlock()

	if err != nil {
		r.logger.WithFields(logging.Fields{
			"event":   "group_seed_error",
			"chat_id": chatID,
		}).WithError(err).Warn("failed to seed group features, will retry")
		return fmt.Errorf("seed group features: %w", err)
	}

	return nil
}

func (r *Registrar) pendingSeed(chatID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.unseeded[chatID]
	return ok
}

func (r *Registrar) resolveOwner(ctx context.Context, chatID, invokerID int64) int64 {
	if r.platform == nil {
		return invokerID
	}

	admins, err := r.platform.GetAdministrators(ctx, chatID)
	if err != nil {
		r.logger.WithFields(logging.Fields{
			"event":   "group_owner_lookup_error",
			"chat_id": chatID,
		}).WithError(err).Warn("failed to resolve group owner, using invoker")
		return invokerID
	}

	for _, admin := range admins {
		if admin.Status == domain.StatusOwner {
			return admin.UserID
		}
	}

	return invokerID
}

func (r *Registrar) validate(ctx context.Context, chatID int64) error {
	if r == nil || r.groups == nil {
		return errors.New("group registrar is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}
	if chatID == 0 {
		return errors.New("chat id is required")
	}
	return nil
}

// Package roster keeps the observed member list of each group. Telegram bots
// cannot enumerate chat members, so bulk operations page through the members
// the bot has seen instead.
package roster

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"tg_group_guard_bot/internal/domain"
	"tg_group_guard_bot/internal/logging"
)

type memberCollection interface {
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) *mongo.SingleResult
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error)
}

// Roster persists members per (chat_id, user_id).
type Roster struct {
	members memberCollection
	logger  *logrus.Entry
}

// NewRoster constructs a Roster backed by the members collection.
func NewRoster(members memberCollection, logger *logrus.Entry) *Roster {
	if logger == nil {
		logger = logging.Logger()
	}

	return &Roster{
		members: members,
		logger:  logger,
	}
}

// Observe records a member seen in a group. An empty status keeps the stored
// one, and new rows default to member.
func (r *Roster) Observe(ctx context.Context, chatID int64, member domain.Member) error {
	if err := r.validate(ctx, chatID); err != nil {
		return err
	}
	if member.UserID == 0 {
		return errors.New("user id is required")
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	setFields := bson.M{
		"username":       member.Username,
		"username_lower": strings.ToLower(member.Username),
		"first_name":     member.FirstName,
		"last_name":      member.LastName,
		"is_bot":         member.IsBot,
		"last_seen_at":   now,
	}
	setOnInsert := bson.M{
		"chat_id": chatID,
		"user_id": member.UserID,
	}
	if member.Status != "" {
		setFields["status"] = member.Status
	} else {
		setOnInsert["status"] = domain.StatusMember
	}

	_, err := r.members.UpdateOne(ctx,
		bson.M{"chat_id": chatID, "user_id": member.UserID},
		bson.M{"$set": setFields, "$setOnInsert": setOnInsert},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("observe member: %w", err)
	}

	if member.Status != "" && !member.Status.Present() {
		r.logger.WithFields(logging.Fields{
			"event":   "member_departed",
			"chat_id": chatID,
			"user_id": member.UserID,
			"status":  member.Status,
		}).Debug("member no longer in group")
	}

	return nil
}

// Page returns up to limit present members ordered by user id, skipping the
// first offset.
func (r *Roster) Page(ctx context.Context, chatID int64, offset, limit int) ([]domain.Member, error) {
	if err := r.validate(ctx, chatID); err != nil {
		return nil, err
	}
	if offset < 0 || limit <= 0 {
		return nil, fmt.Errorf("invalid page offset=%d limit=%d", offset, limit)
	}

	cursor, err := r.members.Find(ctx,
		bson.M{
			"chat_id": chatID,
			"status":  bson.M{"$nin": bson.A{domain.StatusLeft, domain.StatusKicked}},
		},
		options.Find().
			SetSort(bson.D{{Key: "user_id", Value: 1}}).
			SetSkip(int64(offset)).
			SetLimit(int64(limit)),
	)
	if err != nil {
		return nil, fmt.Errorf("find members: %w", err)
	}
	defer cursor.Close(ctx)

	members := make([]domain.Member, 0, limit)
	if err := cursor.All(ctx, &members); err != nil {
		return nil, fmt.Errorf("decode members: %w", err)
	}

	return members, nil
}

// FindByUsername looks a member up by username, ignoring case and a leading @.
func (r *Roster) FindByUsername(ctx context.Context, chatID int64, username string) (domain.Member, error) {
	if err := r.validate(ctx, chatID); err != nil {
		return domain.Member{}, err
	}

	name := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(username), "@"))
	if name == "" {
		return domain.Member{}, errors.New("username is required")
	}

	result := r.members.FindOne(ctx, bson.M{"chat_id": chatID, "username_lower": name})
	if result == nil {
		return domain.Member{}, errors.New("find member returned no result")
	}
	if err := result.Err(); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.Member{}, domain.ErrNotFound
		}
		return domain.Member{}, fmt.Errorf("find member: %w", err)
	}

	var member domain.Member
	if err := result.Decode(&member); err != nil {
		return domain.Member{}, fmt.Errorf("decode member: %w", err)
	}

	return member, nil
}

func (r *Roster) validate(ctx context.Context, chatID int64) error {
	if r == nil || r.members == nil {
		return errors.New("roster is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}
	if chatID == 0 {
		return errors.New("chat id is required")
	}
	return nil
}

// Package antispam deletes or bans on messages that contain spam triggers in
// groups where the policy is active.
package antispam

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"tg_group_guard_bot/internal/domain"
	"tg_group_guard_bot/internal/logging"
)

type settingsCollection interface {
	FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) *mongo.SingleResult
	FindOneAndUpdate(ctx context.Context, filter interface{}, update interface{}, opts ...*options.FindOneAndUpdateOptions) *mongo.SingleResult
}

// SettingsStore reads and toggles the per-group anti-spam policy.
type SettingsStore struct {
	settings settingsCollection
	logger   *logrus.Entry
}

// NewSettingsStore constructs a SettingsStore.
func NewSettingsStore(settings settingsCollection, logger *logrus.Entry) *SettingsStore {
	if logger == nil {
		logger = logging.Logger()
	}

	return &SettingsStore{
		settings: settings,
		logger:   logger,
	}
}

// Get returns the group's policy. A missing row yields an inactive policy and
// no error.
func (s *SettingsStore) Get(ctx context.Context, groupID int64) (domain.AntiSpamSettings, error) {
	if err := s.validate(ctx, groupID); err != nil {
		return domain.AntiSpamSettings{}, err
	}

	disabled := domain.AntiSpamSettings{GroupID: groupID}

	result := s.settings.FindOne(ctx, bson.M{"group_id": groupID})
	if result == nil {
		return disabled, errors.New("find anti-spam settings returned no result")
	}
	if err := result.Err(); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return disabled, nil
		}
		return disabled, fmt.Errorf("find anti-spam settings: %w", err)
	}

	var settings domain.AntiSpamSettings
	if err := result.Decode(&settings); err != nil {
		return disabled, fmt.Errorf("decode anti-spam settings: %w", err)
	}

	return settings, nil
}

// Toggle flips is_active atomically and returns the stored policy. A group
// without a row becomes active with banning on and the default warning
// threshold.
func (s *SettingsStore) Toggle(ctx context.Context, groupID int64) (domain.AntiSpamSettings, error) {
	if err := s.validate(ctx, groupID); err != nil {
		return domain.AntiSpamSettings{}, err
	}

	flip := mongo.Pipeline{
		{{Key: "$set", Value: bson.D{
			{Key: "is_active", Value: bson.D{{Key: "$not", Value: bson.A{
				bson.D{{Key: "$ifNull", Value: bson.A{"$is_active", false}}},
			}}}},
			{Key: "ban_instead_of_delete", Value: bson.D{{Key: "$ifNull", Value: bson.A{"$ban_instead_of_delete", true}}}},
			{Key: "max_warnings", Value: bson.D{{Key: "$ifNull", Value: bson.A{"$max_warnings", domain.DefaultMaxWarnings}}}},
		}}},
	}

	result := s.settings.FindOneAndUpdate(ctx,
		bson.M{"group_id": groupID},
		flip,
		options.FindOneAndUpdate().
			SetUpsert(true).
			SetReturnDocument(options.After),
	)
	if result == nil {
		return domain.AntiSpamSettings{}, errors.New("toggle anti-spam returned no result")
	}

	var settings domain.AntiSpamSettings
	if err := result.Decode(&settings); err != nil {
		return domain.AntiSpamSettings{}, fmt.Errorf("toggle anti-spam: %w", err)
	}

	s.logger.WithFields(logging.Fields{
		"event":   "antispam_toggled",
		"chat_id": groupID,
		"active":  settings.Active,
	}).Info("toggled anti-spam policy")

	return settings, nil
}

func (s *SettingsStore) validate(ctx context.Context, groupID int64) error {
	if s == nil || s.settings == nil {
		return errors.New("anti-spam settings store is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}
	if groupID == 0 {
		return errors.New("group id is required")
	}
	return nil
}

// Package features stores per-group feature flags seeded from a default
// template.
package features

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"tg_group_guard_bot/internal/domain"
	"tg_group_guard_bot/internal/logging"
)

type featureCollection interface {
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error)
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	FindOneAndUpdate(ctx context.Context, filter interface{}, update interface{}, opts ...*options.FindOneAndUpdateOptions) *mongo.SingleResult
}

// DefaultTemplate returns the feature values every newly tracked group starts
// with.
func DefaultTemplate() domain.FeatureSet {
	return domain.FeatureSet{
		domain.FeatureWelcomeMessage: true,
		domain.FeatureAntiSpam:       true,
		domain.FeatureMuteNewMembers: false,
	}
}

type featureDoc struct {
	GroupID int64  `bson:"group_id"`
	Feature string `bson:"feature"`
	Active  bool   `bson:"active"`
}

// Store persists one document per (group_id, feature) pair, so updates to one
// flag never rewrite another.
type Store struct {
	features featureCollection
	template domain.FeatureSet
	logger   *logrus.Entry
}

// NewStore constructs a Store. A nil template selects DefaultTemplate.
func NewStore(features featureCollection, template domain.FeatureSet, logger *logrus.Entry) *Store {
	if logger == nil {
		logger = logging.Logger()
	}
	if template == nil {
		template = DefaultTemplate()
	}

	return &Store{
		features: features,
		template: template.Clone(),
		logger:   logger,
	}
}

// Template returns a copy of the template this store seeds groups with.
func (s *Store) Template() domain.FeatureSet {
	return s.template.Clone()
}

// Known reports whether feature is part of the template.
func (s *Store) Known(feature string) bool {
	_, ok := s.template[feature]
	return ok
}

// ApplyTemplate copies the template into the group's own rows. Existing rows
// are left untouched.
func (s *Store) ApplyTemplate(ctx context.Context, groupID int64) error {
	if err := s.validate(ctx, groupID); err != nil {
		return err
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	for _, feature := range s.templateNames() {
		_, err := s.features.UpdateOne(ctx,
			bson.M{"group_id": groupID, "feature": feature},
			bson.M{"$setOnInsert": bson.M{
				"group_id":   groupID,
				"feature":    feature,
				"active":     s.template[feature],
				"updated_at": now,
			}},
			options.Update().SetUpsert(true),
		)
		if err != nil {
			return fmt.Errorf("apply template feature %s: %w", feature, err)
		}
	}

	s.logger.WithFields(logging.Fields{
		"event":    "features_seeded",
		"chat_id":  groupID,
		"features": len(s.template),
	}).Debug("copied default features to group")

	return nil
}

// Get returns every template feature for the group. A group without any rows
// gets all template features inactive. A group with rows inherits flags added
// to the template after it was seeded. Read failures are logged and treated as
// a group without rows.
func (s *Store) Get(ctx context.Context, groupID int64) domain.FeatureSet {
	if s == nil {
		return domain.FeatureSet{}
	}

	stored, err := s.load(ctx, groupID)
	if err != nil {
		s.logger.WithFields(logging.Fields{
			"event":   "features_read_error",
			"chat_id": groupID,
		}).WithError(err).Warn("failed to read group features")
		stored = nil
	}

	if len(stored) == 0 {
		inactive := make(domain.FeatureSet, len(s.template))
		for name := range s.template {
			inactive[name] = false
		}
		return inactive
	}

	out := s.template.Clone()
	for name, active := range stored {
		out[name] = active
	}
	return out
}

// Set upserts a single flag.
func (s *Store) Set(ctx context.Context, groupID int64, feature string, active bool) error {
	if err := s.validateFeature(ctx, groupID, feature); err != nil {
		return err
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	_, err := s.features.UpdateOne(ctx,
		bson.M{"group_id": groupID, "feature": feature},
		bson.M{
			"$set": bson.M{
				"active":     active,
				"updated_at": now,
			},
			"$setOnInsert": bson.M{
				"group_id": groupID,
				"feature":  feature,
			},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("set feature %s: %w", feature, err)
	}

	return nil
}

// Toggle flips a flag in a single atomic update and returns the new value. A
// missing row becomes enabled.
func (s *Store) Toggle(ctx context.Context, groupID int64, feature string) (bool, error) {
	if err := s.validateFeature(ctx, groupID, feature); err != nil {
		return false, err
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	flip := mongo.Pipeline{
		{{Key: "$set", Value: bson.D{
			{Key: "active", Value: bson.D{{Key: "$not", Value: bson.A{
				bson.D{{Key: "$ifNull", Value: bson.A{"$active", false}}},
			}}}},
			{Key: "updated_at", Value: now},
		}}},
	}

	result := s.features.FindOneAndUpdate(ctx,
		bson.M{"group_id": groupID, "feature": feature},
		flip,
		options.FindOneAndUpdate().
			SetUpsert(true).
			SetReturnDocument(options.After),
	)
	if result == nil {
		return false, errors.New("toggle feature returned no result")
	}

	var doc featureDoc
	if err := result.Decode(&doc); err != nil {
		return false, fmt.Errorf("toggle feature %s: %w", feature, err)
	}

	s.logger.WithFields(logging.Fields{
		"event":   "feature_toggled",
		"chat_id": groupID,
		"feature": feature,
		"active":  doc.Active,
	}).Info("toggled group feature")

	return doc.Active, nil
}

func (s *Store) load(ctx context.Context, groupID int64) (map[string]bool, error) {
	if err := s.validate(ctx, groupID); err != nil {
		return nil, err
	}

	cursor, err := s.features.Find(ctx, bson.M{"group_id": groupID})
	if err != nil {
		return nil, fmt.Errorf("find features: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []featureDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode features: %w", err)
	}

	out := make(map[string]bool, len(docs))
	for _, doc := range docs {
		out[doc.Feature] = doc.Active
	}
	return out, nil
}

func (s *Store) templateNames() []string {
	names := make([]string, 0, len(s.template))
	for name := range s.template {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Store) validate(ctx context.Context, groupID int64) error {
	if s == nil || s.features == nil {
		return errors.New("feature store is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}
	if groupID == 0 {
		return errors.New("group id is required")
	}
	return nil
}

func (s *Store) validateFeature(ctx context.Context, groupID int64, feature string) error {
	if err := s.validate(ctx, groupID); err != nil {
		return err
	}
	if !s.Known(feature) {
		return domain.NewUsageError("feature must be one of: "+strings.Join(s.templateNames(), ", "), fmt.Sprintf("unknown feature %q", feature))
	}
	return nil
}


// Package store encapsulates MongoDB client management and collection helpers.
package store

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"tg_group_guard_bot/internal/config"
)

// Collection names used across the bot.
const (
	CollectionGroups   = "groups"
	CollectionFeatures = "group_features"
	CollectionAntiSpam = "anti_spam_settings"
	CollectionWarnings = "warnings"
	CollectionMembers  = "members"
)

// mongoClient captures the subset of mongo.Client behavior we rely on to allow
// lightweight stubbing in tests without a live Mongo deployment.
type mongoClient interface {
	Ping(context.Context, *readpref.ReadPref) error
	Database(string, ...*options.DatabaseOptions) *mongo.Database
	Disconnect(context.Context) error
}

// connectMongo is overridable for tests.
var connectMongo = func(ctx context.Context, opts *options.ClientOptions) (mongoClient, error) {
	return mongo.Connect(ctx, opts)
}

// createIndexes is overridable for tests.
var createIndexes = func(ctx context.Context, coll *mongo.Collection, models []mongo.IndexModel) ([]string, error) {
	return coll.Indexes().CreateMany(ctx, models)
}

// Manager owns a MongoDB client and the configured database handle.
type Manager struct {
	client mongoClient
	db     *mongo.Database
}

// NewManager initializes the Mongo client using the supplied configuration and
// verifies connectivity with a ping.
func NewManager(ctx context.Context, cfg config.Config) (*Manager, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}

	client, err := connectMongo(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	return &Manager{
		client: client,
		db:     client.Database(cfg.MongoDB),
	}, nil
}

// Database returns the configured database handle.
func (m *Manager) Database() *mongo.Database {
	return m.db
}

// Client returns the underlying mongo.Client when available. Tests using fakes
// may receive nil here.
func (m *Manager) Client() *mongo.Client {
	client, ok := m.client.(*mongo.Client)
	if !ok {
		return nil
	}
	return client
}

// Collection returns a collection handle for the given name.
func (m *Manager) Collection(name string) *mongo.Collection {
	return m.db.Collection(name)
}

// Groups returns the tracked groups collection handle.
func (m *Manager) Groups() *mongo.Collection {
	return m.Collection(CollectionGroups)
}

// Features returns the per-group feature flags collection handle.
func (m *Manager) Features() *mongo.Collection {
	return m.Collection(CollectionFeatures)
}

// AntiSpam returns the per-group anti-spam settings collection handle.
func (m *Manager) AntiSpam() *mongo.Collection {
	return m.Collection(CollectionAntiSpam)
}

// Warnings returns the per-member warning counters collection handle.
func (m *Manager) Warnings() *mongo.Collection {
	return m.Collection(CollectionWarnings)
}

// Members returns the observed member roster collection handle.
func (m *Manager) Members() *mongo.Collection {
	return m.Collection(CollectionMembers)
}

// Ping verifies connectivity against the primary.
func (m *Manager) Ping(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if m == nil || m.client == nil {
		return errors.New("store manager is not initialized")
	}

	if err := m.client.Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("ping mongo: %w", err)
	}

	return nil
}

type collectionIndexes struct {
	collection string
	models     []mongo.IndexModel
}

// baseIndexes lists the indexes every collection needs. Each keyed lookup the
// bot performs (group id, group+feature, group+user) is backed by a unique
// index so upserts stay single-document.
func baseIndexes() []collectionIndexes {
	return []collectionIndexes{
		{
			collection: CollectionGroups,
			models: []mongo.IndexModel{
				uniqueIndex("chat_id_unique", "chat_id"),
				{
					Keys:    bson.D{{Key: "owner_id", Value: 1}},
					Options: options.Index().SetName("owner_id"),
				},
			},
		},
		{
			collection: CollectionFeatures,
			models:     []mongo.IndexModel{uniqueIndex("group_feature_unique", "group_id", "feature")},
		},
		{
			collection: CollectionAntiSpam,
			models:     []mongo.IndexModel{uniqueIndex("group_id_unique", "group_id")},
		},
		{
			collection: CollectionWarnings,
			models:     []mongo.IndexModel{uniqueIndex("chat_user_unique", "chat_id", "user_id")},
		},
		{
			collection: CollectionMembers,
			models: []mongo.IndexModel{
				uniqueIndex("chat_user_unique", "chat_id", "user_id"),
				{
					Keys:    bson.D{{Key: "chat_id", Value: 1}, {Key: "username_lower", Value: 1}},
					Options: options.Index().SetName("chat_username"),
				},
			},
		},
	}
}

func uniqueIndex(name string, keys ...string) mongo.IndexModel {
	doc := make(bson.D, 0, len(keys))
	for _, key := range keys {
		doc = append(doc, bson.E{Key: key, Value: 1})
	}

	return mongo.IndexModel{
		Keys: doc,
		Options: options.Index().
			SetName(name).
			SetUnique(true),
	}
}

// EnsureBaseIndexes creates the indexes for every collection the bot uses.
// Collections are created implicitly if they do not already exist. It stops at
// the first failure.
func (m *Manager) EnsureBaseIndexes(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if m == nil || m.db == nil {
		return errors.New("store manager is not initialized")
	}

	for _, spec := range baseIndexes() {
		if _, err := createIndexes(ctx, m.Collection(spec.collection), spec.models); err != nil {
			return fmt.Errorf("create %s indexes: %w", spec.collection, err)
		}
	}

	return nil
}

// Close disconnects the Mongo client.
func (m *Manager) Close(ctx context.Context) error {
	if m == nil || m.client == nil {
		return nil
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	return m.client.Disconnect(ctx)
}

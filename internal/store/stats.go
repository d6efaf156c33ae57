package store

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type countCollection interface {
	CountDocuments(ctx context.Context, filter interface{}, opts ...*options.CountOptions) (int64, error)
}

// Stats is a snapshot of bot-wide counters shown to the bot operator.
type Stats struct {
	Groups         int64
	AntiSpamActive int64
	TrackedMembers int64
}

// StatsProvider exposes collection counts for diagnostics without leaking
// MongoDB internals to callers.
type StatsProvider struct {
	groups   countCollection
	antiSpam countCollection
	members  countCollection
}

// NewStatsProvider constructs a StatsProvider backed by the provided groups,
// anti-spam settings and member roster collections.
func NewStatsProvider(groups, antiSpam, members countCollection) *StatsProvider {
	return &StatsProvider{
		groups:   groups,
		antiSpam: antiSpam,
		members:  members,
	}
}

// Collect counts tracked groups, groups with anti-spam enabled, and roster
// entries still present in their group.
func (p *StatsProvider) Collect(ctx context.Context) (Stats, error) {
	if ctx == nil {
		return Stats{}, errors.New("context is required")
	}
	if p == nil || p.groups == nil || p.antiSpam == nil || p.members == nil {
		return Stats{}, errors.New("stats provider is not initialized")
	}

	groups, err := p.groups.CountDocuments(ctx, bson.D{})
	if err != nil {
		return Stats{}, fmt.Errorf("count groups: %w", err)
	}

	active, err := p.antiSpam.CountDocuments(ctx, bson.M{"is_active": true})
	if err != nil {
		return Stats{}, fmt.Errorf("count anti-spam settings: %w", err)
	}

	members, err := p.members.CountDocuments(ctx, bson.M{"status": bson.M{"$nin": bson.A{"left", "kicked"}}})
	if err != nil {
		return Stats{}, fmt.Errorf("count members: %w", err)
	}

	return Stats{
		Groups:         groups,
		AntiSpamActive: active,
		TrackedMembers: members,
	}, nil
}

package domain

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type findCollection interface {
	FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) *mongo.SingleResult
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error)
}

// GroupRepository reads tracked groups from MongoDB. Writes go through the
// group registrar.
type GroupRepository struct {
	collection findCollection
}

// NewGroupRepository constructs a GroupRepository.
func NewGroupRepository(collection findCollection) *GroupRepository {
	return &GroupRepository{collection: collection}
}

// GetByChatID fetches a group by chat_id. ErrNotFound is returned when the
// group is not tracked.
func (r *GroupRepository) GetByChatID(ctx context.Context, chatID int64) (Group, error) {
	if r == nil || r.collection == nil {
		return Group{}, errors.New("group repository is not initialized")
	}
	if ctx == nil {
		return Group{}, errors.New("context is required")
	}
	if chatID == 0 {
		return Group{}, errors.New("chat_id is required")
	}

	result := r.collection.FindOne(ctx, bson.M{"chat_id": chatID})
	if result == nil {
		return Group{}, errors.New("find group returned no result")
	}
	if err := result.Err(); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return Group{}, ErrNotFound
		}
		return Group{}, fmt.Errorf("find group: %w", err)
	}

	var group Group
	if err := result.Decode(&group); err != nil {
		return Group{}, fmt.Errorf("decode group: %w", err)
	}

	return group, nil
}

// ListByOwner returns the groups whose recorded owner is ownerID, ordered by
// title.
func (r *GroupRepository) ListByOwner(ctx context.Context, ownerID int64) ([]Group, error) {
	if r == nil || r.collection == nil {
		return nil, errors.New("group repository is not initialized")
	}
	if ctx == nil {
		return nil, errors.New("context is required")
	}
	if ownerID == 0 {
		return nil, errors.New("owner_id is required")
	}

	cursor, err := r.collection.Find(ctx,
		bson.M{"owner_id": ownerID},
		options.Find().SetSort(bson.D{{Key: "title", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("find owned groups: %w", err)
	}
	defer cursor.Close(ctx)

	groups := make([]Group, 0)
	if err := cursor.All(ctx, &groups); err != nil {
		return nil, fmt.Errorf("decode owned groups: %w", err)
	}

	return groups, nil
}

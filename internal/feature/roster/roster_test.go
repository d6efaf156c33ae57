package roster

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"tg_group_guard_bot/internal/domain"
)

const testChat = int64(-100900)

func TestObserveInsertsMemberWithDefaultStatus(t *testing.T) {
	coll := newFakeMemberCollection()
	roster := newTestRoster(coll)

	err := roster.Observe(context.Background(), testChat, domain.Member{UserID: 5, Username: "Alice", FirstName: "Alice"})
	if err != nil {
		t.Fatalf("Observe returned error: %v", err)
	}

	doc := coll.docs[memberKey{testChat, 5}]
	if doc == nil {
		t.Fatalf("expected member document to be stored")
	}
	if fmt.Sprint(doc["status"]) != string(domain.StatusMember) {
		t.Fatalf("expected default status member, got %v", doc["status"])
	}
	if doc["username_lower"] != "alice" {
		t.Fatalf("expected lowered username, got %v", doc["username_lower"])
	}
}

func TestObserveWithoutStatusKeepsStoredStatus(t *testing.T) {
	coll := newFakeMemberCollection()
	roster := newTestRoster(coll)
	ctx := context.Background()

	if err := roster.Observe(ctx, testChat, domain.Member{UserID: 5, Status: domain.StatusAdministrator}); err != nil {
		t.Fatalf("Observe returned error: %v", err)
	}
	if err := roster.Observe(ctx, testChat, domain.Member{UserID: 5, FirstName: "Renamed"}); err != nil {
		t.Fatalf("Observe returned error: %v", err)
	}

	doc := coll.docs[memberKey{testChat, 5}]
	if fmt.Sprint(doc["status"]) != string(domain.StatusAdministrator) {
		t.Fatalf("expected administrator status to survive, got %v", doc["status"])
	}
	if doc["first_name"] != "Renamed" {
		t.Fatalf("expected first_name updated, got %v", doc["first_name"])
	}
}

func TestPageExcludesDepartedMembersAndPaginates(t *testing.T) {
	coll := newFakeMemberCollection()
	roster := newTestRoster(coll)
	ctx := context.Background()

	for id := int64(1); id <= 5; id++ {
		if err := roster.Observe(ctx, testChat, domain.Member{UserID: id}); err != nil {
			t.Fatalf("Observe returned error: %v", err)
		}
	}
	if err := roster.Observe(ctx, testChat, domain.Member{UserID: 2, Status: domain.StatusLeft}); err != nil {
		t.Fatalf("Observe returned error: %v", err)
	}
	if err := roster.Observe(ctx, testChat, domain.Member{UserID: 4, Status: domain.StatusKicked}); err != nil {
		t.Fatalf("Observe returned error: %v", err)
	}
	if err := roster.Observe(ctx, -1, domain.Member{UserID: 99}); err != nil {
		t.Fatalf("Observe returned error: %v", err)
	}

	first, err := roster.Page(ctx, testChat, 0, 2)
	if err != nil {
		t.Fatalf("Page returned error: %v", err)
	}
	second, err := roster.Page(ctx, testChat, 2, 2)
	if err != nil {
		t.Fatalf("Page returned error: %v", err)
	}

	got := append(ids(first), ids(second)...)
	want := []int64{1, 3, 5}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("expected members %v, got %v", want, got)
	}
}

func TestPageRejectsInvalidBounds(t *testing.T) {
	roster := newTestRoster(newFakeMemberCollection())

	if _, err := roster.Page(context.Background(), testChat, -1, 10); err == nil {
		t.Fatalf("expected error for negative offset")
	}
	if _, err := roster.Page(context.Background(), testChat, 0, 0); err == nil {
		t.Fatalf("expected error for zero limit")
	}
}

func TestFindByUsernameIgnoresCaseAndAt(t *testing.T) {
	coll := newFakeMemberCollection()
	roster := newTestRoster(coll)
	ctx := context.Background()

	if err := roster.Observe(ctx, testChat, domain.Member{UserID: 8, Username: "SpamBot", IsBot: true}); err != nil {
		t.Fatalf("Observe returned error: %v", err)
	}

	member, err := roster.FindByUsername(ctx, testChat, "@spambot")
	if err != nil {
		t.Fatalf("FindByUsername returned error: %v", err)
	}
	if member.UserID != 8 || !member.IsBot {
		t.Fatalf("unexpected member %+v", member)
	}

	if _, err := roster.FindByUsername(ctx, testChat, "nobody"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := roster.FindByUsername(ctx, testChat, "@"); err == nil {
		t.Fatalf("expected error for empty username")
	}
}

func TestRosterValidatesInput(t *testing.T) {
	roster := newTestRoster(newFakeMemberCollection())

	if err := roster.Observe(nil, testChat, domain.Member{UserID: 1}); err == nil {
		t.Fatalf("expected error for nil context")
	}
	if err := roster.Observe(context.Background(), 0, domain.Member{UserID: 1}); err == nil {
		t.Fatalf("expected error for zero chat id")
	}
	if err := roster.Observe(context.Background(), testChat, domain.Member{}); err == nil {
		t.Fatalf("expected error for zero user id")
	}

	var nilRoster *Roster
	if _, err := nilRoster.Page(context.Background(), testChat, 0, 1); err == nil {
		t.Fatalf("expected error for nil roster")
	}
}

func newTestRoster(coll *fakeMemberCollection) *Roster {
	hookLogger, _ := logtest.NewNullLogger()
	return NewRoster(coll, logrus.NewEntry(hookLogger))
}

func ids(members []domain.Member) []int64 {
	out := make([]int64, 0, len(members))
	for _, m := range members {
		out = append(out, m.UserID)
	}
	return out
}

type memberKey struct {
	chatID int64
	userID int64
}

type fakeMemberCollection struct {
	docs map[memberKey]bson.M
}

func newFakeMemberCollection() *fakeMemberCollection {
	return &fakeMemberCollection{docs: make(map[memberKey]bson.M)}
}

func (f *fakeMemberCollection) UpdateOne(_ context.Context, filter interface{}, update interface{}, _ ...*options.UpdateOptions) (*mongo.UpdateResult, error) {
	filterDoc := filter.(bson.M)
	updateDoc := update.(bson.M)
	key := memberKey{filterDoc["chat_id"].(int64), filterDoc["user_id"].(int64)}

	doc, found := f.docs[key]
	if !found {
		doc = bson.M{}
		if onInsert, ok := updateDoc["$setOnInsert"].(bson.M); ok {
			for k, v := range onInsert {
				doc[k] = v
			}
		}
	}
	if set, ok := updateDoc["$set"].(bson.M); ok {
		for k, v := range set {
			doc[k] = v
		}
	}
	f.docs[key] = doc

	if !found {
		return &mongo.UpdateResult{UpsertedCount: 1}, nil
	}
	return &mongo.UpdateResult{MatchedCount: 1, ModifiedCount: 1}, nil
}

func (f *fakeMemberCollection) FindOne(_ context.Context, filter interface{}, _ ...*options.FindOneOptions) *mongo.SingleResult {
	filterDoc := filter.(bson.M)
	for key, doc := range f.docs {
		if key.chatID == filterDoc["chat_id"] && doc["username_lower"] == filterDoc["username_lower"] {
			return mongo.NewSingleResultFromDocument(doc, nil, nil)
		}
	}
	return errorResult(mongo.ErrNoDocuments)
}

func (f *fakeMemberCollection) Find(_ context.Context, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error) {
	filterDoc := filter.(bson.M)
	excluded := map[string]bool{}
	if status, ok := filterDoc["status"].(bson.M); ok {
		for _, s := range status["$nin"].(bson.A) {
			excluded[fmt.Sprint(s)] = true
		}
	}

	matched := make([]bson.M, 0)
	for key, doc := range f.docs {
		if key.chatID != filterDoc["chat_id"] || excluded[fmt.Sprint(doc["status"])] {
			continue
		}
		matched = append(matched, doc)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i]["user_id"].(int64) < matched[j]["user_id"].(int64)
	})

	if len(opts) > 0 && opts[0] != nil {
		if skip := opts[0].Skip; skip != nil {
			if int(*skip) >= len(matched) {
				matched = matched[:0]
			} else {
				matched = matched[*skip:]
			}
		}
		if limit := opts[0].Limit; limit != nil && int(*limit) < len(matched) {
			matched = matched[:*limit]
		}
	}

	out := make([]interface{}, 0, len(matched))
	for _, doc := range matched {
		out = append(out, doc)
	}
	return mongo.NewCursorFromDocuments(out, nil, nil)
}

// errorResult builds a SingleResult whose Err is err. The driver replaces err
// with ErrNilDocument when the document is nil, so an empty one is passed.
func errorResult(err error) *mongo.SingleResult {
	return mongo.NewSingleResultFromDocument(bson.D{}, err, nil)
}

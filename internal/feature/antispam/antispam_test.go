package antispam

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"tg_group_guard_bot/internal/domain"
)

const testGroup = int64(-100700)

func TestEvaluateIgnoresInactiveOrMissingPolicy(t *testing.T) {
	tests := []struct {
		name     string
		settings *domain.AntiSpamSettings
	}{
		{name: "missing row"},
		{name: "inactive", settings: &domain.AntiSpamSettings{GroupID: testGroup, BanInsteadOfDelete: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			coll := newFakeSettingsCollection()
			if tt.settings != nil {
				coll.docs[testGroup] = *tt.settings
			}
			platform := &fakePlatform{}
			engine := newTestEngine(NewSettingsStore(coll, nil), platform)

			action := engine.Evaluate(context.Background(), spamMessage("visit https://spam.example"))

			if action != ActionNone {
				t.Fatalf("expected no action, got %s", action)
			}
			if platform.mutatingCalls() != 0 {
				t.Fatalf("expected no platform calls, got %+v", platform)
			}
		})
	}
}

func TestEvaluateDeletesAndBans(t *testing.T) {
	platform := &fakePlatform{}
	engine := newTestEngine(staticPolicy{Active: true, BanInsteadOfDelete: true}, platform)

	action := engine.Evaluate(context.Background(), spamMessage("EARN MONEY now"))

	if action != ActionBanned {
		t.Fatalf("expected banned, got %s", action)
	}
	if len(platform.deleted) != 1 || len(platform.banned) != 1 || len(platform.sent) != 1 {
		t.Fatalf("expected exactly one delete, ban and notice, got %+v", platform)
	}
	if !platform.bannedUntil[0].IsZero() {
		t.Fatalf("expected permanent ban, got until %v", platform.bannedUntil[0])
	}
	if !strings.Contains(platform.sent[0], "Action: banned") {
		t.Fatalf("unexpected notice: %q", platform.sent[0])
	}
}

func TestEvaluateDeleteOnlyPolicy(t *testing.T) {
	platform := &fakePlatform{}
	engine := newTestEngine(staticPolicy{Active: true}, platform)

	action := engine.Evaluate(context.Background(), spamMessage("check bit.ly/abc"))

	if action != ActionDeleted {
		t.Fatalf("expected message deleted, got %s", action)
	}
	if len(platform.deleted) != 1 || len(platform.banned) != 0 || len(platform.sent) != 1 {
		t.Fatalf("expected delete and notice only, got %+v", platform)
	}
}

func TestEvaluateContinuesAfterDeleteFailure(t *testing.T) {
	hookLogger, hook := logtest.NewNullLogger()
	platform := &fakePlatform{deleteErr: errors.New("message to delete not found")}
	engine := NewEngine(staticPolicy{Active: true, BanInsteadOfDelete: true}, nil, platform, logrus.NewEntry(hookLogger))

	action := engine.Evaluate(context.Background(), spamMessage("spam spam"))

	if action != ActionBanned {
		t.Fatalf("expected ban despite delete failure, got %s", action)
	}
	if len(platform.sent) != 1 {
		t.Fatalf("expected notice despite delete failure")
	}

	found := false
	for _, entry := range hook.AllEntries() {
		if entry.Data["event"] == "antispam_error" && entry.Data["op"] == "delete" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected delete failure to be logged")
	}
}

func TestEvaluateSwallowsBanAndNotifyFailures(t *testing.T) {
	platform := &fakePlatform{banErr: errors.New("not enough rights"), sendErr: errors.New("blocked")}
	engine := newTestEngine(staticPolicy{Active: true, BanInsteadOfDelete: true}, platform)

	action := engine.Evaluate(context.Background(), spamMessage("advertise here"))

	if action != ActionDeleted {
		t.Fatalf("expected deleted when ban fails, got %s", action)
	}
}

func TestEvaluateSkipsPrivateAndCleanMessages(t *testing.T) {
	platform := &fakePlatform{}
	engine := newTestEngine(staticPolicy{Active: true, BanInsteadOfDelete: true}, platform)

	private := spamMessage("https://x")
	private.Private = true
	if action := engine.Evaluate(context.Background(), private); action != ActionNone {
		t.Fatalf("expected private chats exempt, got %s", action)
	}
	if action := engine.Evaluate(context.Background(), spamMessage("hello everyone")); action != ActionNone {
		t.Fatalf("expected clean message ignored, got %s", action)
	}
	if platform.mutatingCalls() != 0 {
		t.Fatalf("expected no platform calls, got %+v", platform)
	}
}

func TestEvaluateTreatsPolicyErrorAsDisabled(t *testing.T) {
	platform := &fakePlatform{}
	engine := newTestEngine(failingPolicy{}, platform)

	if action := engine.Evaluate(context.Background(), spamMessage("spam")); action != ActionNone {
		t.Fatalf("expected no action on policy error, got %s", action)
	}
}

func TestNoticeTruncatesContent(t *testing.T) {
	content := strings.Repeat("é", 150)
	notice := Notice(domain.Member{UserID: 1, Username: "bob"}, ActionDeleted, content)

	want := "Anti-Spam Action:\nUser: @bob\nAction: message deleted\nContent: " + strings.Repeat("é", 100) + "..."
	if notice != want {
		t.Fatalf("unexpected notice:\n%s", notice)
	}
}

func TestMatcherIsCaseInsensitive(t *testing.T) {
	matcher := NewMatcher([]string{" Make Money Fast ", "", "T.ME/"})

	tests := []struct {
		text string
		want bool
	}{
		{"how to MAKE money FAST", true},
		{"join t.me/channel", true},
		{"make money slowly", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := matcher.Match(tt.text); got != tt.want {
			t.Fatalf("Match(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}

	if got := matcher.Triggers(); len(got) != 2 || got[0] != "make money fast" {
		t.Fatalf("unexpected normalized triggers %v", got)
	}
}

func TestLoadTriggers(t *testing.T) {
	defaults, err := LoadTriggers("")
	if err != nil || len(defaults) != len(DefaultTriggers) {
		t.Fatalf("expected default triggers, got %v (%v)", defaults, err)
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "triggers.yaml")
	if err := os.WriteFile(path, []byte("triggers:\n  - casino\n  - free crypto\n"), 0o600); err != nil {
		t.Fatalf("write trigger file: %v", err)
	}

	loaded, err := LoadTriggers(path)
	if err != nil {
		t.Fatalf("LoadTriggers returned error: %v", err)
	}
	if len(loaded) != 2 || loaded[1] != "free crypto" {
		t.Fatalf("unexpected triggers %v", loaded)
	}

	empty := filepath.Join(dir, "empty.yaml")
	if err := os.WriteFile(empty, []byte("triggers: []\n"), 0o600); err != nil {
		t.Fatalf("write trigger file: %v", err)
	}
	if _, err := LoadTriggers(empty); err == nil {
		t.Fatalf("expected error for empty trigger list")
	}
	if _, err := LoadTriggers(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestSettingsToggleInsertsDefaultsAndRoundTrips(t *testing.T) {
	coll := newFakeSettingsCollection()
	store := NewSettingsStore(coll, nil)
	ctx := context.Background()

	first, err := store.Toggle(ctx, testGroup)
	if err != nil {
		t.Fatalf("Toggle returned error: %v", err)
	}
	if !first.Active || !first.BanInsteadOfDelete || first.MaxWarnings != domain.DefaultMaxWarnings {
		t.Fatalf("expected active defaults on first toggle, got %+v", first)
	}

	second, err := store.Toggle(ctx, testGroup)
	if err != nil {
		t.Fatalf("Toggle returned error: %v", err)
	}
	if second.Active {
		t.Fatalf("expected second toggle to disable")
	}

	stored, err := store.Get(ctx, testGroup)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if stored.Active || !stored.BanInsteadOfDelete {
		t.Fatalf("unexpected stored settings %+v", stored)
	}
}

func TestSettingsGetMissingRowIsDisabled(t *testing.T) {
	store := NewSettingsStore(newFakeSettingsCollection(), nil)

	settings, err := store.Get(context.Background(), testGroup)
	if err != nil {
		t.Fatalf("expected no error for missing row, got %v", err)
	}
	if settings.Active {
		t.Fatalf("expected inactive policy for missing row")
	}
}

func TestSettingsValidatesInput(t *testing.T) {
	store := NewSettingsStore(newFakeSettingsCollection(), nil)

	if _, err := store.Get(context.Background(), 0); err == nil {
		t.Fatalf("expected error for zero group id")
	}

	var nilStore *SettingsStore
	if _, err := nilStore.Toggle(context.Background(), testGroup); err == nil {
		t.Fatalf("expected error for nil store")
	}
}

func newTestEngine(policies PolicyReader, platform Platform) *Engine {
	hookLogger, _ := logtest.NewNullLogger()
	return NewEngine(policies, nil, platform, logrus.NewEntry(hookLogger))
}

func spamMessage(text string) Message {
	return Message{
		ChatID:    testGroup,
		MessageID: 10,
		Author:    domain.Member{UserID: 55, FirstName: "Spammer"},
		Text:      text,
	}
}

type staticPolicy domain.AntiSpamSettings

func (p staticPolicy) Get(context.Context, int64) (domain.AntiSpamSettings, error) {
	return domain.AntiSpamSettings(p), nil
}

type failingPolicy struct{}

func (failingPolicy) Get(context.Context, int64) (domain.AntiSpamSettings, error) {
	return domain.AntiSpamSettings{}, errors.New("mongo down")
}

type fakePlatform struct {
	deleted     []int
	banned      []int64
	bannedUntil []time.Time
	sent        []string
	deleteErr   error
	banErr      error
	sendErr     error
}

func (f *fakePlatform) DeleteMessage(_ context.Context, _ int64, messageID int) error {
	f.deleted = append(f.deleted, messageID)
	return f.deleteErr
}

func (f *fakePlatform) BanMember(_ context.Context, _ int64, userID int64, until time.Time) error {
	f.banned = append(f.banned, userID)
	f.bannedUntil = append(f.bannedUntil, until)
	return f.banErr
}

func (f *fakePlatform) SendMessage(_ context.Context, _ int64, text string) (int, error) {
	f.sent = append(f.sent, text)
	return len(f.sent), f.sendErr
}

func (f *fakePlatform) mutatingCalls() int {
	return len(f.deleted) + len(f.banned) + len(f.sent)
}

type fakeSettingsCollection struct {
	docs map[int64]domain.AntiSpamSettings
}

func newFakeSettingsCollection() *fakeSettingsCollection {
	return &fakeSettingsCollection{docs: make(map[int64]domain.AntiSpamSettings)}
}

func (f *fakeSettingsCollection) FindOne(_ context.Context, filter interface{}, _ ...*options.FindOneOptions) *mongo.SingleResult {
	groupID := filter.(bson.M)["group_id"].(int64)
	doc, ok := f.docs[groupID]
	if !ok {
		return errorResult(mongo.ErrNoDocuments)
	}
	return mongo.NewSingleResultFromDocument(doc, nil, nil)
}

// FindOneAndUpdate applies the toggle pipeline's semantics in memory.
func (f *fakeSettingsCollection) FindOneAndUpdate(_ context.Context, filter interface{}, _ interface{}, _ ...*options.FindOneAndUpdateOptions) *mongo.SingleResult {
	groupID := filter.(bson.M)["group_id"].(int64)
	doc, ok := f.docs[groupID]
	if !ok {
		doc = domain.AntiSpamSettings{GroupID: groupID, BanInsteadOfDelete: true, MaxWarnings: domain.DefaultMaxWarnings}
	}
	doc.Active = !doc.Active
	f.docs[groupID] = doc
	return mongo.NewSingleResultFromDocument(doc, nil, nil)
}

// errorResult builds a SingleResult whose Err is err. The driver replaces err
// with ErrNilDocument when the document is nil, so an empty one is passed.
func errorResult(err error) *mongo.SingleResult {
	return mongo.NewSingleResultFromDocument(bson.D{}, err, nil)
}

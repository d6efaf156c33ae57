package telegram

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"tg_group_guard_bot/internal/config"
)

type fakeBot struct {
	mu          sync.Mutex
	startedWith context.Context

	sent        []*bot.SendMessageParams
	edits       []*bot.EditMessageTextParams
	answers     []*bot.AnswerCallbackQueryParams
	bans        []*bot.BanChatMemberParams
	restricts   []*bot.RestrictChatMemberParams
	deletes     []*bot.DeleteMessageParams
	unpins      []*bot.UnpinChatMessageParams
	member      *models.ChatMember
	admins      []models.ChatMember
	count       int
	nextMsgID   int
	sendErr     error
	banErr      error
	memberErr   error
	restrictErr error
	onStart     func()
}

func (f *fakeBot) Start(ctx context.Context) {
	f.startedWith = ctx
	if f.onStart != nil {
		f.onStart()
	}
}

func (f *fakeBot) SendMessage(_ context.Context, params *bot.SendMessageParams) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sent = append(f.sent, params)
	f.nextMsgID++
	return &models.Message{ID: f.nextMsgID}, nil
}

func (f *fakeBot) EditMessageText(_ context.Context, params *bot.EditMessageTextParams) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.edits = append(f.edits, params)
	return &models.Message{ID: params.MessageID}, nil
}

func (f *fakeBot) DeleteMessage(_ context.Context, params *bot.DeleteMessageParams) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.deletes = append(f.deletes, params)
	return true, nil
}

func (f *fakeBot) UnpinChatMessage(_ context.Context, params *bot.UnpinChatMessageParams) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.unpins = append(f.unpins, params)
	return true, nil
}

func (f *fakeBot) BanChatMember(_ context.Context, params *bot.BanChatMemberParams) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.banErr != nil {
		return false, f.banErr
	}
	f.bans = append(f.bans, params)
	return true, nil
}

func (f *fakeBot) RestrictChatMember(_ context.Context, params *bot.RestrictChatMemberParams) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.restrictErr != nil {
		return false, f.restrictErr
	}
	f.restricts = append(f.restricts, params)
	return true, nil
}

func (f *fakeBot) GetChatMember(context.Context, *bot.GetChatMemberParams) (*models.ChatMember, error) {
	if f.memberErr != nil {
		return nil, f.memberErr
	}
	return f.member, nil
}

func (f *fakeBot) GetChatAdministrators(context.Context, *bot.GetChatAdministratorsParams) ([]models.ChatMember, error) {
	return f.admins, nil
}

func (f *fakeBot) GetChatMemberCount(context.Context, *bot.GetChatMemberCountParams) (int, error) {
	return f.count, nil
}

func (f *fakeBot) AnswerCallbackQuery(_ context.Context, params *bot.AnswerCallbackQueryParams) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.answers = append(f.answers, params)
	return true, nil
}

func (f *fakeBot) sentTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	texts := make([]string, 0, len(f.sent))
	for _, params := range f.sent {
		texts = append(texts, params.Text)
	}
	return texts
}

type recordingHandler struct {
	updates []*models.Update
}

func (h *recordingHandler) HandleUpdate(_ context.Context, update *models.Update) {
	h.updates = append(h.updates, update)
}

func TestNewClientCreatesBot(t *testing.T) {
	origCreateBot := createBot
	defer func() { createBot = origCreateBot }()

	var gotToken string
	var gotOptions []bot.Option
	b := &fakeBot{}

	createBot = func(token string, options ...bot.Option) (telegramBot, error) {
		gotToken = token
		gotOptions = options
		return b, nil
	}

	cfg := config.Config{TelegramToken: "token-123"}
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	client, err := NewClient(cfg, logrus.NewEntry(logger))
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}

	if client == nil || client.bot == nil {
		t.Fatalf("expected client and bot to be initialized")
	}

	if gotToken != cfg.TelegramToken {
		t.Fatalf("expected token %q, got %q", cfg.TelegramToken, gotToken)
	}

	if len(gotOptions) != 4 {
		t.Fatalf("expected 4 bot options (allowed updates, default handler, error handler, sync handlers), got %d", len(gotOptions))
	}

	if client.Platform() == nil {
		t.Fatalf("expected platform adapter")
	}
}

func TestNewClientRequiresToken(t *testing.T) {
	if _, err := NewClient(config.Config{TelegramToken: "  "}, nil); err == nil {
		t.Fatalf("expected error for blank token")
	}
}

func TestNewClientPropagatesBotError(t *testing.T) {
	origCreateBot := createBot
	defer func() { createBot = origCreateBot }()

	expected := errors.New("boom")
	createBot = func(string, ...bot.Option) (telegramBot, error) {
		return nil, expected
	}

	_, err := NewClient(config.Config{TelegramToken: "token"}, nil)
	if !errors.Is(err, expected) {
		t.Fatalf("expected error %v, got %v", expected, err)
	}
}

func TestClientStartLogsAndUsesContext(t *testing.T) {
	hookLogger, hook := logtest.NewNullLogger()
	fb := &fakeBot{}
	client := &Client{
		bot:    fb,
		logger: logrus.NewEntry(hookLogger),
	}

	ctx := context.Background()
	client.Start(ctx)

	if fb.startedWith != ctx {
		t.Fatalf("expected bot to start with provided context")
	}

	entries := hook.AllEntries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 log entries (start/stop), got %d", len(entries))
	}

	if entries[0].Data["event"] != "telegram_listen" {
		t.Fatalf("expected start log event, got %v", entries[0].Data["event"])
	}
	if entries[1].Data["event"] != "telegram_stopped" {
		t.Fatalf("expected stop log event, got %v", entries[1].Data["event"])
	}
}

func TestClientReportsPollingAndLastUpdate(t *testing.T) {
	hookLogger, _ := logtest.NewNullLogger()
	fb := &fakeBot{}
	client := &Client{bot: fb, logger: logrus.NewEntry(hookLogger)}

	var pollingDuringStart bool
	fb.onStart = func() { pollingDuringStart = client.Polling() }

	if client.Polling() || !client.LastUpdate().IsZero() {
		t.Fatalf("expected idle client before start")
	}

	client.Start(context.Background())
	if !pollingDuringStart {
		t.Fatalf("expected client to report polling while the bot runs")
	}
	if client.Polling() {
		t.Fatalf("expected polling to stop after Start returns")
	}

	before := time.Now().Add(-time.Second)
	client.dispatch(context.Background(), &models.Update{Message: &models.Message{Chat: models.Chat{ID: 1}}})
	if last := client.LastUpdate(); last.Before(before) {
		t.Fatalf("expected last update to be recorded, got %v", last)
	}
}

func TestExtractUpdateMeta(t *testing.T) {
	tests := []struct {
		name   string
		update *models.Update
		want   updateMeta
	}{
		{
			name: "message",
			update: &models.Update{
				Message: &models.Message{
					From: &models.User{ID: 10},
					Chat: models.Chat{ID: 20},
					Text: " hello ",
				},
			},
			want: updateMeta{userID: 10, chatID: 20, text: "hello", updateType: "message"},
		},
		{
			name: "edited message",
			update: &models.Update{
				EditedMessage: &models.Message{
					From: &models.User{ID: 11},
					Chat: models.Chat{ID: 21},
					Text: "updated",
				},
			},
			want: updateMeta{userID: 11, chatID: 21, text: "updated", updateType: "edited_message"},
		},
		{
			name: "callback query",
			update: &models.Update{
				CallbackQuery: &models.CallbackQuery{
					From: models.User{ID: 12},
					Data: "choice",
					Message: models.MaybeInaccessibleMessage{
						Type: models.MaybeInaccessibleMessageTypeMessage,
						Message: &models.Message{
							Chat: models.Chat{ID: 22},
						},
					},
				},
			},
			want: updateMeta{userID: 12, chatID: 22, text: "choice", updateType: "callback_query"},
		},
		{
			name: "my chat member",
			update: &models.Update{
				MyChatMember: &models.ChatMemberUpdated{
					From: models.User{ID: 13},
					Chat: models.Chat{ID: 23},
				},
			},
			want: updateMeta{userID: 13, chatID: 23, updateType: "my_chat_member"},
		},
		{
			name: "chat member",
			update: &models.Update{
				ChatMember: &models.ChatMemberUpdated{
					From: models.User{ID: 14},
					Chat: models.Chat{ID: 24},
				},
			},
			want: updateMeta{userID: 14, chatID: 24, updateType: "chat_member"},
		},
		{
			name: "poll answer",
			update: &models.Update{
				PollAnswer: &models.PollAnswer{
					PollID: "poll-1",
					User:   &models.User{ID: 15},
				},
			},
			want: updateMeta{userID: 15, updateType: "poll_answer"},
		},
		{
			name:   "unknown",
			update: &models.Update{},
			want:   updateMeta{updateType: "unknown"},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got := extractUpdateMeta(tt.update)
			if got.userID != tt.want.userID || got.chatID != tt.want.chatID || got.text != tt.want.text || got.updateType != tt.want.updateType {
				t.Fatalf("extractUpdateMeta() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestDispatchLogsAndForwardsUpdate(t *testing.T) {
	hookLogger, hook := logtest.NewNullLogger()
	hookLogger.SetLevel(logrus.DebugLevel)

	client := &Client{bot: &fakeBot{}, logger: logrus.NewEntry(hookLogger)}
	handler := &recordingHandler{}
	client.Handle(handler)

	update := &models.Update{
		Message: &models.Message{
			From: &models.User{ID: 99},
			Chat: models.Chat{ID: 199},
			Text: "ping",
		},
	}

	client.defaultHandler()(context.Background(), nil, update)

	entry := hook.LastEntry()
	if entry == nil {
		t.Fatalf("expected log entry from handler")
	}

	if entry.Data["event"] != "telegram_update" {
		t.Fatalf("expected event=telegram_update, got %v", entry.Data["event"])
	}
	if entry.Data["user_id"] != int64(99) || entry.Data["chat_id"] != int64(199) {
		t.Fatalf("expected user_id=99 and chat_id=199, got user_id=%v chat_id=%v", entry.Data["user_id"], entry.Data["chat_id"])
	}
	if _, ok := entry.Data["text"]; ok {
		t.Fatalf("message text must not be logged")
	}
	if entry.Data["update_type"] != "message" {
		t.Fatalf("expected update_type=message, got %v", entry.Data["update_type"])
	}

	if len(handler.updates) != 1 || handler.updates[0] != update {
		t.Fatalf("expected update to be forwarded once, got %d", len(handler.updates))
	}
}

func TestDispatchWithoutHandlerOnlyLogs(t *testing.T) {
	hookLogger, hook := logtest.NewNullLogger()
	hookLogger.SetLevel(logrus.DebugLevel)

	client := &Client{bot: &fakeBot{}, logger: logrus.NewEntry(hookLogger)}
	client.dispatch(context.Background(), &models.Update{})
	client.dispatch(context.Background(), nil)

	if len(hook.AllEntries()) != 1 {
		t.Fatalf("expected a single log entry, got %d", len(hook.AllEntries()))
	}
}

func TestMessageIDAndChatID(t *testing.T) {
	accessible := models.MaybeInaccessibleMessage{
		Type:    models.MaybeInaccessibleMessageTypeMessage,
		Message: &models.Message{ID: 5, Chat: models.Chat{ID: -7}},
	}
	if messageID(accessible) != 5 || messageChatID(accessible) != -7 {
		t.Fatalf("unexpected ids for accessible message")
	}

	inaccessible := models.MaybeInaccessibleMessage{
		Type:                models.MaybeInaccessibleMessageTypeInaccessibleMessage,
		InaccessibleMessage: &models.InaccessibleMessage{MessageID: 6, Chat: models.Chat{ID: -8}},
	}
	if messageID(inaccessible) != 6 || messageChatID(inaccessible) != -8 {
		t.Fatalf("unexpected ids for inaccessible message")
	}

	if messageID(models.MaybeInaccessibleMessage{}) != 0 {
		t.Fatalf("expected zero id for empty message")
	}
}

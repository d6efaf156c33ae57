package telegram

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"

	"tg_group_guard_bot/internal/domain"
	"tg_group_guard_bot/internal/feature/antispam"
	"tg_group_guard_bot/internal/feature/masskick"
	"tg_group_guard_bot/internal/feature/moderation"
	"tg_group_guard_bot/internal/logging"
	"tg_group_guard_bot/internal/store"
)

// GroupRegistry records groups the bot sees.
type GroupRegistry interface {
	Observe(ctx context.Context, chatID int64, title string) (bool, error)
	Refresh(ctx context.Context, chatID int64, title string, invokerID int64) (domain.Group, error)
}

// OwnedGroups lists the groups a user owns.
type OwnedGroups interface {
	ListByOwner(ctx context.Context, ownerID int64) ([]domain.Group, error)
	GetByChatID(ctx context.Context, chatID int64) (domain.Group, error)
}

// FeatureFlags reads and changes per-group feature flags.
type FeatureFlags interface {
	Get(ctx context.Context, groupID int64) domain.FeatureSet
	Set(ctx context.Context, groupID int64, feature string, active bool) error
	Toggle(ctx context.Context, groupID int64, feature string) (bool, error)
}

// AntiSpamPolicy reads and toggles the anti-spam settings row. The row, not
// the anti_spam flag, decides whether anti-spam is enforced.
type AntiSpamPolicy interface {
	Get(ctx context.Context, groupID int64) (domain.AntiSpamSettings, error)
	Toggle(ctx context.Context, groupID int64) (domain.AntiSpamSettings, error)
}

// SpamChecker evaluates inbound messages.
type SpamChecker interface {
	Evaluate(ctx context.Context, msg antispam.Message) string
}

// Moderator runs single-target moderation commands.
type Moderator interface {
	Ban(ctx context.Context, req moderation.Request) (string, error)
	Kick(ctx context.Context, req moderation.Request) (string, error)
	Mute(ctx context.Context, req moderation.Request) (string, error)
	Unmute(ctx context.Context, req moderation.Request) (string, error)
	Warn(ctx context.Context, req moderation.Request) (string, error)
	UserInfo(ctx context.Context, req moderation.Request) (string, error)
}

// KickAll drives kickall confirmations.
type KickAll interface {
	Request(ctx context.Context, chatID, adminID int64) (masskick.Key, error)
	Confirm(ctx context.Context, key masskick.Key) error
	ConfirmByReply(ctx context.Context, chatID, userID int64, replyToID int, text string) (bool, error)
	Cancel(ctx context.Context, key masskick.Key) error
}

// RosterObserver records members seen in groups.
type RosterObserver interface {
	Observe(ctx context.Context, chatID int64, member domain.Member) error
}

// AdminChecker answers whether a user administers a group.
type AdminChecker interface {
	IsAdmin(ctx context.Context, chatID, userID int64) bool
}

// StatsCollector reports process-wide counts for the bot owner.
type StatsCollector interface {
	Collect(ctx context.Context) (store.Stats, error)
}

// Deps are the components a Dispatcher routes to.
type Deps struct {
	Platform   *Platform
	Groups     GroupRegistry
	Owned      OwnedGroups
	Features   FeatureFlags
	AntiSpam   AntiSpamPolicy
	Spam       SpamChecker
	Moderation Moderator
	KickAll    KickAll
	Roster     RosterObserver
	Admins     AdminChecker
	Stats      StatsCollector
	// BotOwner may run /stats.
	BotOwner   int64
}

// Dispatcher routes updates to the moderation components. Handler failures
// and panics are logged and never stop the update loop.
type Dispatcher struct {
	deps   Deps
	logger *logrus.Entry
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(deps Deps, logger *logrus.Entry) (*Dispatcher, error) {
	if deps.Platform == nil {
		return nil, errors.New("platform is required")
	}
	if deps.Groups == nil || deps.Features == nil || deps.AntiSpam == nil || deps.Spam == nil ||
		deps.Moderation == nil || deps.KickAll == nil || deps.Roster == nil || deps.Admins == nil {
		return nil, errors.New("dispatcher dependencies are incomplete")
	}
	if logger == nil {
		logger = logging.Logger()
	}

	return &Dispatcher{
		deps:   deps,
		logger: logger,
	}, nil
}

// HandleUpdate processes a single update.
func (d *Dispatcher) HandleUpdate(ctx context.Context, update *models.Update) {
	if update == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			d.logger.WithFields(logging.Fields{
				"event": "telegram_handler_panic",
				"panic": fmt.Sprint(r),
				"stack": string(debug.Stack()),
			}).Error("recovered from handler panic")
		}
	}()

	switch {
	case update.Message != nil:
		d.handleMessage(ctx, update.Message)
	case update.EditedMessage != nil:
		d.handleEditedMessage(ctx, update.EditedMessage)
	case update.CallbackQuery != nil:
		d.handleCallback(ctx, update.CallbackQuery)
	case update.ChatMember != nil:
		d.handleChatMember(ctx, update.ChatMember)
	case update.MyChatMember != nil:
		d.handleMyChatMember(ctx, update.MyChatMember)
	case update.PollAnswer != nil:
		d.logger.WithFields(logging.Fields{
			"event":   "poll_answer_ignored",
			"poll_id": update.PollAnswer.PollID,
		}).Debug("poll answers are not used")
	}
}

func (d *Dispatcher) handleMessage(ctx context.Context, msg *models.Message) {
	private := msg.Chat.Type == models.ChatTypePrivate
	if !private {
		d.observeGroup(ctx, msg)
	}

	if len(msg.NewChatMembers) > 0 {
		d.handleJoins(ctx, msg)
		return
	}
	if msg.LeftChatMember != nil && !private {
		d.observeMember(ctx, msg.Chat.ID, memberFromUser(msg.LeftChatMember, domain.StatusLeft))
		return
	}

	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}

	if name, args, ok := parseCommand(text); ok {
		d.handleCommand(ctx, msg, name, args)
		return
	}

	if private || msg.From == nil {
		return
	}

	if msg.ReplyToMessage != nil {
		confirmed, err := d.deps.KickAll.ConfirmByReply(ctx, msg.Chat.ID, msg.From.ID, msg.ReplyToMessage.ID, text)
		if confirmed {
			if err != nil {
				d.replyError(ctx, msg, "kickall", err)
			}
			return
		}
	}

	d.checkSpam(ctx, msg)
}

func (d *Dispatcher) handleEditedMessage(ctx context.Context, msg *models.Message) {
	if msg.Chat.Type == models.ChatTypePrivate || msg.From == nil || strings.TrimSpace(msg.Text) == "" {
		return
	}
	d.checkSpam(ctx, msg)
}

func (d *Dispatcher) checkSpam(ctx context.Context, msg *models.Message) {
	d.deps.Spam.Evaluate(ctx, antispam.Message{
		ChatID:    msg.Chat.ID,
		Private:   msg.Chat.Type == models.ChatTypePrivate,
		MessageID: msg.ID,
		Author:    memberFromUser(msg.From, ""),
		Text:      msg.Text,
	})
}

func (d *Dispatcher) observeGroup(ctx context.Context, msg *models.Message) {
	if _, err := d.deps.Groups.Observe(ctx, msg.Chat.ID, msg.Chat.Title); err != nil {
		d.logger.WithFields(logging.Fields{
			"event":   "group_observe_error",
			"chat_id": msg.Chat.ID,
		}).WithError(err).Warn("failed to record group")
	}

	if msg.From != nil && len(msg.NewChatMembers) == 0 && msg.LeftChatMember == nil {
		d.observeMember(ctx, msg.Chat.ID, memberFromUser(msg.From, ""))
	}
}

func (d *Dispatcher) observeMember(ctx context.Context, chatID int64, member domain.Member) {
	if member.UserID == 0 {
		return
	}
	if err := d.deps.Roster.Observe(ctx, chatID, member); err != nil {
		d.logger.WithFields(logging.Fields{
			"event":   "roster_observe_error",
			"chat_id": chatID,
			"user_id": member.UserID,
		}).WithError(err).Warn("failed to record member")
	}
}

// handleJoins records new members, greets them when welcome_message is on and
// mutes them when mute_new_members is on.
func (d *Dispatcher) handleJoins(ctx context.Context, msg *models.Message) {
	chat := msg.Chat.ID
	features := d.deps.Features.Get(ctx, chat)

	for i := range msg.NewChatMembers {
		user := msg.NewChatMembers[i]
		member := memberFromUser(&user, domain.StatusMember)
		d.observeMember(ctx, chat, member)
		if user.IsBot {
			continue
		}

		if features[domain.FeatureMuteNewMembers] {
			if err := d.deps.Platform.RestrictMember(ctx, chat, user.ID, domain.MutedPermissions(), time.Time{}); err != nil {
				d.logger.WithFields(logging.Fields{
					"event":   "new_member_mute_error",
					"chat_id": chat,
					"user_id": user.ID,
				}).WithError(err).Warn("failed to mute new member")
			}
		}

		if features[domain.FeatureWelcomeMessage] {
			greeting := fmt.Sprintf("Welcome to %s, %s!", groupTitle(msg.Chat), member.DisplayName())
			if _, err := d.deps.Platform.SendMessage(ctx, chat, greeting); err != nil {
				d.logger.WithFields(logging.Fields{
					"event":   "welcome_send_error",
					"chat_id": chat,
					"user_id": user.ID,
				}).WithError(err).Warn("failed to greet new member")
			}
		}
	}
}

func (d *Dispatcher) handleChatMember(ctx context.Context, update *models.ChatMemberUpdated) {
	if update.Chat.Type == models.ChatTypePrivate {
		return
	}
	d.observeMember(ctx, update.Chat.ID, memberFromChatMember(update.NewChatMember))
}

func (d *Dispatcher) handleMyChatMember(ctx context.Context, update *models.ChatMemberUpdated) {
	if update.Chat.Type == models.ChatTypePrivate {
		return
	}

	status := domain.MemberStatus(update.NewChatMember.Type)
	logger := d.logger.WithFields(logging.Fields{
		"chat_id": update.Chat.ID,
		"status":  status,
	})

	if !status.Present() {
		logger.WithField("event", "bot_removed").Info("bot removed from group")
		return
	}

	created, err := d.deps.Groups.Observe(ctx, update.Chat.ID, update.Chat.Title)
	if err != nil {
		logger.WithField("event", "group_observe_error").WithError(err).Warn("failed to record group")
	}
	if created {
		logger.WithField("event", "bot_added").Info("bot added to group")
	}
}

func (d *Dispatcher) handleCommand(ctx context.Context, msg *models.Message, name string, args []string) {
	logger := logging.Scoped(d.logger, logging.Scope{
		ChatID:  msg.Chat.ID,
		UserID:  userID(msg.From),
		Command: name,
	})
	logger.WithField("event", "command_received").Debug("command received")

	switch name {
	case "start":
		d.cmdStart(ctx, msg)
		return
	case "help":
		d.send(ctx, msg, helpText, nil)
		return
	case "stats":
		d.cmdStats(ctx, msg)
		return
	}

	if msg.Chat.Type == models.ChatTypePrivate {
		if isGroupCommand(name) {
			d.send(ctx, msg, "This command only works in groups.", nil)
		}
		return
	}
	if msg.From == nil {
		return
	}

	switch name {
	case "ban", "kick", "mute", "unmute", "warn", "userinfo":
		d.cmdModeration(ctx, msg, name, args)
	case "antispam":
		if !d.deps.Admins.IsAdmin(ctx, msg.Chat.ID, msg.From.ID) {
			d.replyError(ctx, msg, name, domain.ErrNotAdmin)
			return
		}
		active, err := d.toggleAntiSpam(ctx, msg.Chat.ID)
		if err != nil {
			d.replyError(ctx, msg, name, err)
			return
		}
		d.send(ctx, msg, "Anti-spam is now "+onOff(active, "enabled", "disabled"), nil)
	case "kickall":
		if _, err := d.deps.KickAll.Request(ctx, msg.Chat.ID, msg.From.ID); err != nil {
			d.replyError(ctx, msg, name, err)
		}
	case "features":
		d.cmdFeatures(ctx, msg, args)
	}
}

func (d *Dispatcher) cmdStart(ctx context.Context, msg *models.Message) {
	if msg.Chat.Type != models.ChatTypePrivate && msg.From != nil {
		if _, err := d.deps.Groups.Refresh(ctx, msg.Chat.ID, msg.Chat.Title, msg.From.ID); err != nil {
			d.logger.WithFields(logging.Fields{
				"event":   "group_refresh_error",
				"chat_id": msg.Chat.ID,
			}).WithError(err).Warn("failed to refresh group")
		}
	}

	d.send(ctx, msg, startText, keyboard(
		row(button("My groups", callbackMyGroups), button("Help", callbackHelp)),
	))
}

func (d *Dispatcher) cmdStats(ctx context.Context, msg *models.Message) {
	if d.deps.Stats == nil || d.deps.BotOwner == 0 || userID(msg.From) != d.deps.BotOwner {
		return
	}

	stats, err := d.deps.Stats.Collect(ctx)
	if err != nil {
		d.replyError(ctx, msg, "stats", err)
		return
	}

	d.send(ctx, msg, fmt.Sprintf("Groups: %d\nAnti-spam active: %d\nTracked members: %d",
		stats.Groups, stats.AntiSpamActive, stats.TrackedMembers), nil)
}

func (d *Dispatcher) cmdModeration(ctx context.Context, msg *models.Message, name string, args []string) {
	req := moderation.Request{
		ChatID:  msg.Chat.ID,
		ActorID: msg.From.ID,
		Args:    args,
	}
	if reply := msg.ReplyToMessage; reply != nil && reply.From != nil {
		target := memberFromUser(reply.From, "")
		req.ReplyTo = &target
	}

	commands := map[string]func(context.Context, moderation.Request) (string, error){
		"ban":      d.deps.Moderation.Ban,
		"kick":     d.deps.Moderation.Kick,
		"mute":     d.deps.Moderation.Mute,
		"unmute":   d.deps.Moderation.Unmute,
		"warn":     d.deps.Moderation.Warn,
		"userinfo": d.deps.Moderation.UserInfo,
	}

	text, err := commands[name](ctx, req)
	if err != nil {
		d.replyError(ctx, msg, name, err)
		return
	}
	d.send(ctx, msg, text, nil)
}

// cmdFeatures lists the group's flags, or with `toggle <feature>` flips one.
func (d *Dispatcher) cmdFeatures(ctx context.Context, msg *models.Message, args []string) {
	if len(args) == 0 {
		d.send(ctx, msg, formatFeatures(d.groupFlags(ctx, msg.Chat.ID)), nil)
		return
	}

	if len(args) != 2 || args[0] != "toggle" {
		d.replyError(ctx, msg, "features", domain.NewUsageError("/features [toggle <feature>]", ""))
		return
	}
	if !d.deps.Admins.IsAdmin(ctx, msg.Chat.ID, msg.From.ID) {
		d.replyError(ctx, msg, "features", domain.ErrNotAdmin)
		return
	}

	active, err := d.toggleFeature(ctx, msg.Chat.ID, args[1])
	if err != nil {
		d.replyError(ctx, msg, "features", err)
		return
	}
	d.send(ctx, msg, fmt.Sprintf("%s is now %s", args[1], onOff(active, "on", "off")), nil)
}

// toggleFeature flips a flag. anti_spam goes through the anti-spam settings so
// the flag and the enforced policy stay in step.
func (d *Dispatcher) toggleFeature(ctx context.Context, groupID int64, feature string) (bool, error) {
	if feature == domain.FeatureAntiSpam {
		return d.toggleAntiSpam(ctx, groupID)
	}
	return d.deps.Features.Toggle(ctx, groupID, feature)
}

func (d *Dispatcher) toggleAntiSpam(ctx context.Context, groupID int64) (bool, error) {
	settings, err := d.deps.AntiSpam.Toggle(ctx, groupID)
	if err != nil {
		return false, err
	}

	if err := d.deps.Features.Set(ctx, groupID, domain.FeatureAntiSpam, settings.Active); err != nil {
		d.logger.WithFields(logging.Fields{
			"event":   "antispam_flag_sync_error",
			"chat_id": groupID,
		}).WithError(err).Warn("failed to mirror anti-spam state into feature flag")
	}

	return settings.Active, nil
}

func (d *Dispatcher) send(ctx context.Context, msg *models.Message, text string, markup models.ReplyMarkup) {
	if err := d.deps.Platform.reply(ctx, msg.Chat.ID, msg.ID, text, markup); err != nil {
		d.logger.WithFields(logging.Fields{
			"event":   "telegram_reply_error",
			"chat_id": msg.Chat.ID,
		}).WithError(err).Warn("failed to send reply")
	}
}

func (d *Dispatcher) replyError(ctx context.Context, msg *models.Message, command string, err error) {
	text, unexpected := errorText(err)
	if unexpected {
		d.logger.WithFields(logging.Fields{
			"event":   "command_error",
			"chat_id": msg.Chat.ID,
			"user_id": userID(msg.From),
			"command": command,
		}).WithError(err).Error("command failed")
	}
	d.send(ctx, msg, text, nil)
}

// errorText maps an error to the text shown to the invoking user. unexpected
// is true for errors outside the known taxonomy.
func errorText(err error) (text string, unexpected bool) {
	var (
		usageErr    *domain.UsageError
		platformErr *domain.PlatformError
	)

	switch {
	case errors.Is(err, domain.ErrNotAdmin):
		return "Admin only!", false
	case errors.As(err, &usageErr):
		if usageErr.Reason == "" {
			return "Usage: " + usageErr.Usage, false
		}
		return usageErr.Reason + "\nUsage: " + usageErr.Usage, false
	case errors.Is(err, domain.ErrNotFound):
		return "User not found. Reply to their message or tag them (@username).", false
	case errors.Is(err, masskick.ErrNoSession):
		return "This kickall confirmation has expired or was already handled.", false
	case errors.Is(err, masskick.ErrNotRequester):
		return "Only the admin who requested this kickall can confirm or cancel it.", false
	case errors.Is(err, masskick.ErrSweepRunning):
		return "A kickall is already running in this group.", false
	case errors.As(err, &platformErr):
		return "Action failed: " + platformErr.Err.Error(), false
	default:
		return "Something went wrong, please try again later.", true
	}
}

// parseCommand splits "/name@bot arg1 arg2" into name and args.
func parseCommand(text string) (string, []string, bool) {
	if !strings.HasPrefix(text, "/") {
		return "", nil, false
	}

	fields := strings.Fields(text)
	name := strings.TrimPrefix(fields[0], "/")
	if at := strings.IndexByte(name, '@'); at >= 0 {
		name = name[:at]
	}
	if name == "" {
		return "", nil, false
	}

	return strings.ToLower(name), fields[1:], true
}

func isGroupCommand(name string) bool {
	switch name {
	case "ban", "kick", "mute", "unmute", "warn", "userinfo", "antispam", "kickall", "features":
		return true
	default:
		return false
	}
}

func formatFeatures(features domain.FeatureSet) string {
	names := make([]string, 0, len(features))
	for name := range features {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("Features:")
	for _, name := range names {
		b.WriteString("\n" + name + ": " + onOff(features[name], "on", "off"))
	}
	return b.String()
}

func groupTitle(chat models.Chat) string {
	if chat.Title != "" {
		return chat.Title
	}
	return "the group"
}

func onOff(active bool, on, off string) string {
	if active {
		return on
	}
	return off
}

func formatChatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

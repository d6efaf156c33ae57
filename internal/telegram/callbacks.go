package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-telegram/bot/models"

	"tg_group_guard_bot/internal/domain"
	"tg_group_guard_bot/internal/feature/masskick"
	"tg_group_guard_bot/internal/logging"
)

const (
	callbackMyGroups     = "my_groups"
	callbackHelp         = "help"
	callbackGroupPrefix  = "group:"
	callbackTogglePrefix = "toggle:"
)

const startText = "Hi! I keep groups clean.\n" +
	"Add me to a group as an administrator, then send /start there so I can register it."

const helpText = "Commands:\n" +
	"/ban <user> - ban a user\n" +
	"/kick <user> - remove a user, they may rejoin\n" +
	"/mute <user> [30m|2h|1d] - mute a user\n" +
	"/unmute <user> - lift a mute\n" +
	"/warn <user> - warn a user, too many warnings ban\n" +
	"/userinfo <user> - show a user's details\n" +
	"/antispam - toggle the spam filter\n" +
	"/kickall - remove every non-admin member\n" +
	"/features [toggle <feature>] - list or toggle group features\n\n" +
	"<user> is a numeric id, @username or a reply to their message."

// menuFeatures are the flags the group menu exposes as buttons.
var menuFeatures = []string{domain.FeatureAntiSpam, domain.FeatureMuteNewMembers}

// handleCallback routes an inline button press. Every query is answered so the
// client stops showing a spinner.
func (d *Dispatcher) handleCallback(ctx context.Context, query *models.CallbackQuery) {
	chat := messageChatID(query.Message)
	msgID := messageID(query.Message)
	data := strings.TrimSpace(query.Data)

	logger := logging.Scoped(d.logger, logging.Scope{
		ChatID: chat,
		UserID: query.From.ID,
		Event:  "callback_received",
	})
	logger.WithField("data", data).Debug("callback received")

	switch {
	case data == callbackKickAllConfirm || data == callbackKickAllCancel:
		d.kickAllCallback(ctx, query, data, masskick.Key{ChatID: chat, AdminID: query.From.ID, PromptID: msgID})
	case data == callbackMyGroups:
		d.deps.Platform.answer(ctx, query.ID, "", false)
		d.showMyGroups(ctx, query.From.ID, chat, msgID)
	case data == callbackHelp:
		d.deps.Platform.answer(ctx, query.ID, "", false)
		d.editMenu(ctx, chat, msgID, helpText, keyboard(row(button("My groups", callbackMyGroups))))
	case strings.HasPrefix(data, callbackGroupPrefix):
		groupID, err := strconv.ParseInt(strings.TrimPrefix(data, callbackGroupPrefix), 10, 64)
		if err != nil || groupID == 0 {
			d.deps.Platform.answer(ctx, query.ID, "Unknown group", true)
			return
		}
		if !d.deps.Admins.IsAdmin(ctx, groupID, query.From.ID) {
			d.deps.Platform.answer(ctx, query.ID, "Admin only!", true)
			return
		}
		d.deps.Platform.answer(ctx, query.ID, "", false)
		d.showGroup(ctx, groupID, chat, msgID)
	case strings.HasPrefix(data, callbackTogglePrefix):
		d.toggleCallback(ctx, query, chat, msgID, strings.TrimPrefix(data, callbackTogglePrefix))
	default:
		d.deps.Platform.answer(ctx, query.ID, "Unknown action", false)
	}
}

func (d *Dispatcher) kickAllCallback(ctx context.Context, query *models.CallbackQuery, data string, key masskick.Key) {
	var (
		err  error
		done string
	)
	if data == callbackKickAllConfirm {
		err = d.deps.KickAll.Confirm(ctx, key)
		done = "Kickall started"
	} else {
		err = d.deps.KickAll.Cancel(ctx, key)
		done = "Cancelled"
	}

	if err != nil {
		text, unexpected := errorText(err)
		if unexpected {
			d.logger.WithFields(logging.Fields{
				"event":   "kickall_callback_error",
				"chat_id": key.ChatID,
				"user_id": key.AdminID,
			}).WithError(err).Error("kickall callback failed")
		}
		d.deps.Platform.answer(ctx, query.ID, text, true)
		return
	}

	d.deps.Platform.answer(ctx, query.ID, done, false)
}

// toggleCallback handles "toggle:<feature>:<group id>".
func (d *Dispatcher) toggleCallback(ctx context.Context, query *models.CallbackQuery, chat int64, msgID int, payload string) {
	sep := strings.LastIndexByte(payload, ':')
	if sep <= 0 {
		d.deps.Platform.answer(ctx, query.ID, "Unknown action", false)
		return
	}

	feature := payload[:sep]
	groupID, err := strconv.ParseInt(payload[sep+1:], 10, 64)
	if err != nil || groupID == 0 {
		d.deps.Platform.answer(ctx, query.ID, "Unknown group", true)
		return
	}
	if !d.deps.Admins.IsAdmin(ctx, groupID, query.From.ID) {
		d.deps.Platform.answer(ctx, query.ID, "Admin only!", true)
		return
	}

	active, err := d.toggleFeature(ctx, groupID, feature)
	if err != nil {
		text, unexpected := errorText(err)
		if unexpected {
			d.logger.WithFields(logging.Fields{
				"event":   "feature_toggle_error",
				"chat_id": groupID,
				"feature": feature,
			}).WithError(err).Error("feature toggle failed")
		}
		d.deps.Platform.answer(ctx, query.ID, text, true)
		return
	}

	d.deps.Platform.answer(ctx, query.ID, fmt.Sprintf("%s is now %s", feature, onOff(active, "on", "off")), false)
	d.showGroup(ctx, groupID, chat, msgID)
}

// showMyGroups renders the groups ownerID owns with their anti-spam state.
func (d *Dispatcher) showMyGroups(ctx context.Context, ownerID, chat int64, msgID int) {
	if d.deps.Owned == nil {
		d.editMenu(ctx, chat, msgID, "Group list is unavailable.", nil)
		return
	}

	groups, err := d.deps.Owned.ListByOwner(ctx, ownerID)
	if err != nil {
		d.logger.WithFields(logging.Fields{
			"event":   "owned_groups_error",
			"user_id": ownerID,
		}).WithError(err).Error("failed to list owned groups")
		d.editMenu(ctx, chat, msgID, "Could not load your groups, please try again later.", nil)
		return
	}

	if len(groups) == 0 {
		d.editMenu(ctx, chat, msgID,
			"You don't own any groups I moderate yet. Add me to a group and send /start there.",
			keyboard(row(button("Help", callbackHelp))))
		return
	}

	var b strings.Builder
	b.WriteString("Your groups:")
	rows := make([][]models.InlineKeyboardButton, 0, len(groups)+1)
	for _, group := range groups {
		title := groupName(group)
		spam := d.groupFlags(ctx, group.ChatID)[domain.FeatureAntiSpam]
		b.WriteString(fmt.Sprintf("\n%s - anti-spam %s", title, onOff(spam, "on", "off")))
		rows = append(rows, row(button(title, callbackGroupPrefix+formatChatID(group.ChatID))))
	}
	rows = append(rows, row(button("Help", callbackHelp)))

	d.editMenu(ctx, chat, msgID, b.String(), keyboard(rows...))
}

// showGroup renders one group's flags with a toggle button per menu feature.
func (d *Dispatcher) showGroup(ctx context.Context, groupID, chat int64, msgID int) {
	title := formatChatID(groupID)
	if d.deps.Owned != nil {
		if group, err := d.deps.Owned.GetByChatID(ctx, groupID); err == nil {
			title = groupName(group)
		}
	}

	features := d.groupFlags(ctx, groupID)
	rows := make([][]models.InlineKeyboardButton, 0, len(menuFeatures)+1)
	for _, feature := range menuFeatures {
		label := fmt.Sprintf("%s: %s", feature, onOff(features[feature], "on", "off"))
		rows = append(rows, row(button(label, callbackTogglePrefix+feature+":"+formatChatID(groupID))))
	}
	rows = append(rows, row(button("Back", callbackMyGroups)))

	d.editMenu(ctx, chat, msgID, title+"\n"+formatFeatures(features), keyboard(rows...))
}

// groupFlags returns the group's flags with anti_spam reporting the enforced
// policy. A policy that cannot be read is shown as off.
func (d *Dispatcher) groupFlags(ctx context.Context, groupID int64) domain.FeatureSet {
	flags := d.deps.Features.Get(ctx, groupID)
	if flags == nil {
		flags = domain.FeatureSet{}
	}

	settings, err := d.deps.AntiSpam.Get(ctx, groupID)
	if err != nil {
		d.logger.WithFields(logging.Fields{
			"event":   "antispam_settings_read_error",
			"chat_id": groupID,
		}).WithError(err).Warn("failed to read anti-spam settings")
	}
	flags[domain.FeatureAntiSpam] = err == nil && settings.Active
	return flags
}

func (d *Dispatcher) editMenu(ctx context.Context, chat int64, msgID int, text string, markup models.ReplyMarkup) {
	if chat == 0 || msgID == 0 {
		return
	}
	if err := d.deps.Platform.edit(ctx, chat, msgID, text, markup); err != nil {
		d.logger.WithFields(logging.Fields{
			"event":   "telegram_menu_edit_error",
			"chat_id": chat,
		}).WithError(err).Warn("failed to update menu")
	}
}

func groupName(group domain.Group) string {
	if group.Title != "" {
		return group.Title
	}
	return formatChatID(group.ChatID)
}
